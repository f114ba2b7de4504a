package kernel_lock

import (
	"fmt"
	"sync"
)

// NoHolder is never handed out as a holder token.
const NoHolder uint64 = 0

// SleepLock is a long-term lock. Waiters are suspended instead of spinning,
// so it may be held across disk I/O.
// The holder token identifies who owns the lock so misuse can be detected.
type SleepLock struct {
	name   string
	mutex  sync.Mutex
	cond   *sync.Cond
	locked bool
	holder uint64
}

func NewSleepLock(name string) *SleepLock {
	lock := &SleepLock{name: name}
	lock.cond = sync.NewCond(&lock.mutex)
	return lock
}

// Acquire blocks until the lock is free and then records holder as its owner.
func (lock *SleepLock) Acquire(holder uint64) {

	lock.mutex.Lock()
	defer lock.mutex.Unlock()

	for lock.locked {
		lock.cond.Wait()
	}
	lock.locked = true
	lock.holder = holder
}

// Release wakes one waiter. It fails if holder does not own the lock.
func (lock *SleepLock) Release(holder uint64) error {

	lock.mutex.Lock()
	defer lock.mutex.Unlock()

	if !lock.locked || lock.holder != holder {
		return fmt.Errorf("releasesleep: %s not held by %d", lock.name, holder)
	}
	lock.locked = false
	lock.holder = NoHolder
	lock.cond.Signal()
	return nil
}

// Holding reports whether holder currently owns the lock.
func (lock *SleepLock) Holding(holder uint64) bool {

	lock.mutex.Lock()
	defer lock.mutex.Unlock()

	return lock.locked && lock.holder == holder
}

// Locked reports whether anyone owns the lock.
func (lock *SleepLock) Locked() bool {

	lock.mutex.Lock()
	defer lock.mutex.Unlock()

	return lock.locked
}
