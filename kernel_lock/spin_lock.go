package kernel_lock

import (
	"sync"
	"sync/atomic"
)

// SpinLock guards short critical sections that never block or perform I/O
// (list searches, relinking, counter updates).
type SpinLock struct {
	name    string
	mutex   sync.Mutex
	holding atomic.Bool
}

func NewSpinLock(name string) *SpinLock {
	return &SpinLock{name: name}
}

func (lock *SpinLock) Name() string {
	return lock.name
}

func (lock *SpinLock) Acquire() {
	lock.mutex.Lock()
	lock.holding.Store(true)
}

// Release panics when the lock is not held.
func (lock *SpinLock) Release() {
	if !lock.holding.Load() {
		panic("release: " + lock.name + " not held")
	}
	lock.holding.Store(false)
	lock.mutex.Unlock()
}

// Holding reports whether some goroutine currently holds the lock.
func (lock *SpinLock) Holding() bool {
	return lock.holding.Load()
}
