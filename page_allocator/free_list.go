package page_allocator

import (
	"fmt"

	"github.com/Adarsh-Kmt/DragonKernel/kernel_lock"
)

// freeList is one processor's stack of free page indices.
// The page body is never used as link storage; the stack holds the indices instead.
type freeList struct {
	lock  *kernel_lock.SpinLock
	pages []uint32
}

func newFreeList(cpu CPU, capacity int) *freeList {
	return &freeList{
		lock:  kernel_lock.NewSpinLock(fmt.Sprintf("kmem-%d", cpu)),
		pages: make([]uint32, 0, capacity),
	}
}

// push must be called with list.lock held.
func (list *freeList) push(idx uint32) {
	list.pages = append(list.pages, idx)
}

// pop must be called with list.lock held.
func (list *freeList) pop() (uint32, bool) {

	n := len(list.pages)
	if n == 0 {
		return 0, false
	}

	idx := list.pages[n-1]
	list.pages = list.pages[:n-1]
	return idx, true
}

// take acquires the lock only for the pop.
func (list *freeList) take() (uint32, bool) {

	list.lock.Acquire()
	defer list.lock.Release()

	return list.pop()
}

func (list *freeList) size() int {

	list.lock.Acquire()
	defer list.lock.Release()

	return len(list.pages)
}

func (list *freeList) contains(idx uint32) bool {

	list.lock.Acquire()
	defer list.lock.Release()

	for _, page := range list.pages {
		if page == idx {
			return true
		}
	}
	return false
}
