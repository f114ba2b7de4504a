package page_allocator

import "github.com/Adarsh-Kmt/DragonKernel/kernel_lock"

// refCountTable holds one reference count per managed page.
// 0 means the page sits on exactly one free list.
type refCountTable struct {
	lock   *kernel_lock.SpinLock
	counts []uint8
}

func newRefCountTable(pages int) *refCountTable {
	return &refCountTable{
		lock:   kernel_lock.NewSpinLock("ref_count"),
		counts: make([]uint8, pages),
	}
}

func (table *refCountTable) get(idx uint32) uint8 {

	table.lock.Acquire()
	defer table.lock.Release()

	return table.counts[idx]
}
