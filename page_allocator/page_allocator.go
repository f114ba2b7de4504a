package page_allocator

import (
	"fmt"
	"log/slog"

	"github.com/Adarsh-Kmt/DragonKernel/kernel_errors"
	"github.com/Adarsh-Kmt/DragonKernel/partition"
)

// PageAllocator hands out whole PAGE_SIZE pages of physical memory for user processes,
// kernel stacks, page-table pages and pipe buffers.
//
// Every page carries a reference count so copy-on-write sharers can release a page
// independently; a page rejoins a free list only when its last reference is freed.
// Each CPU owns a free list, and a CPU whose list is empty steals from the others.
//
// Lock order: refs.lock, then a single free list lock. Two free list locks are never held together.
type PageAllocator struct {
	start PhysAddr
	end   PhysAddr

	memory    *physicalMemory
	refs      *refCountTable
	freeLists []*freeList
}

// NewPageAllocator manages the pages in [PGROUNDUP(kernelEnd), physTop) and seeds all of them
// into bootCPU's free list. It runs once, single threaded, at boot.
func NewPageAllocator(ncpu int, bootCPU CPU, kernelEnd PhysAddr, physTop PhysAddr) (*PageAllocator, error) {

	if ncpu <= 0 {
		return nil, fmt.Errorf("kinit: need at least one cpu, got %d", ncpu)
	}

	if bootCPU < 0 || int(bootCPU) >= ncpu {
		return nil, fmt.Errorf("kinit: boot cpu %d out of range [0, %d)", bootCPU, ncpu)
	}

	if physTop%PAGE_SIZE != 0 {
		return nil, fmt.Errorf("kinit: top of memory %#x not page aligned", uint64(physTop))
	}

	start := PGROUNDUP(kernelEnd)

	if start >= physTop {
		return nil, fmt.Errorf("kinit: no memory between %#x and %#x", uint64(kernelEnd), uint64(physTop))
	}

	memory, err := mapPhysicalMemory(start, physTop)

	if err != nil {
		return nil, err
	}

	pages := int((physTop - start) / PAGE_SIZE)

	allocator := &PageAllocator{
		start:     start,
		end:       physTop,
		memory:    memory,
		refs:      newRefCountTable(pages),
		freeLists: make([]*freeList, ncpu),
	}

	for cpu := range allocator.freeLists {
		capacity := 0
		if CPU(cpu) == bootCPU {
			capacity = pages
		}
		allocator.freeLists[cpu] = newFreeList(CPU(cpu), capacity)
	}

	// freerange: push in descending order so the lowest address is handed out first.
	boot := allocator.freeLists[bootCPU]
	boot.lock.Acquire()
	for idx := pages - 1; idx >= 0; idx-- {
		memory.fill(uint32(idx), FREE_JUNK)
		boot.push(uint32(idx))
	}
	boot.lock.Release()

	slog.Info("page allocator initialized", "pages", pages, "cpus", ncpu, "bootCPU", bootCPU, "function", "NewPageAllocator", "at", "PageAllocator")

	return allocator, nil
}

// Allocate returns one page with reference count 1.
// The page is filled with ALLOC_JUNK, not zeroed.
// It returns kernel_errors.ErrOutOfMemory when every free list is empty.
func (allocator *PageAllocator) Allocate(cpu CPU) (PhysAddr, error) {

	if err := allocator.checkCPU("kalloc", cpu); err != nil {
		return 0, err
	}

	idx, ok := allocator.freeLists[cpu].take()

	if !ok {

		var origin int
		idx, origin, ok = partition.Steal(len(allocator.freeLists), int(cpu), func(other int) (uint32, bool) {
			return allocator.freeLists[other].take()
		})

		if !ok {
			slog.Debug("no free page on any cpu", "cpu", cpu, "function", "Allocate", "at", "PageAllocator")
			return 0, kernel_errors.ErrOutOfMemory
		}

		slog.Debug("stole page", "cpu", cpu, "from", origin, "page", idx, "function", "Allocate", "at", "PageAllocator")
	}

	allocator.memory.fill(idx, ALLOC_JUNK)

	allocator.refs.lock.Acquire()
	defer allocator.refs.lock.Release()

	if count := allocator.refs.counts[idx]; count != 0 {
		return 0, kernel_errors.Fatal("kalloc", "page %#x on a free list with reference count %d", uint64(allocator.addr(idx)), count)
	}
	allocator.refs.counts[idx] = 1

	return allocator.addr(idx), nil
}

// Free drops one reference on pa. Only when the count reaches 0 is the page filled with
// FREE_JUNK and pushed onto cpu's free list.
// Freeing a misaligned, out of range or already free address is fatal.
func (allocator *PageAllocator) Free(cpu CPU, pa PhysAddr) error {

	if err := allocator.checkCPU("kfree", cpu); err != nil {
		return err
	}

	idx, err := allocator.index("kfree", pa)

	if err != nil {
		return err
	}

	allocator.refs.lock.Acquire()
	defer allocator.refs.lock.Release()

	count := allocator.refs.counts[idx]

	if count == 0 {
		return kernel_errors.Fatal("kfree", "page %#x is not in use", uint64(pa))
	}

	count--
	allocator.refs.counts[idx] = count

	if count != 0 {
		return nil
	}

	allocator.memory.fill(idx, FREE_JUNK)

	list := allocator.freeLists[cpu]
	list.lock.Acquire()
	list.push(idx)
	list.lock.Release()

	return nil
}

// IncreaseRef adds a sharer to an in-use page.
func (allocator *PageAllocator) IncreaseRef(pa PhysAddr) error {

	idx, err := allocator.index("increase_ref", pa)

	if err != nil {
		return err
	}

	allocator.refs.lock.Acquire()
	defer allocator.refs.lock.Release()

	switch count := allocator.refs.counts[idx]; count {
	case 0:
		return kernel_errors.Fatal("increase_ref", "page %#x is free", uint64(pa))
	case MAX_REF_COUNT:
		return kernel_errors.Fatal("increase_ref", "page %#x reference count overflow", uint64(pa))
	}

	allocator.refs.counts[idx]++
	return nil
}

// DecreaseRef removes a sharer from a page that still has other holders.
// Decrementing a free page leaves it at zero and returns kernel_errors.ErrRefUnderflow.
// The last reference must be dropped with Free so the page rejoins a free list.
func (allocator *PageAllocator) DecreaseRef(pa PhysAddr) error {

	idx, err := allocator.index("decrease_ref", pa)

	if err != nil {
		return err
	}

	allocator.refs.lock.Acquire()
	defer allocator.refs.lock.Release()

	switch count := allocator.refs.counts[idx]; count {
	case 0:
		slog.Warn("decrease on a zero count page", "page", fmt.Sprintf("%#x", uint64(pa)), "function", "DecreaseRef", "at", "PageAllocator")
		return kernel_errors.ErrRefUnderflow
	case 1:
		return kernel_errors.Fatal("decrease_ref", "page %#x would be orphaned, free it instead", uint64(pa))
	}

	allocator.refs.counts[idx]--
	return nil
}

// RefCount returns the number of holders of pa. 1 means the caller is the sole owner
// and may write in place; more than 1 means it must copy first.
func (allocator *PageAllocator) RefCount(pa PhysAddr) (uint8, error) {

	idx, err := allocator.index("get_ref_count", pa)

	if err != nil {
		return 0, err
	}

	return allocator.refs.get(idx), nil
}

// CopyOnWrite resolves a write to a shared page. A sole owner keeps pa.
// Otherwise a private copy is allocated on cpu, the caller's reference on pa is dropped
// and the copy is returned.
func (allocator *PageAllocator) CopyOnWrite(cpu CPU, pa PhysAddr) (PhysAddr, error) {

	count, err := allocator.RefCount(pa)

	if err != nil {
		return 0, err
	}

	if count == 0 {
		return 0, kernel_errors.Fatal("cow", "page %#x is free", uint64(pa))
	}

	if count == 1 {
		return pa, nil
	}

	copied, err := allocator.Allocate(cpu)

	if err != nil {
		return 0, err
	}

	dst, _ := allocator.Page(copied)
	src, _ := allocator.Page(pa)
	copy(dst, src)

	if err := allocator.Free(cpu, pa); err != nil {
		return 0, err
	}

	return copied, nil
}

// Page returns the bytes of pa. The slice aliases physical memory.
func (allocator *PageAllocator) Page(pa PhysAddr) ([]byte, error) {

	idx, err := allocator.index("page", pa)

	if err != nil {
		return nil, err
	}

	return allocator.memory.page(idx), nil
}

// FreePages returns the number of pages on all free lists.
func (allocator *PageAllocator) FreePages() int {

	total := 0
	for _, list := range allocator.freeLists {
		total += list.size()
	}
	return total
}

// FreePagesOn returns the number of pages on cpu's free list.
func (allocator *PageAllocator) FreePagesOn(cpu CPU) int {

	if allocator.checkCPU("freemem", cpu) != nil {
		return 0
	}
	return allocator.freeLists[cpu].size()
}

// Range returns the managed physical address range [start, end).
func (allocator *PageAllocator) Range() (start PhysAddr, end PhysAddr) {
	return allocator.start, allocator.end
}

func (allocator *PageAllocator) CPUs() int {
	return len(allocator.freeLists)
}

// Close unmaps physical memory. The allocator must not be used afterwards.
func (allocator *PageAllocator) Close() error {

	slog.Info("Closing PageAllocator...", "function", "Close", "at", "PageAllocator")
	return allocator.memory.unmap()
}

func (allocator *PageAllocator) index(op string, pa PhysAddr) (uint32, error) {

	if pa%PAGE_SIZE != 0 || pa < allocator.start || pa >= allocator.end {
		return 0, kernel_errors.Fatal(op, "bad physical address %#x", uint64(pa))
	}

	return uint32((pa - allocator.start) / PAGE_SIZE), nil
}

func (allocator *PageAllocator) addr(idx uint32) PhysAddr {
	return allocator.start + PhysAddr(idx)*PAGE_SIZE
}

func (allocator *PageAllocator) checkCPU(op string, cpu CPU) error {

	if cpu < 0 || int(cpu) >= len(allocator.freeLists) {
		return kernel_errors.Fatal(op, "cpu %d out of range", cpu)
	}
	return nil
}

// onFreeList returns every CPU whose free list holds pa.
func (allocator *PageAllocator) onFreeList(pa PhysAddr) []CPU {

	idx, err := allocator.index("lookup", pa)

	if err != nil {
		return nil
	}

	holders := []CPU{}
	for cpu, list := range allocator.freeLists {
		if list.contains(idx) {
			holders = append(holders, CPU(cpu))
		}
	}
	return holders
}
