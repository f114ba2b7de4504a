package page_allocator

// Physical memory layout, qemu -machine virt style:
//
// 80000000 -- KERNBASE, kernel text and data
// end      -- first address after the kernel image, start of the page pool
// PHYSTOP  -- end of RAM used by the kernel

const (
	PAGE_SIZE = 4096

	KERNBASE PhysAddr = 0x80000000
	PHYSTOP  PhysAddr = KERNBASE + 128*1024*1024

	// filler written over a page when it is handed out.
	ALLOC_JUNK byte = 5
	// filler written over a page when it returns to a free list.
	FREE_JUNK byte = 1

	// reference counts are stored in a byte per page.
	MAX_REF_COUNT = 255
)

// PhysAddr is a physical address.
type PhysAddr uint64

// CPU identifies a processor. Each processor owns one free list.
type CPU int

func PGROUNDUP(a PhysAddr) PhysAddr {
	return (a + PAGE_SIZE - 1) &^ (PAGE_SIZE - 1)
}

func PGROUNDDOWN(a PhysAddr) PhysAddr {
	return a &^ (PAGE_SIZE - 1)
}
