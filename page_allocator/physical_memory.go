//go:build linux || darwin

package page_allocator

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

// physicalMemory is the RAM between the end of the kernel image and PHYSTOP.
// It is backed by one anonymous mapping so page contents live outside the Go heap.
type physicalMemory struct {
	start PhysAddr
	end   PhysAddr
	bytes []byte
}

func mapPhysicalMemory(start PhysAddr, end PhysAddr) (*physicalMemory, error) {

	size := int(end - start)

	slog.Info("mapping physical memory", "start", fmt.Sprintf("%#x", uint64(start)), "end", fmt.Sprintf("%#x", uint64(end)), "function", "mapPhysicalMemory", "at", "PageAllocator")

	bytes, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)

	if err != nil {
		slog.Error("Failed to map physical memory", "size", size, "error", err.Error(), "function", "mapPhysicalMemory", "at", "PageAllocator")
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}

	return &physicalMemory{start: start, end: end, bytes: bytes}, nil
}

// page returns the PAGE_SIZE bytes backing page index idx.
func (memory *physicalMemory) page(idx uint32) []byte {
	offset := int(idx) * PAGE_SIZE
	return memory.bytes[offset : offset+PAGE_SIZE : offset+PAGE_SIZE]
}

func (memory *physicalMemory) fill(idx uint32, junk byte) {
	page := memory.page(idx)
	for i := range page {
		page[i] = junk
	}
}

func (memory *physicalMemory) unmap() error {

	if memory.bytes == nil {
		return nil
	}

	err := unix.Munmap(memory.bytes)
	memory.bytes = nil
	return err
}
