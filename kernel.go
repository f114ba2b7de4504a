package main

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Adarsh-Kmt/DragonKernel/block_device"
	"github.com/Adarsh-Kmt/DragonKernel/buffer_cache"
	"github.com/Adarsh-Kmt/DragonKernel/config"
	"github.com/Adarsh-Kmt/DragonKernel/page_allocator"
)

// ROOTDEV is the device number of the disk holding the file system.
const ROOTDEV = 1

// Kernel owns the process-wide memory services. It is built once at boot
// and handed to every subsystem that needs pages or disk blocks.
type Kernel struct {
	Pages   *page_allocator.PageAllocator
	Devices *block_device.DeviceTable
	Cache   *buffer_cache.BufferCache

	shutdownOnce *sync.Once
}

func Boot(cfg config.BootConfig) (*Kernel, error) {

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slog.Info("kinit", "function", "Boot", "at", "Kernel")

	pages, err := page_allocator.NewPageAllocator(cfg.NCPU, page_allocator.CPU(cfg.BootCPU), page_allocator.PhysAddr(cfg.KernelEnd), page_allocator.PhysAddr(cfg.PhysTop))

	if err != nil {
		return nil, err
	}

	var disk block_device.Device

	if cfg.DiskPath == "" {
		disk = block_device.NewMemoryDevice(cfg.DiskBlocks)
	} else if disk, err = block_device.NewDirectIODevice(cfg.DiskPath, cfg.DiskBlocks); err != nil {
		pages.Close()
		return nil, err
	}

	devices := block_device.NewDeviceTable()

	if err := devices.Register(ROOTDEV, disk); err != nil {
		disk.Close()
		pages.Close()
		return nil, err
	}

	slog.Info("binit", "function", "Boot", "at", "Kernel")

	cache, err := buffer_cache.NewBufferCache(cfg.NBUF, cfg.NBUCKET, devices)

	if err != nil {
		devices.Close()
		pages.Close()
		return nil, err
	}

	return &Kernel{
		Pages:        pages,
		Devices:      devices,
		Cache:        cache,
		shutdownOnce: &sync.Once{},
	}, nil
}

// Shutdown closes every device and unmaps physical memory. Later calls do nothing.
func (kernel *Kernel) Shutdown() error {

	var err error

	kernel.shutdownOnce.Do(func() {

		slog.Info("shutting down", "stats", fmt.Sprintf("%+v", kernel.Cache.Stats()), "freePages", kernel.Pages.FreePages(), "function", "Shutdown", "at", "Kernel")

		err = errors.Join(kernel.Devices.Close(), kernel.Pages.Close())
	})

	return err
}
