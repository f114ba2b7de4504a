package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/Adarsh-Kmt/DragonKernel/config"
	"github.com/Adarsh-Kmt/DragonKernel/kernel_errors"
	"github.com/Adarsh-Kmt/DragonKernel/logger"
	"github.com/Adarsh-Kmt/DragonKernel/page_allocator"
)

func main() {

	configPath := flag.String("config", "", "path to a JSON boot configuration")
	rounds := flag.Int("rounds", 100, "workload rounds per cpu")
	flag.Parse()

	cfg := config.Default()

	if *configPath != "" {

		loaded, err := config.LoadConfig(*configPath)

		if err != nil {
			fmt.Fprintf(os.Stderr, "boot config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logFile, err := logger.InitLogger(cfg.LogPath, cfg.LogLevel)

	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	kernel, err := Boot(cfg)

	if err != nil {
		halt(err)
	}

	if err := kernel.Run(*rounds); err != nil {
		kernel.Shutdown()
		halt(err)
	}

	if err := kernel.Shutdown(); err != nil {
		halt(err)
	}
}

// halt stops the machine. Fatal errors are kernel panics; anything else failed boot or I/O.
func halt(err error) {

	if kernel_errors.IsFatal(err) {
		slog.Error("kernel panic", "error", err.Error(), "function", "halt", "at", "main")
	} else {
		slog.Error("kernel stopped", "error", err.Error(), "function", "halt", "at", "main")
	}
	os.Exit(1)
}

// Run drives both services from one goroutine per cpu: forked processes sharing
// pages copy-on-write, and file system writes through the buffer cache.
func (kernel *Kernel) Run(rounds int) error {

	ncpu := kernel.Pages.CPUs()

	// touch twice as many blocks as there are buffers so the cache has to evict.
	span := 2 * kernel.Cache.Size()
	if root, ok := kernel.Devices.Lookup(ROOTDEV); ok {
		span = min(span, int(root.Blocks()))
	}

	errs := make(chan error, ncpu)
	wg := sync.WaitGroup{}

	for cpu := range ncpu {
		wg.Add(1)
		go func(cpu page_allocator.CPU) {
			defer wg.Done()

			for round := range rounds {

				if err := kernel.fork(cpu, page_allocator.CPU((int(cpu)+1)%ncpu)); err != nil {
					errs <- err
					return
				}

				blockNo := uint32((int(cpu)*rounds + round) % span)

				if err := kernel.appendBlock(blockNo); err != nil {
					errs <- err
					return
				}
			}
		}(page_allocator.CPU(cpu))
	}

	wg.Wait()
	close(errs)

	var runErr error
	for err := range errs {
		runErr = errors.Join(runErr, err)
	}

	slog.Info("workload finished", "stats", fmt.Sprintf("%+v", kernel.Cache.Stats()), "freePages", kernel.Pages.FreePages(), "function", "Run", "at", "Kernel")

	return runErr
}

// fork shares one parent page with a child running on another cpu; the child's write
// takes a private copy. Out of memory is survivable, the fork is just skipped.
func (kernel *Kernel) fork(parent page_allocator.CPU, child page_allocator.CPU) error {

	pa, err := kernel.Pages.Allocate(parent)

	if errors.Is(err, kernel_errors.ErrOutOfMemory) {
		slog.Warn("fork: out of memory", "cpu", parent, "function", "fork", "at", "Kernel")
		return nil
	}

	if err != nil {
		return err
	}

	if err := kernel.Pages.IncreaseRef(pa); err != nil {
		return err
	}

	private, err := kernel.Pages.CopyOnWrite(child, pa)

	if errors.Is(err, kernel_errors.ErrOutOfMemory) {
		// the child dies and drops its reference.
		if err := kernel.Pages.Free(child, pa); err != nil {
			return err
		}
		return kernel.Pages.Free(parent, pa)
	}

	if err != nil {
		return err
	}

	page, err := kernel.Pages.Page(private)

	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(page[0:8], uint64(child))

	return errors.Join(kernel.Pages.Free(child, private), kernel.Pages.Free(parent, pa))
}

// appendBlock bumps a counter stored in the first eight bytes of blockNo on the root device.
func (kernel *Kernel) appendBlock(blockNo uint32) error {

	guard, err := kernel.Cache.Read(ROOTDEV, blockNo)

	if err != nil {
		return err
	}

	data := guard.Data()
	binary.LittleEndian.PutUint64(data[0:8], binary.LittleEndian.Uint64(data[0:8])+1)

	if err := guard.Write(); err != nil {
		guard.Done()
		return err
	}

	return guard.Done()
}
