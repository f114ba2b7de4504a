package block_device

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/ncw/directio"
	"golang.org/x/sys/unix"
)

// DirectIODevice is a disk image file read and written with Direct I/O.
//
// Direct I/O bypasses the host page cache, this is useful because:
// 1. The block is not cached twice, once by the host and once by the buffer cache.
// 2. A completed write-through has reached the device, not just host memory.
//
// Filesystems that reject O_DIRECT (tmpfs, some overlays) fall back to buffered I/O
// followed by a data sync on every write.
type DirectIODevice struct {
	file     *os.File
	blocks   uint32
	directIO bool

	// bounce is an aligned block used for every transfer, guarded by mutex.
	bounce []byte
	mutex  *sync.Mutex
}

func NewDirectIODevice(filePath string, blocks uint32) (*DirectIODevice, error) {

	if blocks == 0 {
		return nil, fmt.Errorf("device %s: zero blocks", filePath)
	}

	slog.Info("Opening disk image in DIRECT I/O mode", "filePath", filePath, "blocks", blocks, "function", "NewDirectIODevice", "at", "DirectIODevice")

	directIO := true

	// Create the disk image if it does not exist, initialize a file descriptor with Direct I/O flag, and read/write permissions.
	file, err := directio.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0644)

	if errors.Is(err, unix.EINVAL) {

		slog.Warn("filesystem rejected Direct I/O, using buffered I/O", "filePath", filePath, "function", "NewDirectIODevice", "at", "DirectIODevice")

		directIO = false
		file, err = os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0644)
	}

	if err != nil {
		slog.Error("Failed to open disk image", "filePath", filePath, "error", err.Error(), "function", "NewDirectIODevice", "at", "DirectIODevice")
		return nil, err
	}

	device := &DirectIODevice{
		file:     file,
		blocks:   blocks,
		directIO: directIO,
		bounce:   directio.AlignedBlock(BLOCK_SIZE),
		mutex:    &sync.Mutex{},
	}

	fileStats, err := file.Stat()

	if err != nil {
		file.Close()
		return nil, err
	}

	// grow the image so every block in [0, blocks) can be read.
	if size := int64(blocks) * BLOCK_SIZE; fileStats.Size() < size {

		slog.Info("growing disk image", "from", fileStats.Size(), "to", size, "function", "NewDirectIODevice", "at", "DirectIODevice")

		if err := file.Truncate(size); err != nil {
			file.Close()
			return nil, err
		}
	}

	return device, nil
}

// Transfer reads or writes one block. A write is synced before Transfer returns.
func (device *DirectIODevice) Transfer(blockNo uint32, data []byte, write bool) error {

	if blockNo >= device.blocks {
		return fmt.Errorf("block %d out of range, device has %d blocks", blockNo, device.blocks)
	}

	if len(data) != BLOCK_SIZE {
		return fmt.Errorf("transfer of %d bytes, block size is %d", len(data), BLOCK_SIZE)
	}

	offset := int64(blockNo) * BLOCK_SIZE

	device.mutex.Lock()
	defer device.mutex.Unlock()

	if write {
		return device.write(offset, data)
	}
	return device.read(offset, data)
}

func (device *DirectIODevice) write(offset int64, data []byte) error {

	slog.Debug("Writing block to offset", "offset", offset, "function", "write", "at", "DirectIODevice")

	copy(device.bounce, data)

	// WriteAt is pwrite, so the file offset is left untouched.
	n, err := device.file.WriteAt(device.bounce, offset)

	if err != nil {
		slog.Error("Failed to write block", "offset", offset, "error", err.Error(), "function", "write", "at", "DirectIODevice")
		return err
	}

	if n != BLOCK_SIZE {
		return fmt.Errorf("incomplete write")
	}

	return flush(device.file)
}

func (device *DirectIODevice) read(offset int64, data []byte) error {

	slog.Debug("Reading block from offset", "offset", offset, "function", "read", "at", "DirectIODevice")

	n, err := device.file.ReadAt(device.bounce, offset)

	if err != nil {
		slog.Error("Failed to read block", "offset", offset, "error", err.Error(), "function", "read", "at", "DirectIODevice")
		return err
	}

	if n != BLOCK_SIZE {
		return fmt.Errorf("incomplete read")
	}

	copy(data, device.bounce)
	return nil
}

func (device *DirectIODevice) Blocks() uint32 {
	return device.blocks
}

// DirectIO reports whether the image was opened with Direct I/O.
func (device *DirectIODevice) DirectIO() bool {
	return device.directIO
}

func (device *DirectIODevice) Close() error {

	slog.Info("Closing DirectIODevice...", "function", "Close", "at", "DirectIODevice")

	if err := device.file.Close(); err != nil {

		slog.Error("Failed to close file", "error", err.Error(), "function", "Close", "at", "DirectIODevice")

		return err
	}
	return nil
}
