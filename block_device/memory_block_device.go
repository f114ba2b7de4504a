package block_device

import (
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// MemoryDevice is a RAM disk. It counts transfers and can be slowed down
// or told to fail, which makes it useful for exercising the buffer cache.
type MemoryDevice struct {
	mutex   *sync.Mutex
	blocks  [][]byte
	latency time.Duration
	faulty  map[uint32]bool

	reads  *xsync.Counter
	writes *xsync.Counter
}

func NewMemoryDevice(blocks uint32) *MemoryDevice {

	device := &MemoryDevice{
		mutex:  &sync.Mutex{},
		blocks: make([][]byte, blocks),
		faulty: make(map[uint32]bool),
		reads:  xsync.NewCounter(),
		writes: xsync.NewCounter(),
	}

	for i := range device.blocks {
		device.blocks[i] = make([]byte, BLOCK_SIZE)
	}
	return device
}

// SetLatency delays every transfer, the way a real disk would.
func (device *MemoryDevice) SetLatency(latency time.Duration) {

	device.mutex.Lock()
	defer device.mutex.Unlock()

	device.latency = latency
}

// SetFaulty makes every transfer on blockNo fail until cleared.
func (device *MemoryDevice) SetFaulty(blockNo uint32, faulty bool) {

	device.mutex.Lock()
	defer device.mutex.Unlock()

	if faulty {
		device.faulty[blockNo] = true
	} else {
		delete(device.faulty, blockNo)
	}
}

func (device *MemoryDevice) Transfer(blockNo uint32, data []byte, write bool) error {

	if int(blockNo) >= len(device.blocks) {
		return fmt.Errorf("block %d out of range, device has %d blocks", blockNo, len(device.blocks))
	}

	if len(data) != BLOCK_SIZE {
		return fmt.Errorf("transfer of %d bytes, block size is %d", len(data), BLOCK_SIZE)
	}

	device.mutex.Lock()
	latency := device.latency
	faulty := device.faulty[blockNo]
	device.mutex.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}

	if faulty {
		return fmt.Errorf("i/o error on block %d", blockNo)
	}

	device.mutex.Lock()
	defer device.mutex.Unlock()

	if write {
		copy(device.blocks[blockNo], data)
		device.writes.Inc()
	} else {
		copy(data, device.blocks[blockNo])
		device.reads.Inc()
	}
	return nil
}

// Reads returns the number of completed block reads.
func (device *MemoryDevice) Reads() int64 {
	return device.reads.Value()
}

// Writes returns the number of completed block writes.
func (device *MemoryDevice) Writes() int64 {
	return device.writes.Value()
}

func (device *MemoryDevice) Blocks() uint32 {
	return uint32(len(device.blocks))
}

func (device *MemoryDevice) Close() error {
	return nil
}
