package buffer_cache

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/Adarsh-Kmt/DragonKernel/block_device"
	"github.com/Adarsh-Kmt/DragonKernel/kernel_errors"
	"github.com/Adarsh-Kmt/DragonKernel/kernel_lock"
	"github.com/Adarsh-Kmt/DragonKernel/partition"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	NBUF    = 30
	NBUCKET = 13
)

// Disk moves one block between a buffer and the device dev.
type Disk interface {
	Transfer(dev uint32, blockNo uint32, data []byte, write bool) error
}

// BufferCache holds cached copies of disk block contents in a fixed pool of buffers.
//
// Caching disk blocks in memory reduces the number of disk reads and also provides
// a synchronization point for disk blocks used by multiple processes:
//   - Read returns a locked buffer for a block.
//   - After changing the buffer data, Write sends it to disk.
//   - Release hands the buffer back. Do not use it afterwards.
//   - Only one holder at a time can use a buffer, so do not keep it longer than necessary.
//
// Buffers are hashed by block number into buckets. A bucket that runs out of
// unreferenced buffers steals one from another bucket.
//
// Lock order: lock (steals only), then the home bucket, then at most one other bucket.
// Spin locks are never held across a sleep lock acquisition or disk I/O.
type BufferCache struct {
	lock *kernel_lock.SpinLock

	buffers []Buffer
	links   []link
	buckets []bucket

	disk    Disk
	holders atomic.Uint64

	hits       *xsync.Counter
	misses     *xsync.Counter
	steals     *xsync.Counter
	diskReads  *xsync.Counter
	diskWrites *xsync.Counter
}

// Stats counts cache activity since boot.
type Stats struct {
	Hits       int64
	Misses     int64
	Steals     int64
	DiskReads  int64
	DiskWrites int64
}

// NewBufferCache builds a pool of nbuf buffers spread over nbucket buckets.
// Every buffer starts in bucket 0; lookups redistribute them by stealing.
func NewBufferCache(nbuf int, nbucket int, disk Disk) (*BufferCache, error) {

	if nbuf <= 0 || nbucket <= 0 {
		return nil, fmt.Errorf("binit: need buffers and buckets, got nbuf=%d nbucket=%d", nbuf, nbucket)
	}

	cache := &BufferCache{
		lock:       kernel_lock.NewSpinLock("bcache"),
		buffers:    make([]Buffer, nbuf),
		links:      make([]link, nbuf+nbucket),
		buckets:    make([]bucket, nbucket),
		disk:       disk,
		hits:       xsync.NewCounter(),
		misses:     xsync.NewCounter(),
		steals:     xsync.NewCounter(),
		diskReads:  xsync.NewCounter(),
		diskWrites: xsync.NewCounter(),
	}

	for i := range cache.buckets {
		head := nbuf + i
		cache.buckets[i] = newBucket(i, head)
		cache.links[head] = link{prev: head, next: head}
	}

	slab := make([]byte, nbuf*block_device.BLOCK_SIZE)

	for i := range cache.buffers {

		offset := i * block_device.BLOCK_SIZE

		cache.buffers[i] = Buffer{
			id:   i,
			lock: kernel_lock.NewSleepLock("buffer"),
			data: slab[offset : offset+block_device.BLOCK_SIZE : offset+block_device.BLOCK_SIZE],
		}
		cache.pushFront(0, i)
	}

	slog.Info("buffer cache initialized", "buffers", nbuf, "buckets", nbucket, "function", "NewBufferCache", "at", "BufferCache")

	return cache, nil
}

// Read returns a locked buffer holding the contents of block blockNo on dev.
// It blocks while another holder has the buffer and while the block is read from disk.
func (cache *BufferCache) Read(dev uint32, blockNo uint32) (*WriteGuard, error) {

	buffer, err := cache.get(dev, blockNo)

	if err != nil {
		return nil, err
	}

	holder := cache.holders.Add(1)
	buffer.lock.Acquire(holder)

	guard := newWriteGuard(cache, buffer, holder)

	if !buffer.valid {

		cache.diskReads.Inc()

		if err := cache.disk.Transfer(buffer.dev, buffer.blockNo, buffer.data, false); err != nil {

			slog.Error("Failed to read block", "dev", dev, "blockNo", blockNo, "error", err.Error(), "function", "Read", "at", "BufferCache")

			if releaseErr := cache.Release(guard); releaseErr != nil {
				return nil, releaseErr
			}
			return nil, fmt.Errorf("bread: %w", err)
		}
		buffer.valid = true
	}

	return guard, nil
}

// get looks through the cache for block blockNo on dev. If it is not cached a buffer is
// claimed for it. Either way the buffer comes back referenced but not locked.
func (cache *BufferCache) get(dev uint32, blockNo uint32) (*Buffer, error) {

	home := int(blockNo % uint32(len(cache.buckets)))
	homeBucket := &cache.buckets[home]

	homeBucket.lock.Acquire()

	if buffer := cache.claimLocal(home, dev, blockNo); buffer != nil {
		homeBucket.lock.Release()
		return buffer, nil
	}

	homeBucket.lock.Release()

	// Not cached and the home bucket is full of referenced buffers: steal.
	// The global lock serializes stealers, so two bucket locks are only ever
	// held together by the one goroutine that holds it.
	cache.lock.Acquire()
	defer cache.lock.Release()

	homeBucket.lock.Acquire()
	defer homeBucket.lock.Release()

	// the home bucket was unlocked for a moment; look again.
	if buffer := cache.claimLocal(home, dev, blockNo); buffer != nil {
		return buffer, nil
	}

	buffer, origin, found := partition.Steal(len(cache.buckets), home, func(other int) (*Buffer, bool) {

		otherBucket := &cache.buckets[other]

		otherBucket.lock.Acquire()
		defer otherBucket.lock.Release()

		buffer := cache.recycle(other)

		if buffer == nil {
			return nil, false
		}

		cache.claim(buffer, dev, blockNo)
		cache.unlink(buffer.id)
		return buffer, true
	})

	if !found {
		slog.Error("every buffer is referenced", "dev", dev, "blockNo", blockNo, "function", "get", "at", "BufferCache")
		return nil, kernel_errors.Fatal("bget", "no buffers")
	}

	cache.pushFront(home, buffer.id)
	cache.misses.Inc()
	cache.steals.Inc()

	slog.Debug("stole buffer", "buffer", buffer.id, "from", origin, "to", home, "blockNo", blockNo, "function", "get", "at", "BufferCache")

	return buffer, nil
}

// claimLocal serves a request from bucket i alone. The caller holds the bucket's lock.
func (cache *BufferCache) claimLocal(i int, dev uint32, blockNo uint32) *Buffer {

	// Is the block already cached?
	if buffer := cache.lookup(i, dev, blockNo); buffer != nil {
		buffer.refCount++
		cache.hits.Inc()
		return buffer
	}

	// Recycle the least recently used unreferenced buffer.
	if buffer := cache.recycle(i); buffer != nil {
		cache.claim(buffer, dev, blockNo)
		cache.misses.Inc()
		return buffer
	}
	return nil
}

func (cache *BufferCache) claim(buffer *Buffer, dev uint32, blockNo uint32) {
	buffer.dev = dev
	buffer.blockNo = blockNo
	buffer.valid = false
	buffer.refCount = 1
}

// Write sends the guarded buffer's contents to disk and returns once the device has them.
// The guard must hold the buffer's lock.
func (cache *BufferCache) Write(guard *WriteGuard) error {

	if err := guard.check("bwrite"); err != nil {
		return err
	}

	buffer := guard.buffer
	cache.diskWrites.Inc()

	if err := cache.disk.Transfer(buffer.dev, buffer.blockNo, buffer.data, true); err != nil {

		slog.Error("Failed to write block", "dev", buffer.dev, "blockNo", buffer.blockNo, "error", err.Error(), "function", "Write", "at", "BufferCache")

		return fmt.Errorf("bwrite: %w", err)
	}
	return nil
}

// Release unlocks the guarded buffer and drops the guard's reference.
// When no references remain the buffer becomes the most recently used of its bucket.
func (cache *BufferCache) Release(guard *WriteGuard) error {

	if err := guard.check("brelse"); err != nil {
		return err
	}

	buffer := guard.buffer

	if err := buffer.lock.Release(guard.holder); err != nil {
		return kernel_errors.Fatal("brelse", "%s", err.Error())
	}
	guard.deactivate()

	bucket := &cache.buckets[buffer.bucket]

	bucket.lock.Acquire()
	defer bucket.lock.Release()

	if buffer.refCount <= 0 {
		return kernel_errors.Fatal("brelse", "buffer %d has reference count %d", buffer.id, buffer.refCount)
	}

	buffer.refCount--

	if buffer.refCount == 0 {
		// no one is waiting for it.
		cache.unlink(buffer.id)
		cache.pushFront(buffer.bucket, buffer.id)
	}

	return nil
}

// Pin keeps buffer cached after its guard is released, e.g. until a transaction commits.
// The caller must already hold a reference. Pin does not lock the buffer.
func (cache *BufferCache) Pin(buffer *Buffer) error {

	bucket := &cache.buckets[buffer.bucket]

	bucket.lock.Acquire()
	defer bucket.lock.Release()

	if buffer.refCount <= 0 {
		return kernel_errors.Fatal("bpin", "buffer %d is not referenced", buffer.id)
	}

	buffer.refCount++
	return nil
}

// Unpin drops a reference taken by Pin.
func (cache *BufferCache) Unpin(buffer *Buffer) error {

	bucket := &cache.buckets[buffer.bucket]

	bucket.lock.Acquire()
	defer bucket.lock.Release()

	if buffer.refCount <= 0 {
		return kernel_errors.Fatal("bunpin", "buffer %d is not referenced", buffer.id)
	}

	buffer.refCount--
	return nil
}

// RefCount returns the number of references on buffer.
func (cache *BufferCache) RefCount(buffer *Buffer) int {

	bucket := &cache.buckets[buffer.bucket]

	bucket.lock.Acquire()
	defer bucket.lock.Release()

	return buffer.refCount
}

func (cache *BufferCache) Stats() Stats {
	return Stats{
		Hits:       cache.hits.Value(),
		Misses:     cache.misses.Value(),
		Steals:     cache.steals.Value(),
		DiskReads:  cache.diskReads.Value(),
		DiskWrites: cache.diskWrites.Value(),
	}
}

// Size returns the number of buffers in the pool.
func (cache *BufferCache) Size() int {
	return len(cache.buffers)
}
