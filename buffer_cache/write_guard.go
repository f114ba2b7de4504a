package buffer_cache

import "github.com/Adarsh-Kmt/DragonKernel/kernel_errors"

// WriteGuard is used to provide exclusive access to a buffer in the buffer cache.
// It is returned by Read with the buffer's sleep lock held.
type WriteGuard struct {

	// active is used to prevent users from using a write guard once Release has been called.
	active bool
	buffer *Buffer
	holder uint64
	cache  *BufferCache
}

func newWriteGuard(cache *BufferCache, buffer *Buffer, holder uint64) *WriteGuard {
	return &WriteGuard{
		active: true,
		buffer: buffer,
		holder: holder,
		cache:  cache,
	}
}

// check fails unless the guard is active and still holds the buffer's lock.
func (guard *WriteGuard) check(op string) error {

	if guard == nil || !guard.active {
		return kernel_errors.Fatal(op, "buffer lock not held")
	}

	if !guard.buffer.lock.Holding(guard.holder) {
		return kernel_errors.Fatal(op, "buffer %d lock held by someone else", guard.buffer.id)
	}
	return nil
}

func (guard *WriteGuard) deactivate() {
	guard.active = false
}

func (guard *WriteGuard) IsActive() bool {
	return guard.active
}

// Data returns the block contents. Writes to it reach disk only through Write.
func (guard *WriteGuard) Data() []byte {

	if !guard.active {
		return nil
	}
	return guard.buffer.data
}

func (guard *WriteGuard) Device() uint32 {
	return guard.buffer.dev
}

func (guard *WriteGuard) BlockNo() uint32 {
	return guard.buffer.blockNo
}

// Buffer returns the underlying buffer, for Pin and Unpin.
func (guard *WriteGuard) Buffer() *Buffer {
	return guard.buffer
}

// Write writes the block through to disk.
func (guard *WriteGuard) Write() error {
	return guard.cache.Write(guard)
}

// Pin keeps the buffer cached past Done.
func (guard *WriteGuard) Pin() error {

	if err := guard.check("bpin"); err != nil {
		return err
	}
	return guard.cache.Pin(guard.buffer)
}

// Done releases the buffer. The guard becomes inactive and cannot be reused.
func (guard *WriteGuard) Done() error {
	return guard.cache.Release(guard)
}
