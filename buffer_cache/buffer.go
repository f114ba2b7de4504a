package buffer_cache

import "github.com/Adarsh-Kmt/DragonKernel/kernel_lock"

// Buffer is the cached copy of one disk block.
//
// dev, blockNo, refCount and bucket are guarded by the lock of the bucket the buffer sits in.
// valid and data are guarded by lock, the buffer's sleep lock.
type Buffer struct {
	id int

	dev      uint32
	blockNo  uint32
	valid    bool
	refCount int
	bucket   int

	lock *kernel_lock.SleepLock
	data []byte
}

func (buffer *Buffer) Device() uint32 {
	return buffer.dev
}

func (buffer *Buffer) BlockNo() uint32 {
	return buffer.blockNo
}
