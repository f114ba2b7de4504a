package buffer_cache

import (
	"fmt"

	"github.com/Adarsh-Kmt/DragonKernel/kernel_lock"
)

// link holds the arena indices of a node's neighbours in its bucket's circular list.
// Indices [0, nbuf) are buffers, index nbuf+i is the sentinel head of bucket i.
type link struct {
	prev int
	next int
}

// bucket is one hash partition of the pool.
// head.next is the most recently released buffer, head.prev the least.
type bucket struct {
	lock *kernel_lock.SpinLock
	head int
}

func newBucket(i int, head int) bucket {
	return bucket{
		lock: kernel_lock.NewSpinLock(fmt.Sprintf("bcache.bucket-%d", i)),
		head: head,
	}
}

// the list helpers below require the lock of every bucket they touch.

func (cache *BufferCache) unlink(node int) {

	prevNode := cache.links[node].prev
	nextNode := cache.links[node].next

	cache.links[prevNode].next = nextNode
	cache.links[nextNode].prev = prevNode

	cache.links[node] = link{prev: node, next: node}
}

// pushFront makes node the most recently used buffer of bucket i.
func (cache *BufferCache) pushFront(i int, node int) {

	head := cache.buckets[i].head
	MRUNode := cache.links[head].next

	cache.links[node] = link{prev: head, next: MRUNode}
	cache.links[MRUNode].prev = node
	cache.links[head].next = node

	cache.buffers[node].bucket = i
}

// lookup returns the buffer of bucket i tagged (dev, blockNo), if any.
func (cache *BufferCache) lookup(i int, dev uint32, blockNo uint32) *Buffer {

	head := cache.buckets[i].head

	for node := cache.links[head].next; node != head; node = cache.links[node].next {

		buffer := &cache.buffers[node]
		if buffer.dev == dev && buffer.blockNo == blockNo {
			return buffer
		}
	}
	return nil
}

// recycle returns the least recently used unreferenced buffer of bucket i, if any.
func (cache *BufferCache) recycle(i int) *Buffer {

	head := cache.buckets[i].head

	for node := cache.links[head].prev; node != head; node = cache.links[node].prev {

		if buffer := &cache.buffers[node]; buffer.refCount == 0 {
			return buffer
		}
	}
	return nil
}

// order returns the buffer ids of bucket i from most to least recently used.
func (cache *BufferCache) order(i int) []int {

	cache.buckets[i].lock.Acquire()
	defer cache.buckets[i].lock.Release()

	ids := []int{}
	head := cache.buckets[i].head

	for node := cache.links[head].next; node != head; node = cache.links[node].next {
		ids = append(ids, node)
	}
	return ids
}
