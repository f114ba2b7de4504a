package buffer_cache

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/Adarsh-Kmt/DragonKernel/block_device"
	"github.com/Adarsh-Kmt/DragonKernel/kernel_errors"
	"github.com/stretchr/testify/suite"
)

const testBlocks = 64

type BufferCacheTestSuite struct {
	suite.Suite
	disk    *block_device.MemoryDevice
	devices *block_device.DeviceTable
}

// block n starts with n, so a buffer can be checked against its tag.
func seedDevice(device *block_device.MemoryDevice) error {

	for blockNo := range uint32(testBlocks) {

		data := make([]byte, block_device.BLOCK_SIZE)
		binary.LittleEndian.PutUint64(data[0:8], uint64(blockNo))

		if err := device.Transfer(blockNo, data, true); err != nil {
			return err
		}
	}
	return nil
}

func (bs *BufferCacheTestSuite) SetupTest() {

	bs.disk = block_device.NewMemoryDevice(testBlocks)
	bs.Require().NoError(seedDevice(bs.disk))

	bs.devices = block_device.NewDeviceTable()
	bs.Require().NoError(bs.devices.Register(1, bs.disk))
}

func (bs *BufferCacheTestSuite) TearDownTest() {
	bs.Assert().NoError(bs.devices.Close())
}

func (bs *BufferCacheTestSuite) newCache(nbuf int, nbucket int) *BufferCache {

	cache, err := NewBufferCache(nbuf, nbucket, bs.devices)
	bs.Require().NoError(err)
	return cache
}

func (bs *BufferCacheTestSuite) read(cache *BufferCache, blockNo uint32) *WriteGuard {

	guard, err := cache.Read(1, blockNo)
	bs.Require().NoError(err)
	bs.Require().Equal(uint64(blockNo), binary.LittleEndian.Uint64(guard.Data()[0:8]))
	return guard
}

func (bs *BufferCacheTestSuite) TestInitSeedsFirstBucket() {

	cache := bs.newCache(3, 2)

	bs.Assert().Equal([]int{2, 1, 0}, cache.order(0))
	bs.Assert().Empty(cache.order(1))
	bs.Assert().Equal(3, cache.Size())

	_, err := NewBufferCache(0, 1, bs.devices)
	bs.Assert().Error(err)

	_, err = NewBufferCache(1, 0, bs.devices)
	bs.Assert().Error(err)
}

func (bs *BufferCacheTestSuite) TestCachedBlockIsNotReadTwice() {

	cache := bs.newCache(4, 2)
	reads := bs.disk.Reads()

	guard := bs.read(cache, 3)
	bs.Require().NoError(guard.Done())
	bs.Assert().False(guard.IsActive())
	bs.Assert().Nil(guard.Data())

	guard = bs.read(cache, 3)
	bs.Require().NoError(guard.Done())

	bs.Assert().Equal(reads+1, bs.disk.Reads())

	stats := cache.Stats()
	bs.Assert().Equal(int64(1), stats.Hits)
	bs.Assert().Equal(int64(1), stats.Misses)
	bs.Assert().Equal(int64(1), stats.DiskReads)
}

func (bs *BufferCacheTestSuite) TestThirdRequestStealsFromOtherBucket() {

	cache := bs.newCache(3, 2)

	// blocks 1 and 3 share bucket 1; every buffer starts in bucket 0.
	first := bs.read(cache, 1)
	second := bs.read(cache, 2)
	third := bs.read(cache, 3)

	bs.Assert().Len(cache.order(1), 2)
	bs.Assert().Len(cache.order(0), 1)
	bs.Assert().Equal(first.Buffer().bucket, third.Buffer().bucket)
	bs.Assert().Equal(int64(2), cache.Stats().Steals)

	// stolen buffers sit at the most recently used end of their new bucket.
	bs.Assert().Equal(third.Buffer().id, cache.order(1)[0])

	for _, guard := range []*WriteGuard{first, second, third} {
		bs.Assert().Equal(1, cache.RefCount(guard.Buffer()))
		bs.Require().NoError(guard.Done())
	}
}

func (bs *BufferCacheTestSuite) TestExhaustionIsFatal() {

	cache := bs.newCache(2, 2)

	first := bs.read(cache, 1)
	second := bs.read(cache, 2)

	_, err := cache.Read(1, 3)
	bs.Assert().True(kernel_errors.IsFatal(err))

	bs.Require().NoError(first.Done())
	bs.Require().NoError(second.Done())

	guard := bs.read(cache, 3)
	bs.Require().NoError(guard.Done())
}

func (bs *BufferCacheTestSuite) TestReleaseMovesToMostRecentlyUsed() {

	cache := bs.newCache(3, 1)

	guards := []*WriteGuard{bs.read(cache, 1), bs.read(cache, 2), bs.read(cache, 3)}
	ids := []int{}

	for _, guard := range guards {
		ids = append(ids, guard.Buffer().id)
		bs.Require().NoError(guard.Done())
	}

	bs.Assert().Equal([]int{ids[2], ids[1], ids[0]}, cache.order(0))

	// the least recently released buffer is recycled first.
	guard := bs.read(cache, 4)
	bs.Assert().Equal(ids[0], guard.Buffer().id)
	bs.Require().NoError(guard.Done())
}

func (bs *BufferCacheTestSuite) TestPinnedBufferStaysInPlace() {

	cache := bs.newCache(3, 1)

	guard := bs.read(cache, 1)
	buffer := guard.Buffer()
	bs.Assert().Equal([]int{2, 1, 0}, cache.order(0))
	bs.Assert().Equal(0, buffer.id)

	bs.Require().NoError(guard.Pin())
	bs.Assert().Equal(2, cache.RefCount(buffer))

	bs.Require().NoError(guard.Done())
	bs.Assert().Equal(1, cache.RefCount(buffer))
	bs.Assert().Equal([]int{2, 1, 0}, cache.order(0))

	// pinned buffers survive pressure.
	for _, blockNo := range []uint32{5, 6, 7, 8} {
		other := bs.read(cache, blockNo)
		bs.Assert().NotEqual(buffer.id, other.Buffer().id)
		bs.Require().NoError(other.Done())
	}

	bs.Require().NoError(cache.Unpin(buffer))
	bs.Assert().Equal(0, cache.RefCount(buffer))

	reads := bs.disk.Reads()
	guard = bs.read(cache, 1)
	bs.Assert().Equal(reads, bs.disk.Reads())
	bs.Require().NoError(guard.Done())
	bs.Assert().Equal(buffer.id, cache.order(0)[0])
}

func (bs *BufferCacheTestSuite) TestConcurrentReadersShareOneTransfer() {

	cache := bs.newCache(8, 3)
	bs.disk.SetLatency(20 * time.Millisecond)

	reads := bs.disk.Reads()
	start := make(chan struct{})
	contents := make([][]byte, 8)
	errs := make([]error, 8)

	wg := sync.WaitGroup{}

	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start

			guard, err := cache.Read(1, 9)
			if err != nil {
				errs[i] = err
				return
			}
			contents[i] = append([]byte(nil), guard.Data()...)
			errs[i] = guard.Done()
		}(i)
	}

	close(start)
	wg.Wait()

	for i := range 8 {
		bs.Require().NoError(errs[i])
		bs.Assert().Equal(contents[0], contents[i])
	}

	bs.Assert().Equal(uint64(9), binary.LittleEndian.Uint64(contents[0][0:8]))
	bs.Assert().Equal(reads+1, bs.disk.Reads())
}

func (bs *BufferCacheTestSuite) TestWriteSurvivesEviction() {

	cache := bs.newCache(3, 1)

	guard := bs.read(cache, 5)
	copy(guard.Data()[8:], []byte("written through"))
	bs.Require().NoError(guard.Write())
	bs.Require().NoError(guard.Done())

	// three other blocks recycle every buffer, block 5's included.
	for _, blockNo := range []uint32{10, 11, 12} {
		other := bs.read(cache, blockNo)
		bs.Require().NoError(other.Done())
	}

	reads := bs.disk.Reads()

	guard = bs.read(cache, 5)
	bs.Assert().Equal(reads+1, bs.disk.Reads())
	bs.Assert().Equal([]byte("written through"), guard.Data()[8:23])
	bs.Require().NoError(guard.Done())

	bs.Assert().Equal(int64(1), cache.Stats().DiskWrites)
}

func (bs *BufferCacheTestSuite) TestDevicesAreCachedSeparately() {

	other := block_device.NewMemoryDevice(testBlocks)
	bs.Require().NoError(bs.devices.Register(2, other))

	cache := bs.newCache(4, 2)

	first := bs.read(cache, 7)

	second, err := cache.Read(2, 7)
	bs.Require().NoError(err)

	bs.Assert().NotEqual(first.Buffer().id, second.Buffer().id)
	bs.Assert().Equal(uint32(2), second.Device())
	bs.Assert().Equal(uint32(7), second.BlockNo())
	bs.Assert().Equal(uint64(0), binary.LittleEndian.Uint64(second.Data()[0:8]))

	bs.Require().NoError(first.Done())
	bs.Require().NoError(second.Done())
}

func (bs *BufferCacheTestSuite) TestMisuseIsFatal() {

	cache := bs.newCache(2, 1)

	guard := bs.read(cache, 1)
	buffer := guard.Buffer()
	bs.Require().NoError(guard.Done())

	bs.Assert().True(kernel_errors.IsFatal(guard.Done()))
	bs.Assert().True(kernel_errors.IsFatal(guard.Write()))
	bs.Assert().True(kernel_errors.IsFatal(guard.Pin()))
	bs.Assert().True(kernel_errors.IsFatal(cache.Release(nil)))
	bs.Assert().True(kernel_errors.IsFatal(cache.Unpin(buffer)))
	bs.Assert().True(kernel_errors.IsFatal(cache.Pin(buffer)))
}

func (bs *BufferCacheTestSuite) TestFailedReadReleasesBuffer() {

	cache := bs.newCache(2, 1)
	bs.disk.SetFaulty(4, true)

	_, err := cache.Read(1, 4)
	bs.Assert().Error(err)
	bs.Assert().False(kernel_errors.IsFatal(err))

	for i := range cache.buffers {
		bs.Assert().Equal(0, cache.RefCount(&cache.buffers[i]))
	}

	bs.disk.SetFaulty(4, false)

	guard := bs.read(cache, 4)
	bs.Require().NoError(guard.Done())
}

func (bs *BufferCacheTestSuite) TestConcurrentUpdatesAreNotLost() {

	cache := bs.newCache(10, 3)

	const workers = 8
	const rounds = 200

	wg := sync.WaitGroup{}
	errs := make(chan error, workers)

	for w := range workers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()

			for i := range rounds {

				blockNo := uint32((w*7 + i*13) % 20)

				guard, err := cache.Read(1, blockNo)
				if err != nil {
					errs <- err
					return
				}

				data := guard.Data()
				if binary.LittleEndian.Uint64(data[0:8]) != uint64(blockNo) {
					errs <- kernel_errors.Fatal("test", "buffer for block %d holds another block", blockNo)
					return
				}

				binary.LittleEndian.PutUint64(data[8:16], binary.LittleEndian.Uint64(data[8:16])+1)

				if err := guard.Write(); err != nil {
					errs <- err
					return
				}
				if err := guard.Done(); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		bs.Require().NoError(err)
	}

	total := uint64(0)
	data := make([]byte, block_device.BLOCK_SIZE)

	for blockNo := range uint32(20) {
		bs.Require().NoError(bs.disk.Transfer(blockNo, data, false))
		total += binary.LittleEndian.Uint64(data[8:16])
	}

	bs.Assert().Equal(uint64(workers*rounds), total)
}

func TestBufferCache(t *testing.T) {
	suite.Run(t, new(BufferCacheTestSuite))
}
