// Package blockcache provides a block-oriented cache over a fixed-size region
// of a stream. QFS uses it for the data region, which starts right after the
// directory table and is addressed in whole blocks.
//
// All block indices begin at 0, relative to the start of the region.

package blockcache

import (
	"fmt"
	"io"

	"github.com/boljen/go-bitmap"
	"github.com/qfsutil/qfsimg"
	c "github.com/qfsutil/qfsimg/file_systems/common"
)

// FetchBlockCallback is a pointer to a function that writes the contents of a
// single block from the backing storage into `buffer`. The following guarantees
// apply:
//
// - `blockIndex` is in the range [0, TotalBlocks).
// - `buffer` is always BytesPerBlock bytes.
type FetchBlockCallback func(blockIndex c.LogicalBlock, buffer []byte) error

// FlushBlockCallback is a pointer to a function that writes the contents of the
// given buffer to a block in the backing storage. All restrictions and
// guarantees in [FetchBlockCallback] apply here too.
type FlushBlockCallback func(blockIndex c.LogicalBlock, buffer []byte) error

type BlockCache struct {
	loadedBlocks  bitmap.Bitmap
	dirtyBlocks   bitmap.Bitmap
	fetch         FetchBlockCallback
	flush         FlushBlockCallback
	bytesPerBlock uint
	totalBlocks   uint
	data          []byte
}

// New creates a new BlockCache.
//
// `fetchCb` reads a single block from the backing storage and `flushCb` writes
// one back. Passing nil for `flushCb` makes the cache read-only: every write
// fails with [qfsimg.ErrReadOnlyFileSystem].
func New(
	bytesPerBlock uint,
	totalBlocks uint,
	fetchCb FetchBlockCallback,
	flushCb FlushBlockCallback,
) *BlockCache {
	return &BlockCache{
		loadedBlocks:  bitmap.New(int(totalBlocks)),
		dirtyBlocks:   bitmap.New(int(totalBlocks)),
		data:          make([]byte, int(bytesPerBlock*totalBlocks)),
		fetch:         fetchCb,
		flush:         flushCb,
		bytesPerBlock: bytesPerBlock,
		totalBlocks:   totalBlocks,
	}
}

// WrapStream creates a [BlockCache] over `totalBlocks` blocks of a stream,
// where block 0 begins `startOffset` bytes into the stream. If `writable` is
// false the cache is read-only.
//
// Reads must return whole blocks. A stream that ends partway through the
// region fails with [qfsimg.ErrIOFailed] rather than yielding zero-filled
// blocks.
func WrapStream(
	stream io.ReadWriteSeeker,
	startOffset int64,
	bytesPerBlock uint,
	totalBlocks uint,
	writable bool,
) *BlockCache {
	fetchCb := func(block c.LogicalBlock, buffer []byte) error {
		err := seekToBlock(stream, startOffset, block, bytesPerBlock)
		if err != nil {
			return err
		}

		_, err = io.ReadFull(stream, buffer)
		if err != nil {
			return qfsimg.ErrIOFailed.Wrap(
				fmt.Errorf("short read of block %d: %w", block, err))
		}
		return nil
	}

	var flushCb FlushBlockCallback
	if writable {
		flushCb = func(block c.LogicalBlock, buffer []byte) error {
			err := seekToBlock(stream, startOffset, block, bytesPerBlock)
			if err != nil {
				return err
			}

			n, err := stream.Write(buffer)
			if err != nil {
				return qfsimg.ErrIOFailed.Wrap(err)
			} else if n != len(buffer) {
				return qfsimg.ErrIOFailed.WithMessage(
					fmt.Sprintf("short write of block %d: %d of %d bytes", block, n, len(buffer)))
			}
			return nil
		}
	}

	return New(bytesPerBlock, totalBlocks, fetchCb, flushCb)
}

// seekToBlock sets the stream pointer for a stream to the offset of a block.
func seekToBlock(stream io.Seeker, startOffset int64, block c.LogicalBlock, bytesPerBlock uint) error {
	blockOffset := startOffset + int64(block)*int64(bytesPerBlock)
	_, err := stream.Seek(blockOffset, io.SeekStart)
	if err != nil {
		return qfsimg.ErrIOFailed.Wrap(err)
	}
	return nil
}

// BytesPerBlock returns the size of a single block, in bytes.
func (cache *BlockCache) BytesPerBlock() uint {
	return cache.bytesPerBlock
}

// TotalBlocks returns the size of the cache, in blocks.
func (cache *BlockCache) TotalBlocks() uint {
	return cache.totalBlocks
}

// Size gives the size of the cache, in bytes (not blocks!).
func (cache *BlockCache) Size() int64 {
	return int64(cache.bytesPerBlock) * int64(cache.totalBlocks)
}

// IsWritable returns true if the cache accepts writes.
func (cache *BlockCache) IsWritable() bool {
	return cache.flush != nil
}

// LengthToNumBlocks gives the minimum number of blocks required to hold the
// given number of bytes.
func (cache *BlockCache) LengthToNumBlocks(size uint) uint {
	return (size + cache.bytesPerBlock - 1) / cache.bytesPerBlock
}

// checkBounds verifies that `bufferSize` bytes can be accessed in the cache
// starting from block `start`. If not, it returns an error describing the exact
// conditions. If no error would occur, this returns nil.
func (cache *BlockCache) checkBounds(start c.LogicalBlock, bufferSize uint) error {
	if uint(start) >= cache.totalBlocks {
		return qfsimg.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"invalid block number: %d not in range [0, %d)",
				start,
				cache.totalBlocks,
			),
		)
	}

	numBlocks := cache.LengthToNumBlocks(bufferSize)
	if uint(start)+numBlocks > cache.totalBlocks {
		return qfsimg.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"can't access %d bytes (%d blocks) from block %d; range not in [0, %d)",
				bufferSize,
				numBlocks,
				start,
				cache.totalBlocks,
			),
		)
	}
	return nil
}

// GetSlice returns a slice pointing to the cache's storage, beginning at block
// `start` and continuing for `count` blocks.
//
// If the returned slice is modified, the modified blocks MUST be marked as
// dirty.
func (cache *BlockCache) GetSlice(start c.LogicalBlock, count uint) ([]byte, error) {
	err := cache.loadBlockRange(start, count)
	if err != nil {
		return nil, err
	}
	return cache.sliceOf(start, count), nil
}

// sliceOf returns the cache storage for a range of blocks without loading
// anything. The caller is responsible for bounds checking.
func (cache *BlockCache) sliceOf(start c.LogicalBlock, count uint) []byte {
	startOffset := uint(start) * cache.bytesPerBlock
	endOffset := startOffset + (count * cache.bytesPerBlock)
	return cache.data[startOffset:endOffset]
}

// Data returns a slice of the entire cache's data. This requires loading all
// blocks not yet in the cache, so the first call reads the whole region.
//
// If the returned slice is modified, the modified blocks MUST be marked as
// dirty.
func (cache *BlockCache) Data() ([]byte, error) {
	err := cache.LoadAll()
	if err != nil {
		return nil, err
	}
	return cache.data[:], nil
}

// loadBlockRange ensures that all blocks in the range [start, start + count) are
// present in the cache, and loads any missing ones from storage.
func (cache *BlockCache) loadBlockRange(start c.LogicalBlock, count uint) error {
	if count == 0 {
		return nil
	}

	err := cache.checkBounds(start, count*cache.bytesPerBlock)
	if err != nil {
		return err
	}

	for blockIndex := int(start); uint(blockIndex) < uint(start)+count; blockIndex++ {
		// Skip if the block is in the cache. Since dirty blocks are present by
		// definition, we don't need to check `dirtyBlocks`.
		if cache.loadedBlocks.Get(blockIndex) {
			continue
		}

		buffer := cache.sliceOf(c.LogicalBlock(blockIndex), 1)
		err = cache.fetch(c.LogicalBlock(blockIndex), buffer)
		if err != nil {
			return qfsimg.CastToDriverError(err).WithMessage(
				fmt.Sprintf("failed to load block %d from source", blockIndex))
		}

		// Mark the block as present and clean.
		cache.loadedBlocks.Set(blockIndex, true)
		cache.dirtyBlocks.Set(blockIndex, false)
	}

	return nil
}

// flushBlockRange writes out all dirty blocks (and only dirty blocks) to the
// underlying storage and marks them as clean.
func (cache *BlockCache) flushBlockRange(start c.LogicalBlock, count uint) error {
	if count == 0 {
		return nil
	}

	err := cache.checkBounds(start, count*cache.bytesPerBlock)
	if err != nil {
		return err
	}

	for blockIndex := int(start); uint(blockIndex) < uint(start)+count; blockIndex++ {
		// Skip if the block is clean. This also skips over blocks that aren't
		// loaded, since missing blocks are considered clean.
		if !cache.dirtyBlocks.Get(blockIndex) {
			continue
		}
		if cache.flush == nil {
			return qfsimg.ErrReadOnlyFileSystem.WithMessage(
				fmt.Sprintf("block %d is dirty but the cache is read-only", blockIndex))
		}

		err = cache.flush(c.LogicalBlock(blockIndex), cache.sliceOf(c.LogicalBlock(blockIndex), 1))
		if err != nil {
			return qfsimg.CastToDriverError(err).WithMessage(
				fmt.Sprintf("failed to flush block %d to storage", blockIndex))
		}

		// Mark the flushed block as clean.
		cache.dirtyBlocks.Set(blockIndex, false)
	}

	return nil
}

// LoadAll ensures all missing blocks are loaded from storage into the cache.
func (cache *BlockCache) LoadAll() error {
	return cache.loadBlockRange(0, cache.totalBlocks)
}

// Flush flushes all dirty blocks from the cache into storage, and marks them
// as clean.
func (cache *BlockCache) Flush() error {
	return cache.flushBlockRange(0, cache.totalBlocks)
}

// IsDirty returns true if any block is waiting to be flushed.
func (cache *BlockCache) IsDirty() bool {
	for i := 0; i < int(cache.totalBlocks); i++ {
		if cache.dirtyBlocks.Get(i) {
			return true
		}
	}
	return false
}

// ReadAt fills `buffer` with data beginning at block `start`, loading any
// missing blocks first. `buffer` does not need to be an exact multiple of the
// size of one block.
//
// Attempting to read past the end of the cache will result in an error, and
// `buffer` will be left unmodified.
func (cache *BlockCache) ReadAt(buffer []byte, start c.LogicalBlock) (int, error) {
	bufLen := uint(len(buffer))
	err := cache.checkBounds(start, bufLen)
	if err != nil {
		return 0, err
	}

	sourceData, err := cache.GetSlice(start, cache.LengthToNumBlocks(bufLen))
	if err != nil {
		return 0, err
	}
	return copy(buffer, sourceData), nil
}

// WriteAt copies data into the cache from `buffer`, beginning at block `start`.
// All modified blocks are marked as dirty. `buffer` does not need to be an
// exact multiple of the size of one block; the remainder of a partially
// written final block keeps its previous contents.
//
// Attempting to write past the end of the cache will result in an error, and
// the cache will be left unmodified.
func (cache *BlockCache) WriteAt(buffer []byte, start c.LogicalBlock) (int, error) {
	if cache.flush == nil {
		return 0, qfsimg.ErrReadOnlyFileSystem
	}

	bufLen := uint(len(buffer))
	err := cache.checkBounds(start, bufLen)
	if err != nil {
		return 0, err
	}

	// Load the target range first so a partial final block is merged with what
	// is already on disk instead of clobbering the rest of it with zeroes.
	totalBlocks := cache.LengthToNumBlocks(bufLen)
	targetByteSlice, err := cache.GetSlice(start, totalBlocks)
	if err != nil {
		return 0, err
	}

	n := copy(targetByteSlice, buffer)
	for i := uint(0); i < totalBlocks; i++ {
		cache.dirtyBlocks.Set(int(start)+int(i), true)
	}
	return n, nil
}

// MarkBlockRangeDirty marks a range of blocks as modified. They will be written
// out to the backing storage on the next call to [BlockCache.Flush].
func (cache *BlockCache) MarkBlockRangeDirty(start c.LogicalBlock, count uint) error {
	if cache.flush == nil {
		return qfsimg.ErrReadOnlyFileSystem
	}

	err := cache.checkBounds(start, count*cache.bytesPerBlock)
	if err != nil {
		return err
	}

	for i := uint(0); i < count; i++ {
		bitIndex := int(start) + int(i)
		cache.dirtyBlocks.Set(bitIndex, true)
		cache.loadedBlocks.Set(bitIndex, true)
	}
	return nil
}
