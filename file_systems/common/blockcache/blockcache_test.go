package blockcache_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/qfsutil/qfsimg"
	c "github.com/qfsutil/qfsimg/file_systems/common"
	"github.com/qfsutil/qfsimg/file_systems/common/blockcache"
	qfstest "github.com/qfsutil/qfsimg/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test block fetch functionality with no trickery such as reading past the end
// of the image.
func TestBlockCache__Fetch__Basic(t *testing.T) {
	cache, rawBlocks := qfstest.NewRandomRegionCache(t, 128, 64, false)

	currentBlock := make([]byte, 128)
	for i := c.LogicalBlock(0); i < 64; i++ {
		_, err := cache.ReadAt(currentBlock, i)
		if err != nil {
			t.Errorf("failed to read block %d of [0, 64): %s", i, err.Error())
			continue
		}

		start := i * 128
		if !bytes.Equal(currentBlock, rawBlocks[start:start+128]) {
			t.Errorf("block %d read from the cache doesn't match", i)
		}
	}
}

// Trying to read past the end of an image must fail.
func TestBlockCache__Fetch__ReadPastEnd(t *testing.T) {
	cache, _ := qfstest.NewRandomRegionCache(t, 512, 16, false)
	buffer := make([]byte, 512)

	nRead, err := cache.ReadAt(buffer, 0)
	assert.NoError(t, err, "failed to read first block")
	assert.Equal(t, len(buffer), nRead)

	nRead, err = cache.ReadAt(buffer, 15)
	assert.NoError(t, err, "failed to read last block")
	assert.Equal(t, len(buffer), nRead)

	nRead, err = cache.ReadAt(buffer, 16)
	assert.ErrorIs(t, err, qfsimg.ErrInvalidArgument)
	assert.Equal(t, 0, nRead)

	nRead, err = cache.ReadAt([]byte{}, 16)
	assert.Error(t, err, "tried reading 0 bytes of block 16 of [0, 16) but it didn't fail")
	assert.Equal(t, 0, nRead)

	nRead, err = cache.ReadAt(make([]byte, 8192), 0)
	assert.NoError(t, err, "failed reading entire image into buffer")
	assert.EqualValues(t, cache.Size(), nRead)

	nRead, err = cache.ReadAt(make([]byte, 8193), 0)
	assert.Error(t, err, "should've failed to read entire image + 1 byte into buffer")
	assert.Equal(t, 0, nRead)
}

// Write to a block and then read back that same block. You should always get
// back what you wrote.
func TestBlockCache__Write__Basic(t *testing.T) {
	cache, _ := qfstest.NewRandomRegionCache(t, 512, 16, true)
	writeBuffer := make([]byte, cache.BytesPerBlock())
	readBuffer := make([]byte, cache.BytesPerBlock())

	for i := 0; i < int(cache.TotalBlocks()); i++ {
		rand.Read(writeBuffer)
		_, err := cache.WriteAt(writeBuffer, c.LogicalBlock(i))
		require.NoError(t, err)
		_, err = cache.ReadAt(readBuffer, c.LogicalBlock(i))
		require.NoError(t, err)

		assert.Equalf(
			t, writeBuffer, readBuffer, "wrote to block %d but read back different data", i)
	}
}

// A partial write to a block keeps the rest of the block intact.
func TestBlockCache__Write__PartialBlockMerges(t *testing.T) {
	cache, backing := qfstest.NewRandomRegionCache(t, 64, 4, true)
	original := make([]byte, len(backing))
	copy(original, backing)

	_, err := cache.WriteAt([]byte{1, 2, 3}, 2)
	require.NoError(t, err)
	require.NoError(t, cache.Flush())

	expected := make([]byte, len(original))
	copy(expected, original)
	copy(expected[128:], []byte{1, 2, 3})
	assert.Equal(t, expected, backing)
}

// Attempting to write starting past the end of the cache fails.
func TestBlockCache__Write__WriteStartingPastEndFails(t *testing.T) {
	cache, _ := qfstest.NewRandomRegionCache(t, 512, 16, true)
	writeBuffer := make([]byte, cache.BytesPerBlock())

	n, err := cache.WriteAt(writeBuffer, c.LogicalBlock(16))
	assert.Error(t, err, "writing past the end of the buffer should've failed but it didn't")
	assert.Equal(t, 0, n)
}

// If we write to a block inside the cache but the buffer extends past the end
// of the cache, it fails immediately and no data is modified.
func TestBlockCache__Write__WriteOverlappingPastEndFails(t *testing.T) {
	cache, _ := qfstest.NewRandomRegionCache(t, 512, 16, true)
	cacheData, err := cache.Data()
	require.NoError(t, err)
	copyOfOriginalData := make([]byte, len(cacheData))
	copy(copyOfOriginalData, cacheData)

	writeBuffer := make([]byte, cache.BytesPerBlock()*5)
	rand.Read(writeBuffer)

	n, err := cache.WriteAt(writeBuffer, c.LogicalBlock(12))
	assert.Error(t, err, "writing past the end of the buffer should've failed but it didn't")
	assert.Equal(t, 0, n)
	assert.Equal(t, copyOfOriginalData, cacheData, "cache data was modified but shouldn't've been")
}

// Read-only caches refuse writes outright.
func TestBlockCache__Write__ReadOnly(t *testing.T) {
	cache, _ := qfstest.NewRandomRegionCache(t, 128, 4, false)
	assert.False(t, cache.IsWritable())

	n, err := cache.WriteAt(make([]byte, 128), 0)
	assert.ErrorIs(t, err, qfsimg.ErrReadOnlyFileSystem)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, cache.MarkBlockRangeDirty(0, 1), qfsimg.ErrReadOnlyFileSystem)
}

// Flushing only writes blocks that were modified.
func TestBlockCache__Flush__OnlyDirtyBlocks(t *testing.T) {
	backing := make([]byte, 128*8)
	flushed := []c.LogicalBlock{}

	cache := blockcache.New(
		128,
		8,
		func(blockIndex c.LogicalBlock, buffer []byte) error {
			copy(buffer, backing[blockIndex*128:(blockIndex+1)*128])
			return nil
		},
		func(blockIndex c.LogicalBlock, buffer []byte) error {
			flushed = append(flushed, blockIndex)
			copy(backing[blockIndex*128:(blockIndex+1)*128], buffer)
			return nil
		},
	)

	require.NoError(t, cache.LoadAll())
	assert.False(t, cache.IsDirty())

	_, err := cache.WriteAt([]byte{0xaa}, 3)
	require.NoError(t, err)
	_, err = cache.WriteAt([]byte{0xbb}, 6)
	require.NoError(t, err)
	assert.True(t, cache.IsDirty())

	require.NoError(t, cache.Flush())
	assert.Equal(t, []c.LogicalBlock{3, 6}, flushed)
	assert.False(t, cache.IsDirty())
	assert.EqualValues(t, 0xaa, backing[3*128])
	assert.EqualValues(t, 0xbb, backing[6*128])

	// Nothing is dirty anymore, so a second flush writes nothing.
	require.NoError(t, cache.Flush())
	assert.Len(t, flushed, 2)
}

// WrapStream addresses blocks relative to the start offset and leaves the
// bytes before it alone.
func TestBlockCache__WrapStream__StartOffset(t *testing.T) {
	const header = 100
	image := qfstest.RandomBytes(t, header+4*32)
	stream := qfstest.NewImageStream(t, image)

	cache := blockcache.WrapStream(stream, header, 32, 4, true)
	block := make([]byte, 32)
	_, err := cache.ReadAt(block, 1)
	require.NoError(t, err)
	assert.Equal(t, image[header+32:header+64], block)

	_, err = cache.WriteAt(bytes.Repeat([]byte{0x5a}, 32), 3)
	require.NoError(t, err)
	require.NoError(t, cache.Flush())

	written := qfstest.ReadBackImage(t, stream, len(image))
	assert.Equal(t, image[:header+96], written[:header+96])
	assert.Equal(t, bytes.Repeat([]byte{0x5a}, 32), written[header+96:])
}

// A stream that's shorter than the region it's supposed to hold fails with an
// I/O error instead of returning zeroes.
func TestBlockCache__WrapStream__Truncated(t *testing.T) {
	stream := qfstest.NewImageStream(t, make([]byte, 80))
	cache := blockcache.WrapStream(stream, 16, 32, 4, false)

	_, err := cache.ReadAt(make([]byte, 32), 1)
	require.NoError(t, err)

	_, err = cache.ReadAt(make([]byte, 32), 2)
	assert.ErrorIs(t, err, qfsimg.ErrIOFailed)
}
