package testing

import (
	"crypto/rand"
	"testing"

	"github.com/qfsutil/qfsimg/file_systems/common/blockcache"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// RegionHeaderSize is how many bytes [NewRandomRegionCache] puts in front of the
// data region, standing in for a superblock and directory table.
const RegionHeaderSize = 32 + 2*32

// RandomBytes returns `size` random bytes or fails the test.
func RandomBytes(t *testing.T, size uint) []byte {
	buffer := make([]byte, size)
	_, err := rand.Read(buffer)
	require.NoErrorf(t, err, "failed to generate %d random bytes", size)
	return buffer
}

// NewRegionCache builds a cache over part of `image` the same way a mounted
// driver builds one over its data region: [blockcache.WrapStream] on an
// in-memory stream, with block 0 at `startOffset`. Flushed blocks are written
// into `image` itself, so tests can inspect it directly.
func NewRegionCache(
	t *testing.T,
	image []byte,
	startOffset int64,
	bytesPerBlock uint,
	totalBlocks uint,
	writable bool,
) *blockcache.BlockCache {
	regionEnd := startOffset + int64(bytesPerBlock*totalBlocks)
	require.GreaterOrEqualf(
		t,
		int64(len(image)),
		regionEnd,
		"image of %d bytes can't hold %d blocks of %d bytes at offset %d",
		len(image),
		totalBlocks,
		bytesPerBlock,
		startOffset)

	stream := bytesextra.NewReadWriteSeeker(image)
	cache := blockcache.WrapStream(stream, startOffset, bytesPerBlock, totalBlocks, writable)
	require.EqualValues(t, bytesPerBlock*totalBlocks, cache.Size(), "cache is the wrong size")
	require.Equal(t, writable, cache.IsWritable())
	return cache
}

// NewRandomRegionCache creates an image of random bytes with a data region of
// `totalBlocks` blocks after a [RegionHeaderSize]-byte header, and returns a
// cache over that region along with the region's bytes. The returned slice
// shares memory with the image, so flushed writes show up in it.
func NewRandomRegionCache(
	t *testing.T, bytesPerBlock, totalBlocks uint, writable bool,
) (*blockcache.BlockCache, []byte) {
	image := RandomBytes(t, RegionHeaderSize+bytesPerBlock*totalBlocks)
	cache := NewRegionCache(t, image, RegionHeaderSize, bytesPerBlock, totalBlocks, writable)
	return cache, image[RegionHeaderSize:]
}
