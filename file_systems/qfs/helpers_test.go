package qfs

import (
	"bytes"
	_ "embed"
	"encoding/binary"
	"io"
	"testing"

	"github.com/qfsutil/qfsimg"
	c "github.com/qfsutil/qfsimg/file_systems/common"
	qfstest "github.com/qfsutil/qfsimg/testing"
	"github.com/stretchr/testify/require"
)

// sample.img.rle.gz is a 2336-byte image with 64-byte blocks, 32 blocks and 8
// directory slots. It holds:
//
//   - slot 0: "hello.txt", 12 bytes in block 0
//   - slot 2: "lorem.txt", 150 bytes in blocks 1 -> 2 -> 4
//   - block 3: free, but still holding a small JPEG from a deleted file
//
//go:embed testdata/sample.img.rle.gz
var sampleImagePacked []byte

const sampleImageSize = 2336

const sampleHelloContents = "Hello, QFS!\n"

const sampleLoremContents = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do " +
	"eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, q"

var sampleDeletedJPEG = []byte("\xff\xd8\xff\xe0deleted picture\xff\xd9")

// newBlankImage returns the bytes of an empty, freshly initialized image.
func newBlankImage(t *testing.T, bytesPerBlock, totalBlocks uint16, totalDirents uint8) []byte {
	sb := Superblock{
		Magic:            Magic,
		BytesPerBlock:    bytesPerBlock,
		TotalBlocks:      totalBlocks,
		AvailableBlocks:  totalBlocks,
		TotalDirents:     totalDirents,
		AvailableDirents: totalDirents,
	}

	image := make([]byte, sb.ImageSize())
	copy(image, encodeSuperblock(t, sb))
	return image
}

// encodeSuperblock returns the on-disk bytes of `sb` alone.
func encodeSuperblock(t *testing.T, sb Superblock) []byte {
	var header bytes.Buffer
	require.NoError(t, binary.Write(&header, binary.LittleEndian, &sb))
	require.Equal(t, SuperblockSize, header.Len(), "superblock serialized to wrong size")
	return header.Bytes()
}

// mountImage mounts a copy of `image` and returns the driver along with the
// stream it's using.
func mountImage(
	t *testing.T, image []byte, flags qfsimg.MountFlags,
) (*Driver, io.ReadWriteSeeker) {
	stream := qfstest.NewImageStream(t, image)
	driver := NewDriverFromStream(stream)
	require.NoError(t, driver.Mount(flags), "mounting failed")
	return driver, stream
}

func mountBlankImage(
	t *testing.T, bytesPerBlock, totalBlocks uint16, totalDirents uint8,
) (*Driver, io.ReadWriteSeeker) {
	image := newBlankImage(t, bytesPerBlock, totalBlocks, totalDirents)
	return mountImage(t, image, qfsimg.MountFlagsAllowAll)
}

func mountSampleImage(t *testing.T, flags qfsimg.MountFlags) (*Driver, io.ReadWriteSeeker) {
	stream := qfstest.LoadDiskImage(t, sampleImagePacked, sampleImageSize)
	driver := NewDriverFromStream(stream)
	require.NoError(t, driver.Mount(flags), "mounting sample image failed")
	return driver, stream
}

// makePayload returns `size` bytes that differ from block to block, so that a
// chain stitched together in the wrong order is noticed.
func makePayload(size int) []byte {
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i*7 + i/61)
	}
	return payload
}

// readBlock returns a copy of one block of the data region straight from the
// stream, bypassing the driver's cache.
func readBlock(t *testing.T, stream io.ReadSeeker, sb *Superblock, index c.LogicalBlock) rawBlock {
	image := qfstest.ReadBackImage(t, stream, int(sb.ImageSize()))
	offset := sb.BlockOffset(index)
	return rawBlock(image[offset : offset+int64(sb.BytesPerBlock)])
}

// linkBlock overwrites a block's busy marker and next pointer in a raw image.
func linkBlock(image []byte, sb *Superblock, index c.LogicalBlock, busy bool, next uint16) {
	offset := sb.BlockOffset(index)
	block := rawBlock(image[offset : offset+int64(sb.BytesPerBlock)])
	if busy {
		block[0] = blockBusy
	} else {
		block[0] = blockFree
	}
	block.setNext(next)
}

// putDirent writes a directory slot straight into a raw image.
func putDirent(t *testing.T, image []byte, slot uint, raw RawDirent) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, &raw))
	copy(image[SuperblockSize+slot*DirentSize:], buf.Bytes())
}

// setCounters overwrites the free counters of the superblock in a raw image.
func setCounters(image []byte, availableBlocks uint16, availableDirents uint8) {
	binary.LittleEndian.PutUint16(image[5:7], availableBlocks)
	image[8] = availableDirents
}
