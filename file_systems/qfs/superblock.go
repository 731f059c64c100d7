package qfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/noxer/bytewriter"
	"github.com/qfsutil/qfsimg"
	c "github.com/qfsutil/qfsimg/file_systems/common"
)

// Magic is the value of the first byte of every QFS image.
const Magic = 0x51

// SuperblockSize is the size of the on-disk superblock, including reserved
// bytes.
const SuperblockSize = 32

// BlockOverhead is the number of bytes in every block that aren't payload: the
// busy marker and the next-block pointer.
const BlockOverhead = 3

// Superblock is the on-disk representation of the image header. It is the only
// place free-space counters are kept; the driver owns exactly one copy of it
// while mounted.
type Superblock struct {
	Magic            uint8
	BytesPerBlock    uint16
	TotalBlocks      uint16
	AvailableBlocks  uint16
	TotalDirents     uint8
	AvailableDirents uint8
	Reserved         [23]byte
}

// LoadSuperblock reads the superblock from the beginning of the stream and
// validates it.
//
// A short read or a bad magic number fails with [qfsimg.ErrInvalidImage], as
// does a header whose geometry can't be operated on: blocks too small to carry
// any payload, or free counters larger than the totals.
func LoadSuperblock(stream io.ReadSeeker) (Superblock, error) {
	_, err := stream.Seek(0, io.SeekStart)
	if err != nil {
		return Superblock{}, qfsimg.ErrIOFailed.Wrap(err)
	}

	rawBytes := make([]byte, SuperblockSize)
	nRead, err := io.ReadFull(stream, rawBytes)
	if err != nil {
		return Superblock{}, qfsimg.ErrInvalidImage.WithMessage(
			fmt.Sprintf("header truncated: expected %d bytes, got %d", SuperblockSize, nRead))
	}

	var sb Superblock
	err = binary.Read(bytes.NewReader(rawBytes), binary.LittleEndian, &sb)
	if err != nil {
		return Superblock{}, qfsimg.ErrIOFailed.Wrap(err)
	}

	err = sb.Validate()
	if err != nil {
		return Superblock{}, err
	}
	return sb, nil
}

// PersistSuperblock overwrites the header at the start of the stream with `sb`.
// Reserved bytes are written back as they are in `sb`.
func PersistSuperblock(stream io.WriteSeeker, sb Superblock) error {
	rawBytes := make([]byte, SuperblockSize)
	err := binary.Write(bytewriter.New(rawBytes), binary.LittleEndian, &sb)
	if err != nil {
		return qfsimg.ErrIOFailed.Wrap(err)
	}

	_, err = stream.Seek(0, io.SeekStart)
	if err != nil {
		return qfsimg.ErrIOFailed.Wrap(err)
	}

	nWritten, err := stream.Write(rawBytes)
	if err != nil {
		return qfsimg.ErrIOFailed.Wrap(err)
	} else if nWritten != SuperblockSize {
		return qfsimg.ErrIOFailed.WithMessage(
			fmt.Sprintf("short write of superblock: %d of %d bytes", nWritten, SuperblockSize))
	}
	return nil
}

// Validate checks the invariants every mounted superblock must satisfy.
func (sb *Superblock) Validate() error {
	if sb.Magic != Magic {
		return qfsimg.ErrInvalidImage.WithMessage(
			fmt.Sprintf("bad magic number: expected %#02x, got %#02x", Magic, sb.Magic))
	}
	if sb.BytesPerBlock <= BlockOverhead {
		return qfsimg.ErrInvalidImage.WithMessage(
			fmt.Sprintf(
				"block size must be greater than %d bytes, got %d",
				BlockOverhead,
				sb.BytesPerBlock))
	}
	if sb.AvailableBlocks > sb.TotalBlocks {
		return qfsimg.ErrInvalidImage.WithMessage(
			fmt.Sprintf(
				"free block count %d exceeds total block count %d",
				sb.AvailableBlocks,
				sb.TotalBlocks))
	}
	if sb.AvailableDirents > sb.TotalDirents {
		return qfsimg.ErrInvalidImage.WithMessage(
			fmt.Sprintf(
				"free directory entry count %d exceeds total entry count %d",
				sb.AvailableDirents,
				sb.TotalDirents))
	}
	return nil
}

// DirectoryOffset gives the offset of the first directory slot in the image.
func (sb *Superblock) DirectoryOffset() int64 {
	return SuperblockSize
}

// DataOffset gives the offset of block 0 in the image.
func (sb *Superblock) DataOffset() int64 {
	return SuperblockSize + int64(sb.TotalDirents)*DirentSize
}

// BlockOffset gives the absolute offset of a block in the image.
func (sb *Superblock) BlockOffset(block c.LogicalBlock) int64 {
	return sb.DataOffset() + int64(block)*int64(sb.BytesPerBlock)
}

// ImageSize is the minimum size of an image with this geometry, in bytes.
func (sb *Superblock) ImageSize() int64 {
	return sb.BlockOffset(c.LogicalBlock(sb.TotalBlocks))
}

// DataPerBlock is the number of payload bytes one block holds.
func (sb *Superblock) DataPerBlock() uint {
	return uint(sb.BytesPerBlock) - BlockOverhead
}

// BlocksNeeded gives the number of blocks a file of `size` bytes occupies.
// Empty files still take up one block.
func (sb *Superblock) BlocksNeeded(size uint64) uint {
	dataPerBlock := uint64(sb.DataPerBlock())
	blocks := (size + dataPerBlock - 1) / dataPerBlock
	if blocks == 0 {
		return 1
	}
	return uint(blocks)
}
