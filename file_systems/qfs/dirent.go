package qfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/noxer/bytewriter"
	"github.com/qfsutil/qfsimg"
)

// DirentSize is the size of one directory slot on disk.
const DirentSize = 32

// FilenameFieldSize is the size of the filename field in a directory slot.
const FilenameFieldSize = 24

// MaxNameLength is the longest name that can be stored. One byte of the field
// is always kept for the NUL terminator.
const MaxNameLength = FilenameFieldSize - 1

// RawDirent is the on-disk representation of a directory slot, broken down into
// its constituent fields.
type RawDirent struct {
	// Filename is the name of the file, right-padded with NUL bytes. If the
	// first byte is NUL the slot is free and the other fields are meaningless.
	Filename [FilenameFieldSize]byte
	// FileSize is the length of the file's contents, in bytes.
	FileSize uint32
	// StartingBlock is the index of the first block of the file's chain.
	StartingBlock uint16
	// Reserved must be set to nulls when writing, and ignored when reading.
	Reserved [2]byte
}

// NewRawDirent creates a directory slot for a file. Names longer than
// [MaxNameLength] bytes are shortened with [TruncateName].
func NewRawDirent(name string, size uint32, startingBlock uint16) RawDirent {
	raw := RawDirent{FileSize: size, StartingBlock: startingBlock}
	copy(raw.Filename[:MaxNameLength], TruncateName(name))
	return raw
}

// TruncateName returns the name a file is stored under: at most
// [MaxNameLength] bytes, cut back to the start of a UTF-8 character so a
// multi-byte character is never split. Bytes that aren't valid UTF-8 are cut
// at exactly [MaxNameLength].
func TruncateName(name string) string {
	if len(name) <= MaxNameLength {
		return name
	}

	end := MaxNameLength
	for back := 0; back < utf8.UTFMax && end-back > 0; back++ {
		if utf8.RuneStart(name[end-back]) {
			return name[:end-back]
		}
	}
	return name[:end]
}

// IsFree returns true if the slot doesn't hold a file.
func (raw *RawDirent) IsFree() bool {
	return raw.Filename[0] == 0
}

// Name returns the stored filename up to its first NUL byte.
func (raw *RawDirent) Name() string {
	end := bytes.IndexByte(raw.Filename[:], 0)
	if end < 0 {
		end = len(raw.Filename)
	}
	return string(raw.Filename[:end])
}

// Dirent is a live directory slot in a user-friendly format.
type Dirent struct {
	qfsimg.DirectoryEntry
	// SlotIndex is the position of the entry in the directory table.
	SlotIndex     uint
	FileSize      uint32
	StartingBlock uint16
}

func newDirent(slot uint, raw RawDirent, sb *Superblock) Dirent {
	return Dirent{
		DirectoryEntry: qfsimg.NewDirectoryEntry(
			raw.Name(),
			qfsimg.FileStat{
				InodeNumber: uint64(slot),
				Nlinks:      1,
				ModeFlags:   qfsimg.DefaultFileMode,
				Size:        int64(raw.FileSize),
				BlockSize:   int64(sb.BytesPerBlock),
				NumBlocks:   int64(sb.BlocksNeeded(uint64(raw.FileSize))),
				FirstBlock:  uint64(raw.StartingBlock),
			},
		),
		SlotIndex:     slot,
		FileSize:      raw.FileSize,
		StartingBlock: raw.StartingBlock,
	}
}

// DirectoryTable gives access to the fixed-size array of directory slots that
// immediately follows the superblock. Every operation goes straight to the
// stream; nothing is cached.
type DirectoryTable struct {
	stream     io.ReadWriteSeeker
	offset     int64
	totalSlots uint
}

// NewDirectoryTable creates a DirectoryTable for the image described by `sb`.
func NewDirectoryTable(stream io.ReadWriteSeeker, sb *Superblock) DirectoryTable {
	return DirectoryTable{
		stream:     stream,
		offset:     sb.DirectoryOffset(),
		totalSlots: uint(sb.TotalDirents),
	}
}

// TotalSlots returns the number of slots in the table, free or not.
func (table DirectoryTable) TotalSlots() uint {
	return table.totalSlots
}

func (table DirectoryTable) slotOffset(index uint) (int64, error) {
	if index >= table.totalSlots {
		return 0, qfsimg.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("invalid directory slot: %d not in range [0, %d)", index, table.totalSlots))
	}
	return table.offset + int64(index)*DirentSize, nil
}

// readAll reads every slot in the table with a single read.
func (table DirectoryTable) readAll() ([]RawDirent, error) {
	_, err := table.stream.Seek(table.offset, io.SeekStart)
	if err != nil {
		return nil, qfsimg.ErrIOFailed.Wrap(err)
	}

	rawBytes := make([]byte, table.totalSlots*DirentSize)
	_, err = io.ReadFull(table.stream, rawBytes)
	if err != nil {
		return nil, qfsimg.ErrIOFailed.Wrap(
			fmt.Errorf("failed to read %d directory slots: %w", table.totalSlots, err))
	}

	slots := make([]RawDirent, table.totalSlots)
	err = binary.Read(bytes.NewReader(rawBytes), binary.LittleEndian, slots)
	if err != nil {
		return nil, qfsimg.ErrIOFailed.Wrap(err)
	}
	return slots, nil
}

// ReadSlot returns the raw contents of one slot.
func (table DirectoryTable) ReadSlot(index uint) (RawDirent, error) {
	offset, err := table.slotOffset(index)
	if err != nil {
		return RawDirent{}, err
	}

	_, err = table.stream.Seek(offset, io.SeekStart)
	if err != nil {
		return RawDirent{}, qfsimg.ErrIOFailed.Wrap(err)
	}

	var raw RawDirent
	err = binary.Read(table.stream, binary.LittleEndian, &raw)
	if err != nil {
		return RawDirent{}, qfsimg.ErrIOFailed.Wrap(
			fmt.Errorf("failed to read directory slot %d: %w", index, err))
	}
	return raw, nil
}

// WriteSlot overwrites one slot with `raw`.
func (table DirectoryTable) WriteSlot(index uint, raw RawDirent) error {
	offset, err := table.slotOffset(index)
	if err != nil {
		return err
	}

	rawBytes := make([]byte, DirentSize)
	err = binary.Write(bytewriter.New(rawBytes), binary.LittleEndian, &raw)
	if err != nil {
		return qfsimg.ErrIOFailed.Wrap(err)
	}

	_, err = table.stream.Seek(offset, io.SeekStart)
	if err != nil {
		return qfsimg.ErrIOFailed.Wrap(err)
	}

	nWritten, err := table.stream.Write(rawBytes)
	if err != nil {
		return qfsimg.ErrIOFailed.Wrap(err)
	} else if nWritten != DirentSize {
		return qfsimg.ErrIOFailed.WithMessage(
			fmt.Sprintf("short write of directory slot %d: %d of %d bytes", index, nWritten, DirentSize))
	}
	return nil
}

// ClearSlot zero-fills a slot, which marks it free.
func (table DirectoryTable) ClearSlot(index uint) error {
	return table.WriteSlot(index, RawDirent{})
}

// FindByName returns the index and contents of the first live slot whose name
// is exactly `name`. Duplicate names are allowed on disk; later ones are never
// returned. `found` is false if no slot matches.
func (table DirectoryTable) FindByName(name string) (index uint, raw RawDirent, found bool, err error) {
	if name == "" {
		return 0, RawDirent{}, false, nil
	}

	slots, err := table.readAll()
	if err != nil {
		return 0, RawDirent{}, false, err
	}

	for i := range slots {
		if !slots[i].IsFree() && slots[i].Name() == name {
			return uint(i), slots[i], true, nil
		}
	}
	return 0, RawDirent{}, false, nil
}

// FindFreeSlot returns the index of the first free slot. `found` is false if
// every slot is in use.
func (table DirectoryTable) FindFreeSlot() (index uint, found bool, err error) {
	slots, err := table.readAll()
	if err != nil {
		return 0, false, err
	}

	for i := range slots {
		if slots[i].IsFree() {
			return uint(i), true, nil
		}
	}
	return 0, false, nil
}

// ListSlots returns every live slot, in table order, keyed by slot index.
func (table DirectoryTable) ListSlots() ([]uint, []RawDirent, error) {
	slots, err := table.readAll()
	if err != nil {
		return nil, nil, err
	}

	indexes := []uint{}
	live := []RawDirent{}
	for i := range slots {
		if !slots[i].IsFree() {
			indexes = append(indexes, uint(i))
			live = append(live, slots[i])
		}
	}
	return indexes, live, nil
}
