package qfs

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/qfsutil/qfsimg"
	"github.com/qfsutil/qfsimg/file_systems/common/blockcache"
	"github.com/qfsutil/qfsimg/utilities/tracelog"
)

// Driver gives access to the files on a QFS image. It is not safe for
// concurrent use.
type Driver struct {
	stream io.ReadWriteSeeker
	// superblock is the only copy of the free-space counters while the image is
	// mounted. It's written back to the image after every mutation.
	superblock        Superblock
	directory         DirectoryTable
	data              *blockcache.BlockCache
	allocator         BlockAllocator
	isMounted         bool
	currentMountFlags qfsimg.MountFlags
}

var _ qfsimg.Driver = (*Driver)(nil)

func NewDriverFromStream(stream io.ReadWriteSeeker) *Driver {
	return &Driver{stream: stream}
}

// MountFile opens the image at `path` and mounts it with the given flags. The
// file is opened read-only unless the flags allow writing or deleting. It's
// closed by [Driver.Unmount].
func MountFile(path string, flags qfsimg.MountFlags) (*Driver, error) {
	openMode := os.O_RDONLY
	if flags.CanWrite() || flags.CanDelete() {
		openMode = os.O_RDWR
	}

	file, err := os.OpenFile(path, openMode, 0)
	if err != nil {
		return nil, qfsimg.ErrIOFailed.Wrap(err)
	}

	driver := NewDriverFromStream(file)
	err = driver.Mount(flags)
	if err != nil {
		file.Close()
		return nil, err
	}
	return driver, nil
}

////////////////////////////////////////////////////////////////////////////////
// Driver
//     [x] Mount
//     [x] Flush
//     [x] Unmount
//     [x] FSStat
// ReadingDriver
//     [x] ReadDir
//     [x] Stat
//     [x] ReadFileByName
// WritingDriver
//     [x] WriteFileByName
//     [x] Remove

func (driver *Driver) Mount(flags qfsimg.MountFlags) error {
	if driver.isMounted {
		if driver.currentMountFlags == flags {
			return nil
		}
		return qfsimg.ErrAlreadyInProgress.WithMessage(
			fmt.Sprintf(
				"image already mounted with flags %#x, can't remount with %#x",
				driver.currentMountFlags,
				flags))
	}

	sb, err := LoadSuperblock(driver.stream)
	if err != nil {
		return err
	}

	// The cache holds the whole data region in memory, so the geometry has to
	// be backed by actual bytes before anything is allocated for it.
	imageLength, err := driver.stream.Seek(0, io.SeekEnd)
	if err != nil {
		return qfsimg.ErrIOFailed.Wrap(err)
	}
	if imageLength < sb.ImageSize() {
		return qfsimg.ErrInvalidImage.WithMessage(
			fmt.Sprintf(
				"superblock describes a %d-byte image but only %d bytes are present",
				sb.ImageSize(),
				imageLength))
	}

	writable := flags.CanWrite() || flags.CanDelete()
	driver.superblock = sb
	driver.directory = NewDirectoryTable(driver.stream, &driver.superblock)
	driver.data = blockcache.WrapStream(
		driver.stream,
		sb.DataOffset(),
		uint(sb.BytesPerBlock),
		uint(sb.TotalBlocks),
		writable,
	)
	driver.allocator = NewBlockAllocator(driver.data)
	driver.currentMountFlags = flags
	driver.isMounted = true

	tracelog.Printf(
		"mounted image: %d blocks of %d bytes (%d free), %d slots (%d free)",
		sb.TotalBlocks,
		sb.BytesPerBlock,
		sb.AvailableBlocks,
		sb.TotalDirents,
		sb.AvailableDirents)
	return nil
}

// Flush writes any modified data blocks back to the image. The superblock and
// directory table are never held back, so they don't need flushing.
func (driver *Driver) Flush() error {
	if !driver.isMounted {
		return qfsimg.ErrNotMounted
	}
	if !driver.data.IsWritable() || !driver.data.IsDirty() {
		return nil
	}
	return driver.data.Flush()
}

// Unmount flushes pending changes and closes the underlying stream if it
// implements [io.Closer]. Errors from both steps are returned together.
func (driver *Driver) Unmount() error {
	if !driver.isMounted {
		return qfsimg.ErrNotMounted
	}

	var result *multierror.Error
	err := driver.Flush()
	if err != nil {
		result = multierror.Append(result, err)
	}

	if closer, ok := driver.stream.(io.Closer); ok {
		err = closer.Close()
		if err != nil {
			result = multierror.Append(result, qfsimg.ErrIOFailed.Wrap(err))
		}
	}

	driver.isMounted = false
	driver.data = nil
	return result.ErrorOrNil()
}

func (driver *Driver) FSStat() qfsimg.FSStat {
	sb := &driver.superblock
	return qfsimg.FSStat{
		BlockSize:            uint(sb.BytesPerBlock),
		PayloadBytesPerBlock: sb.DataPerBlock(),
		TotalBlocks:          uint64(sb.TotalBlocks),
		BlocksFree:           uint64(sb.AvailableBlocks),
		Files:                uint64(sb.TotalDirents - sb.AvailableDirents),
		FilesFree:            uint64(sb.AvailableDirents),
		MaxNameLength:        MaxNameLength,
	}
}

// Superblock returns a copy of the in-memory superblock.
func (driver *Driver) Superblock() Superblock {
	return driver.superblock
}

func (driver *Driver) ReadDir() ([]qfsimg.DirectoryEntry, error) {
	dirents, err := driver.ListEntries()
	if err != nil {
		return nil, err
	}

	entries := make([]qfsimg.DirectoryEntry, len(dirents))
	for i, dirent := range dirents {
		entries[i] = dirent.DirectoryEntry
	}
	return entries, nil
}

func (driver *Driver) Stat(name string) (qfsimg.FileStat, error) {
	dirent, err := driver.FindEntry(name)
	if err != nil {
		return qfsimg.FileStat{}, err
	}
	return dirent.Stat, nil
}

func (driver *Driver) ReadFileByName(name string) ([]byte, error) {
	dirent, err := driver.FindEntry(name)
	if err != nil {
		return nil, err
	}
	return driver.ReadFile(dirent)
}

func (driver *Driver) WriteFileByName(name string, data []byte) error {
	_, err := driver.WriteFile(name, data)
	return err
}

func (driver *Driver) Remove(name string) error {
	_, err := driver.DeleteFile(name)
	return err
}

////////////////////////////////////////////////////////////////////////////////
// QFS-specific operations

func (driver *Driver) checkMounted() error {
	if !driver.isMounted {
		return qfsimg.ErrNotMounted
	}
	return nil
}

// ListEntries returns every live directory entry in slot order.
func (driver *Driver) ListEntries() ([]Dirent, error) {
	err := driver.checkMounted()
	if err != nil {
		return nil, err
	}

	indexes, raws, err := driver.directory.ListSlots()
	if err != nil {
		return nil, err
	}

	dirents := make([]Dirent, len(raws))
	for i := range raws {
		dirents[i] = newDirent(indexes[i], raws[i], &driver.superblock)
	}
	return dirents, nil
}

// FindEntry returns the first live entry named exactly `name`. It fails with
// [qfsimg.ErrNotFound] if there is none.
func (driver *Driver) FindEntry(name string) (Dirent, error) {
	err := driver.checkMounted()
	if err != nil {
		return Dirent{}, err
	}

	index, raw, found, err := driver.directory.FindByName(name)
	if err != nil {
		return Dirent{}, err
	} else if !found {
		return Dirent{}, qfsimg.ErrNotFound.WithMessage(fmt.Sprintf("%q", name))
	}
	return newDirent(index, raw, &driver.superblock), nil
}

// ReadFile returns the contents of the file described by `dirent`.
func (driver *Driver) ReadFile(dirent Dirent) ([]byte, error) {
	err := driver.checkMounted()
	if err != nil {
		return nil, err
	}
	tracelog.Printf(
		"reading %q: %d bytes starting at block %d",
		dirent.Name(),
		dirent.FileSize,
		dirent.StartingBlock)
	return ReadChain(driver.data, dirent.StartingBlock, dirent.FileSize)
}

// WriteFile stores `payload` as a new file named `name`, truncated to
// [MaxNameLength] bytes. An existing file with the same name is left alone;
// both entries will exist afterwards.
//
// All capacity checks happen before anything is modified, so a write rejected
// for lack of space leaves the image exactly as it was. Once writing has begun
// there is no rollback: an I/O failure partway through can leave busy blocks
// that no entry owns.
func (driver *Driver) WriteFile(name string, payload []byte) (Dirent, error) {
	err := driver.checkMounted()
	if err != nil {
		return Dirent{}, err
	}
	if !driver.currentMountFlags.CanWrite() {
		return Dirent{}, qfsimg.ErrReadOnlyFileSystem
	}
	if name == "" || name[0] == 0 {
		return Dirent{}, qfsimg.ErrInvalidArgument.WithMessage("file name can't be empty")
	}
	if uint64(len(payload)) > math.MaxUint32 {
		return Dirent{}, qfsimg.ErrFileTooLarge.WithMessage(
			fmt.Sprintf("%d bytes exceeds maximum of %d", len(payload), uint32(math.MaxUint32)))
	}

	sb := &driver.superblock
	blocksNeeded := sb.BlocksNeeded(uint64(len(payload)))
	if uint(sb.AvailableBlocks) < blocksNeeded {
		return Dirent{}, qfsimg.ErrInsufficientBlocks.WithMessage(
			fmt.Sprintf("need %d blocks, %d available", blocksNeeded, sb.AvailableBlocks))
	}
	if sb.AvailableDirents == 0 {
		return Dirent{}, qfsimg.ErrNoFreeDirectoryEntry
	}

	slot, found, err := driver.directory.FindFreeSlot()
	if err != nil {
		return Dirent{}, err
	} else if !found {
		return Dirent{}, qfsimg.ErrNoFreeDirectoryEntry.WithMessage(
			fmt.Sprintf("superblock claims %d free, directory has none", sb.AvailableDirents))
	}

	blocks, err := driver.allocator.FindFree(blocksNeeded)
	if err != nil {
		return Dirent{}, err
	}

	tracelog.Printf(
		"writing %q: %d bytes in %d blocks starting at %d, slot %d",
		name,
		len(payload),
		blocksNeeded,
		blocks[0],
		slot)

	// Nothing has been modified up to this point.
	err = WriteChain(driver.data, blocks, payload)
	if err != nil {
		return Dirent{}, err
	}
	err = driver.data.Flush()
	if err != nil {
		return Dirent{}, err
	}

	raw := NewRawDirent(name, uint32(len(payload)), uint16(blocks[0]))
	err = driver.directory.WriteSlot(slot, raw)
	if err != nil {
		return Dirent{}, err
	}

	sb.AvailableBlocks -= uint16(blocksNeeded)
	sb.AvailableDirents--
	err = PersistSuperblock(driver.stream, *sb)
	if err != nil {
		return Dirent{}, err
	}
	return newDirent(slot, raw, sb), nil
}

// DeleteFile removes the first entry named `name` and frees every block in its
// chain. Payload bytes stay on the image until they're overwritten. It returns
// the number of blocks freed.
//
// If the chain is corrupt, nothing is modified and the error is
// [qfsimg.ErrCorruptChain].
func (driver *Driver) DeleteFile(name string) (uint, error) {
	err := driver.checkMounted()
	if err != nil {
		return 0, err
	}
	if !driver.currentMountFlags.CanDelete() {
		return 0, qfsimg.ErrReadOnlyFileSystem
	}

	slot, raw, found, err := driver.directory.FindByName(name)
	if err != nil {
		return 0, err
	} else if !found {
		return 0, qfsimg.ErrNotFound.WithMessage(fmt.Sprintf("%q", name))
	}

	freed, err := driver.allocator.FreeChain(raw.StartingBlock)
	if err != nil {
		return 0, err
	}
	err = driver.data.Flush()
	if err != nil {
		return freed, err
	}

	err = driver.directory.ClearSlot(slot)
	if err != nil {
		return freed, err
	}

	// The counters can already be wrong if an earlier write was interrupted;
	// never let them exceed the totals.
	sb := &driver.superblock
	newAvailable := uint(sb.AvailableBlocks) + freed
	if newAvailable > uint(sb.TotalBlocks) {
		newAvailable = uint(sb.TotalBlocks)
	}
	sb.AvailableBlocks = uint16(newAvailable)
	if sb.AvailableDirents < sb.TotalDirents {
		sb.AvailableDirents++
	}

	tracelog.Printf("deleted %q from slot %d, freed %d blocks", name, slot, freed)
	return freed, PersistSuperblock(driver.stream, *sb)
}

// RawDataRegion returns a copy of the entire data region, busy markers and next
// pointers included, with no regard for the directory. This is the input for
// carving.
func (driver *Driver) RawDataRegion() ([]byte, error) {
	err := driver.checkMounted()
	if err != nil {
		return nil, err
	}

	region, err := driver.data.Data()
	if err != nil {
		return nil, err
	}
	output := make([]byte, len(region))
	copy(output, region)
	return output, nil
}
