package qfsimg

import (
	"os"
	"time"
)

// ReadingDriver is the interface for drivers supporting read operations on a
// flat, single-directory image.
type ReadingDriver interface {
	// ReadDir returns every live directory entry, in slot order.
	ReadDir() ([]DirectoryEntry, error)
	// Stat returns information about the file with the given name. If several
	// entries share the name, the one in the lowest slot wins.
	Stat(name string) (FileStat, error)
	// ReadFileByName returns the contents of the named file.
	ReadFileByName(name string) ([]byte, error)
}

// WritingDriver is the interface for drivers supporting write operations.
type WritingDriver interface {
	// WriteFileByName stores `data` under `name`. It never replaces an
	// existing file; a second file with the same name is added alongside it.
	WriteFileByName(name string, data []byte) error
	// Remove deletes the named file and frees its blocks.
	Remove(name string) error
}

// Driver is the interface for drivers implementing all driver capabilities.
type Driver interface {
	ReadingDriver
	WritingDriver

	// Mount reads the image metadata and prepares the driver for use. Mounting
	// an already-mounted driver with the same flags is a no-op; mounting with
	// different flags fails with [ErrAlreadyInProgress].
	Mount(flags MountFlags) error

	// Flush writes all pending changes to the image. Read-only mounts ignore
	// this.
	Flush() error

	// Unmount flushes all changes to the image and frees all resources. The
	// driver must not be used after this function is called.
	Unmount() error

	// FSStat returns geometry and free-space information about the image.
	FSStat() FSStat
}

// FSStat describes the capacity and usage of a mounted image.
type FSStat struct {
	// BlockSize is the size of a single block, including the busy marker and
	// next-block pointer.
	BlockSize uint
	// PayloadBytesPerBlock is how much file data fits in one block.
	PayloadBytesPerBlock uint
	TotalBlocks          uint64
	BlocksFree           uint64
	// Files is the number of directory slots in use.
	Files         uint64
	FilesFree     uint64
	MaxNameLength uint
}

// FileStat is the subset of stat(2) information that a QFS image can supply.
type FileStat struct {
	// InodeNumber is the index of the directory slot holding the file.
	InodeNumber uint64
	Nlinks      uint64
	ModeFlags   uint32
	Size        int64
	BlockSize   int64
	NumBlocks   int64
	// FirstBlock is the index of the first block of the file's chain.
	FirstBlock uint64
}

// DirectoryEntry represents a file found in the directory table. It implements
// [os.FileInfo].
type DirectoryEntry struct {
	name string
	Stat FileStat
}

// NewDirectoryEntry creates a DirectoryEntry with the given name and stat info.
func NewDirectoryEntry(name string, stat FileStat) DirectoryEntry {
	return DirectoryEntry{name: name, Stat: stat}
}

// Name returns the name of the file as stored on the image.
func (d DirectoryEntry) Name() string {
	return d.name
}

// Size returns the length of the file's contents, in bytes.
func (d DirectoryEntry) Size() int64 {
	return d.Stat.Size
}

// Mode returns the file system mode of the file as an os.FileMode.
func (d DirectoryEntry) Mode() os.FileMode {
	return os.FileMode(d.Stat.ModeFlags & 0x1ff)
}

// ModTime always returns the zero time; QFS doesn't store timestamps.
func (d DirectoryEntry) ModTime() time.Time {
	return time.Time{}
}

// IsDir always returns false. QFS has a single flat directory.
func (d DirectoryEntry) IsDir() bool {
	return false
}

// Sys returns a copy of the FileStat backing this directory entry.
func (d DirectoryEntry) Sys() interface{} {
	return d.Stat
}

var _ os.FileInfo = DirectoryEntry{}
