package qfsimg

// MountFlags controls which operations a mounted image allows.
type MountFlags int

const (
	MountFlagsAllowRead MountFlags = 1 << iota
	MountFlagsAllowWrite
	MountFlagsAllowDelete
)

const MountFlagsReadOnly = MountFlagsAllowRead
const MountFlagsAllowAll = MountFlagsAllowRead | MountFlagsAllowWrite | MountFlagsAllowDelete

// CanRead returns true if the flags permit reading file contents.
func (flags MountFlags) CanRead() bool {
	return flags&MountFlagsAllowRead != 0
}

// CanWrite returns true if the flags permit adding files to the image.
func (flags MountFlags) CanWrite() bool {
	return flags&MountFlagsAllowWrite != 0
}

// CanDelete returns true if the flags permit removing files from the image.
func (flags MountFlags) CanDelete() bool {
	return flags&MountFlagsAllowDelete != 0
}

// QFS has no permissions, owners, or directories. These are the only mode bits
// drivers report.
const (
	S_IFREG = 0x8000
	S_IRUSR = 0o400
	S_IWUSR = 0o200
	S_IRGRP = 0o040
	S_IROTH = 0o004
)

// DefaultFileMode is the mode reported for every file on a QFS image.
const DefaultFileMode = S_IFREG | S_IRUSR | S_IWUSR | S_IRGRP | S_IROTH
