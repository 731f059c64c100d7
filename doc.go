// Package qfsimg defines the driver-independent API for working with QFS disk
// images: the error kinds every operation can fail with, mount flags, and the
// stat and directory entry types drivers report.
//
// The on-disk format and the driver itself live in the file_systems/qfs
// package. Signature-based recovery of deleted files is in utilities/carving.
package qfsimg
