package qfsimg

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// DriverError is the error type returned by every QFS operation. Callers should
// compare against the sentinels below with [errors.Is]; messages are only for
// humans.
type DriverError interface {
	error
	WithMessage(message string) DriverError
	Wrap(err error) DriverError
}

type baseQFSError string

// Sentinels for the error kinds a QFS image operation can fail with.
var (
	// ErrInvalidImage is returned when the header is truncated, the magic number
	// is wrong, or the geometry can't be operated on.
	ErrInvalidImage = baseQFSError("Not a valid QFS image")
	// ErrNotFound is returned when no live directory entry has the given name.
	ErrNotFound = baseQFSError("No such file")
	// ErrNoFreeDirectoryEntry means every directory slot is in use.
	ErrNoFreeDirectoryEntry = baseQFSError("No free directory entry")
	// ErrInsufficientBlocks means the data region can't hold the payload.
	ErrInsufficientBlocks = baseQFSError("Not enough free blocks")
	// ErrIOFailed wraps short reads and writes and any error from the stream.
	ErrIOFailed = baseQFSError("Input/output error")
	// ErrCorruptChain is returned when a block chain loops, points outside the
	// data region, or ends before the directory entry says it should.
	ErrCorruptChain = baseQFSError("Corrupt block chain")

	ErrAlreadyInProgress  = baseQFSError("Operation already in progress")
	ErrFileTooLarge       = baseQFSError("File too large")
	ErrInvalidArgument    = baseQFSError("Invalid argument")
	ErrNotMounted         = baseQFSError("Image not mounted")
	ErrReadOnlyFileSystem = baseQFSError("Read-only file system")
)

func (e baseQFSError) Error() string {
	return string(e)
}

func (e baseQFSError) WithMessage(message string) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), message),
		originalError: e,
	}
}

func (e baseQFSError) Wrap(err error) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

// -----------------------------------------------------------------------------

type customDriverError struct {
	message       string
	originalError error
}

// Error implements the `error` object interface. When called, it returns a string
// describing the error.
func (e customDriverError) Error() string {
	return e.message
}

func (e customDriverError) WithMessage(message string) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.message, message),
		originalError: e,
	}
}

func (e customDriverError) Wrap(err error) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

func (e customDriverError) Unwrap() error {
	return e.originalError
}

// CastToDriverError converts an arbitrary error into a [DriverError]. Errors
// that already are one pass through unchanged; anything else is treated as an
// I/O failure. nil stays nil.
func CastToDriverError(err error) DriverError {
	if err == nil {
		return nil
	}

	var driverErr DriverError
	if errors.As(err, &driverErr) {
		return driverErr
	}
	return ErrIOFailed.Wrap(err)
}
