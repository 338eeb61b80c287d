package cachefs

import "github.com/mwantia/cachefs/data"

// Errors returned by the filesystem layer. They alias the sentinels in the
// data package so callers can match storage and path errors the same way.
var (
	// Path errors
	ErrInvalidPath      = data.ErrInvalidPath
	ErrProviderMismatch = data.ErrProviderMismatch

	// Registry errors
	ErrAlreadyExists      = data.ErrAlreadyExists
	ErrFileSystemNotFound = data.ErrFileSystemNotFound

	// File operation errors
	ErrNotExist          = data.ErrNotExist
	ErrExist             = data.ErrExist
	ErrIsDirectory       = data.ErrIsDirectory
	ErrNotDirectory      = data.ErrNotDirectory
	ErrDirectoryNotEmpty = data.ErrDirectoryNotEmpty
	ErrUnsupported       = data.ErrUnsupported

	// I/O errors
	ErrClosed     = data.ErrClosed
	ErrInvalid    = data.ErrInvalid
	ErrTxFinished = data.ErrTxFinished
)
