package data

import (
	"errors"
	"sync"
)

// Standard errors shared by the filesystem layer and every storage backend.
var (
	// Path errors
	ErrInvalidPath      = errors.New("cachefs: invalid path")
	ErrProviderMismatch = errors.New("cachefs: path belongs to a different provider")

	// Registry errors
	ErrAlreadyExists      = errors.New("cachefs: filesystem already exists")
	ErrFileSystemNotFound = errors.New("cachefs: filesystem not found")

	// File operation errors
	ErrNotExist          = errors.New("cachefs: file does not exist")
	ErrExist             = errors.New("cachefs: file already exists")
	ErrIsDirectory       = errors.New("cachefs: is a directory")
	ErrNotDirectory      = errors.New("cachefs: not a directory")
	ErrDirectoryNotEmpty = errors.New("cachefs: directory not empty")
	ErrUnsupported       = errors.New("cachefs: operation not supported")

	// I/O errors
	ErrClosed       = errors.New("cachefs: already closed")
	ErrInvalid      = errors.New("cachefs: invalid argument")
	ErrTxFinished   = errors.New("cachefs: transaction already finished")
	ErrObjectTooBig = errors.New("cachefs: object exceeds backend size limit")
)

// Errors accumulates errors from operations that must not stop at the first failure.
type Errors struct {
	mu     sync.RWMutex
	errors []error
}

func (e *Errors) Add(err error) {
	if err == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.errors = append(e.errors, err)
}

func (e *Errors) Errors() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.errors) == 0 {
		return nil
	}

	return errors.Join(e.errors...)
}
