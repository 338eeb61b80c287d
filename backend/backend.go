// Package backend defines the blob-storage contract consumed by cachefs and
// the shared building blocks the concrete stores are made of.
package backend

import (
	"context"
	"io"
	"time"

	"github.com/mwantia/cachefs/data"
)

// Backend is used as lifecycle entrypoint for other backend implementations.
type Backend interface {
	// Name returns the identifier name defined for this backend
	Name() string
	// Open is part of the lifecycle behaviour and gets called when mounting this backend.
	Open(ctx context.Context) error
	// Close is part of the lifecycle behaviour and gets called when closing this backend.
	Close(ctx context.Context) error

	// GetCapabilities returns a list of capabilities supported by this backend.
	GetCapabilities() *BackendCapabilities
}

// Storage is a hierarchical blob store addressed by canonical keys such as
// "/reports/a.txt". The root key is "/". Every key carries a metadata record;
// regular files additionally carry content.
type Storage interface {
	Backend

	// Exists reports whether a record is stored under key.
	Exists(ctx context.Context, key string) (bool, error)
	// IsDirectory reports whether key exists and describes a directory.
	IsDirectory(ctx context.Context, key string) (bool, error)

	// GetMetadata returns the record for key or data.ErrNotExist.
	GetMetadata(ctx context.Context, key string) (*data.Metadata, error)
	// PutMetadata creates or replaces the record for key without touching content.
	PutMetadata(ctx context.Context, key string, meta *data.Metadata) error

	// CreateDirectory stores a directory record. Fails with data.ErrExist if key is taken.
	CreateDirectory(ctx context.Context, key string, meta *data.Metadata) error
	// Delete removes the record and content stored under key, or fails with data.ErrNotExist.
	Delete(ctx context.Context, key string) error
	// Copy duplicates the entry at src to dst, replacing dst. Directories are copied without children.
	Copy(ctx context.Context, src, dst string) error
	// Rename moves src and every key below it to dst, replacing dst.
	Rename(ctx context.Context, src, dst string) error

	// LastModified returns the time content or metadata was last written.
	LastModified(ctx context.Context, key string) (time.Time, error)
	// Length returns the content size in bytes. Directories report zero.
	Length(ctx context.Context, key string) (int64, error)
	// OpenReader returns the committed content stored under key.
	OpenReader(ctx context.Context, key string) (io.ReadCloser, error)

	// Begin starts a write transaction. Nothing written through it is
	// visible to other callers before Commit returns.
	Begin(ctx context.Context) (Transaction, error)

	AddListener(listener Listener)
	RemoveListener(listener Listener)
}

// Transaction stages content and metadata for one or more keys.
type Transaction interface {
	// ID uniquely identifies the transaction in logs.
	ID() string

	// NewWriter opens a stream that replaces the content stored under key.
	NewWriter(ctx context.Context, key string, meta *data.Metadata) (io.WriteCloser, error)
	// NewChannel opens a random-access channel on key. Without
	// data.AccessModeTrunc the channel starts with the committed content.
	NewChannel(ctx context.Context, key string, meta *data.Metadata, mode data.AccessMode) (Channel, error)

	// Commit makes every staged write visible at once.
	Commit(ctx context.Context) error
	// Close releases the transaction and discards staged writes unless
	// Commit already succeeded. Calling Close more than once is a no-op.
	Close() error
}

// Channel is a seekable, random-access byte channel.
type Channel interface {
	io.ReadWriteSeeker
	io.ReaderAt
	io.WriterAt
	io.Closer

	Size() int64
	Truncate(size int64) error
}
