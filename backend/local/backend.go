package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/backend/compress"
	"github.com/mwantia/cachefs/data"
	"github.com/tidwall/btree"
)

// LocalBackend keeps every record in a directory on the local disk:
//
//	<path>/index.cbor        every key with its metadata, size and blob digest
//	<path>/blobs/ab/ab12...  framed content, named by the blake3 digest of the raw bytes
//
// A commit writes its blobs first and then replaces the index with a single
// rename, so the objects of one transaction become visible together.
type LocalBackend struct {
	backend.Listeners

	mu      sync.RWMutex
	path    string
	entries *btree.Map[string, *record]
	refs    map[string]int
	opened  bool

	compression   compress.Algorithm
	maxObjectSize int64
}

type Option func(*LocalBackend)

// WithCompression selects the algorithm used for newly written blobs.
func WithCompression(algorithm compress.Algorithm) Option {
	return func(lb *LocalBackend) {
		lb.compression = algorithm
	}
}

// WithMaxObjectSize limits the size of a single committed blob.
func WithMaxObjectSize(size int64) Option {
	return func(lb *LocalBackend) {
		lb.maxObjectSize = size
	}
}

func NewLocalBackend(path string, opts ...Option) *LocalBackend {
	lb := &LocalBackend{
		path:    filepath.Clean(path),
		entries: btree.NewMap[string, *record](0),
		refs:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(lb)
	}

	return lb
}

// Name returns the identifier name defined for this backend
func (*LocalBackend) Name() string {
	return "local"
}

// Open creates the directory layout if needed and loads the index.
func (lb *LocalBackend) Open(ctx context.Context) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	info, err := os.Stat(lb.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(lb.path, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", lb.path, err)
		}
	case err != nil:
		return err
	case !info.IsDir():
		return fmt.Errorf("%w: %s", data.ErrNotDirectory, lb.path)
	}

	if err := os.MkdirAll(lb.blobDir(), 0755); err != nil {
		return err
	}

	entries, err := readIndex(lb.indexPath())
	if err != nil {
		return err
	}

	lb.entries.Clear()
	clear(lb.refs)
	for key, rec := range entries {
		lb.entries.Set(key, rec)
		if rec.Digest != "" {
			lb.refs[rec.Digest]++
		}
	}

	lb.opened = true
	return nil
}

// Close drops the in-memory index. The directory stays on disk.
func (lb *LocalBackend) Close(ctx context.Context) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.entries.Clear()
	clear(lb.refs)
	lb.opened = false

	return nil
}

// GetCapabilities returns a list of capabilities supported by this backend.
func (lb *LocalBackend) GetCapabilities() *backend.BackendCapabilities {
	return &backend.BackendCapabilities{
		Capabilities: []backend.BackendCapability{
			backend.CapabilityObjectStorage,
			backend.CapabilityMetadata,
			backend.CapabilityTransactions,
			backend.CapabilityPersistent,
			backend.CapabilityCompression,
			backend.CapabilityDeduplication,
			backend.CapabilityEvents,
		},
		MaxObjectSize: lb.maxObjectSize,
	}
}

func (lb *LocalBackend) indexPath() string {
	return filepath.Join(lb.path, indexFile)
}

func (lb *LocalBackend) blobDir() string {
	return filepath.Join(lb.path, "blobs")
}

// blobPath returns the file holding digest, sharded by its first byte.
func (lb *LocalBackend) blobPath(digest string) string {
	return filepath.Join(lb.blobDir(), digest[:2], digest)
}
