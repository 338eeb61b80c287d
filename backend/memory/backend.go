package memory

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/data"
	"github.com/tidwall/btree"
	"github.com/zeebo/blake3"
)

type entry struct {
	meta     *data.Metadata
	digest   string
	size     int64
	modified time.Time
}

type blob struct {
	content []byte
	refs    int
}

// MemoryBackend keeps every record in process memory. Content is
// deduplicated by its blake3 digest and reference counted, so copies and
// identical writes share a single blob.
type MemoryBackend struct {
	backend.Listeners

	mu      sync.RWMutex
	entries *btree.Map[string, *entry]
	blobs   map[string]*blob

	maxObjectSize int64
}

type Option func(*MemoryBackend)

// WithMaxObjectSize limits the size of a single committed blob.
func WithMaxObjectSize(size int64) Option {
	return func(mb *MemoryBackend) {
		mb.maxObjectSize = size
	}
}

func NewMemoryBackend(opts ...Option) *MemoryBackend {
	mb := &MemoryBackend{
		entries: btree.NewMap[string, *entry](0),
		blobs:   make(map[string]*blob),
	}
	for _, opt := range opts {
		opt(mb)
	}

	return mb
}

// Name returns the identifier name defined for this backend
func (*MemoryBackend) Name() string {
	return "memory"
}

// Open is part of the lifecycle behaviour and gets called when mounting this backend.
func (mb *MemoryBackend) Open(ctx context.Context) error {
	// No initialization needed - backend is ready to use
	return nil
}

// Close is part of the lifecycle behaviour and gets called when closing this backend.
func (mb *MemoryBackend) Close(ctx context.Context) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	mb.entries.Clear()
	clear(mb.blobs)

	return nil
}

// GetCapabilities returns a list of capabilities supported by this backend.
func (mb *MemoryBackend) GetCapabilities() *backend.BackendCapabilities {
	return &backend.BackendCapabilities{
		Capabilities: []backend.BackendCapability{
			backend.CapabilityObjectStorage,
			backend.CapabilityMetadata,
			backend.CapabilityTransactions,
			backend.CapabilityDeduplication,
			backend.CapabilityEvents,
		},
		MaxObjectSize: mb.maxObjectSize,
	}
}

// BlobCount returns the number of distinct blobs held in memory.
func (mb *MemoryBackend) BlobCount() int {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	return len(mb.blobs)
}

func digestOf(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// retain stores content (or bumps the reference of an identical blob) and returns its digest.
func (mb *MemoryBackend) retain(content []byte) string {
	digest := digestOf(content)
	if b, ok := mb.blobs[digest]; ok {
		b.refs++
		return digest
	}

	mb.blobs[digest] = &blob{content: content, refs: 1}
	return digest
}

func (mb *MemoryBackend) release(digest string) {
	if digest == "" {
		return
	}

	b, ok := mb.blobs[digest]
	if !ok {
		return
	}

	b.refs--
	if b.refs <= 0 {
		delete(mb.blobs, digest)
	}
}
