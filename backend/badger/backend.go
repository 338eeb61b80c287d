package badger

import (
	"context"
	"fmt"
	"strings"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/backend/compress"
	"github.com/mwantia/cachefs/log"
)

// Key namespace prefixes:
//
//	m:<key>   CBOR metadata record
//	c:<key>   framed (optionally compressed) content
//	s:<key>   16 byte stat: modify time (unix nano) and content size
const (
	prefixMeta    = "m:"
	prefixContent = "c:"
	prefixStat    = "s:"
)

func keyMeta(key string) []byte    { return []byte(prefixMeta + key) }
func keyContent(key string) []byte { return []byte(prefixContent + key) }
func keyStat(key string) []byte    { return []byte(prefixStat + key) }

// BadgerBackend stores records in an embedded Badger database. Write
// transactions map onto native Badger transactions, so a commit that raced
// with another writer on the same key fails with badger.ErrConflict.
type BadgerBackend struct {
	backend.Listeners

	mu sync.RWMutex
	db *badgerdb.DB

	path          string
	inMemory      bool
	compression   compress.Algorithm
	maxObjectSize int64
	logger        *log.Logger
}

type Option func(*BadgerBackend)

// WithInMemory keeps the database entirely in memory; the path is ignored.
func WithInMemory() Option {
	return func(bb *BadgerBackend) {
		bb.inMemory = true
	}
}

// WithCompression selects the algorithm used for newly written content.
func WithCompression(algorithm compress.Algorithm) Option {
	return func(bb *BadgerBackend) {
		bb.compression = algorithm
	}
}

// WithMaxObjectSize limits the size of a single committed blob.
func WithMaxObjectSize(size int64) Option {
	return func(bb *BadgerBackend) {
		bb.maxObjectSize = size
	}
}

// WithLogger routes Badger's internal log output through logger.
func WithLogger(logger *log.Logger) Option {
	return func(bb *BadgerBackend) {
		bb.logger = logger
	}
}

func NewBadgerBackend(path string, opts ...Option) *BadgerBackend {
	bb := &BadgerBackend{
		path: path,
	}
	for _, opt := range opts {
		opt(bb)
	}

	return bb
}

// Name returns the identifier name defined for this backend
func (*BadgerBackend) Name() string {
	return "badger"
}

// Open is part of the lifecycle behaviour and gets called when mounting this backend.
func (bb *BadgerBackend) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	bb.mu.Lock()
	defer bb.mu.Unlock()

	if bb.db != nil {
		return nil
	}

	options := badgerdb.DefaultOptions(bb.path)
	if bb.inMemory {
		options = badgerdb.DefaultOptions("").WithInMemory(true)
	}

	var logger badgerdb.Logger
	if bb.logger != nil {
		logger = &badgerLogger{logger: bb.logger.Named("badger")}
	}
	options = options.WithLogger(logger)

	db, err := badgerdb.Open(options)
	if err != nil {
		return fmt.Errorf("failed to open badger database: %w", err)
	}

	bb.db = db
	return nil
}

// Close is part of the lifecycle behaviour and gets called when closing this backend.
func (bb *BadgerBackend) Close(ctx context.Context) error {
	bb.mu.Lock()
	defer bb.mu.Unlock()

	if bb.db == nil {
		return nil
	}

	err := bb.db.Close()
	bb.db = nil
	return err
}

// GetCapabilities returns a list of capabilities supported by this backend.
func (bb *BadgerBackend) GetCapabilities() *backend.BackendCapabilities {
	capabilities := []backend.BackendCapability{
		backend.CapabilityObjectStorage,
		backend.CapabilityMetadata,
		backend.CapabilityTransactions,
		backend.CapabilityCompression,
		backend.CapabilityEvents,
	}
	if !bb.inMemory {
		capabilities = append(capabilities, backend.CapabilityPersistent)
	}

	return &backend.BackendCapabilities{
		Capabilities:  capabilities,
		MaxObjectSize: bb.maxObjectSize,
	}
}

// badgerLogger adapts log.Logger to badger.Logger.
type badgerLogger struct {
	logger *log.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSuffix(format, "\n"), args...)
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSuffix(format, "\n"), args...)
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(strings.TrimSuffix(format, "\n"), args...)
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSuffix(format, "\n"), args...)
}
