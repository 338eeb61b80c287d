package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/backend/compress"
	"github.com/tidwall/btree"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteBackend stores records in a single SQLite table:
//
// Layer 1: In-memory B-tree of every key and whether it is a directory
// Layer 2: cachefs_entries row per key holding CBOR metadata and framed content
//
// The B-tree answers existence checks and subtree scans without a query.
type SQLiteBackend struct {
	backend.Listeners

	mu sync.RWMutex
	db *sql.DB

	keys *btree.Map[string, bool]

	compression   compress.Algorithm
	maxObjectSize int64
}

type Option func(*SQLiteBackend)

// WithCompression selects the algorithm used for newly written content.
func WithCompression(algorithm compress.Algorithm) Option {
	return func(sb *SQLiteBackend) {
		sb.compression = algorithm
	}
}

// WithMaxObjectSize limits the size of a single committed blob.
func WithMaxObjectSize(size int64) Option {
	return func(sb *SQLiteBackend) {
		sb.maxObjectSize = size
	}
}

// NewSQLiteBackend creates a new SQLite-backed storage.
// The dsn can be ":memory:" for an in-memory database or a file path.
func NewSQLiteBackend(dsn string, opts ...Option) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// Every connection to ":memory:" would see its own database.
	db.SetMaxOpenConns(1)

	sb := &SQLiteBackend{
		db:   db,
		keys: btree.NewMap[string, bool](0),
	}
	for _, opt := range opts {
		opt(sb)
	}

	return sb, nil
}

// initSchema creates the database schema.
func (sb *SQLiteBackend) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS cachefs_entries (
		key TEXT PRIMARY KEY,
		is_dir INTEGER NOT NULL DEFAULT 0,
		metadata BLOB NOT NULL,
		content BLOB,
		size INTEGER NOT NULL DEFAULT 0 CHECK(size >= 0),
		modify_time INTEGER NOT NULL
	);
	`

	_, err := sb.db.ExecContext(ctx, schema)
	return err
}

// Name returns the identifier name defined for this backend
func (*SQLiteBackend) Name() string {
	return "sqlite"
}

// Open is part of the lifecycle behaviour and gets called when mounting this backend.
func (sb *SQLiteBackend) Open(ctx context.Context) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if err := sb.db.PingContext(ctx); err != nil {
		return err
	}

	// Enable WAL mode for better concurrency
	if _, err := sb.db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := sb.initSchema(ctx); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	// Load all keys into memory B-tree
	rows, err := sb.db.QueryContext(ctx, "SELECT key, is_dir FROM cachefs_entries")
	if err != nil {
		return err
	}
	defer rows.Close()

	sb.keys.Clear()
	for rows.Next() {
		var key string
		var isDir bool
		if err := rows.Scan(&key, &isDir); err != nil {
			return err
		}
		sb.keys.Set(key, isDir)
	}

	return rows.Err()
}

// Close is part of the lifecycle behaviour and gets called when closing this backend.
func (sb *SQLiteBackend) Close(ctx context.Context) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	sb.keys.Clear()
	return sb.db.Close()
}

// GetCapabilities returns a list of capabilities supported by this backend.
func (sb *SQLiteBackend) GetCapabilities() *backend.BackendCapabilities {
	return &backend.BackendCapabilities{
		Capabilities: []backend.BackendCapability{
			backend.CapabilityObjectStorage,
			backend.CapabilityMetadata,
			backend.CapabilityTransactions,
			backend.CapabilityPersistent,
			backend.CapabilityCompression,
			backend.CapabilityEvents,
		},
		MaxObjectSize: sb.maxObjectSize,
	}
}
