package badger

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/backend/compress"
	"github.com/mwantia/cachefs/data"
)

// badgerTransaction wraps a read-write Badger transaction. Content is staged
// in buffers and set on the native transaction during Commit.
type badgerTransaction struct {
	id      string
	backend *BadgerBackend

	mu      sync.Mutex
	txn     *badgerdb.Txn
	entries []stagedEntry
	done    bool
}

type stagedEntry struct {
	key    string
	meta   *data.Metadata
	buffer *backend.Buffer
}

func (bb *BadgerBackend) Begin(ctx context.Context) (backend.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	db, err := bb.database()
	if err != nil {
		return nil, err
	}

	return &badgerTransaction{
		id:      uuid.Must(uuid.NewV7()).String(),
		backend: bb,
		txn:     db.NewTransaction(true),
	}, nil
}

func (tx *badgerTransaction) ID() string {
	return tx.id
}

func (tx *badgerTransaction) stage(key string, meta *data.Metadata, buffer *backend.Buffer) error {
	if tx.done {
		return fmt.Errorf("%w: %s", data.ErrTxFinished, tx.id)
	}
	if meta == nil {
		meta = data.NewFileMetadata()
	}

	tx.entries = append(tx.entries, stagedEntry{key: key, meta: meta.Clone(), buffer: buffer})
	return nil
}

func (tx *badgerTransaction) NewWriter(ctx context.Context, key string, meta *data.Metadata) (io.WriteCloser, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	buffer := backend.NewBuffer(nil, false)
	if err := tx.stage(key, meta, buffer); err != nil {
		return nil, err
	}
	return buffer, nil
}

func (tx *badgerTransaction) NewChannel(ctx context.Context, key string, meta *data.Metadata, mode data.AccessMode) (backend.Channel, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.done {
		return nil, fmt.Errorf("%w: %s", data.ErrTxFinished, tx.id)
	}

	found, err := exists(tx.txn, key)
	if err != nil {
		return nil, err
	}
	if !found && !mode.HasCreate() {
		return nil, fmt.Errorf("%w: %s", data.ErrNotExist, key)
	}
	if found && mode.HasCreate() && mode.HasExcl() {
		return nil, fmt.Errorf("%w: %s", data.ErrExist, key)
	}

	var existing []byte
	if found && !mode.HasTrunc() {
		// Reading through the transaction registers the key for conflict detection.
		if existing, err = loadContent(tx.txn, key); err != nil {
			return nil, err
		}
	}

	buffer := backend.NewBuffer(existing, mode.HasAppend())
	if err := tx.stage(key, meta, buffer); err != nil {
		return nil, err
	}
	return buffer, nil
}

func (tx *badgerTransaction) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.done {
		return fmt.Errorf("%w: %s", data.ErrTxFinished, tx.id)
	}

	events := make([]backend.Event, 0, len(tx.entries))
	seen := make(map[string]bool, len(tx.entries))
	now := time.Now()
	for _, entry := range tx.entries {
		content := entry.buffer.Bytes()
		if tx.backend.maxObjectSize > 0 && int64(len(content)) > tx.backend.maxObjectSize {
			return fmt.Errorf("%w: %s (%d > %d bytes)", data.ErrObjectTooBig, entry.key, len(content), tx.backend.maxObjectSize)
		}

		framed, err := compress.Encode(content, tx.backend.compression)
		if err != nil {
			return err
		}

		kind := backend.EventUpdated
		if !seen[entry.key] {
			found, err := exists(tx.txn, entry.key)
			if err != nil {
				return err
			}
			if !found {
				kind = backend.EventAdded
			}
			seen[entry.key] = true
			events = append(events, backend.Event{Kind: kind, Key: entry.key})
		}

		if err := putEntry(tx.txn, entry.key, entry.meta, framed, int64(len(content)), now); err != nil {
			return err
		}
	}

	if err := tx.txn.Commit(); err != nil {
		tx.done = true
		return fmt.Errorf("failed to commit transaction %s: %w", tx.id, err)
	}
	tx.done = true

	for _, event := range events {
		tx.backend.Emit(event.Kind, event.Key)
	}
	return nil
}

func (tx *badgerTransaction) Close() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.txn == nil {
		return nil
	}

	// Discard is a no-op after a successful commit.
	tx.txn.Discard()
	tx.txn = nil
	tx.done = true

	for _, entry := range tx.entries {
		entry.buffer.Close()
	}
	tx.entries = nil
	return nil
}
