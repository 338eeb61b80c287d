package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/mwantia/cachefs/data"
)

// StagedObject is one key written inside a transaction, ready to be persisted.
type StagedObject struct {
	Key     string
	Meta    *data.Metadata
	Content []byte
}

// StageHooks connects a StagedTransaction to the store it belongs to.
type StageHooks struct {
	// Load returns the committed content for key, or data.ErrNotExist.
	Load func(ctx context.Context, key string) ([]byte, error)
	// Commit persists every object in a single atomic step.
	Commit func(ctx context.Context, objects []StagedObject) error
	// Release runs exactly once when the transaction is closed.
	Release func()
}

type stagedEntry struct {
	key    string
	meta   *data.Metadata
	buffer *Buffer
}

// StagedTransaction buffers writes in memory and hands them to the store only
// on Commit, which keeps uncommitted content invisible to every reader.
type StagedTransaction struct {
	id      string
	hooks   StageHooks
	maxSize int64

	mu        sync.Mutex
	entries   []*stagedEntry
	committed bool
	closed    bool
}

// NewStagedTransaction creates a transaction. maxSize limits each object, zero means unlimited.
func NewStagedTransaction(hooks StageHooks, maxSize int64) *StagedTransaction {
	return &StagedTransaction{
		id:      uuid.Must(uuid.NewV7()).String(),
		hooks:   hooks,
		maxSize: maxSize,
	}
}

func (tx *StagedTransaction) ID() string {
	return tx.id
}

func (tx *StagedTransaction) stage(key string, meta *data.Metadata, buffer *Buffer) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.closed || tx.committed {
		return fmt.Errorf("%w: %s", data.ErrTxFinished, tx.id)
	}
	if meta == nil {
		meta = data.NewFileMetadata()
	}

	tx.entries = append(tx.entries, &stagedEntry{
		key:    key,
		meta:   meta.Clone(),
		buffer: buffer,
	})
	return nil
}

func (tx *StagedTransaction) NewWriter(ctx context.Context, key string, meta *data.Metadata) (io.WriteCloser, error) {
	buffer := NewBuffer(nil, false)
	if err := tx.stage(key, meta, buffer); err != nil {
		return nil, err
	}

	return buffer, nil
}

func (tx *StagedTransaction) NewChannel(ctx context.Context, key string, meta *data.Metadata, mode data.AccessMode) (Channel, error) {
	existing, err := tx.hooks.Load(ctx, key)
	switch {
	case errors.Is(err, data.ErrNotExist):
		if !mode.HasCreate() {
			return nil, fmt.Errorf("%w: %s", data.ErrNotExist, key)
		}
		existing = nil
	case err != nil:
		return nil, err
	case mode.HasCreate() && mode.HasExcl():
		return nil, fmt.Errorf("%w: %s", data.ErrExist, key)
	}

	if mode.HasTrunc() {
		existing = nil
	}

	buffer := NewBuffer(existing, mode.HasAppend())
	if err := tx.stage(key, meta, buffer); err != nil {
		return nil, err
	}

	return buffer, nil
}

func (tx *StagedTransaction) Commit(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.closed || tx.committed {
		return fmt.Errorf("%w: %s", data.ErrTxFinished, tx.id)
	}

	// The last write to a key wins.
	index := make(map[string]int, len(tx.entries))
	objects := make([]StagedObject, 0, len(tx.entries))
	for _, entry := range tx.entries {
		content := entry.buffer.Bytes()
		if tx.maxSize > 0 && int64(len(content)) > tx.maxSize {
			return fmt.Errorf("%w: %s (%d > %d bytes)", data.ErrObjectTooBig, entry.key, len(content), tx.maxSize)
		}

		object := StagedObject{Key: entry.key, Meta: entry.meta, Content: content}
		if i, ok := index[entry.key]; ok {
			objects[i] = object
			continue
		}
		index[entry.key] = len(objects)
		objects = append(objects, object)
	}

	if err := tx.hooks.Commit(ctx, objects); err != nil {
		return err
	}

	tx.committed = true
	return nil
}

func (tx *StagedTransaction) Close() error {
	tx.mu.Lock()
	if tx.closed {
		tx.mu.Unlock()
		return nil
	}
	tx.closed = true
	entries := tx.entries
	tx.entries = nil
	tx.mu.Unlock()

	for _, entry := range entries {
		entry.buffer.Close()
	}

	if tx.hooks.Release != nil {
		tx.hooks.Release()
	}
	return nil
}
