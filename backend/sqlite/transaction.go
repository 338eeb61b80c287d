package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/backend/compress"
)

// Begin starts a staged transaction. The SQL transaction is only opened
// inside Commit, so an abandoned writer never holds the single connection.
func (sb *SQLiteBackend) Begin(ctx context.Context) (backend.Transaction, error) {
	return backend.NewStagedTransaction(backend.StageHooks{
		Load:   sb.load,
		Commit: sb.commit,
	}, sb.maxObjectSize), nil
}

func (sb *SQLiteBackend) commit(ctx context.Context, objects []backend.StagedObject) error {
	type row struct {
		key     string
		meta    []byte
		content []byte
		size    int64
	}

	rows := make([]row, 0, len(objects))
	for _, object := range objects {
		meta, err := object.Meta.Marshal()
		if err != nil {
			return err
		}
		framed, err := compress.Encode(object.Content, sb.compression)
		if err != nil {
			return err
		}
		rows = append(rows, row{object.Key, meta, framed, int64(len(object.Content))})
	}

	sb.mu.Lock()
	now := time.Now().UnixNano()
	err := sb.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range rows {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO cachefs_entries (key, is_dir, metadata, content, size, modify_time)
				VALUES (?, 0, ?, ?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET
					is_dir = 0,
					metadata = excluded.metadata,
					content = excluded.content,
					size = excluded.size,
					modify_time = excluded.modify_time
			`, r.key, r.meta, r.content, r.size, now); err != nil {
				return err
			}
		}
		return nil
	})

	events := make([]backend.Event, 0, len(rows))
	if err == nil {
		for _, r := range rows {
			kind := backend.EventAdded
			if _, existed := sb.keys.Set(r.key, false); existed {
				kind = backend.EventUpdated
			}
			events = append(events, backend.Event{Kind: kind, Key: r.key})
		}
	}
	sb.mu.Unlock()

	if err != nil {
		return err
	}

	for _, event := range events {
		sb.Emit(event.Kind, event.Key)
	}
	return nil
}
