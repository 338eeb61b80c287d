package postgres

import (
	"context"
	"time"

	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/backend/compress"
)

func (pb *PostgresBackend) Begin(ctx context.Context) (backend.Transaction, error) {
	if _, err := pb.connection(); err != nil {
		return nil, err
	}

	return backend.NewStagedTransaction(backend.StageHooks{
		Load:   pb.load,
		Commit: pb.commit,
	}, pb.maxObjectSize), nil
}

func (pb *PostgresBackend) commit(ctx context.Context, objects []backend.StagedObject) error {
	pool, err := pb.connection()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	now := time.Now().UnixNano()
	events := make([]backend.Event, 0, len(objects))
	for _, object := range objects {
		meta, err := object.Meta.Marshal()
		if err != nil {
			return err
		}
		framed, err := compress.Encode(object.Content, pb.compression)
		if err != nil {
			return err
		}

		var inserted bool
		err = tx.QueryRow(ctx, pb.sql(`
			INSERT INTO {table} (key, is_dir, metadata, content, size, modify_time)
			VALUES ($1, FALSE, $2, $3, $4, $5)
			ON CONFLICT (key) DO UPDATE SET
				is_dir = FALSE,
				metadata = EXCLUDED.metadata,
				content = EXCLUDED.content,
				size = EXCLUDED.size,
				modify_time = EXCLUDED.modify_time
			RETURNING (xmax = 0)
		`), object.Key, meta, framed, int64(len(object.Content)), now).Scan(&inserted)
		if err != nil {
			return err
		}

		kind := backend.EventUpdated
		if inserted {
			kind = backend.EventAdded
		}
		events = append(events, backend.Event{Kind: kind, Key: object.Key})
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	for _, event := range events {
		pb.Emit(event.Kind, event.Key)
	}
	return nil
}
