package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/backend/compress"
	"github.com/mwantia/cachefs/data"
)

// likePrefix escapes LIKE wildcards so prefix matches literally.
func likePrefix(prefix string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(prefix) + "%"
}

func (pb *PostgresBackend) connection() (*pgxpool.Pool, error) {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	if pb.pool == nil {
		return nil, fmt.Errorf("%w: postgres backend is not open", data.ErrClosed)
	}
	return pb.pool, nil
}

func (pb *PostgresBackend) Exists(ctx context.Context, key string) (bool, error) {
	pool, err := pb.connection()
	if err != nil {
		return false, err
	}

	var found bool
	err = pool.QueryRow(ctx, pb.sql("SELECT EXISTS(SELECT 1 FROM {table} WHERE key = $1)"), key).Scan(&found)
	return found, err
}

func (pb *PostgresBackend) IsDirectory(ctx context.Context, key string) (bool, error) {
	pool, err := pb.connection()
	if err != nil {
		return false, err
	}

	var isDir bool
	err = pool.QueryRow(ctx, pb.sql("SELECT is_dir FROM {table} WHERE key = $1"), key).Scan(&isDir)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return isDir, err
}

func (pb *PostgresBackend) GetMetadata(ctx context.Context, key string) (*data.Metadata, error) {
	pool, err := pb.connection()
	if err != nil {
		return nil, err
	}

	var raw []byte
	err = pool.QueryRow(ctx, pb.sql("SELECT metadata FROM {table} WHERE key = $1"), key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", data.ErrNotExist, key)
	}
	if err != nil {
		return nil, err
	}

	return data.UnmarshalMetadata(raw)
}

func (pb *PostgresBackend) PutMetadata(ctx context.Context, key string, meta *data.Metadata) error {
	pool, err := pb.connection()
	if err != nil {
		return err
	}

	raw, err := meta.Marshal()
	if err != nil {
		return err
	}

	var inserted bool
	err = pool.QueryRow(ctx, pb.sql(`
		INSERT INTO {table} (key, is_dir, metadata, modify_time)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			is_dir = EXCLUDED.is_dir,
			metadata = EXCLUDED.metadata,
			modify_time = EXCLUDED.modify_time
		RETURNING (xmax = 0)
	`), key, meta.IsDir(), raw, time.Now().UnixNano()).Scan(&inserted)
	if err != nil {
		return err
	}

	if inserted {
		pb.Emit(backend.EventAdded, key)
	} else {
		pb.Emit(backend.EventUpdated, key)
	}
	return nil
}

func (pb *PostgresBackend) CreateDirectory(ctx context.Context, key string, meta *data.Metadata) error {
	pool, err := pb.connection()
	if err != nil {
		return err
	}

	raw, err := meta.Marshal()
	if err != nil {
		return err
	}

	tag, err := pool.Exec(ctx, pb.sql(`
		INSERT INTO {table} (key, is_dir, metadata, modify_time)
		VALUES ($1, TRUE, $2, $3)
		ON CONFLICT (key) DO NOTHING
	`), key, raw, time.Now().UnixNano())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", data.ErrExist, key)
	}

	pb.Emit(backend.EventAdded, key)
	return nil
}

func (pb *PostgresBackend) Delete(ctx context.Context, key string) error {
	pool, err := pb.connection()
	if err != nil {
		return err
	}

	tag, err := pool.Exec(ctx, pb.sql("DELETE FROM {table} WHERE key = $1"), key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", data.ErrNotExist, key)
	}

	pb.Emit(backend.EventRemoved, key)
	return nil
}

func (pb *PostgresBackend) Copy(ctx context.Context, src, dst string) error {
	pool, err := pb.connection()
	if err != nil {
		return err
	}

	var isDir bool
	err = pool.QueryRow(ctx, pb.sql("SELECT is_dir FROM {table} WHERE key = $1"), src).Scan(&isDir)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", data.ErrNotExist, src)
	}
	if err != nil {
		return err
	}

	meta := data.NewFileMetadata()
	if isDir {
		meta = data.NewDirectoryMetadata()
	}
	raw, err := meta.Marshal()
	if err != nil {
		return err
	}

	// Content is copied server side; directories never carry any.
	var inserted bool
	err = pool.QueryRow(ctx, pb.sql(`
		INSERT INTO {table} (key, is_dir, metadata, content, size, modify_time)
		SELECT $2, is_dir, $3, content, size, $4 FROM {table} WHERE key = $1
		ON CONFLICT (key) DO UPDATE SET
			is_dir = EXCLUDED.is_dir,
			metadata = EXCLUDED.metadata,
			content = EXCLUDED.content,
			size = EXCLUDED.size,
			modify_time = EXCLUDED.modify_time
		RETURNING (xmax = 0)
	`), src, dst, raw, time.Now().UnixNano()).Scan(&inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", data.ErrNotExist, src)
	}
	if err != nil {
		return err
	}

	if inserted {
		pb.Emit(backend.EventAdded, dst)
	} else {
		pb.Emit(backend.EventUpdated, dst)
	}
	return nil
}

func (pb *PostgresBackend) Rename(ctx context.Context, src, dst string) error {
	if src == dst {
		return nil
	}
	if err := backend.CheckRename(src, dst); err != nil {
		return err
	}

	pool, err := pb.connection()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, pb.sql(`
		SELECT key FROM {table} WHERE key = $1 OR key LIKE $2 ESCAPE '\'
		FOR UPDATE
	`), src, likePrefix(backend.SubtreePrefix(src)))
	if err != nil {
		return err
	}
	moved, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return err
	}
	if !slices.Contains(moved, src) {
		return fmt.Errorf("%w: %s", data.ErrNotExist, src)
	}

	if _, err := tx.Exec(ctx, pb.sql(`DELETE FROM {table} WHERE key = $1 OR key LIKE $2 ESCAPE '\'`),
		dst, likePrefix(backend.SubtreePrefix(dst))); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, pb.sql(`
		UPDATE {table} SET key = $2 || substr(key, char_length($1) + 1)
		WHERE key = $1 OR key LIKE $3 ESCAPE '\'
	`), src, dst, likePrefix(backend.SubtreePrefix(src))); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to rename %s: %w", src, err)
	}

	for _, key := range moved {
		pb.Emit(backend.EventRemoved, key)
	}
	for _, key := range moved {
		pb.Emit(backend.EventAdded, backend.RebaseKey(key, src, dst))
	}
	return nil
}

func (pb *PostgresBackend) LastModified(ctx context.Context, key string) (time.Time, error) {
	pool, err := pb.connection()
	if err != nil {
		return time.Time{}, err
	}

	var modified int64
	err = pool.QueryRow(ctx, pb.sql("SELECT modify_time FROM {table} WHERE key = $1"), key).Scan(&modified)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, fmt.Errorf("%w: %s", data.ErrNotExist, key)
	}
	if err != nil {
		return time.Time{}, err
	}

	return time.Unix(0, modified), nil
}

func (pb *PostgresBackend) Length(ctx context.Context, key string) (int64, error) {
	pool, err := pb.connection()
	if err != nil {
		return 0, err
	}

	var size int64
	err = pool.QueryRow(ctx, pb.sql("SELECT size FROM {table} WHERE key = $1"), key).Scan(&size)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", data.ErrNotExist, key)
	}

	return size, err
}

func (pb *PostgresBackend) OpenReader(ctx context.Context, key string) (io.ReadCloser, error) {
	content, err := pb.load(ctx, key)
	if err != nil {
		return nil, err
	}

	return io.NopCloser(bytes.NewReader(content)), nil
}

func (pb *PostgresBackend) load(ctx context.Context, key string) ([]byte, error) {
	pool, err := pb.connection()
	if err != nil {
		return nil, err
	}

	var isDir bool
	var framed []byte
	err = pool.QueryRow(ctx, pb.sql("SELECT is_dir, content FROM {table} WHERE key = $1"), key).Scan(&isDir, &framed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", data.ErrNotExist, key)
	}
	if err != nil {
		return nil, err
	}
	if isDir {
		return nil, fmt.Errorf("%w: %s", data.ErrIsDirectory, key)
	}
	if len(framed) == 0 {
		return []byte{}, nil
	}

	return compress.Decode(framed)
}
