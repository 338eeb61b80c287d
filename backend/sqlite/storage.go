package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/backend/compress"
	"github.com/mwantia/cachefs/data"
)

func (sb *SQLiteBackend) Exists(ctx context.Context, key string) (bool, error) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	_, ok := sb.keys.Get(key)
	return ok, nil
}

func (sb *SQLiteBackend) IsDirectory(ctx context.Context, key string) (bool, error) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	isDir, ok := sb.keys.Get(key)
	return ok && isDir, nil
}

func (sb *SQLiteBackend) GetMetadata(ctx context.Context, key string) (*data.Metadata, error) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	var raw []byte
	err := sb.db.QueryRowContext(ctx,
		"SELECT metadata FROM cachefs_entries WHERE key = ?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", data.ErrNotExist, key)
	}
	if err != nil {
		return nil, err
	}

	return data.UnmarshalMetadata(raw)
}

func (sb *SQLiteBackend) PutMetadata(ctx context.Context, key string, meta *data.Metadata) error {
	raw, err := meta.Marshal()
	if err != nil {
		return err
	}

	sb.mu.Lock()
	_, existed := sb.keys.Get(key)
	_, err = sb.db.ExecContext(ctx, `
		INSERT INTO cachefs_entries (key, is_dir, metadata, modify_time)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			is_dir = excluded.is_dir,
			metadata = excluded.metadata,
			modify_time = excluded.modify_time
	`, key, meta.IsDir(), raw, time.Now().UnixNano())
	if err == nil {
		sb.keys.Set(key, meta.IsDir())
	}
	sb.mu.Unlock()

	if err != nil {
		return err
	}

	if existed {
		sb.Emit(backend.EventUpdated, key)
	} else {
		sb.Emit(backend.EventAdded, key)
	}
	return nil
}

func (sb *SQLiteBackend) CreateDirectory(ctx context.Context, key string, meta *data.Metadata) error {
	raw, err := meta.Marshal()
	if err != nil {
		return err
	}

	sb.mu.Lock()
	if _, ok := sb.keys.Get(key); ok {
		sb.mu.Unlock()
		return fmt.Errorf("%w: %s", data.ErrExist, key)
	}

	_, err = sb.db.ExecContext(ctx, `
		INSERT INTO cachefs_entries (key, is_dir, metadata, modify_time)
		VALUES (?, 1, ?, ?)
	`, key, raw, time.Now().UnixNano())
	if err == nil {
		sb.keys.Set(key, true)
	}
	sb.mu.Unlock()

	if err != nil {
		return err
	}

	sb.Emit(backend.EventAdded, key)
	return nil
}

func (sb *SQLiteBackend) Delete(ctx context.Context, key string) error {
	sb.mu.Lock()
	result, err := sb.db.ExecContext(ctx, "DELETE FROM cachefs_entries WHERE key = ?", key)
	if err != nil {
		sb.mu.Unlock()
		return err
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		err = fmt.Errorf("%w: %s", data.ErrNotExist, key)
	}
	if err == nil {
		sb.keys.Delete(key)
	}
	sb.mu.Unlock()

	if err != nil {
		return err
	}

	sb.Emit(backend.EventRemoved, key)
	return nil
}

func (sb *SQLiteBackend) Copy(ctx context.Context, src, dst string) error {
	sb.mu.Lock()

	var isDir bool
	var content []byte
	var size int64
	err := sb.db.QueryRowContext(ctx,
		"SELECT is_dir, content, size FROM cachefs_entries WHERE key = ?", src).Scan(&isDir, &content, &size)
	if errors.Is(err, sql.ErrNoRows) {
		sb.mu.Unlock()
		return fmt.Errorf("%w: %s", data.ErrNotExist, src)
	}
	if err != nil {
		sb.mu.Unlock()
		return err
	}

	meta := data.NewFileMetadata()
	if isDir {
		meta = data.NewDirectoryMetadata()
		content = nil
		size = 0
	}

	raw, err := meta.Marshal()
	if err != nil {
		sb.mu.Unlock()
		return err
	}

	_, existed := sb.keys.Get(dst)
	_, err = sb.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO cachefs_entries (key, is_dir, metadata, content, size, modify_time)
		VALUES (?, ?, ?, ?, ?, ?)
	`, dst, isDir, raw, content, size, time.Now().UnixNano())
	if err == nil {
		sb.keys.Set(dst, isDir)
	}
	sb.mu.Unlock()

	if err != nil {
		return err
	}

	if existed {
		sb.Emit(backend.EventUpdated, dst)
	} else {
		sb.Emit(backend.EventAdded, dst)
	}
	return nil
}

// subtree returns key and every indexed key below it. Callers hold sb.mu.
func (sb *SQLiteBackend) subtree(key string) []string {
	keys := []string{}
	if _, ok := sb.keys.Get(key); ok {
		keys = append(keys, key)
	}

	prefix := backend.SubtreePrefix(key)
	sb.keys.Ascend(prefix, func(k string, _ bool) bool {
		if !strings.HasPrefix(k, prefix) {
			return false
		}
		if k != key {
			keys = append(keys, k)
		}
		return true
	})

	return keys
}

func (sb *SQLiteBackend) Rename(ctx context.Context, src, dst string) error {
	if src == dst {
		return nil
	}
	if err := backend.CheckRename(src, dst); err != nil {
		return err
	}

	sb.mu.Lock()
	if _, ok := sb.keys.Get(src); !ok {
		sb.mu.Unlock()
		return fmt.Errorf("%w: %s", data.ErrNotExist, src)
	}

	replaced := sb.subtree(dst)
	moved := sb.subtree(src)

	err := sb.inTx(ctx, func(tx *sql.Tx) error {
		for _, key := range replaced {
			if _, err := tx.ExecContext(ctx, "DELETE FROM cachefs_entries WHERE key = ?", key); err != nil {
				return err
			}
		}
		for _, key := range moved {
			if _, err := tx.ExecContext(ctx, "UPDATE cachefs_entries SET key = ? WHERE key = ?",
				backend.RebaseKey(key, src, dst), key); err != nil {
				return err
			}
		}
		return nil
	})

	added := make([]string, 0, len(moved))
	if err == nil {
		for _, key := range replaced {
			sb.keys.Delete(key)
		}
		for _, key := range moved {
			isDir, _ := sb.keys.Delete(key)
			target := backend.RebaseKey(key, src, dst)
			sb.keys.Set(target, isDir)
			added = append(added, target)
		}
	}
	sb.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to rename %s: %w", src, err)
	}

	for _, key := range moved {
		sb.Emit(backend.EventRemoved, key)
	}
	for _, key := range added {
		sb.Emit(backend.EventAdded, key)
	}
	return nil
}

func (sb *SQLiteBackend) LastModified(ctx context.Context, key string) (time.Time, error) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	var modified int64
	err := sb.db.QueryRowContext(ctx,
		"SELECT modify_time FROM cachefs_entries WHERE key = ?", key).Scan(&modified)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("%w: %s", data.ErrNotExist, key)
	}
	if err != nil {
		return time.Time{}, err
	}

	return time.Unix(0, modified), nil
}

func (sb *SQLiteBackend) Length(ctx context.Context, key string) (int64, error) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	var size int64
	err := sb.db.QueryRowContext(ctx,
		"SELECT size FROM cachefs_entries WHERE key = ?", key).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", data.ErrNotExist, key)
	}

	return size, err
}

func (sb *SQLiteBackend) OpenReader(ctx context.Context, key string) (io.ReadCloser, error) {
	content, err := sb.load(ctx, key)
	if err != nil {
		return nil, err
	}

	return io.NopCloser(bytes.NewReader(content)), nil
}

func (sb *SQLiteBackend) load(ctx context.Context, key string) ([]byte, error) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	var isDir bool
	var framed []byte
	err := sb.db.QueryRowContext(ctx,
		"SELECT is_dir, content FROM cachefs_entries WHERE key = ?", key).Scan(&isDir, &framed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", data.ErrNotExist, key)
	}
	if err != nil {
		return nil, err
	}
	if isDir {
		return nil, fmt.Errorf("%w: %s", data.ErrIsDirectory, key)
	}
	if len(framed) == 0 {
		// Metadata-only record, no content committed yet
		return []byte{}, nil
	}

	return compress.Decode(framed)
}

// inTx runs fn inside a database transaction that is rolled back on error.
func (sb *SQLiteBackend) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}
