package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/data"
)

func (mb *MemoryBackend) lookup(key string) (*entry, error) {
	e, ok := mb.entries.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", data.ErrNotExist, key)
	}

	return e, nil
}

func (mb *MemoryBackend) Exists(ctx context.Context, key string) (bool, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	_, ok := mb.entries.Get(key)
	return ok, nil
}

func (mb *MemoryBackend) IsDirectory(ctx context.Context, key string) (bool, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	e, ok := mb.entries.Get(key)
	return ok && e.meta.IsDir(), nil
}

func (mb *MemoryBackend) GetMetadata(ctx context.Context, key string) (*data.Metadata, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	e, err := mb.lookup(key)
	if err != nil {
		return nil, err
	}

	return e.meta.Clone(), nil
}

func (mb *MemoryBackend) PutMetadata(ctx context.Context, key string, meta *data.Metadata) error {
	mb.mu.Lock()
	kind := backend.EventUpdated
	if e, ok := mb.entries.Get(key); ok {
		e.meta = meta.Clone()
		e.modified = time.Now()
	} else {
		kind = backend.EventAdded
		mb.entries.Set(key, &entry{meta: meta.Clone(), modified: time.Now()})
	}
	mb.mu.Unlock()

	mb.Emit(kind, key)
	return nil
}

func (mb *MemoryBackend) CreateDirectory(ctx context.Context, key string, meta *data.Metadata) error {
	mb.mu.Lock()
	if _, ok := mb.entries.Get(key); ok {
		mb.mu.Unlock()
		return fmt.Errorf("%w: %s", data.ErrExist, key)
	}
	mb.entries.Set(key, &entry{meta: meta.Clone(), modified: time.Now()})
	mb.mu.Unlock()

	mb.Emit(backend.EventAdded, key)
	return nil
}

func (mb *MemoryBackend) Delete(ctx context.Context, key string) error {
	mb.mu.Lock()
	e, err := mb.lookup(key)
	if err != nil {
		mb.mu.Unlock()
		return err
	}
	mb.release(e.digest)
	mb.entries.Delete(key)
	mb.mu.Unlock()

	mb.Emit(backend.EventRemoved, key)
	return nil
}

func (mb *MemoryBackend) Copy(ctx context.Context, src, dst string) error {
	mb.mu.Lock()
	e, err := mb.lookup(src)
	if err != nil {
		mb.mu.Unlock()
		return err
	}

	kind := backend.EventAdded
	if old, ok := mb.entries.Get(dst); ok {
		mb.release(old.digest)
		kind = backend.EventUpdated
	}

	copied := &entry{modified: time.Now()}
	if e.meta.IsDir() {
		copied.meta = data.NewDirectoryMetadata()
	} else {
		copied.meta = data.NewFileMetadata()
		copied.digest = e.digest
		copied.size = e.size
		if b, ok := mb.blobs[e.digest]; ok {
			b.refs++
		}
	}
	mb.entries.Set(dst, copied)
	mb.mu.Unlock()

	mb.Emit(kind, dst)
	return nil
}

// subtree returns key and every key stored below it.
func (mb *MemoryBackend) subtree(key string) []string {
	keys := []string{}
	if _, ok := mb.entries.Get(key); ok {
		keys = append(keys, key)
	}

	prefix := backend.SubtreePrefix(key)
	mb.entries.Ascend(prefix, func(k string, _ *entry) bool {
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

func (mb *MemoryBackend) Rename(ctx context.Context, src, dst string) error {
	if src == dst {
		return nil
	}
	if err := backend.CheckRename(src, dst); err != nil {
		return err
	}

	mb.mu.Lock()
	if _, err := mb.lookup(src); err != nil {
		mb.mu.Unlock()
		return err
	}

	for _, key := range mb.subtree(dst) {
		if old, ok := mb.entries.Delete(key); ok {
			mb.release(old.digest)
		}
	}

	moved := mb.subtree(src)
	added := make([]string, 0, len(moved))
	for _, key := range moved {
		e, _ := mb.entries.Delete(key)
		target := backend.RebaseKey(key, src, dst)
		mb.entries.Set(target, e)
		added = append(added, target)
	}
	mb.mu.Unlock()

	for _, key := range moved {
		mb.Emit(backend.EventRemoved, key)
	}
	for _, key := range added {
		mb.Emit(backend.EventAdded, key)
	}
	return nil
}

func (mb *MemoryBackend) LastModified(ctx context.Context, key string) (time.Time, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	e, err := mb.lookup(key)
	if err != nil {
		return time.Time{}, err
	}

	return e.modified, nil
}

func (mb *MemoryBackend) Length(ctx context.Context, key string) (int64, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	e, err := mb.lookup(key)
	if err != nil {
		return 0, err
	}

	return e.size, nil
}

func (mb *MemoryBackend) OpenReader(ctx context.Context, key string) (io.ReadCloser, error) {
	content, err := mb.load(ctx, key)
	if err != nil {
		return nil, err
	}

	return io.NopCloser(bytes.NewReader(content)), nil
}

// load returns the committed blob for key. Blobs are never mutated in place,
// so the returned slice stays valid after the lock is released.
func (mb *MemoryBackend) load(ctx context.Context, key string) ([]byte, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	e, err := mb.lookup(key)
	if err != nil {
		return nil, err
	}
	if e.meta.IsDir() {
		return nil, fmt.Errorf("%w: %s", data.ErrIsDirectory, key)
	}

	b, ok := mb.blobs[e.digest]
	if !ok {
		return []byte{}, nil
	}

	return b.content, nil
}
