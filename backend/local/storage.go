package local

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/backend/compress"
	"github.com/mwantia/cachefs/data"
	"github.com/tidwall/btree"
	"github.com/zeebo/blake3"
)

func digestOf(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func (lb *LocalBackend) lookup(key string) (*record, error) {
	rec, ok := lb.entries.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", data.ErrNotExist, key)
	}

	return rec, nil
}

func (lb *LocalBackend) Exists(ctx context.Context, key string) (bool, error) {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	_, ok := lb.entries.Get(key)
	return ok, nil
}

func (lb *LocalBackend) IsDirectory(ctx context.Context, key string) (bool, error) {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	rec, ok := lb.entries.Get(key)
	return ok && rec.Meta.IsDir(), nil
}

func (lb *LocalBackend) GetMetadata(ctx context.Context, key string) (*data.Metadata, error) {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	rec, err := lb.lookup(key)
	if err != nil {
		return nil, err
	}

	return rec.Meta.Clone(), nil
}

func (lb *LocalBackend) PutMetadata(ctx context.Context, key string, meta *data.Metadata) error {
	lb.mu.Lock()
	m := lb.mutate()
	rec := &record{Meta: meta.Clone(), Modified: time.Now()}
	if old, ok := m.entries.Get(key); ok {
		rec = old.clone()
		rec.Meta = meta.Clone()
		rec.Modified = time.Now()
	}
	m.set(key, rec)

	events, err := m.apply()
	lb.mu.Unlock()

	lb.emit(events)
	return err
}

func (lb *LocalBackend) CreateDirectory(ctx context.Context, key string, meta *data.Metadata) error {
	lb.mu.Lock()
	if _, ok := lb.entries.Get(key); ok {
		lb.mu.Unlock()
		return fmt.Errorf("%w: %s", data.ErrExist, key)
	}

	m := lb.mutate()
	m.set(key, &record{Meta: meta.Clone(), Modified: time.Now()})

	events, err := m.apply()
	lb.mu.Unlock()

	lb.emit(events)
	return err
}

func (lb *LocalBackend) Delete(ctx context.Context, key string) error {
	lb.mu.Lock()
	if _, err := lb.lookup(key); err != nil {
		lb.mu.Unlock()
		return err
	}

	m := lb.mutate()
	m.delete(key)

	events, err := m.apply()
	lb.mu.Unlock()

	lb.emit(events)
	return err
}

func (lb *LocalBackend) Copy(ctx context.Context, src, dst string) error {
	lb.mu.Lock()
	rec, err := lb.lookup(src)
	if err != nil {
		lb.mu.Unlock()
		return err
	}

	copied := &record{Modified: time.Now()}
	if rec.Meta.IsDir() {
		copied.Meta = data.NewDirectoryMetadata()
	} else {
		copied.Meta = data.NewFileMetadata()
		copied.Digest = rec.Digest
		copied.Size = rec.Size
	}

	m := lb.mutate()
	m.set(dst, copied)

	events, err := m.apply()
	lb.mu.Unlock()

	lb.emit(events)
	return err
}

// subtree returns key and every key stored below it.
func subtree(entries *btree.Map[string, *record], key string) []string {
	keys := []string{}
	if _, ok := entries.Get(key); ok {
		keys = append(keys, key)
	}

	prefix := backend.SubtreePrefix(key)
	entries.Ascend(prefix, func(k string, _ *record) bool {
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

func (lb *LocalBackend) Rename(ctx context.Context, src, dst string) error {
	if src == dst {
		return nil
	}
	if err := backend.CheckRename(src, dst); err != nil {
		return err
	}

	lb.mu.Lock()
	if _, err := lb.lookup(src); err != nil {
		lb.mu.Unlock()
		return err
	}

	m := lb.mutate()
	for _, key := range subtree(m.entries, dst) {
		m.delete(key)
	}
	for _, key := range subtree(m.entries, src) {
		rec, _ := m.entries.Get(key)
		m.delete(key)
		m.set(backend.RebaseKey(key, src, dst), rec)
	}

	events, err := m.apply()
	lb.mu.Unlock()

	lb.emit(events)
	return err
}

func (lb *LocalBackend) LastModified(ctx context.Context, key string) (time.Time, error) {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	rec, err := lb.lookup(key)
	if err != nil {
		return time.Time{}, err
	}

	return rec.Modified, nil
}

func (lb *LocalBackend) Length(ctx context.Context, key string) (int64, error) {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	rec, err := lb.lookup(key)
	if err != nil {
		return 0, err
	}

	return rec.Size, nil
}

func (lb *LocalBackend) OpenReader(ctx context.Context, key string) (io.ReadCloser, error) {
	content, err := lb.load(ctx, key)
	if err != nil {
		return nil, err
	}

	return io.NopCloser(bytes.NewReader(content)), nil
}

// load reads and decodes the committed blob of key.
func (lb *LocalBackend) load(ctx context.Context, key string) ([]byte, error) {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	rec, err := lb.lookup(key)
	if err != nil {
		return nil, err
	}
	if rec.Meta.IsDir() {
		return nil, fmt.Errorf("%w: %s", data.ErrIsDirectory, key)
	}
	if rec.Digest == "" {
		return []byte{}, nil
	}

	framed, err := os.ReadFile(lb.blobPath(rec.Digest))
	if err != nil {
		return nil, fmt.Errorf("failed to read blob of %s: %w", key, err)
	}

	return compress.Decode(framed)
}

// storeBlob writes content unless a blob with the same digest is already on
// disk. It reports whether a new file was created.
func (lb *LocalBackend) storeBlob(digest string, content []byte) (bool, error) {
	path := lb.blobPath(digest)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}

	framed, err := compress.Encode(content, lb.compression)
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, err
	}

	return true, writeAtomic(path, framed)
}

// removeBlobs deletes blob files that no record references.
func (lb *LocalBackend) removeBlobs(digests []string) {
	for _, digest := range digests {
		if lb.refs[digest] > 0 {
			continue
		}
		os.Remove(lb.blobPath(digest))
	}
}

func (lb *LocalBackend) emit(events []backend.Event) {
	for _, event := range events {
		lb.Emit(event.Kind, event.Key)
	}
}

// mutation collects changes on a copy of the index. Nothing is visible
// until apply persisted the copy.
type mutation struct {
	lb       *LocalBackend
	entries  *btree.Map[string, *record]
	retained []string
	released []string
	events   []backend.Event
}

// mutate starts a mutation. The caller must hold the write lock until apply returns.
func (lb *LocalBackend) mutate() *mutation {
	return &mutation{
		lb:      lb,
		entries: lb.entries.Copy(),
	}
}

func (m *mutation) set(key string, rec *record) {
	kind := backend.EventAdded
	if old, ok := m.entries.Get(key); ok {
		m.released = append(m.released, old.Digest)
		kind = backend.EventUpdated
	}

	m.entries.Set(key, rec)
	m.retained = append(m.retained, rec.Digest)
	m.events = append(m.events, backend.Event{Kind: kind, Key: key})
}

func (m *mutation) delete(key string) {
	old, ok := m.entries.Delete(key)
	if !ok {
		return
	}

	m.released = append(m.released, old.Digest)
	m.events = append(m.events, backend.Event{Kind: backend.EventRemoved, Key: key})
}

// apply writes the index and swaps it in. Blobs that lost their last
// reference are removed from disk.
func (m *mutation) apply() ([]backend.Event, error) {
	snapshot := make(map[string]*record, m.entries.Len())
	m.entries.Scan(func(key string, rec *record) bool {
		snapshot[key] = rec
		return true
	})

	if err := writeIndex(m.lb.indexPath(), snapshot); err != nil {
		return nil, err
	}
	m.lb.entries = m.entries

	for _, digest := range m.retained {
		if digest != "" {
			m.lb.refs[digest]++
		}
	}

	var unused []string
	for _, digest := range m.released {
		if digest == "" {
			continue
		}
		m.lb.refs[digest]--
		if m.lb.refs[digest] <= 0 {
			delete(m.lb.refs, digest)
			unused = append(unused, digest)
		}
	}
	m.lb.removeBlobs(unused)

	return m.events, nil
}
