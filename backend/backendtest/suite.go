// Package backendtest holds the conformance suite every backend.Storage
// implementation runs from its own package tests.
package backendtest

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/data"
	"github.com/stretchr/testify/require"
)

// StorageFactory creates a fresh, opened storage for each test. It can use
// t.TempDir() and t.Cleanup() for teardown.
type StorageFactory func(t *testing.T) backend.Storage

// RunConformanceSuite runs every conformance test against the provided factory.
func RunConformanceSuite(t *testing.T, factory StorageFactory) {
	t.Helper()

	t.Run("Metadata", func(t *testing.T) { testMetadata(t, factory) })
	t.Run("CreateDirectory", func(t *testing.T) { testCreateDirectory(t, factory) })
	t.Run("WriteCommit", func(t *testing.T) { testWriteCommit(t, factory) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, factory) })
	t.Run("Channel", func(t *testing.T) { testChannel(t, factory) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, factory) })
	t.Run("Copy", func(t *testing.T) { testCopy(t, factory) })
	t.Run("Rename", func(t *testing.T) { testRename(t, factory) })
	t.Run("Events", func(t *testing.T) { testEvents(t, factory) })
}

// WriteFile commits content to key within a single transaction.
func WriteFile(t *testing.T, store backend.Storage, key string, content []byte) {
	t.Helper()
	ctx := t.Context()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Close()

	w, err := tx.NewWriter(ctx, key, data.NewFileMetadata())
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, tx.Commit(ctx))
}

// ReadFile returns the committed content of key.
func ReadFile(t *testing.T, store backend.Storage, key string) []byte {
	t.Helper()

	r, err := store.OpenReader(t.Context(), key)
	require.NoError(t, err)
	defer r.Close()

	content, err := io.ReadAll(r)
	require.NoError(t, err)
	return content
}

func testMetadata(t *testing.T, factory StorageFactory) {
	store := factory(t)
	ctx := t.Context()

	_, err := store.GetMetadata(ctx, "/missing")
	require.ErrorIs(t, err, data.ErrNotExist)

	exists, err := store.Exists(ctx, "/missing")
	require.NoError(t, err)
	require.False(t, exists)

	meta := data.NewDirectoryMetadata().WithChild("a.txt").WithChild("b")
	require.NoError(t, store.PutMetadata(ctx, "/", meta))

	got, err := store.GetMetadata(ctx, "/")
	require.NoError(t, err)
	require.True(t, got.IsDir())
	require.ElementsMatch(t, []string{"a.txt", "b"}, got.Children)
	require.WithinDuration(t, meta.CreateTime, got.CreateTime, 0)

	// Replacing the record keeps nothing from the previous child list.
	require.NoError(t, store.PutMetadata(ctx, "/", got.WithoutChild("a.txt")))
	got, err = store.GetMetadata(ctx, "/")
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, got.Children)
}

func testCreateDirectory(t *testing.T, factory StorageFactory) {
	store := factory(t)
	ctx := t.Context()

	require.NoError(t, store.CreateDirectory(ctx, "/reports", data.NewDirectoryMetadata()))
	require.ErrorIs(t, store.CreateDirectory(ctx, "/reports", data.NewDirectoryMetadata()), data.ErrExist)

	isDir, err := store.IsDirectory(ctx, "/reports")
	require.NoError(t, err)
	require.True(t, isDir)

	size, err := store.Length(ctx, "/reports")
	require.NoError(t, err)
	require.Zero(t, size)

	modified, err := store.LastModified(ctx, "/reports")
	require.NoError(t, err)
	require.False(t, modified.IsZero())
}

func testWriteCommit(t *testing.T, factory StorageFactory) {
	store := factory(t)
	ctx := t.Context()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Close()
	require.NotEmpty(t, tx.ID())

	w, err := tx.NewWriter(ctx, "/a.txt", data.NewFileMetadata())
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	exists, err := store.Exists(ctx, "/a.txt")
	require.NoError(t, err)
	require.False(t, exists, "staged write visible before commit")

	require.NoError(t, tx.Commit(ctx))

	exists, err = store.Exists(ctx, "/a.txt")
	require.NoError(t, err)
	require.True(t, exists)

	isDir, err := store.IsDirectory(ctx, "/a.txt")
	require.NoError(t, err)
	require.False(t, isDir)

	size, err := store.Length(ctx, "/a.txt")
	require.NoError(t, err)
	require.EqualValues(t, 5, size)
	require.Equal(t, []byte("hello"), ReadFile(t, store, "/a.txt"))

	// Overwrite replaces the content entirely.
	WriteFile(t, store, "/a.txt", []byte("hi"))
	require.Equal(t, []byte("hi"), ReadFile(t, store, "/a.txt"))

	large := bytes.Repeat([]byte("cachefs "), 4096)
	WriteFile(t, store, "/large.bin", large)
	require.Equal(t, large, ReadFile(t, store, "/large.bin"))

	WriteFile(t, store, "/empty", nil)
	require.Empty(t, ReadFile(t, store, "/empty"))
}

func testRollback(t *testing.T, factory StorageFactory) {
	store := factory(t)
	ctx := t.Context()

	WriteFile(t, store, "/keep.txt", []byte("original"))

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	w, err := tx.NewWriter(ctx, "/keep.txt", data.NewFileMetadata())
	require.NoError(t, err)
	_, err = w.Write([]byte("discarded"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w, err = tx.NewWriter(ctx, "/new.txt", data.NewFileMetadata())
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, tx.Close())
	require.NoError(t, tx.Close())
	require.ErrorIs(t, tx.Commit(ctx), data.ErrTxFinished)

	require.Equal(t, []byte("original"), ReadFile(t, store, "/keep.txt"))
	exists, err := store.Exists(ctx, "/new.txt")
	require.NoError(t, err)
	require.False(t, exists)
}

func testChannel(t *testing.T, factory StorageFactory) {
	store := factory(t)
	ctx := t.Context()

	WriteFile(t, store, "/log.txt", []byte("line1\n"))

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Close()

	ch, err := tx.NewChannel(ctx, "/log.txt", data.NewFileMetadata(), data.AccessModeWrite|data.AccessModeAppend)
	require.NoError(t, err)
	require.EqualValues(t, 6, ch.Size())

	_, err = ch.Write([]byte("line2\n"))
	require.NoError(t, err)
	_, err = ch.WriteAt([]byte("LINE"), 0)
	require.NoError(t, err)
	require.NoError(t, ch.Close())
	require.NoError(t, tx.Commit(ctx))

	require.Equal(t, []byte("LINE1\nline2\n"), ReadFile(t, store, "/log.txt"))

	tx2, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx2.Close()

	_, err = tx2.NewChannel(ctx, "/nope.txt", data.NewFileMetadata(), data.AccessModeWrite)
	require.ErrorIs(t, err, data.ErrNotExist)
}

func testDelete(t *testing.T, factory StorageFactory) {
	store := factory(t)
	ctx := t.Context()

	require.ErrorIs(t, store.Delete(ctx, "/missing"), data.ErrNotExist)

	WriteFile(t, store, "/a.txt", []byte("hello"))
	require.NoError(t, store.Delete(ctx, "/a.txt"))

	exists, err := store.Exists(ctx, "/a.txt")
	require.NoError(t, err)
	require.False(t, exists)

	_, err = store.OpenReader(ctx, "/a.txt")
	require.ErrorIs(t, err, data.ErrNotExist)
}

func testCopy(t *testing.T, factory StorageFactory) {
	store := factory(t)
	ctx := t.Context()

	require.ErrorIs(t, store.Copy(ctx, "/missing", "/b"), data.ErrNotExist)

	WriteFile(t, store, "/a.txt", []byte("hello"))
	require.NoError(t, store.Copy(ctx, "/a.txt", "/b.txt"))
	require.Equal(t, []byte("hello"), ReadFile(t, store, "/b.txt"))

	// The copy is independent from its source.
	WriteFile(t, store, "/a.txt", []byte("changed"))
	require.Equal(t, []byte("hello"), ReadFile(t, store, "/b.txt"))

	require.NoError(t, store.CreateDirectory(ctx, "/dir", data.NewDirectoryMetadata().WithChild("x")))
	require.NoError(t, store.Copy(ctx, "/dir", "/dir2"))
	meta, err := store.GetMetadata(ctx, "/dir2")
	require.NoError(t, err)
	require.True(t, meta.IsDir())
	require.Empty(t, meta.Children)
}

func testRename(t *testing.T, factory StorageFactory) {
	store := factory(t)
	ctx := t.Context()

	require.NoError(t, store.CreateDirectory(ctx, "/src", data.NewDirectoryMetadata().WithChild("a.txt").WithChild("sub")))
	WriteFile(t, store, "/src/a.txt", []byte("a"))
	require.NoError(t, store.CreateDirectory(ctx, "/src/sub", data.NewDirectoryMetadata().WithChild("b.txt")))
	WriteFile(t, store, "/src/sub/b.txt", []byte("b"))
	WriteFile(t, store, "/srcfile", []byte("sibling"))

	require.NoError(t, store.Rename(ctx, "/src", "/dst"))

	for _, key := range []string{"/src", "/src/a.txt", "/src/sub", "/src/sub/b.txt"} {
		exists, err := store.Exists(ctx, key)
		require.NoError(t, err)
		require.False(t, exists, "key %s still exists after rename", key)
	}

	require.Equal(t, []byte("a"), ReadFile(t, store, "/dst/a.txt"))
	require.Equal(t, []byte("b"), ReadFile(t, store, "/dst/sub/b.txt"))
	require.Equal(t, []byte("sibling"), ReadFile(t, store, "/srcfile"))

	meta, err := store.GetMetadata(ctx, "/dst")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.txt", "sub"}, meta.Children)

	require.ErrorIs(t, store.Rename(ctx, "/missing", "/x"), data.ErrNotExist)
	require.ErrorIs(t, store.Rename(ctx, "/dst", "/dst/sub/inner"), data.ErrInvalid)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []backend.Event
}

func (r *eventRecorder) HandleEvent(event backend.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
}

func (r *eventRecorder) has(kind backend.EventKind, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, event := range r.events {
		if event.Kind == kind && event.Key == key {
			return true
		}
	}
	return false
}

func testEvents(t *testing.T, factory StorageFactory) {
	store := factory(t)
	ctx := t.Context()

	recorder := &eventRecorder{}
	store.AddListener(recorder)

	WriteFile(t, store, "/a.txt", []byte("hello"))
	WriteFile(t, store, "/a.txt", []byte("again"))
	require.NoError(t, store.Delete(ctx, "/a.txt"))

	require.True(t, recorder.has(backend.EventAdded, "/a.txt"))
	require.True(t, recorder.has(backend.EventUpdated, "/a.txt"))
	require.True(t, recorder.has(backend.EventRemoved, "/a.txt"))

	store.RemoveListener(recorder)
	WriteFile(t, store, "/b.txt", []byte("quiet"))
	require.False(t, recorder.has(backend.EventAdded, "/b.txt"))
}
