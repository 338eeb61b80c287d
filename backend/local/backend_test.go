package local

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/backend/backendtest"
	"github.com/mwantia/cachefs/backend/compress"
	"github.com/mwantia/cachefs/data"
)

func TestConformance(t *testing.T) {
	factories := map[string]func(t *testing.T) *LocalBackend{
		"plain": func(t *testing.T) *LocalBackend {
			return NewLocalBackend(t.TempDir())
		},
		"lz4": func(t *testing.T) *LocalBackend {
			return NewLocalBackend(filepath.Join(t.TempDir(), "store"), WithCompression(compress.LZ4))
		},
	}

	for name, factory := range factories {
		t.Run(name, func(tst *testing.T) {
			backendtest.RunConformanceSuite(tst, func(t *testing.T) backend.Storage {
				lb := factory(t)
				if err := lb.Open(t.Context()); err != nil {
					t.Fatalf("Open failed: %v", err)
				}
				t.Cleanup(func() { lb.Close(context.Background()) })

				return lb
			})
		})
	}
}

func countBlobs(t *testing.T, lb *LocalBackend) int {
	t.Helper()

	count := 0
	err := filepath.WalkDir(lb.blobDir(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to walk blobs: %v", err)
	}
	return count
}

func TestPersistence(t *testing.T) {
	ctx := t.Context()
	dir := t.TempDir()

	lb := NewLocalBackend(dir, WithCompression(compress.Zstd))
	if err := lb.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	meta := data.NewDirectoryMetadata().WithChild("a.txt")
	if err := lb.PutMetadata(ctx, "/", meta); err != nil {
		t.Fatalf("PutMetadata failed: %v", err)
	}
	backendtest.WriteFile(t, lb, "/a.txt", []byte("persisted content"))
	if err := lb.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := NewLocalBackend(dir)
	if err := reopened.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer reopened.Close(ctx)

	if content := backendtest.ReadFile(t, reopened, "/a.txt"); string(content) != "persisted content" {
		t.Errorf("unexpected content %q", content)
	}

	root, err := reopened.GetMetadata(ctx, "/")
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if !root.IsDir() || !root.HasChild("a.txt") {
		t.Errorf("unexpected root record %+v", root)
	}
	if !root.CreateTime.Equal(meta.CreateTime) {
		t.Errorf("creation time changed from %v to %v", meta.CreateTime, root.CreateTime)
	}
}

func TestUncommittedWriteIsNotPersisted(t *testing.T) {
	ctx := t.Context()
	dir := t.TempDir()

	lb := NewLocalBackend(dir)
	if err := lb.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	tx, err := lb.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	w, _ := tx.NewWriter(ctx, "/pending", data.NewFileMetadata())
	w.Write([]byte("pending"))
	w.Close()
	tx.Close()
	lb.Close(ctx)

	reopened := NewLocalBackend(dir)
	if err := reopened.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer reopened.Close(ctx)

	if exists, _ := reopened.Exists(ctx, "/pending"); exists {
		t.Errorf("rolled back write was persisted")
	}
	if count := countBlobs(t, reopened); count != 0 {
		t.Errorf("expected no blobs, got %d", count)
	}
}

func TestDeduplication(t *testing.T) {
	ctx := t.Context()

	lb := NewLocalBackend(t.TempDir())
	if err := lb.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer lb.Close(ctx)

	backendtest.WriteFile(t, lb, "/a.txt", []byte("same content"))
	backendtest.WriteFile(t, lb, "/b.txt", []byte("same content"))
	if err := lb.Copy(ctx, "/a.txt", "/c.txt"); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if count := countBlobs(t, lb); count != 1 {
		t.Fatalf("expected 1 shared blob, got %d", count)
	}

	for _, key := range []string{"/a.txt", "/b.txt"} {
		if err := lb.Delete(ctx, key); err != nil {
			t.Fatalf("Delete(%s) failed: %v", key, err)
		}
	}
	if count := countBlobs(t, lb); count != 1 {
		t.Fatalf("blob removed while still referenced, count %d", count)
	}

	backendtest.WriteFile(t, lb, "/c.txt", []byte("other content"))
	if count := countBlobs(t, lb); count != 1 {
		t.Errorf("expected the replaced blob to be removed, count %d", count)
	}
}

func TestOpenOnFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if err := NewLocalBackend(path).Open(t.Context()); !errors.Is(err, data.ErrNotDirectory) {
		t.Errorf("expected ErrNotDirectory, got %v", err)
	}
}

func TestMaxObjectSize(t *testing.T) {
	ctx := t.Context()

	lb := NewLocalBackend(t.TempDir(), WithMaxObjectSize(4))
	if err := lb.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer lb.Close(ctx)

	tx, err := lb.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	defer tx.Close()

	w, _ := tx.NewWriter(ctx, "/big", data.NewFileMetadata())
	w.Write([]byte("too large"))
	w.Close()

	if err := tx.Commit(ctx); !errors.Is(err, data.ErrObjectTooBig) {
		t.Errorf("expected ErrObjectTooBig, got %v", err)
	}
}
