package cachefs_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mwantia/cachefs"
	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/backend/badger"
	"github.com/mwantia/cachefs/backend/local"
	"github.com/mwantia/cachefs/backend/memory"
	"github.com/mwantia/cachefs/backend/sqlite"
	"github.com/mwantia/cachefs/data"
	"github.com/mwantia/cachefs/log"
)

type TestStorageFactory func(tst *testing.T) backend.Storage

func GetTestStorageFactories() map[string]TestStorageFactory {
	return map[string]TestStorageFactory{
		"memory": func(tst *testing.T) backend.Storage {
			return memory.NewMemoryBackend()
		},
		"sqlite": func(tst *testing.T) backend.Storage {
			storage, err := sqlite.NewSQLiteBackend(":memory:")
			if err != nil {
				tst.Fatalf("Failed to create sqlite backend: %v", err)
			}
			return storage
		},
		"badger": func(tst *testing.T) backend.Storage {
			return badger.NewBadgerBackend("", badger.WithInMemory())
		},
		"local": func(tst *testing.T) backend.Storage {
			return local.NewLocalBackend(tst.TempDir())
		},
	}
}

// runProviderTest mounts "cache1" on every storage and asserts that no
// transaction is left open once the test finished.
func runProviderTest(t *testing.T, test func(tst *testing.T, provider *cachefs.Provider, fs *cachefs.FileSystem)) {
	for name, factory := range GetTestStorageFactories() {
		t.Run(name, func(tst *testing.T) {
			provider, err := cachefs.NewProvider(cachefs.WithLogger(log.Discard()))
			if err != nil {
				tst.Fatalf("Failed to create provider: %v", err)
			}

			fs, err := provider.NewFileSystem(tst.Context(), "cache1", factory(tst))
			if err != nil {
				tst.Fatalf("Failed to mount: %v", err)
			}
			defer provider.Shutdown(context.Background())

			test(tst, provider, fs)

			if open := provider.OpenTransactions(); open != 0 {
				tst.Errorf("expected no open transactions, got %d", open)
			}
		})
	}
}

func listNames(tst *testing.T, provider *cachefs.Provider, dir cachefs.Path) []string {
	tst.Helper()

	ds, err := provider.NewDirectoryStream(tst.Context(), dir, nil)
	if err != nil {
		tst.Fatalf("NewDirectoryStream(%s) failed: %v", dir, err)
	}
	defer ds.Close()

	var names []string
	for entry := range ds.All() {
		names = append(names, entry.FileName().String())
	}
	slices.Sort(names)
	return names
}

func TestScenario_WriteAndList(t *testing.T) {
	runProviderTest(t, func(tst *testing.T, provider *cachefs.Provider, fs *cachefs.FileSystem) {
		ctx := tst.Context()

		reports := mustParse(tst, fs, "/reports")
		if err := provider.CreateDirectory(ctx, reports); err != nil {
			tst.Fatalf("CreateDirectory failed: %v", err)
		}
		if got := listNames(tst, provider, fs.PathService().Root()); !slices.Equal(got, []string{"reports"}) {
			tst.Errorf("unexpected root listing %v", got)
		}

		w, err := provider.NewWriter(ctx, mustParse(tst, fs, "/reports/a.txt"))
		if err != nil {
			tst.Fatalf("NewWriter failed: %v", err)
		}
		if w.Transaction().Kind() != cachefs.TransactionStream {
			tst.Errorf("unexpected transaction kind %s", w.Transaction().Kind())
		}
		if _, err := w.Write([]byte("hello")); err != nil {
			tst.Fatalf("Write failed: %v", err)
		}
		if err := w.Close(); err != nil {
			tst.Fatalf("Close failed: %v", err)
		}

		if got := listNames(tst, provider, reports); !slices.Equal(got, []string{"a.txt"}) {
			tst.Errorf("expected [a.txt], got %v", got)
		}

		content, err := provider.ReadFile(ctx, mustParse(tst, fs, "/reports/a.txt"))
		if err != nil {
			tst.Fatalf("ReadFile failed: %v", err)
		}
		if string(content) != "hello" {
			tst.Errorf("expected 'hello', got %q", content)
		}
	})
}

func TestTransactionalVisibility(t *testing.T) {
	runProviderTest(t, func(tst *testing.T, provider *cachefs.Provider, fs *cachefs.FileSystem) {
		ctx := tst.Context()
		root := fs.PathService().Root()
		path := mustParse(tst, fs, "/pending.txt")

		w, err := provider.NewWriter(ctx, path)
		if err != nil {
			tst.Fatalf("NewWriter failed: %v", err)
		}
		if _, err := w.Write([]byte("staged")); err != nil {
			tst.Fatalf("Write failed: %v", err)
		}

		if got := listNames(tst, provider, root); len(got) != 0 {
			tst.Errorf("uncommitted child is visible: %v", got)
		}
		if exists, _ := provider.Exists(ctx, path); exists {
			tst.Errorf("uncommitted content is visible")
		}
		if provider.OpenTransactions() != 1 {
			tst.Errorf("expected one open transaction, got %d", provider.OpenTransactions())
		}

		// A concurrent reader sees the parent either without the child or with
		// it, and never loses it again once it appeared.
		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()

			seen := false
			for {
				select {
				case <-stop:
					return
				default:
				}

				ds, err := provider.NewDirectoryStream(ctx, root, nil)
				if err != nil {
					tst.Errorf("NewDirectoryStream during commit failed: %v", err)
					return
				}
				entries := ds.Collect()
				ds.Close()

				switch {
				case len(entries) == 0:
					if seen {
						tst.Errorf("committed child disappeared from the listing")
						return
					}
				case len(entries) == 1 && entries[0].FileName().String() == "pending.txt":
					seen = true
				default:
					tst.Errorf("unexpected listing during commit: %v", entries)
					return
				}
			}
		}()

		err = w.Close()
		close(stop)
		wg.Wait()

		if err != nil {
			tst.Fatalf("Close failed: %v", err)
		}
		if got := listNames(tst, provider, root); !slices.Equal(got, []string{"pending.txt"}) {
			tst.Errorf("committed child is missing: %v", got)
		}
	})
}

func TestAbortedWriter(t *testing.T) {
	runProviderTest(t, func(tst *testing.T, provider *cachefs.Provider, fs *cachefs.FileSystem) {
		ctx := tst.Context()
		path := mustParse(tst, fs, "/aborted.txt")

		w, err := provider.NewWriter(ctx, path)
		if err != nil {
			tst.Fatalf("NewWriter failed: %v", err)
		}
		w.Write([]byte("discard me"))
		w.Abort()

		if err := w.Close(); err != nil {
			tst.Errorf("Close after Abort returned %v", err)
		}
		if exists, _ := provider.Exists(ctx, path); exists {
			tst.Errorf("aborted content is visible")
		}
		if got := listNames(tst, provider, fs.PathService().Root()); len(got) != 0 {
			tst.Errorf("aborted child is listed: %v", got)
		}
	})
}

// failingCloseStorage hands out writers whose Close always fails.
type failingCloseStorage struct {
	*memory.MemoryBackend
}

func (s *failingCloseStorage) Begin(ctx context.Context) (backend.Transaction, error) {
	tx, err := s.MemoryBackend.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &failingCloseTransaction{Transaction: tx}, nil
}

type failingCloseTransaction struct {
	backend.Transaction
}

func (tx *failingCloseTransaction) NewWriter(ctx context.Context, key string, meta *data.Metadata) (io.WriteCloser, error) {
	w, err := tx.Transaction.NewWriter(ctx, key, meta)
	if err != nil {
		return nil, err
	}
	return &failingCloseWriter{WriteCloser: w}, nil
}

type failingCloseWriter struct {
	io.WriteCloser
}

func (w *failingCloseWriter) Close() error {
	w.WriteCloser.Close()
	return errors.New("disk on fire")
}

func TestAbortLogsFailedClose(t *testing.T) {
	var output bytes.Buffer
	provider, err := cachefs.NewProvider(cachefs.WithLogger(log.NewWriterLogger("test", log.Warn, &output)))
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	defer provider.Shutdown(context.Background())

	fs, err := provider.NewFileSystem(t.Context(), "cache1", &failingCloseStorage{memory.NewMemoryBackend()})
	if err != nil {
		t.Fatalf("Failed to mount: %v", err)
	}

	w, err := provider.NewWriter(t.Context(), mustParse(t, fs, "/a.txt"))
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	w.Write([]byte("content"))
	w.Abort()

	if !strings.Contains(output.String(), "failed to close") || !strings.Contains(output.String(), "disk on fire") {
		t.Errorf("expected a warning about the failed close, got %q", output.String())
	}
	if open := provider.OpenTransactions(); open != 0 {
		t.Errorf("expected no open transactions, got %d", open)
	}
}

func TestErrors(t *testing.T) {
	runProviderTest(t, func(tst *testing.T, provider *cachefs.Provider, fs *cachefs.FileSystem) {
		ctx := tst.Context()

		if err := provider.Delete(ctx, mustParse(tst, fs, "/missing")); !errors.Is(err, cachefs.ErrNotExist) {
			tst.Errorf("expected ErrNotExist, got %v", err)
		}

		file := mustParse(tst, fs, "/file.txt")
		if err := provider.WriteFile(ctx, file, []byte("x")); err != nil {
			tst.Fatalf("WriteFile failed: %v", err)
		}
		if _, err := provider.NewDirectoryStream(ctx, file, nil); !errors.Is(err, cachefs.ErrNotDirectory) {
			tst.Errorf("expected ErrNotDirectory, got %v", err)
		}
		if _, err := provider.NewDirectoryStream(ctx, mustParse(tst, fs, "/nope"), nil); !errors.Is(err, cachefs.ErrNotExist) {
			tst.Errorf("expected ErrNotExist, got %v", err)
		}
		if err := provider.WriteFile(ctx, mustParse(tst, fs, "/nope/a.txt"), []byte("x")); !errors.Is(err, cachefs.ErrNotExist) {
			tst.Errorf("expected ErrNotExist for missing parent, got %v", err)
		}
		if err := provider.WriteFile(ctx, mustParse(tst, fs, "/file.txt/a.txt"), []byte("x")); !errors.Is(err, cachefs.ErrNotDirectory) {
			tst.Errorf("expected ErrNotDirectory for file parent, got %v", err)
		}
		if err := provider.CreateDirectory(ctx, file); !errors.Is(err, cachefs.ErrExist) {
			tst.Errorf("expected ErrExist, got %v", err)
		}
		if _, err := provider.ReadAttributes(ctx, mustParse(tst, fs, "/nope")); !errors.Is(err, cachefs.ErrNotExist) {
			tst.Errorf("expected ErrNotExist, got %v", err)
		}

		dir := mustParse(tst, fs, "/dir")
		if err := provider.CreateDirectory(ctx, dir); err != nil {
			tst.Fatalf("CreateDirectory failed: %v", err)
		}
		if err := provider.WriteFile(ctx, dir, []byte("x")); !errors.Is(err, cachefs.ErrIsDirectory) {
			tst.Errorf("expected ErrIsDirectory, got %v", err)
		}
		if err := provider.WriteFile(ctx, mustParse(tst, fs, "/dir/child"), []byte("x")); err != nil {
			tst.Fatalf("WriteFile failed: %v", err)
		}
		if err := provider.Delete(ctx, dir); !errors.Is(err, cachefs.ErrDirectoryNotEmpty) {
			tst.Errorf("expected ErrDirectoryNotEmpty, got %v", err)
		}

		if _, err := provider.ReadAttributesView(ctx, file, "posix"); !errors.Is(err, cachefs.ErrUnsupported) {
			tst.Errorf("expected ErrUnsupported, got %v", err)
		}
		if _, err := provider.ReadAttributeMap(ctx, file, "*"); !errors.Is(err, cachefs.ErrUnsupported) {
			tst.Errorf("expected ErrUnsupported, got %v", err)
		}
		if err := provider.SetAttribute(ctx, file, "lastModifiedTime", nil); !errors.Is(err, cachefs.ErrUnsupported) {
			tst.Errorf("expected ErrUnsupported, got %v", err)
		}
		if _, err := provider.FileStore(file); !errors.Is(err, cachefs.ErrUnsupported) {
			tst.Errorf("expected ErrUnsupported, got %v", err)
		}
	})
}

func TestCreateAndDelete(t *testing.T) {
	runProviderTest(t, func(tst *testing.T, provider *cachefs.Provider, fs *cachefs.FileSystem) {
		ctx := tst.Context()
		root := fs.PathService().Root()

		for _, name := range []string{"b", "a", "c"} {
			if err := provider.CreateDirectory(ctx, mustParse(tst, fs, "/", name)); err != nil {
				tst.Fatalf("CreateDirectory(%s) failed: %v", name, err)
			}
		}
		if got := listNames(tst, provider, root); !slices.Equal(got, []string{"a", "b", "c"}) {
			tst.Errorf("unexpected listing %v", got)
		}

		if err := provider.Delete(ctx, mustParse(tst, fs, "/b")); err != nil {
			tst.Fatalf("Delete failed: %v", err)
		}
		if got := listNames(tst, provider, root); !slices.Equal(got, []string{"a", "c"}) {
			tst.Errorf("deleted child is still listed: %v", got)
		}

		deleted, err := provider.DeleteIfExists(ctx, mustParse(tst, fs, "/b"))
		if err != nil || deleted {
			tst.Errorf("DeleteIfExists = %v, %v", deleted, err)
		}
	})
}

func TestCopyAndMove(t *testing.T) {
	runProviderTest(t, func(tst *testing.T, provider *cachefs.Provider, fs *cachefs.FileSystem) {
		ctx := tst.Context()

		for _, dir := range []string{"/src", "/src/nested", "/dst"} {
			if err := provider.CreateDirectory(ctx, mustParse(tst, fs, dir)); err != nil {
				tst.Fatalf("CreateDirectory(%s) failed: %v", dir, err)
			}
		}
		if err := provider.WriteFile(ctx, mustParse(tst, fs, "/src/a.txt"), []byte("alpha")); err != nil {
			tst.Fatalf("WriteFile failed: %v", err)
		}
		if err := provider.WriteFile(ctx, mustParse(tst, fs, "/src/nested/b.txt"), []byte("beta")); err != nil {
			tst.Fatalf("WriteFile failed: %v", err)
		}

		// Copy
		if err := provider.Copy(ctx, mustParse(tst, fs, "/src/a.txt"), mustParse(tst, fs, "/dst/a.txt")); err != nil {
			tst.Fatalf("Copy failed: %v", err)
		}
		if got := listNames(tst, provider, mustParse(tst, fs, "/dst")); !slices.Equal(got, []string{"a.txt"}) {
			tst.Errorf("unexpected /dst listing %v", got)
		}
		if content, _ := provider.ReadFile(ctx, mustParse(tst, fs, "/dst/a.txt")); string(content) != "alpha" {
			tst.Errorf("unexpected copied content %q", content)
		}

		err := provider.Copy(ctx, mustParse(tst, fs, "/src/a.txt"), mustParse(tst, fs, "/dst/a.txt"))
		if !errors.Is(err, cachefs.ErrExist) {
			tst.Errorf("expected ErrExist without ReplaceExisting, got %v", err)
		}
		if err := provider.WriteFile(ctx, mustParse(tst, fs, "/src/a.txt"), []byte("alpha2")); err != nil {
			tst.Fatalf("WriteFile failed: %v", err)
		}
		if err := provider.Copy(ctx, mustParse(tst, fs, "/src/a.txt"), mustParse(tst, fs, "/dst/a.txt"), cachefs.ReplaceExisting()); err != nil {
			tst.Fatalf("Copy with ReplaceExisting failed: %v", err)
		}
		if content, _ := provider.ReadFile(ctx, mustParse(tst, fs, "/dst/a.txt")); string(content) != "alpha2" {
			tst.Errorf("unexpected replaced content %q", content)
		}

		// Directory copies are shallow
		if err := provider.Copy(ctx, mustParse(tst, fs, "/src/nested"), mustParse(tst, fs, "/dst/nested")); err != nil {
			tst.Fatalf("Copy of directory failed: %v", err)
		}
		if got := listNames(tst, provider, mustParse(tst, fs, "/dst/nested")); len(got) != 0 {
			tst.Errorf("expected empty copied directory, got %v", got)
		}

		// Move
		if err := provider.Move(ctx, mustParse(tst, fs, "/src/nested"), mustParse(tst, fs, "/moved")); err != nil {
			tst.Fatalf("Move failed: %v", err)
		}
		if got := listNames(tst, provider, mustParse(tst, fs, "/src")); !slices.Equal(got, []string{"a.txt"}) {
			tst.Errorf("moved child still listed in source: %v", got)
		}
		if got := listNames(tst, provider, fs.PathService().Root()); !slices.Equal(got, []string{"dst", "moved", "src"}) {
			tst.Errorf("unexpected root listing %v", got)
		}
		if content, _ := provider.ReadFile(ctx, mustParse(tst, fs, "/moved/b.txt")); string(content) != "beta" {
			tst.Errorf("subtree was not moved, got %q", content)
		}
		if got := listNames(tst, provider, mustParse(tst, fs, "/moved")); !slices.Equal(got, []string{"b.txt"}) {
			tst.Errorf("moved directory lost its listing: %v", got)
		}

		err = provider.Move(ctx, mustParse(tst, fs, "/moved"), mustParse(tst, fs, "/moved/inner"))
		if !errors.Is(err, cachefs.ErrInvalid) {
			tst.Errorf("expected ErrInvalid when moving below itself, got %v", err)
		}

		// Moving a missing path onto itself must not invent a listing entry
		ghost := mustParse(tst, fs, "/ghost")
		if err := provider.Move(ctx, ghost, ghost); !errors.Is(err, cachefs.ErrNotExist) {
			tst.Errorf("expected ErrNotExist for a missing source, got %v", err)
		}
		if got := listNames(tst, provider, fs.PathService().Root()); !slices.Equal(got, []string{"dst", "moved", "src"}) {
			tst.Errorf("unexpected root listing after failed move %v", got)
		}
	})
}

func TestMoveAcrossFileSystems(t *testing.T) {
	ctx := t.Context()

	provider, err := cachefs.NewProvider(cachefs.WithLogger(log.Discard()))
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	defer provider.Shutdown(context.Background())

	a, err := provider.NewFileSystem(ctx, "a", memory.NewMemoryBackend())
	if err != nil {
		t.Fatalf("Failed to mount a: %v", err)
	}
	b, err := provider.NewFileSystem(ctx, "b", memory.NewMemoryBackend())
	if err != nil {
		t.Fatalf("Failed to mount b: %v", err)
	}

	if err := provider.CreateDirectory(ctx, mustParse(t, a, "/dir")); err != nil {
		t.Fatalf("CreateDirectory failed: %v", err)
	}
	if err := provider.WriteFile(ctx, mustParse(t, a, "/dir/f.txt"), []byte("file")); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	err = provider.Move(ctx, mustParse(t, a, "/dir"), mustParse(t, b, "/dir"))
	if !errors.Is(err, cachefs.ErrDirectoryNotEmpty) {
		t.Errorf("expected ErrDirectoryNotEmpty, got %v", err)
	}
	if got := listNames(t, provider, b.PathService().Root()); len(got) != 0 {
		t.Errorf("failed move left entries in the target: %v", got)
	}
	if exists, _ := provider.Exists(ctx, mustParse(t, b, "/dir")); exists {
		t.Errorf("failed move left the target directory behind")
	}
	if got := listNames(t, provider, a.PathService().Root()); !slices.Equal(got, []string{"dir"}) {
		t.Errorf("unexpected source listing %v", got)
	}

	if err := provider.Move(ctx, mustParse(t, a, "/dir/f.txt"), mustParse(t, b, "/f.txt")); err != nil {
		t.Fatalf("Move of a file failed: %v", err)
	}
	if content, _ := provider.ReadFile(ctx, mustParse(t, b, "/f.txt")); string(content) != "file" {
		t.Errorf("unexpected moved content %q", content)
	}
	if got := listNames(t, provider, mustParse(t, a, "/dir")); len(got) != 0 {
		t.Errorf("moved file still listed in the source: %v", got)
	}

	if err := provider.Move(ctx, mustParse(t, a, "/missing"), mustParse(t, b, "/missing")); !errors.Is(err, cachefs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
	if got := listNames(t, provider, b.PathService().Root()); !slices.Equal(got, []string{"f.txt"}) {
		t.Errorf("unexpected target listing %v", got)
	}
}

func TestChannel(t *testing.T) {
	runProviderTest(t, func(tst *testing.T, provider *cachefs.Provider, fs *cachefs.FileSystem) {
		ctx := tst.Context()
		path := mustParse(tst, fs, "/channel.bin")

		_, err := provider.NewChannel(ctx, path, data.AccessModeWrite)
		if !errors.Is(err, cachefs.ErrNotExist) {
			tst.Errorf("expected ErrNotExist without create, got %v", err)
		}

		ch, err := provider.NewChannel(ctx, path, data.AccessModeWrite|data.AccessModeCreate)
		if err != nil {
			tst.Fatalf("NewChannel failed: %v", err)
		}
		if ch.Transaction().Kind() != cachefs.TransactionChannel {
			tst.Errorf("unexpected transaction kind %s", ch.Transaction().Kind())
		}
		ch.Write([]byte("hello world"))
		ch.WriteAt([]byte("W"), 6)
		if err := ch.Close(); err != nil {
			tst.Fatalf("Close failed: %v", err)
		}

		ch, err = provider.NewChannel(ctx, path, data.AccessModeWrite|data.AccessModeAppend)
		if err != nil {
			tst.Fatalf("NewChannel append failed: %v", err)
		}
		ch.Write([]byte("!"))
		if err := ch.Close(); err != nil {
			tst.Fatalf("Close failed: %v", err)
		}

		reader, err := provider.NewChannel(ctx, path, data.AccessModeRead)
		if err != nil {
			tst.Fatalf("NewChannel read failed: %v", err)
		}
		defer reader.Close()

		if !reader.IsReadOnly() || reader.Transaction() != nil {
			tst.Errorf("expected a read-only channel without transaction")
		}
		content, err := io.ReadAll(reader)
		if err != nil {
			tst.Fatalf("ReadAll failed: %v", err)
		}
		if string(content) != "hello World!" {
			tst.Errorf("unexpected content %q", content)
		}
		if _, err := reader.Write([]byte("x")); !errors.Is(err, cachefs.ErrUnsupported) {
			tst.Errorf("expected ErrUnsupported on read-only write, got %v", err)
		}

		_, err = provider.NewChannel(ctx, path, data.AccessModeWrite|data.AccessModeCreate|data.AccessModeExcl)
		if !errors.Is(err, cachefs.ErrExist) {
			tst.Errorf("expected ErrExist with exclusive create, got %v", err)
		}
	})
}

func TestAttributes(t *testing.T) {
	runProviderTest(t, func(tst *testing.T, provider *cachefs.Provider, fs *cachefs.FileSystem) {
		ctx := tst.Context()
		path := mustParse(tst, fs, "/attrs.txt")

		if err := provider.WriteFile(ctx, path, []byte("12345")); err != nil {
			tst.Fatalf("WriteFile failed: %v", err)
		}
		first, err := provider.ReadAttributes(ctx, path)
		if err != nil {
			tst.Fatalf("ReadAttributes failed: %v", err)
		}
		if first.Size != 5 || !first.IsRegularFile() || first.IsDirectory() {
			tst.Errorf("unexpected attributes %+v", first)
		}
		if first.FileKey != "cache1:/attrs.txt" {
			tst.Errorf("unexpected file key %q", first.FileKey)
		}

		if err := provider.WriteFile(ctx, path, []byte("1234567")); err != nil {
			tst.Fatalf("WriteFile failed: %v", err)
		}
		second, err := provider.ReadAttributesView(ctx, path, cachefs.BasicAttributeView)
		if err != nil {
			tst.Fatalf("ReadAttributesView failed: %v", err)
		}
		if second.Size != 7 {
			tst.Errorf("expected size 7, got %d", second.Size)
		}
		if !second.CreationTime.Equal(first.CreationTime) {
			tst.Errorf("creation time changed on rewrite: %v != %v", second.CreationTime, first.CreationTime)
		}

		root, err := provider.ReadAttributes(ctx, fs.PathService().Root())
		if err != nil {
			tst.Fatalf("ReadAttributes(/) failed: %v", err)
		}
		if !root.IsDirectory() {
			tst.Errorf("expected root to be a directory")
		}
	})
}

func TestDirectoryStreamFilter(t *testing.T) {
	runProviderTest(t, func(tst *testing.T, provider *cachefs.Provider, fs *cachefs.FileSystem) {
		ctx := tst.Context()

		for _, name := range []string{"a.txt", "b.csv", "c.txt", ".hidden"} {
			if err := provider.WriteFile(ctx, mustParse(tst, fs, "/", name), []byte(name)); err != nil {
				tst.Fatalf("WriteFile(%s) failed: %v", name, err)
			}
		}

		matcher, err := fs.PathMatcher("glob:/*.txt")
		if err != nil {
			tst.Fatalf("PathMatcher failed: %v", err)
		}
		ds, err := provider.NewDirectoryStream(ctx, fs.PathService().Root(), cachefs.MatcherFilter(matcher))
		if err != nil {
			tst.Fatalf("NewDirectoryStream failed: %v", err)
		}

		var names []string
		for _, entry := range ds.Collect() {
			names = append(names, entry.String())
		}
		slices.Sort(names)
		if !slices.Equal(names, []string{"/a.txt", "/c.txt"}) {
			tst.Errorf("unexpected filtered entries %v", names)
		}

		if err := ds.Close(); err != nil {
			tst.Errorf("Close failed: %v", err)
		}
		if _, ok := ds.Next(); ok {
			tst.Errorf("closed stream returned an entry")
		}

		if !provider.IsHidden(mustParse(tst, fs, "/.hidden")) || provider.IsHidden(mustParse(tst, fs, "/a.txt")) {
			tst.Errorf("unexpected IsHidden result")
		}
	})
}

func TestBinaryTransfer(t *testing.T) {
	runProviderTest(t, func(tst *testing.T, provider *cachefs.Provider, fs *cachefs.FileSystem) {
		ctx := tst.Context()
		transfer := cachefs.NewBinaryTransfer(provider, 4)
		payload := bytes.Repeat([]byte("0123456789"), 100)

		n, err := transfer.Upload(ctx, bytes.NewReader(payload), mustParse(tst, fs, "/upload.bin"))
		if err != nil || n != int64(len(payload)) {
			tst.Fatalf("Upload = %d, %v", n, err)
		}

		var out bytes.Buffer
		if _, err := transfer.Download(ctx, mustParse(tst, fs, "/upload.bin"), &out); err != nil {
			tst.Fatalf("Download failed: %v", err)
		}
		if !bytes.Equal(out.Bytes(), payload) {
			tst.Errorf("downloaded content differs")
		}

		_, err = transfer.Upload(ctx, iotestErrReader{}, mustParse(tst, fs, "/broken.bin"))
		if err == nil {
			tst.Errorf("expected upload error")
		}
		if exists, _ := provider.Exists(ctx, mustParse(tst, fs, "/broken.bin")); exists {
			tst.Errorf("failed upload left content behind")
		}
	})
}

type iotestErrReader struct{}

func (iotestErrReader) Read([]byte) (int, error) {
	return 0, errors.New("broken reader")
}

func TestMountRegistry(t *testing.T) {
	ctx := t.Context()
	provider, err := cachefs.NewProvider(cachefs.WithLogger(log.Discard()))
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	defer provider.Shutdown(context.Background())

	fs, err := provider.NewFileSystem(ctx, "cache1", memory.NewMemoryBackend())
	if err != nil {
		t.Fatalf("NewFileSystem failed: %v", err)
	}
	if _, err := provider.NewFileSystem(ctx, "cache1", memory.NewMemoryBackend()); !errors.Is(err, cachefs.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	found, err := provider.GetFileSystem(ctx, "cache://cache1/", false)
	if err != nil || found != fs {
		t.Errorf("GetFileSystem = %v, %v", found, err)
	}
	if _, err := provider.GetFileSystem(ctx, "cache://other/", true); !errors.Is(err, cachefs.ErrFileSystemNotFound) {
		t.Errorf("expected ErrFileSystemNotFound without factory, got %v", err)
	}
	if _, err := provider.GetFileSystem(ctx, "file://cache1/", false); !errors.Is(err, cachefs.ErrProviderMismatch) {
		t.Errorf("expected ErrProviderMismatch for foreign scheme, got %v", err)
	}

	path := mustParse(t, fs, "/a")
	if err := fs.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := fs.Close(ctx); err != nil {
		t.Errorf("second Close returned %v", err)
	}
	if _, exists := provider.Lookup("cache1"); exists {
		t.Errorf("closed filesystem is still registered")
	}
	if err := provider.CreateDirectory(ctx, path); !errors.Is(err, cachefs.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	if _, err := provider.NewFileSystem(ctx, "cache1", memory.NewMemoryBackend()); err != nil {
		t.Errorf("remount after close failed: %v", err)
	}
}

func TestProviderMismatch(t *testing.T) {
	provider, _ := newTestFileSystem(t)
	_, foreign := newTestFileSystem(t)

	path := mustParse(t, foreign, "/a")
	if err := provider.CreateDirectory(t.Context(), path); !errors.Is(err, cachefs.ErrProviderMismatch) {
		t.Errorf("expected ErrProviderMismatch, got %v", err)
	}
	if err := provider.CreateDirectory(t.Context(), cachefs.Path{}); !errors.Is(err, cachefs.ErrProviderMismatch) {
		t.Errorf("expected ErrProviderMismatch for zero path, got %v", err)
	}
}

func TestIsSameFile(t *testing.T) {
	provider, fs := newTestFileSystem(t)

	same, err := provider.IsSameFile(mustParse(t, fs, "/a/b"), mustParse(t, fs, "/a/./b"))
	if err != nil || !same {
		t.Errorf("IsSameFile = %v, %v", same, err)
	}
	same, err = provider.IsSameFile(mustParse(t, fs, "/a"), mustParse(t, fs, "/b"))
	if err != nil || same {
		t.Errorf("IsSameFile = %v, %v", same, err)
	}
}

func TestLazyMount(t *testing.T) {
	var created atomic.Int32
	provider, err := cachefs.NewProvider(
		cachefs.WithLogger(log.Discard()),
		cachefs.WithStorageFactory(func(ctx context.Context, storeID string) (backend.Storage, error) {
			created.Add(1)
			return memory.NewMemoryBackend(), nil
		}))
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	defer provider.Shutdown(context.Background())

	var wg sync.WaitGroup
	results := make([]*cachefs.FileSystem, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fs, err := provider.GetFileSystem(t.Context(), "cache://lazy/", true)
			if err != nil {
				t.Errorf("GetFileSystem failed: %v", err)
				return
			}
			results[i] = fs
		}()
	}
	wg.Wait()

	if created.Load() != 1 {
		t.Errorf("expected a single storage, got %d", created.Load())
	}
	for _, fs := range results {
		if fs != results[0] {
			t.Errorf("concurrent mounts returned different filesystems")
		}
	}

	path, err := provider.Path(t.Context(), "cache://lazy/docs/a.txt")
	if err != nil {
		t.Fatalf("Path failed: %v", err)
	}
	if path.FileSystem() != results[0] || path.String() != "/docs/a.txt" {
		t.Errorf("unexpected path %s", path)
	}
}

func TestConcurrentWritesDistinctParents(t *testing.T) {
	runProviderTest(t, func(tst *testing.T, provider *cachefs.Provider, fs *cachefs.FileSystem) {
		ctx := tst.Context()

		var wg sync.WaitGroup
		for _, dir := range []string{"/one", "/two", "/three"} {
			if err := provider.CreateDirectory(ctx, mustParse(tst, fs, dir)); err != nil {
				tst.Fatalf("CreateDirectory failed: %v", err)
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				for _, name := range []string{"a", "b", "c"} {
					if err := provider.WriteFile(ctx, mustParse(tst, fs, dir, name), []byte(name)); err != nil {
						tst.Errorf("WriteFile failed: %v", err)
					}
				}
			}()
		}
		wg.Wait()

		for _, dir := range []string{"/one", "/two", "/three"} {
			if got := listNames(tst, provider, mustParse(tst, fs, dir)); !slices.Equal(got, []string{"a", "b", "c"}) {
				tst.Errorf("unexpected listing of %s: %v", dir, got)
			}
		}
	})
}

func TestWatchService(t *testing.T) {
	_, fs := newTestFileSystem(t)

	ws, err := fs.NewWatchService()
	if err != nil {
		t.Fatalf("NewWatchService failed: %v", err)
	}
	defer ws.Close()

	if _, err := ws.Register(fs.PathService().Root(), backend.EventAdded); !errors.Is(err, cachefs.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
	if _, err := ws.Poll(); !errors.Is(err, cachefs.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
	if _, err := ws.Take(t.Context()); !errors.Is(err, cachefs.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
	if err := ws.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}
}
