package badger

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/backend/backendtest"
	"github.com/mwantia/cachefs/backend/compress"
	"github.com/mwantia/cachefs/data"
	"github.com/mwantia/cachefs/log"
)

func TestConformance(t *testing.T) {
	factories := map[string]func(t *testing.T) *BadgerBackend{
		"in-memory": func(t *testing.T) *BadgerBackend {
			return NewBadgerBackend("", WithInMemory())
		},
		"disk-zstd": func(t *testing.T) *BadgerBackend {
			return NewBadgerBackend(filepath.Join(t.TempDir(), "badger"), WithCompression(compress.Zstd))
		},
	}

	for name, factory := range factories {
		t.Run(name, func(tst *testing.T) {
			backendtest.RunConformanceSuite(tst, func(t *testing.T) backend.Storage {
				bb := factory(t)
				if err := bb.Open(t.Context()); err != nil {
					t.Fatalf("Open failed: %v", err)
				}
				t.Cleanup(func() { bb.Close(context.Background()) })

				return bb
			})
		})
	}
}

func TestConflictingCommit(t *testing.T) {
	ctx := t.Context()
	bb := NewBadgerBackend("", WithInMemory())
	if err := bb.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer bb.Close(context.Background())

	backendtest.WriteFile(t, bb, "/counter", []byte("0"))

	first, _ := bb.Begin(ctx)
	defer first.Close()
	second, _ := bb.Begin(ctx)
	defer second.Close()

	mode := data.AccessModeWrite | data.AccessModeTrunc | data.AccessModeCreate
	for _, tx := range []backend.Transaction{first, second} {
		// Without TRUNC the channel reads the committed value through the transaction.
		ch, err := tx.NewChannel(ctx, "/counter", data.NewFileMetadata(), mode&^data.AccessModeTrunc)
		if err != nil {
			t.Fatalf("NewChannel failed: %v", err)
		}
		ch.Truncate(0)
		ch.Write([]byte("1"))
		ch.Close()
	}

	if err := first.Commit(ctx); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}
	if err := second.Commit(ctx); !errors.Is(err, badgerdb.ErrConflict) {
		t.Errorf("expected ErrConflict for the second writer, got %v", err)
	}
}

func TestLoggerAdapter(t *testing.T) {
	var buf bytes.Buffer
	logger := &badgerLogger{logger: log.NewWriterLogger("cachefs", log.Debug, &buf).Named("badger")}

	logger.Warningf("value log %d discarded\n", 3)

	out := buf.String()
	if !strings.Contains(out, "[cachefs/badger] value log 3 discarded") {
		t.Errorf("unexpected adapter output %q", out)
	}
	if strings.Count(out, "\n") != 1 {
		t.Errorf("expected trailing newline to be trimmed, got %q", out)
	}
}

func TestClosedBackend(t *testing.T) {
	bb := NewBadgerBackend("", WithInMemory())
	if _, err := bb.Exists(t.Context(), "/"); !errors.Is(err, data.ErrClosed) {
		t.Errorf("expected ErrClosed before Open, got %v", err)
	}
}
