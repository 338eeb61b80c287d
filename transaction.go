package cachefs

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/data"
	"github.com/mwantia/cachefs/log"
)

// TransactionKind tells how a Transaction exposes its destination.
type TransactionKind int

const (
	TransactionStream TransactionKind = iota
	TransactionChannel
)

func (k TransactionKind) String() string {
	switch k {
	case TransactionStream:
		return "stream"
	case TransactionChannel:
		return "channel"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// txGuard owns the storage transaction. It is kept apart from Transaction so
// the runtime cleanup can close it after the Transaction is unreachable.
type txGuard struct {
	once    sync.Once
	tx      backend.Transaction
	log     *log.Logger
	counter *atomic.Int64
}

func (g *txGuard) release(abandoned bool) {
	g.once.Do(func() {
		g.counter.Add(-1)

		if abandoned {
			g.log.Warn("Transaction: %s was abandoned without commit, rolling back", g.tx.ID())
		}
		if err := g.tx.Close(); err != nil {
			g.log.Warn("Transaction: failed to close %s - %v", g.tx.ID(), err)
		}
	})
}

// Transaction writes a single path. Its content and the parent listing
// become visible together when Commit returns. A Transaction cannot be reused.
type Transaction struct {
	kind   TransactionKind
	fs     *FileSystem
	path   Path
	parent Path
	leaf   Name
	meta   *data.Metadata

	guard   *txGuard
	cleanup runtime.Cleanup
	done    atomic.Bool
}

func newTransaction(ctx context.Context, fs *FileSystem, storage backend.Storage, path Path, meta *data.Metadata, kind TransactionKind) (*Transaction, error) {
	path = path.ToAbsolute().Normalize()
	if path.NameCount() == 0 {
		return nil, fmt.Errorf("%w: cannot write the root directory", ErrIsDirectory)
	}

	tx, err := storage.Begin(ctx)
	if err != nil {
		return nil, err
	}

	fs.provider.openTransactions.Add(1)

	t := &Transaction{
		kind:   kind,
		fs:     fs,
		path:   path,
		parent: path.Parent(),
		leaf:   path.Name(path.NameCount() - 1),
		meta:   meta,
		guard: &txGuard{
			tx:      tx,
			log:     fs.log,
			counter: &fs.provider.openTransactions,
		},
	}
	t.cleanup = runtime.AddCleanup(t, func(guard *txGuard) {
		guard.release(true)
	}, t.guard)

	fs.log.Debug("Transaction: began %s %s for %s", kind, tx.ID(), path.Key())
	return t, nil
}

func (t *Transaction) ID() string {
	return t.guard.tx.ID()
}

func (t *Transaction) Kind() TransactionKind {
	return t.kind
}

// Path returns the destination of the transaction.
func (t *Transaction) Path() Path {
	return t.path
}

// OpenWriter opens a stream that replaces the destination content.
func (t *Transaction) OpenWriter(ctx context.Context) (io.WriteCloser, error) {
	w, err := t.guard.tx.NewWriter(ctx, t.path.Key(), t.meta)
	if err != nil {
		t.release()
		return nil, err
	}

	return w, nil
}

// OpenChannel opens a random-access channel on the destination.
func (t *Transaction) OpenChannel(ctx context.Context, mode data.AccessMode) (backend.Channel, error) {
	ch, err := t.guard.tx.NewChannel(ctx, t.path.Key(), t.meta, mode)
	if err != nil {
		t.release()
		return nil, err
	}

	return ch, nil
}

// Commit makes the content visible and adds the destination to its parent
// listing. The transaction is released whether or not Commit succeeds.
func (t *Transaction) Commit(ctx context.Context) error {
	if !t.done.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", ErrTxFinished, t.ID())
	}
	defer t.release()

	outcome := "failed"
	defer func() {
		t.fs.provider.observeTransaction(t.fs.storeID, t.kind, outcome)
	}()

	if err := t.guard.tx.Commit(ctx); err != nil {
		t.fs.log.Error("Transaction: failed to commit %s for %s - %v", t.ID(), t.path.Key(), err)
		return err
	}

	storage, err := t.fs.store()
	if err != nil {
		return err
	}
	if err := addChild(ctx, storage, t.parent, t.leaf); err != nil {
		return err
	}

	outcome = "committed"
	t.fs.log.Debug("Transaction: committed %s for %s", t.ID(), t.path.Key())
	return nil
}

// warnClose logs a stream or channel that failed to close while being discarded.
func (t *Transaction) warnClose(err error) {
	t.fs.log.Warn("Transaction: failed to close the %s of %s - %v", t.kind, t.path.Key(), err)
}

// Rollback discards every staged write. It is a no-op after Commit.
func (t *Transaction) Rollback() {
	if t.done.CompareAndSwap(false, true) {
		t.fs.provider.observeTransaction(t.fs.storeID, t.kind, "rolled_back")
	}
	t.release()
}

func (t *Transaction) release() {
	t.cleanup.Stop()
	t.guard.release(false)
}
