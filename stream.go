package cachefs

import (
	"context"
	"io"
	"sync"
)

// Writer streams the content of one path inside a transaction. Close commits
// it, Abort discards it.
type Writer struct {
	ctx    context.Context
	tx     *Transaction
	stream io.WriteCloser

	once sync.Once
	err  error
}

func newWriter(ctx context.Context, tx *Transaction, stream io.WriteCloser) *Writer {
	return &Writer{
		ctx:    ctx,
		tx:     tx,
		stream: stream,
	}
}

// Transaction returns the transaction the writer belongs to.
func (w *Writer) Transaction() *Transaction {
	return w.tx
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.stream.Write(p)
}

// Close commits the written content and adds the path to its parent listing.
func (w *Writer) Close() error {
	w.once.Do(func() {
		if err := w.stream.Close(); err != nil {
			w.tx.Rollback()
			w.err = err
			return
		}

		w.err = w.tx.Commit(w.ctx)
	})

	return w.err
}

// Abort discards the written content. Close is a no-op afterwards.
func (w *Writer) Abort() {
	w.once.Do(func() {
		if err := w.stream.Close(); err != nil {
			w.tx.warnClose(err)
		}
		w.tx.Rollback()
	})
}
