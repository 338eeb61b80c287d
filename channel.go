package cachefs

import (
	"context"
	"fmt"
	"sync"

	"github.com/mwantia/cachefs/backend"
)

// Channel is a random-access byte channel on one path. Writable channels run
// inside a transaction that commits on Close.
type Channel struct {
	backend.Channel

	ctx      context.Context
	tx       *Transaction
	readOnly bool

	once sync.Once
	err  error
}

func newWriteChannel(ctx context.Context, tx *Transaction, inner backend.Channel) *Channel {
	return &Channel{
		Channel: inner,
		ctx:     ctx,
		tx:      tx,
	}
}

func newReadChannel(content []byte) *Channel {
	return &Channel{
		Channel:  backend.NewBuffer(content, false),
		readOnly: true,
	}
}

// Transaction returns the transaction of a writable channel, or nil.
func (c *Channel) Transaction() *Transaction {
	return c.tx
}

func (c *Channel) IsReadOnly() bool {
	return c.readOnly
}

func (c *Channel) Write(p []byte) (int, error) {
	if c.readOnly {
		return 0, errReadOnlyChannel
	}

	return c.Channel.Write(p)
}

func (c *Channel) WriteAt(p []byte, off int64) (int, error) {
	if c.readOnly {
		return 0, errReadOnlyChannel
	}

	return c.Channel.WriteAt(p, off)
}

func (c *Channel) Truncate(size int64) error {
	if c.readOnly {
		return errReadOnlyChannel
	}

	return c.Channel.Truncate(size)
}

// Close commits the transaction of a writable channel.
func (c *Channel) Close() error {
	c.once.Do(func() {
		if err := c.Channel.Close(); err != nil {
			if c.tx != nil {
				c.tx.Rollback()
			}
			c.err = err
			return
		}

		if c.tx != nil {
			c.err = c.tx.Commit(c.ctx)
		}
	})

	return c.err
}

// Abort discards every write of the channel. Close is a no-op afterwards.
func (c *Channel) Abort() {
	c.once.Do(func() {
		err := c.Channel.Close()
		if c.tx != nil {
			if err != nil {
				c.tx.warnClose(err)
			}
			c.tx.Rollback()
		}
	})
}

var errReadOnlyChannel = fmt.Errorf("%w: channel is read-only", ErrUnsupported)
