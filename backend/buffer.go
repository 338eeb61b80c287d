package backend

import (
	"fmt"
	"io"
	"sync"

	"github.com/mwantia/cachefs/data"
)

// Buffer is an in-memory Channel used to stage content until a transaction commits.
type Buffer struct {
	mu         sync.Mutex
	data       []byte
	pos        int64
	appendMode bool
	closed     bool

	onClose func() error
}

// NewBuffer creates a buffer that starts with a copy of initial.
// In append mode every Write is positioned at the current end.
func NewBuffer(initial []byte, appendMode bool) *Buffer {
	buf := &Buffer{
		data:       make([]byte, len(initial)),
		appendMode: appendMode,
	}
	copy(buf.data, initial)

	return buf
}

// OnClose registers a hook that runs once when the buffer is closed.
func (b *Buffer) OnClose(hook func() error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.onClose = hook
}

func (b *Buffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, data.ErrClosed
	}
	if b.pos >= int64(len(b.data)) {
		return 0, io.EOF
	}

	n := copy(p, b.data[b.pos:])
	b.pos += int64(n)
	return n, nil
}

func (b *Buffer) ReadAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, data.ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset", data.ErrInvalid)
	}
	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}

	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, data.ErrClosed
	}
	if b.appendMode {
		b.pos = int64(len(b.data))
	}

	n := b.writeAt(p, b.pos)
	b.pos += int64(n)
	return n, nil
}

func (b *Buffer) WriteAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, data.ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset", data.ErrInvalid)
	}

	return b.writeAt(p, off), nil
}

func (b *Buffer) writeAt(p []byte, off int64) int {
	end := off + int64(len(p))
	if end > int64(len(b.data)) {
		if end > int64(cap(b.data)) {
			grown := make([]byte, end, max(end, 2*int64(cap(b.data))))
			copy(grown, b.data)
			b.data = grown
		} else {
			// Zero the gap between the old end and off.
			old := len(b.data)
			b.data = b.data[:end]
			clear(b.data[old:end])
		}
	}

	return copy(b.data[off:], p)
}

func (b *Buffer) Seek(offset int64, whence int) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, data.ErrClosed
	}

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = b.pos + offset
	case io.SeekEnd:
		abs = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("%w: invalid whence %d", data.ErrInvalid, whence)
	}

	if abs < 0 {
		return 0, fmt.Errorf("%w: negative position", data.ErrInvalid)
	}

	b.pos = abs
	return abs, nil
}

func (b *Buffer) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return int64(len(b.data))
}

func (b *Buffer) Truncate(size int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return data.ErrClosed
	}
	if size < 0 {
		return fmt.Errorf("%w: negative size", data.ErrInvalid)
	}

	if size < int64(len(b.data)) {
		b.data = b.data[:size]
	} else if size > int64(len(b.data)) {
		b.writeAt(nil, size)
	}

	if b.pos > size {
		b.pos = size
	}
	return nil
}

// Bytes returns a copy of the buffered content.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Closed reports whether Close was called.
func (b *Buffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.closed
}

func (b *Buffer) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	hook := b.onClose
	b.mu.Unlock()

	if hook != nil {
		return hook()
	}
	return nil
}
