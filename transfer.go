package cachefs

import (
	"context"
	"io"
)

const defaultTransferBufferSize = 32 * 1024

// BinaryTransfer copies content between paths and plain io streams. Every
// write goes through a transaction that only commits after the copy completed.
type BinaryTransfer struct {
	provider   *Provider
	bufferSize int
}

// NewBinaryTransfer creates a transfer using bufferSize bytes per copy step.
// A bufferSize of zero selects 32KiB.
func NewBinaryTransfer(provider *Provider, bufferSize int) *BinaryTransfer {
	if bufferSize <= 0 {
		bufferSize = defaultTransferBufferSize
	}

	return &BinaryTransfer{
		provider:   provider,
		bufferSize: bufferSize,
	}
}

// Download writes the content of src to w.
func (bt *BinaryTransfer) Download(ctx context.Context, src Path, w io.Writer) (int64, error) {
	r, err := bt.provider.NewReader(ctx, src)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	return io.CopyBuffer(w, r, make([]byte, bt.bufferSize))
}

// Upload replaces the content of dst with everything read from r.
func (bt *BinaryTransfer) Upload(ctx context.Context, r io.Reader, dst Path) (int64, error) {
	w, err := bt.provider.NewWriter(ctx, dst)
	if err != nil {
		return 0, err
	}

	n, err := io.CopyBuffer(w, r, make([]byte, bt.bufferSize))
	if err != nil {
		w.Abort()
		return n, err
	}

	return n, w.Close()
}

// Transfer copies the content of src to dst. Both paths may belong to different filesystems.
func (bt *BinaryTransfer) Transfer(ctx context.Context, src, dst Path) (int64, error) {
	r, err := bt.provider.NewReader(ctx, src)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	return bt.Upload(ctx, r, dst)
}
