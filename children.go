package cachefs

import (
	"context"
	"fmt"
	"slices"

	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/data"
)

// The helpers below rewrite the child list of a parent directory. The
// read-modify-write is not guarded; concurrent updates of the same parent can
// lose an entry.

func addChild(ctx context.Context, storage backend.Storage, parent Path, leaf Name) error {
	key := parent.Key()
	meta, err := storage.GetMetadata(ctx, key)
	if err != nil {
		return err
	}
	if !meta.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotDirectory, key)
	}
	if childIndex(parent.fs.paths, meta, leaf) >= 0 {
		return nil
	}

	return storage.PutMetadata(ctx, key, meta.WithChild(leaf.String()))
}

func removeChild(ctx context.Context, storage backend.Storage, parent Path, leaf Name) error {
	key := parent.Key()
	meta, err := storage.GetMetadata(ctx, key)
	if err != nil {
		return err
	}

	idx := childIndex(parent.fs.paths, meta, leaf)
	if idx < 0 {
		return nil
	}

	return storage.PutMetadata(ctx, key, meta.WithoutChild(meta.Children[idx]))
}

// childIndex finds leaf in the child list by canonical name.
func childIndex(paths *PathService, meta *data.Metadata, leaf Name) int {
	return slices.IndexFunc(meta.Children, func(child string) bool {
		return paths.Name(child).Equal(leaf)
	})
}

// checkParent fails unless parent exists and is a directory.
func checkParent(ctx context.Context, storage backend.Storage, parent Path) error {
	meta, err := storage.GetMetadata(ctx, parent.Key())
	if err != nil {
		return err
	}
	if !meta.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotDirectory, parent.Key())
	}

	return nil
}

// leafName returns the last name of a normalized, non-root path.
func leafName(p Path) Name {
	return p.names[len(p.names)-1]
}

func leafDisplay(p Path) string {
	if len(p.names) == 0 {
		return p.root.String()
	}

	return leafName(p).String()
}
