package cachefs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/data"
	"github.com/mwantia/cachefs/log"
)

// FileSystem is one mounted store. It owns its storage exclusively.
type FileSystem struct {
	mu      sync.RWMutex
	storage backend.Storage
	open    bool

	provider  *Provider
	storeID   string
	paths     *PathService
	log       *log.Logger
	mountTime time.Time
}

// newFileSystem opens storage and creates the root directory if it is missing.
// The filesystem is not registered with the provider.
func newFileSystem(ctx context.Context, provider *Provider, storeID string, storage backend.Storage, options *FileSystemOptions) (*FileSystem, error) {
	fs := &FileSystem{
		storage:   storage,
		open:      true,
		provider:  provider,
		storeID:   storeID,
		log:       provider.log.Named(storeID),
		mountTime: time.Now(),
	}
	fs.paths = newPathService(fs, options.CaseInsensitive)

	if err := storage.Open(ctx); err != nil {
		return nil, fmt.Errorf("failed to open storage '%s' for %s: %w", storage.Name(), storeID, err)
	}

	if err := fs.bootstrap(ctx); err != nil {
		if cerr := storage.Close(ctx); cerr != nil {
			fs.log.Warn("Mount: failed to close storage after bootstrap error - %v", cerr)
		}
		return nil, err
	}

	fs.log.Debug("Mount: opened storage '%s' (case-insensitive=%v)", storage.Name(), options.CaseInsensitive)
	return fs, nil
}

func (fs *FileSystem) bootstrap(ctx context.Context) error {
	err := fs.storage.CreateDirectory(ctx, backend.RootKey, data.NewDirectoryMetadata())
	if errors.Is(err, data.ErrExist) {
		isDir, err := fs.storage.IsDirectory(ctx, backend.RootKey)
		if err != nil {
			return err
		}
		if !isDir {
			return fmt.Errorf("%w: root of %s", ErrNotDirectory, fs.storeID)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create root directory of %s: %w", fs.storeID, err)
	}

	fs.log.Info("Mount: created root directory for %s", fs.storeID)
	return nil
}

// store returns the storage handle or ErrClosed.
func (fs *FileSystem) store() (backend.Storage, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if !fs.open {
		return nil, fmt.Errorf("%w: filesystem %s", ErrClosed, fs.storeID)
	}

	return fs.storage, nil
}

// Close closes the storage and removes the filesystem from its provider.
// Calling Close more than once is a no-op.
func (fs *FileSystem) Close(ctx context.Context) error {
	fs.mu.Lock()
	if !fs.open {
		fs.mu.Unlock()
		return nil
	}
	storage := fs.storage
	fs.storage = nil
	fs.open = false
	fs.mu.Unlock()

	fs.provider.unregister(fs)

	if err := storage.Close(ctx); err != nil {
		return fmt.Errorf("failed to close storage of %s: %w", fs.storeID, err)
	}

	fs.log.Debug("Close: closed filesystem")
	return nil
}

func (fs *FileSystem) StoreID() string {
	return fs.storeID
}

func (fs *FileSystem) Provider() *Provider {
	return fs.provider
}

func (fs *FileSystem) MountTime() time.Time {
	return fs.mountTime
}

func (fs *FileSystem) IsOpen() bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	return fs.open
}

// IsReadOnly is always false, cachefs has no read-only mounts.
func (fs *FileSystem) IsReadOnly() bool {
	return false
}

func (fs *FileSystem) CaseInsensitive() bool {
	return fs.paths.caseInsensitive
}

func (fs *FileSystem) Separator() string {
	return Separator
}

// Capabilities returns the capabilities of the underlying storage.
func (fs *FileSystem) Capabilities() (*backend.BackendCapabilities, error) {
	store, err := fs.store()
	if err != nil {
		return nil, err
	}

	return store.GetCapabilities(), nil
}

// RootDirectories returns the single root of the filesystem.
func (fs *FileSystem) RootDirectories() []Path {
	return []Path{fs.paths.Root()}
}

// WorkingDirectory is always the root.
func (fs *FileSystem) WorkingDirectory() Path {
	return fs.paths.Root()
}

func (fs *FileSystem) PathService() *PathService {
	return fs.paths
}

// Path parses a path with this filesystem. See PathService.Parse.
func (fs *FileSystem) Path(first string, more ...string) (Path, error) {
	return fs.paths.Parse(first, more...)
}

func (fs *FileSystem) EmptyPath() Path {
	return fs.paths.EmptyPath()
}

func (fs *FileSystem) PathMatcher(syntaxAndPattern string) (PathMatcher, error) {
	return fs.paths.PathMatcher(syntaxAndPattern)
}

// SupportedAttributeViews lists the attribute views ReadAttributesView accepts.
func (fs *FileSystem) SupportedAttributeViews() []string {
	return []string{BasicAttributeView}
}

// FileStores is not supported.
func (fs *FileSystem) FileStores() ([]string, error) {
	return nil, fmt.Errorf("%w: file stores", ErrUnsupported)
}
