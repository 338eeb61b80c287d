package cachefs

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/data"
	"github.com/mwantia/cachefs/log"
	"golang.org/x/sync/singleflight"
)

// Provider is the registry of mounted filesystems and the entry point for
// every file operation. After each mutation it updates the child list of the
// affected parent directories.
type Provider struct {
	mu          sync.Mutex
	filesystems map[string]*FileSystem
	mounts      singleflight.Group

	options          *ProviderOptions
	log              *log.Logger
	openTransactions atomic.Int64
}

func NewProvider(opts ...ProviderOption) (*Provider, error) {
	options := newDefaultProviderOptions()
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}

	logger := options.Logger
	if logger == nil {
		logger = log.NewLogger("cachefs", options.LogLevel, options.LogFile, options.NoTerminalLog)
	}

	return &Provider{
		filesystems: make(map[string]*FileSystem),
		options:     options,
		log:         logger,
	}, nil
}

// Scheme returns the URI scheme handled by this provider.
func (p *Provider) Scheme() string {
	return p.options.Scheme
}

// OpenTransactions returns the number of transactions that were neither
// committed nor rolled back yet.
func (p *Provider) OpenTransactions() int64 {
	return p.openTransactions.Load()
}

// NewFileSystem mounts storage under storeID. The storage must not be opened
// yet. Fails with ErrAlreadyExists if storeID is taken.
func (p *Provider) NewFileSystem(ctx context.Context, storeID string, storage backend.Storage, opts ...FileSystemOption) (*FileSystem, error) {
	if storeID == "" {
		return nil, fmt.Errorf("%w: empty store id", ErrInvalid)
	}
	if _, exists := p.Lookup(storeID); exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, storeID)
	}

	return p.mount(ctx, storeID, storage, opts)
}

func (p *Provider) mount(ctx context.Context, storeID string, storage backend.Storage, opts []FileSystemOption) (*FileSystem, error) {
	options := &FileSystemOptions{CaseInsensitive: p.options.CaseInsensitive}
	for _, opt := range opts {
		opt(options)
	}

	fs, err := newFileSystem(ctx, p, storeID, storage, options)
	if err != nil {
		return nil, err
	}

	if err := p.register(fs); err != nil {
		if cerr := storage.Close(ctx); cerr != nil {
			p.log.Warn("Mount: failed to close storage of duplicate %s - %v", storeID, cerr)
		}
		return nil, err
	}

	p.log.Info("Mount: mounted %s using '%s'", storeID, storage.Name())
	return fs, nil
}

func (p *Provider) register(fs *FileSystem) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.filesystems[fs.storeID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, fs.storeID)
	}
	p.filesystems[fs.storeID] = fs

	if p.options.Observer != nil {
		p.options.Observer.ObserveMounts(len(p.filesystems))
	}
	return nil
}

func (p *Provider) unregister(fs *FileSystem) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.filesystems[fs.storeID] == fs {
		delete(p.filesystems, fs.storeID)
		p.log.Info("Unmount: removed %s", fs.storeID)
	}

	if p.options.Observer != nil {
		p.options.Observer.ObserveMounts(len(p.filesystems))
	}
}

// Lookup returns the filesystem mounted under storeID.
func (p *Provider) Lookup(storeID string) (*FileSystem, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fs, exists := p.filesystems[storeID]
	return fs, exists
}

// FileSystems returns every mounted filesystem ordered by store id.
func (p *Provider) FileSystems() []*FileSystem {
	p.mu.Lock()
	list := make([]*FileSystem, 0, len(p.filesystems))
	for _, fs := range p.filesystems {
		list = append(list, fs)
	}
	p.mu.Unlock()

	slices.SortFunc(list, func(a, b *FileSystem) int {
		return cmp.Compare(a.storeID, b.storeID)
	})
	return list
}

// GetFileSystem returns the filesystem named by the authority of uri. With
// create set, a missing filesystem is mounted through the storage factory.
// Concurrent mounts of the same store id share a single bootstrap.
func (p *Provider) GetFileSystem(ctx context.Context, uri string, create bool) (*FileSystem, error) {
	u, err := p.parseURI(uri)
	if err != nil {
		return nil, err
	}

	return p.fileSystem(ctx, u.Host, create)
}

func (p *Provider) fileSystem(ctx context.Context, storeID string, create bool) (*FileSystem, error) {
	if fs, exists := p.Lookup(storeID); exists {
		return fs, nil
	}
	if !create || p.options.StorageFactory == nil {
		return nil, fmt.Errorf("%w: %s", ErrFileSystemNotFound, storeID)
	}

	result, err, _ := p.mounts.Do(storeID, func() (any, error) {
		if fs, exists := p.Lookup(storeID); exists {
			return fs, nil
		}

		storage, err := p.options.StorageFactory(ctx, storeID)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage for %s: %w", storeID, err)
		}

		return p.mount(ctx, storeID, storage, nil)
	})
	if err != nil {
		return nil, err
	}

	return result.(*FileSystem), nil
}

// Path converts a URI such as cache://store/a/b into a path, mounting the
// store lazily if needed.
func (p *Provider) Path(ctx context.Context, uri string) (Path, error) {
	u, err := p.parseURI(uri)
	if err != nil {
		return Path{}, err
	}

	fs, err := p.fileSystem(ctx, u.Host, true)
	if err != nil {
		return Path{}, err
	}

	if u.Path == "" {
		return fs.paths.Root(), nil
	}
	return fs.paths.Parse(u.Path)
}

func (p *Provider) parseURI(uri string) (*url.URL, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if !strings.EqualFold(u.Scheme, p.options.Scheme) {
		return nil, fmt.Errorf("%w: scheme %q is not %q", ErrProviderMismatch, u.Scheme, p.options.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing store id in %q", ErrInvalidPath, uri)
	}

	return u, nil
}

// Shutdown closes every mounted filesystem.
func (p *Provider) Shutdown(ctx context.Context) error {
	errs := &data.Errors{}
	for _, fs := range p.FileSystems() {
		errs.Add(fs.Close(ctx))
	}

	if open := p.OpenTransactions(); open > 0 {
		p.log.Warn("Shutdown: %d transactions are still open", open)
	}
	return errs.Errors()
}

// resolve checks that path belongs to this provider and returns its open storage.
func (p *Provider) resolve(path Path) (*FileSystem, backend.Storage, error) {
	if path.fs == nil || path.fs.provider != p {
		return nil, nil, fmt.Errorf("%w: %q", ErrProviderMismatch, path.String())
	}

	storage, err := path.fs.store()
	if err != nil {
		return nil, nil, err
	}

	return path.fs, storage, nil
}

func (p *Provider) observe(path Path, operation string, start time.Time, err error) {
	if p.options.Observer == nil || path.fs == nil {
		return
	}

	p.options.Observer.ObserveOperation(path.fs.storeID, operation, time.Since(start), err)
}

func (p *Provider) observeTransaction(storeID string, kind TransactionKind, outcome string) {
	if p.options.Observer == nil {
		return
	}

	p.options.Observer.ObserveTransaction(storeID, kind.String(), outcome)
}

func (p *Provider) CreateDirectory(ctx context.Context, dir Path) (err error) {
	start := time.Now()
	defer func() { p.observe(dir, "create_directory", start, err) }()

	fs, storage, err := p.resolve(dir)
	if err != nil {
		return err
	}

	dir = dir.ToAbsolute().Normalize()
	if dir.NameCount() == 0 {
		return fmt.Errorf("%w: %s", ErrExist, dir.Key())
	}
	if err := checkParent(ctx, storage, dir.Parent()); err != nil {
		return err
	}

	if err := storage.CreateDirectory(ctx, dir.Key(), data.NewDirectoryMetadata()); err != nil {
		return err
	}

	fs.log.Debug("CreateDirectory: created %s", dir.Key())
	return addChild(ctx, storage, dir.Parent(), leafName(dir))
}

// Delete removes a file or an empty directory.
func (p *Provider) Delete(ctx context.Context, path Path) (err error) {
	start := time.Now()
	defer func() { p.observe(path, "delete", start, err) }()

	return p.delete(ctx, path)
}

// DeleteIfExists behaves like Delete but reports false instead of ErrNotExist.
func (p *Provider) DeleteIfExists(ctx context.Context, path Path) (bool, error) {
	err := p.Delete(ctx, path)
	if errors.Is(err, ErrNotExist) {
		return false, nil
	}

	return err == nil, err
}

func (p *Provider) delete(ctx context.Context, path Path) error {
	fs, storage, err := p.resolve(path)
	if err != nil {
		return err
	}

	path = path.ToAbsolute().Normalize()
	if path.NameCount() == 0 {
		return fmt.Errorf("%w: cannot delete the root directory", ErrInvalid)
	}

	meta, err := storage.GetMetadata(ctx, path.Key())
	if err != nil {
		return err
	}
	if meta.IsDir() && len(meta.Children) > 0 {
		return fmt.Errorf("%w: %s", ErrDirectoryNotEmpty, path.Key())
	}

	if err := storage.Delete(ctx, path.Key()); err != nil {
		return err
	}

	fs.log.Debug("Delete: removed %s", path.Key())
	return removeChild(ctx, storage, path.Parent(), leafName(path))
}

// Copy duplicates src at dst. Directories are copied without their entries.
func (p *Provider) Copy(ctx context.Context, src, dst Path, opts ...CopyOption) (err error) {
	start := time.Now()
	defer func() { p.observe(src, "copy", start, err) }()

	return p.copy(ctx, src, dst, newCopyOptions(opts))
}

func (p *Provider) copy(ctx context.Context, src, dst Path, options *CopyOptions) error {
	srcFS, srcStorage, err := p.resolve(src)
	if err != nil {
		return err
	}
	dstFS, dstStorage, err := p.resolve(dst)
	if err != nil {
		return err
	}

	src, dst = src.ToAbsolute().Normalize(), dst.ToAbsolute().Normalize()
	if srcFS == dstFS && src.Key() == dst.Key() {
		return nil
	}

	srcMeta, err := srcStorage.GetMetadata(ctx, src.Key())
	if err != nil {
		return err
	}
	if err := p.prepareTarget(ctx, dstStorage, dst, options); err != nil {
		return err
	}

	if srcFS != dstFS {
		// The replaced entry keeps its place in the parent listing.
		if err := dstStorage.Delete(ctx, dst.Key()); err != nil && !errors.Is(err, ErrNotExist) {
			return err
		}
	}

	switch {
	case srcFS == dstFS:
		err = srcStorage.Copy(ctx, src.Key(), dst.Key())
	case srcMeta.IsDir():
		err = dstStorage.CreateDirectory(ctx, dst.Key(), data.NewDirectoryMetadata())
	default:
		_, err = NewBinaryTransfer(p, 0).Transfer(ctx, src, dst)
	}
	if err != nil {
		return err
	}

	dstFS.log.Debug("Copy: copied %s:%s to %s", srcFS.storeID, src.Key(), dst.Key())
	return addChild(ctx, dstStorage, dst.Parent(), leafName(dst))
}

// Move renames src to dst together with everything below it. Across
// filesystems only files and empty directories can be moved.
func (p *Provider) Move(ctx context.Context, src, dst Path, opts ...CopyOption) (err error) {
	start := time.Now()
	defer func() { p.observe(src, "move", start, err) }()

	options := newCopyOptions(opts)

	srcFS, storage, err := p.resolve(src)
	if err != nil {
		return err
	}
	if _, _, err := p.resolve(dst); err != nil {
		return err
	}

	src, dst = src.ToAbsolute().Normalize(), dst.ToAbsolute().Normalize()
	if src.NameCount() == 0 {
		return fmt.Errorf("%w: cannot move the root directory", ErrInvalid)
	}

	srcMeta, err := storage.GetMetadata(ctx, src.Key())
	if err != nil {
		return err
	}

	if srcFS != dst.fs {
		if srcMeta.IsDir() && len(srcMeta.Children) > 0 {
			return fmt.Errorf("%w: %s", ErrDirectoryNotEmpty, src.Key())
		}
		if err := p.copy(ctx, src, dst, options); err != nil {
			return err
		}
		if err := p.delete(ctx, src); err != nil {
			if _, rerr := p.DeleteIfExists(ctx, dst); rerr != nil {
				return errors.Join(err, rerr)
			}
			return err
		}
		return nil
	}

	if src.Key() == dst.Key() {
		// Only the display form of the name changes.
		if err := removeChild(ctx, storage, src.Parent(), leafName(src)); err != nil {
			return err
		}
		return addChild(ctx, storage, dst.Parent(), leafName(dst))
	}

	if err := p.prepareTarget(ctx, storage, dst, options); err != nil {
		return err
	}

	if err := storage.Rename(ctx, src.Key(), dst.Key()); err != nil {
		return err
	}

	srcFS.log.Debug("Move: renamed %s to %s", src.Key(), dst.Key())
	if err := removeChild(ctx, storage, src.Parent(), leafName(src)); err != nil {
		return err
	}
	return addChild(ctx, storage, dst.Parent(), leafName(dst))
}

// prepareTarget checks the parent of dst and whether dst may be replaced.
func (p *Provider) prepareTarget(ctx context.Context, storage backend.Storage, dst Path, options *CopyOptions) error {
	if dst.NameCount() == 0 {
		return fmt.Errorf("%w: cannot replace the root directory", ErrInvalid)
	}
	if err := checkParent(ctx, storage, dst.Parent()); err != nil {
		return err
	}

	meta, err := storage.GetMetadata(ctx, dst.Key())
	if errors.Is(err, ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	if !options.ReplaceExisting {
		return fmt.Errorf("%w: %s", ErrExist, dst.Key())
	}
	if meta.IsDir() && len(meta.Children) > 0 {
		return fmt.Errorf("%w: %s", ErrDirectoryNotEmpty, dst.Key())
	}

	return nil
}

// NewWriter opens a stream that replaces the content of path. Nothing is
// visible to readers before the returned Writer is closed.
func (p *Provider) NewWriter(ctx context.Context, path Path) (w *Writer, err error) {
	start := time.Now()
	defer func() { p.observe(path, "new_writer", start, err) }()

	tx, err := p.begin(ctx, path, TransactionStream)
	if err != nil {
		return nil, err
	}

	stream, err := tx.OpenWriter(ctx)
	if err != nil {
		return nil, err
	}

	return newWriter(ctx, tx, stream), nil
}

// NewChannel opens a random-access channel on path. Read-only channels see
// the committed content, every other mode writes through a transaction that
// commits on Close.
func (p *Provider) NewChannel(ctx context.Context, path Path, mode data.AccessMode) (ch *Channel, err error) {
	start := time.Now()
	defer func() { p.observe(path, "new_channel", start, err) }()

	if mode.IsReadOnly() {
		content, err := p.readFile(ctx, path)
		if err != nil {
			return nil, err
		}
		return newReadChannel(content), nil
	}

	tx, err := p.begin(ctx, path, TransactionChannel)
	if err != nil {
		return nil, err
	}

	inner, err := tx.OpenChannel(ctx, mode)
	if err != nil {
		return nil, err
	}

	return newWriteChannel(ctx, tx, inner), nil
}

func (p *Provider) begin(ctx context.Context, path Path, kind TransactionKind) (*Transaction, error) {
	fs, storage, err := p.resolve(path)
	if err != nil {
		return nil, err
	}

	path = path.ToAbsolute().Normalize()
	if path.NameCount() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrIsDirectory, path.Key())
	}
	if err := checkParent(ctx, storage, path.Parent()); err != nil {
		return nil, err
	}

	meta, err := storage.GetMetadata(ctx, path.Key())
	switch {
	case errors.Is(err, ErrNotExist):
		meta = data.NewFileMetadata()
	case err != nil:
		return nil, err
	case meta.IsDir():
		return nil, fmt.Errorf("%w: %s", ErrIsDirectory, path.Key())
	}

	return newTransaction(ctx, fs, storage, path, meta, kind)
}

// NewReader opens the committed content of path.
func (p *Provider) NewReader(ctx context.Context, path Path) (r io.ReadCloser, err error) {
	start := time.Now()
	defer func() { p.observe(path, "new_reader", start, err) }()

	_, storage, err := p.resolve(path)
	if err != nil {
		return nil, err
	}

	return storage.OpenReader(ctx, path.Key())
}

func (p *Provider) ReadFile(ctx context.Context, path Path) ([]byte, error) {
	return p.readFile(ctx, path)
}

func (p *Provider) readFile(ctx context.Context, path Path) ([]byte, error) {
	r, err := p.NewReader(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}

// WriteFile replaces the content of path in a single transaction.
func (p *Provider) WriteFile(ctx context.Context, path Path, content []byte) error {
	w, err := p.NewWriter(ctx, path)
	if err != nil {
		return err
	}

	if _, err := w.Write(content); err != nil {
		w.Abort()
		return err
	}

	return w.Close()
}

// NewDirectoryStream lists the recorded children of dir that pass filter.
// A nil filter accepts every entry.
func (p *Provider) NewDirectoryStream(ctx context.Context, dir Path, filter DirectoryFilter) (ds *DirectoryStream, err error) {
	start := time.Now()
	defer func() { p.observe(dir, "list", start, err) }()

	_, storage, err := p.resolve(dir)
	if err != nil {
		return nil, err
	}

	meta, err := storage.GetMetadata(ctx, dir.Key())
	if err != nil {
		return nil, err
	}
	if !meta.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, dir.Key())
	}

	return newDirectoryStream(dir, meta.Children, filter), nil
}

// ReadAttributes queries the storage for the basic attributes of path.
func (p *Provider) ReadAttributes(ctx context.Context, path Path) (attrs *BasicAttributes, err error) {
	start := time.Now()
	defer func() { p.observe(path, "read_attributes", start, err) }()

	fs, storage, err := p.resolve(path)
	if err != nil {
		return nil, err
	}

	key := path.Key()
	meta, err := storage.GetMetadata(ctx, key)
	if err != nil {
		return nil, err
	}
	modified, err := storage.LastModified(ctx, key)
	if err != nil {
		return nil, err
	}
	size, err := storage.Length(ctx, key)
	if err != nil {
		return nil, err
	}

	return &BasicAttributes{
		Name:             leafDisplay(path),
		Directory:        meta.IsDir(),
		CreationTime:     meta.CreateTime,
		LastModifiedTime: modified,
		LastAccessTime:   modified,
		Size:             size,
		FileKey:          fs.storeID + ":" + key,
	}, nil
}

// ReadAttributesView reads the named attribute view. Only "basic" is supported.
func (p *Provider) ReadAttributesView(ctx context.Context, path Path, view string) (*BasicAttributes, error) {
	if view != BasicAttributeView {
		return nil, fmt.Errorf("%w: attribute view %q", ErrUnsupported, view)
	}

	return p.ReadAttributes(ctx, path)
}

// ReadAttributeMap is not supported.
func (p *Provider) ReadAttributeMap(ctx context.Context, path Path, attributes string) (map[string]any, error) {
	return nil, fmt.Errorf("%w: attribute maps", ErrUnsupported)
}

// SetAttribute is not supported.
func (p *Provider) SetAttribute(ctx context.Context, path Path, attribute string, value any) error {
	return fmt.Errorf("%w: setting attribute %q", ErrUnsupported, attribute)
}

// FileStore is not supported.
func (p *Provider) FileStore(path Path) (string, error) {
	return "", fmt.Errorf("%w: file stores", ErrUnsupported)
}

// IsSameFile reports whether a and b address the same entry.
func (p *Provider) IsSameFile(a, b Path) (bool, error) {
	if a.Equal(b) {
		return true, nil
	}
	if a.fs == nil || a.fs.provider != p || b.fs == nil || b.fs.provider != p {
		return false, fmt.Errorf("%w: %q, %q", ErrProviderMismatch, a.String(), b.String())
	}
	if a.fs.storeID != b.fs.storeID {
		return false, nil
	}

	return a.Key() == b.Key(), nil
}

// IsHidden reports whether the file name of path starts with a dot.
func (p *Provider) IsHidden(path Path) bool {
	name := leafDisplay(path)
	return name != "." && name != ".." && strings.HasPrefix(name, ".")
}

// CheckAccess fails with ErrNotExist if path does not exist. Permissions are not enforced.
func (p *Provider) CheckAccess(ctx context.Context, path Path) error {
	exists, err := p.Exists(ctx, path)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotExist, path.Key())
	}

	return nil
}

func (p *Provider) Exists(ctx context.Context, path Path) (bool, error) {
	_, storage, err := p.resolve(path)
	if err != nil {
		return false, err
	}

	return storage.Exists(ctx, path.Key())
}
