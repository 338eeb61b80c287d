package aferofs

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"syscall"
	"time"

	"github.com/mwantia/cachefs"
	"github.com/mwantia/cachefs/data"
	"github.com/spf13/afero"
)

var _ afero.Fs = (*Fs)(nil)

// Fs exposes one mounted cachefs filesystem as an afero.Fs. Every call runs
// with the context given to New. Permissions and ownership are not stored.
type Fs struct {
	ctx      context.Context
	provider *cachefs.Provider
	fs       *cachefs.FileSystem
}

func New(ctx context.Context, filesystem *cachefs.FileSystem) *Fs {
	return &Fs{
		ctx:      ctx,
		provider: filesystem.Provider(),
		fs:       filesystem,
	}
}

func (f *Fs) Name() string {
	return "CacheFS"
}

// path parses name relative to the root of the filesystem.
func (f *Fs) path(name string) (cachefs.Path, error) {
	p, err := f.fs.Path(name)
	if err != nil {
		return cachefs.Path{}, err
	}

	return p.ToAbsolute().Normalize(), nil
}

func (f *Fs) Create(name string) (afero.File, error) {
	return f.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

func (f *Fs) Mkdir(name string, perm os.FileMode) error {
	p, err := f.path(name)
	if err != nil {
		return pathError("mkdir", name, err)
	}

	return pathError("mkdir", name, f.provider.CreateDirectory(f.ctx, p))
}

func (f *Fs) MkdirAll(name string, perm os.FileMode) error {
	p, err := f.path(name)
	if err != nil {
		return pathError("mkdir", name, err)
	}

	root := p.Root()
	for i := 1; i <= p.NameCount(); i++ {
		sub, err := p.Subpath(0, i)
		if err != nil {
			return pathError("mkdir", name, err)
		}

		dir := root.Resolve(sub)
		err = f.provider.CreateDirectory(f.ctx, dir)
		if errors.Is(err, cachefs.ErrExist) {
			attrs, serr := f.provider.ReadAttributes(f.ctx, dir)
			if serr != nil {
				return pathError("mkdir", dir.String(), serr)
			}
			if !attrs.IsDirectory() {
				return pathError("mkdir", dir.String(), cachefs.ErrNotDirectory)
			}
			continue
		}
		if err != nil {
			return pathError("mkdir", dir.String(), err)
		}
	}

	return nil
}

func (f *Fs) Open(name string) (afero.File, error) {
	return f.OpenFile(name, os.O_RDONLY, 0)
}

func (f *Fs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	p, err := f.path(name)
	if err != nil {
		return nil, pathError("open", name, err)
	}

	mode := accessMode(flag)
	if mode.IsReadOnly() {
		attrs, err := f.provider.ReadAttributes(f.ctx, p)
		if err != nil {
			return nil, pathError("open", name, err)
		}
		if attrs.IsDirectory() {
			return newDirectory(f, name, p, attrs), nil
		}
	}

	ch, err := f.provider.NewChannel(f.ctx, p, mode)
	if err != nil {
		return nil, pathError("open", name, err)
	}

	return newFile(f, name, p, ch), nil
}

func (f *Fs) Remove(name string) error {
	p, err := f.path(name)
	if err != nil {
		return pathError("remove", name, err)
	}

	return pathError("remove", name, f.provider.Delete(f.ctx, p))
}

// RemoveAll deletes name and everything below it. A missing path is not an error.
func (f *Fs) RemoveAll(name string) error {
	p, err := f.path(name)
	if err != nil {
		return pathError("removeall", name, err)
	}

	return pathError("removeall", name, f.removeAll(p))
}

func (f *Fs) removeAll(p cachefs.Path) error {
	attrs, err := f.provider.ReadAttributes(f.ctx, p)
	if errors.Is(err, cachefs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	if attrs.IsDirectory() {
		ds, err := f.provider.NewDirectoryStream(f.ctx, p, nil)
		if err != nil {
			return err
		}
		children := ds.Collect()
		ds.Close()

		for _, child := range children {
			if err := f.removeAll(child); err != nil {
				return err
			}
		}
	}

	if p.NameCount() == 0 {
		return nil
	}

	_, err = f.provider.DeleteIfExists(f.ctx, p)
	return err
}

// Rename moves oldname to newname, replacing a file or empty directory at newname.
func (f *Fs) Rename(oldname, newname string) error {
	src, err := f.path(oldname)
	if err != nil {
		return linkError("rename", oldname, newname, err)
	}
	dst, err := f.path(newname)
	if err != nil {
		return linkError("rename", oldname, newname, err)
	}

	if err := f.provider.Move(f.ctx, src, dst, cachefs.ReplaceExisting()); err != nil {
		return linkError("rename", oldname, newname, err)
	}
	return nil
}

func (f *Fs) Stat(name string) (os.FileInfo, error) {
	p, err := f.path(name)
	if err != nil {
		return nil, pathError("stat", name, err)
	}

	attrs, err := f.provider.ReadAttributes(f.ctx, p)
	if err != nil {
		return nil, pathError("stat", name, err)
	}

	return newFileInfo(attrs), nil
}

func (f *Fs) Chmod(name string, mode os.FileMode) error {
	return pathError("chmod", name, cachefs.ErrUnsupported)
}

func (f *Fs) Chown(name string, uid, gid int) error {
	return pathError("chown", name, cachefs.ErrUnsupported)
}

func (f *Fs) Chtimes(name string, atime time.Time, mtime time.Time) error {
	return pathError("chtimes", name, cachefs.ErrUnsupported)
}

// accessMode converts os.OpenFile flags.
func accessMode(flag int) data.AccessMode {
	var mode data.AccessMode

	switch flag & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR) {
	case os.O_WRONLY:
		mode = data.AccessModeWrite
	case os.O_RDWR:
		mode = data.AccessModeRead | data.AccessModeWrite
	default:
		mode = data.AccessModeRead
	}

	if flag&os.O_APPEND != 0 {
		mode |= data.AccessModeAppend
	}
	if flag&os.O_CREATE != 0 {
		mode |= data.AccessModeCreate
	}
	if flag&os.O_TRUNC != 0 {
		mode |= data.AccessModeTrunc
	}
	if flag&os.O_EXCL != 0 {
		mode |= data.AccessModeExcl
	}

	return mode
}

func pathError(op, name string, err error) error {
	if err == nil {
		return nil
	}

	return &fs.PathError{Op: op, Path: name, Err: translate(err)}
}

func linkError(op, oldname, newname string, err error) error {
	return &os.LinkError{Op: op, Old: oldname, New: newname, Err: translate(err)}
}

// translate maps cachefs errors onto the io/fs and syscall errors the os
// package returns, so os.IsNotExist and friends keep working.
func translate(err error) error {
	switch {
	case errors.Is(err, cachefs.ErrNotExist):
		return fs.ErrNotExist
	case errors.Is(err, cachefs.ErrExist), errors.Is(err, cachefs.ErrAlreadyExists):
		return fs.ErrExist
	case errors.Is(err, cachefs.ErrClosed):
		return fs.ErrClosed
	case errors.Is(err, cachefs.ErrInvalidPath), errors.Is(err, cachefs.ErrInvalid):
		return fs.ErrInvalid
	case errors.Is(err, cachefs.ErrUnsupported):
		return errors.ErrUnsupported
	case errors.Is(err, cachefs.ErrIsDirectory):
		return syscall.EISDIR
	case errors.Is(err, cachefs.ErrNotDirectory):
		return syscall.ENOTDIR
	case errors.Is(err, cachefs.ErrDirectoryNotEmpty):
		return syscall.ENOTEMPTY
	default:
		return err
	}
}
