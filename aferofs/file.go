package aferofs

import (
	"errors"
	"io"
	"os"
	"slices"
	"time"

	"github.com/mwantia/cachefs"
	"github.com/spf13/afero"
)

var (
	_ afero.File = (*File)(nil)
	_ afero.File = (*Directory)(nil)
)

// File is a regular file opened through a channel. Writes become visible
// when the file is closed.
type File struct {
	fs   *Fs
	name string
	path cachefs.Path
	ch   *cachefs.Channel
}

func newFile(fs *Fs, name string, path cachefs.Path, ch *cachefs.Channel) *File {
	return &File{
		fs:   fs,
		name: name,
		path: path,
		ch:   ch,
	}
}

func (f *File) Name() string {
	return f.name
}

func (f *File) Read(p []byte) (int, error) {
	n, err := f.ch.Read(p)
	return n, f.wrap("read", err)
}

func (f *File) ReadAt(p []byte, off int64) (int, error) {
	n, err := f.ch.ReadAt(p, off)
	return n, f.wrap("read", err)
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	n, err := f.ch.Seek(offset, whence)
	return n, f.wrap("seek", err)
}

func (f *File) Write(p []byte) (int, error) {
	n, err := f.ch.Write(p)
	return n, f.wrap("write", err)
}

func (f *File) WriteAt(p []byte, off int64) (int, error) {
	n, err := f.ch.WriteAt(p, off)
	return n, f.wrap("write", err)
}

func (f *File) WriteString(s string) (int, error) {
	return f.Write([]byte(s))
}

func (f *File) Truncate(size int64) error {
	return f.wrap("truncate", f.ch.Truncate(size))
}

// Sync is a no-op, content is committed by Close.
func (f *File) Sync() error {
	return nil
}

// Close commits the written content of a writable file.
func (f *File) Close() error {
	return f.wrap("close", f.ch.Close())
}

func (f *File) Readdir(count int) ([]os.FileInfo, error) {
	return nil, pathError("readdir", f.name, cachefs.ErrNotDirectory)
}

func (f *File) Readdirnames(n int) ([]string, error) {
	return nil, pathError("readdirnames", f.name, cachefs.ErrNotDirectory)
}

// Stat reports the committed attributes with the size of the open content.
func (f *File) Stat() (os.FileInfo, error) {
	attrs, err := f.fs.provider.ReadAttributes(f.fs.ctx, f.path)
	if errors.Is(err, cachefs.ErrNotExist) {
		return &fileInfo{
			name:    f.path.FileName().String(),
			size:    f.ch.Size(),
			mode:    fileMode,
			modTime: time.Now(),
		}, nil
	}
	if err != nil {
		return nil, pathError("stat", f.name, err)
	}

	info := newFileInfo(attrs)
	info.size = f.ch.Size()
	return info, nil
}

func (f *File) wrap(op string, err error) error {
	if err == nil || err == io.EOF {
		return err
	}

	return pathError(op, f.name, err)
}

// Directory is an opened directory. Entries are read from a snapshot of the
// child list taken on the first Readdir call.
type Directory struct {
	fs    *Fs
	name  string
	path  cachefs.Path
	attrs *cachefs.BasicAttributes

	entries []cachefs.Path
	loaded  bool
}

func newDirectory(fs *Fs, name string, path cachefs.Path, attrs *cachefs.BasicAttributes) *Directory {
	return &Directory{
		fs:    fs,
		name:  name,
		path:  path,
		attrs: attrs,
	}
}

func (d *Directory) Name() string {
	return d.name
}

func (d *Directory) load() error {
	if d.loaded {
		return nil
	}

	ds, err := d.fs.provider.NewDirectoryStream(d.fs.ctx, d.path, nil)
	if err != nil {
		return pathError("readdir", d.name, err)
	}
	defer ds.Close()

	d.entries = ds.Collect()
	slices.SortFunc(d.entries, cachefs.Path.Compare)
	d.loaded = true
	return nil
}

// Readdir returns up to count entries, or all remaining entries when count <= 0.
func (d *Directory) Readdir(count int) ([]os.FileInfo, error) {
	if err := d.load(); err != nil {
		return nil, err
	}

	if count > 0 && len(d.entries) == 0 {
		return nil, io.EOF
	}

	infos := make([]os.FileInfo, 0, len(d.entries))
	for len(d.entries) > 0 && (count <= 0 || len(infos) < count) {
		entry := d.entries[0]
		d.entries = d.entries[1:]

		attrs, err := d.fs.provider.ReadAttributes(d.fs.ctx, entry)
		if errors.Is(err, cachefs.ErrNotExist) {
			continue
		}
		if err != nil {
			return infos, pathError("readdir", entry.String(), err)
		}
		infos = append(infos, newFileInfo(attrs))
	}

	return infos, nil
}

func (d *Directory) Readdirnames(n int) ([]string, error) {
	infos, err := d.Readdir(n)

	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
	}
	return names, err
}

func (d *Directory) Stat() (os.FileInfo, error) {
	return newFileInfo(d.attrs), nil
}

func (d *Directory) Close() error {
	d.entries = nil
	return nil
}

func (d *Directory) Sync() error {
	return nil
}

func (d *Directory) Read(p []byte) (int, error) {
	return 0, pathError("read", d.name, cachefs.ErrIsDirectory)
}

func (d *Directory) ReadAt(p []byte, off int64) (int, error) {
	return 0, pathError("read", d.name, cachefs.ErrIsDirectory)
}

func (d *Directory) Seek(offset int64, whence int) (int64, error) {
	return 0, pathError("seek", d.name, cachefs.ErrIsDirectory)
}

func (d *Directory) Write(p []byte) (int, error) {
	return 0, pathError("write", d.name, cachefs.ErrIsDirectory)
}

func (d *Directory) WriteAt(p []byte, off int64) (int, error) {
	return 0, pathError("write", d.name, cachefs.ErrIsDirectory)
}

func (d *Directory) WriteString(s string) (int, error) {
	return 0, pathError("write", d.name, cachefs.ErrIsDirectory)
}

func (d *Directory) Truncate(size int64) error {
	return pathError("truncate", d.name, cachefs.ErrIsDirectory)
}
