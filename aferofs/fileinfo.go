package aferofs

import (
	"io/fs"
	"time"

	"github.com/mwantia/cachefs"
)

const (
	dirMode  fs.FileMode = fs.ModeDir | 0755
	fileMode fs.FileMode = 0644
)

// fileInfo describes a file or directory through its basic attributes.
type fileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
	attrs   *cachefs.BasicAttributes
}

func newFileInfo(attrs *cachefs.BasicAttributes) *fileInfo {
	mode := fileMode
	if attrs.IsDirectory() {
		mode = dirMode
	}

	return &fileInfo{
		name:    attrs.Name,
		size:    attrs.Size,
		mode:    mode,
		modTime: attrs.LastModifiedTime,
		attrs:   attrs,
	}
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return fi.size }
func (fi *fileInfo) Mode() fs.FileMode  { return fi.mode }
func (fi *fileInfo) ModTime() time.Time { return fi.modTime }
func (fi *fileInfo) IsDir() bool        { return fi.mode.IsDir() }

// Sys returns the *cachefs.BasicAttributes, or nil for files that were
// never committed.
func (fi *fileInfo) Sys() any {
	if fi.attrs == nil {
		return nil
	}
	return fi.attrs
}
