package cachefs

import (
	"iter"
	"slices"
	"sync"
)

// DirectoryFilter decides whether an entry is returned by a DirectoryStream.
type DirectoryFilter func(entry Path) bool

// AcceptAll is a DirectoryFilter that accepts every entry.
func AcceptAll(Path) bool {
	return true
}

// MatcherFilter returns a DirectoryFilter that accepts entries matching m.
func MatcherFilter(m PathMatcher) DirectoryFilter {
	return m.Matches
}

// DirectoryStream lazily iterates the children recorded for a directory when
// the stream was opened. Entries are resolved against the directory path.
type DirectoryStream struct {
	mu       sync.Mutex
	dir      Path
	children []string
	filter   DirectoryFilter
	next     int
	closed   bool
}

func newDirectoryStream(dir Path, children []string, filter DirectoryFilter) *DirectoryStream {
	if filter == nil {
		filter = AcceptAll
	}

	return &DirectoryStream{
		dir:      dir,
		children: slices.Clone(children),
		filter:   filter,
	}
}

// Next returns the next accepted entry. It returns false once the stream is
// exhausted or closed.
func (ds *DirectoryStream) Next() (Path, bool) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	for !ds.closed && ds.next < len(ds.children) {
		child := ds.children[ds.next]
		ds.next++

		name := ds.dir.fs.paths.Name(child)
		entry := resolvePath(ds.dir, newPath(ds.dir.fs, emptyName, []Name{name}))
		if ds.filter(entry) {
			return entry, true
		}
	}

	return Path{}, false
}

// All yields the remaining accepted entries.
func (ds *DirectoryStream) All() iter.Seq[Path] {
	return func(yield func(Path) bool) {
		for {
			entry, ok := ds.Next()
			if !ok || !yield(entry) {
				return
			}
		}
	}
}

// Collect drains the stream into a slice.
func (ds *DirectoryStream) Collect() []Path {
	return slices.Collect(ds.All())
}

func (ds *DirectoryStream) Close() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	ds.closed = true
	ds.children = nil
	return nil
}
