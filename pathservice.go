package cachefs

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/mwantia/cachefs/glob"
)

// PathService creates and parses the paths of one FileSystem and implements
// the path algebra shared by all of them.
type PathService struct {
	fs              *FileSystem
	caseInsensitive bool
}

func newPathService(fs *FileSystem, caseInsensitive bool) *PathService {
	return &PathService{
		fs:              fs,
		caseInsensitive: caseInsensitive,
	}
}

// Name canonicalizes a single path segment for this filesystem.
func (ps *PathService) Name(display string) Name {
	return newName(display, ps.caseInsensitive)
}

func (ps *PathService) EmptyPath() Path {
	return newPath(ps.fs, emptyName, nil)
}

func (ps *PathService) Root() Path {
	return newPath(ps.fs, rootName, nil)
}

// Parse joins all non-empty segments with the separator and splits the result
// into names. A leading separator makes the path absolute.
func (ps *PathService) Parse(first string, more ...string) (Path, error) {
	segments := make([]string, 0, len(more)+1)
	for _, segment := range append([]string{first}, more...) {
		if segment != "" {
			segments = append(segments, segment)
		}
	}

	joined := strings.Join(segments, Separator)
	if strings.IndexByte(joined, 0) >= 0 {
		return Path{}, fmt.Errorf("%w: nul character in %q", ErrInvalidPath, joined)
	}

	root := emptyName
	if strings.HasPrefix(joined, Separator) {
		root = rootName
	}

	var names []Name
	for part := range strings.SplitSeq(joined, Separator) {
		if part == "" {
			continue
		}
		names = append(names, ps.Name(part))
	}

	return newPath(ps.fs, root, names), nil
}

func (ps *PathService) Resolve(base, other Path) Path {
	return resolvePath(base, other)
}

func (ps *PathService) Relativize(a, b Path) (Path, error) {
	return relativizePath(a, b)
}

func (ps *PathService) Normalize(p Path) Path {
	return normalizePath(p)
}

func (ps *PathService) Compare(a, b Path) int {
	return comparePaths(a, b)
}

// ToURI formats an absolute path as scheme://storeId/path. Directories get a
// trailing separator.
func (ps *PathService) ToURI(p Path, isDir bool) (*url.URL, error) {
	if !p.IsAbsolute() {
		return nil, fmt.Errorf("%w: uri of relative path %q", ErrInvalidPath, p.String())
	}

	path := normalizePath(p).String()
	if isDir && !strings.HasSuffix(path, Separator) {
		path += Separator
	}

	return &url.URL{
		Scheme: ps.fs.provider.Scheme(),
		Host:   ps.fs.storeID,
		Path:   path,
	}, nil
}

// PathMatcher compiles "glob:<pattern>" or "regex:<pattern>". Matching runs
// against the string form of a path.
func (ps *PathService) PathMatcher(syntaxAndPattern string) (PathMatcher, error) {
	syntax, pattern, found := strings.Cut(syntaxAndPattern, ":")
	if !found || syntax == "" {
		return nil, fmt.Errorf("%w: matcher %q must be syntax:pattern", ErrInvalidPath, syntaxAndPattern)
	}

	var expr string
	switch strings.ToLower(syntax) {
	case "glob":
		translated, err := glob.ToRegex(pattern)
		if err != nil {
			return nil, err
		}
		expr = translated
	case "regex":
		expr = pattern
	default:
		return nil, fmt.Errorf("%w: unknown matcher syntax %q", ErrInvalidPath, syntax)
	}

	if ps.caseInsensitive {
		expr = "(?i)" + expr
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	return &regexMatcher{re: re}, nil
}

// ToURI returns the URI of p. The storage is queried to decide whether a
// trailing separator is needed.
func (p Path) ToURI(ctx context.Context) (*url.URL, error) {
	if p.fs == nil {
		return nil, fmt.Errorf("%w: path without filesystem", ErrProviderMismatch)
	}
	if !p.IsAbsolute() {
		return nil, fmt.Errorf("%w: uri of relative path %q", ErrInvalidPath, p.String())
	}

	store, err := p.fs.store()
	if err != nil {
		return nil, err
	}

	isDir, err := store.IsDirectory(ctx, p.Key())
	if err != nil {
		return nil, err
	}

	return p.fs.paths.ToURI(p, isDir)
}

func resolvePath(base, other Path) Path {
	switch {
	case other.IsAbsolute():
		return other
	case other.IsEmpty():
		return base
	case base.IsEmpty():
		return other
	}

	names := make([]Name, 0, len(base.names)+len(other.names))
	names = append(names, base.names...)
	names = append(names, other.names...)

	return newPath(base.fs, base.root, names)
}

func relativizePath(a, b Path) (Path, error) {
	if a.fs != b.fs {
		return Path{}, fmt.Errorf("%w: paths of different filesystems", ErrProviderMismatch)
	}
	if !a.root.Equal(b.root) {
		return Path{}, fmt.Errorf("%w: cannot relativize %q against %q with a different root", ErrInvalidPath, b.String(), a.String())
	}

	a, b = normalizePath(a), normalizePath(b)

	common := 0
	for common < len(a.names) && common < len(b.names) && a.names[common].Equal(b.names[common]) {
		common++
	}

	names := make([]Name, 0, len(a.names)-common+len(b.names)-common)
	for _, name := range a.names[common:] {
		if name.IsParent() {
			return Path{}, fmt.Errorf("%w: cannot relativize %q against %q, the base climbs above its start", ErrInvalidPath, b.String(), a.String())
		}
		names = append(names, parentName)
	}
	names = append(names, b.names[common:]...)

	return newPath(a.fs, emptyName, names), nil
}

// normalizePath drops "." and folds "name/..". A ".." above an absolute root
// is dropped, while leading ".." of a relative path are kept.
func normalizePath(p Path) Path {
	names := make([]Name, 0, len(p.names))
	for _, name := range p.names {
		switch {
		case name.IsSelf():
			continue
		case name.IsParent():
			if len(names) > 0 && !names[len(names)-1].IsParent() {
				names = names[:len(names)-1]
				continue
			}
			if p.IsAbsolute() {
				continue
			}
		}
		names = append(names, name)
	}

	return newPath(p.fs, p.root, names)
}

func comparePaths(a, b Path) int {
	switch {
	case !a.IsAbsolute() && b.IsAbsolute():
		return -1
	case a.IsAbsolute() && !b.IsAbsolute():
		return 1
	}
	if c := strings.Compare(a.root.String(), b.root.String()); c != 0 {
		return c
	}

	for i := 0; i < len(a.names) && i < len(b.names); i++ {
		if c := strings.Compare(a.names[i].String(), b.names[i].String()); c != 0 {
			return c
		}
	}

	return len(a.names) - len(b.names)
}
