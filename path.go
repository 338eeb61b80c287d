package cachefs

import (
	"fmt"
	"strings"
)

// Separator is the only path separator understood by cachefs.
const Separator = "/"

// Path is an immutable, hierarchical path bound to the FileSystem that created it.
// A path is absolute iff it has a root. The path without root and names is the
// empty path.
type Path struct {
	fs    *FileSystem
	root  Name
	names []Name
}

func newPath(fs *FileSystem, root Name, names []Name) Path {
	if len(names) == 0 {
		names = nil
	}

	return Path{fs: fs, root: root, names: names}
}

// FileSystem returns the filesystem that created the path.
func (p Path) FileSystem() *FileSystem {
	return p.fs
}

func (p Path) IsAbsolute() bool {
	return !p.root.IsEmpty()
}

// IsEmpty reports whether p is the empty path.
func (p Path) IsEmpty() bool {
	return p.root.IsEmpty() && len(p.names) == 0
}

// Root returns the root component, or the empty path for relative paths.
func (p Path) Root() Path {
	return newPath(p.fs, p.root, nil)
}

// FileName returns the last name as a relative path, or the empty path if there is none.
func (p Path) FileName() Path {
	if len(p.names) == 0 {
		return newPath(p.fs, emptyName, nil)
	}

	return newPath(p.fs, emptyName, p.names[len(p.names)-1:])
}

// Parent returns the path without its last name. The root and single-name
// relative paths have no parent and return the empty path.
func (p Path) Parent() Path {
	switch {
	case len(p.names) == 0:
		return newPath(p.fs, emptyName, nil)
	case len(p.names) == 1 && !p.IsAbsolute():
		return newPath(p.fs, emptyName, nil)
	}

	return newPath(p.fs, p.root, p.names[:len(p.names)-1])
}

func (p Path) NameCount() int {
	return len(p.names)
}

// Name returns the name at index i, counted from the element closest to the root.
func (p Path) Name(i int) Name {
	return p.names[i]
}

// Names returns a copy of the name elements.
func (p Path) Names() []Name {
	names := make([]Name, len(p.names))
	copy(names, p.names)
	return names
}

// Subpath returns the relative path made of the names in [begin, end).
func (p Path) Subpath(begin, end int) (Path, error) {
	if begin < 0 || end > len(p.names) || begin >= end {
		return Path{}, fmt.Errorf("%w: subpath [%d, %d) of %d names", ErrInvalid, begin, end, len(p.names))
	}

	return newPath(p.fs, emptyName, p.names[begin:end]), nil
}

// StartsWith reports whether p begins with the root and names of other.
func (p Path) StartsWith(other Path) bool {
	if p.fs != other.fs || !p.root.Equal(other.root) {
		return false
	}
	if other.IsEmpty() {
		return p.IsEmpty()
	}
	if len(other.names) > len(p.names) {
		return false
	}

	return equalNames(p.names[:len(other.names)], other.names)
}

// EndsWith reports whether p ends with the names of other. An absolute other
// only matches an equal path.
func (p Path) EndsWith(other Path) bool {
	if p.fs != other.fs {
		return false
	}
	if other.IsAbsolute() {
		return p.Equal(other)
	}
	if other.IsEmpty() {
		return p.IsEmpty()
	}
	if len(other.names) > len(p.names) {
		return false
	}

	return equalNames(p.names[len(p.names)-len(other.names):], other.names)
}

func (p Path) Resolve(other Path) Path {
	return resolvePath(p, other)
}

// ResolveName parses name with the filesystem of p and resolves it against p.
func (p Path) ResolveName(name string) (Path, error) {
	other, err := p.fs.paths.Parse(name)
	if err != nil {
		return Path{}, err
	}

	return resolvePath(p, other), nil
}

// ResolveSibling resolves other against the parent of p.
func (p Path) ResolveSibling(other Path) Path {
	parent := p.Parent()
	if parent.IsEmpty() {
		return other
	}

	return resolvePath(parent, other)
}

func (p Path) Relativize(other Path) (Path, error) {
	return relativizePath(p, other)
}

func (p Path) Normalize() Path {
	return normalizePath(p)
}

// ToAbsolute resolves p against the root. There is no working directory.
func (p Path) ToAbsolute() Path {
	if p.IsAbsolute() {
		return p
	}

	return resolvePath(newPath(p.fs, rootName, nil), p)
}

// Key returns the canonical storage key of p, such as "/reports/a.txt".
func (p Path) Key() string {
	abs := p.ToAbsolute().Normalize()
	if len(abs.names) == 0 {
		return Separator
	}

	var sb strings.Builder
	for _, name := range abs.names {
		sb.WriteString(Separator)
		sb.WriteString(name.Canonical())
	}
	return sb.String()
}

// Equal compares the filesystem, root and names of both paths on canonical form.
func (p Path) Equal(other Path) bool {
	return p.fs == other.fs && p.root.Equal(other.root) && equalNames(p.names, other.names)
}

// Compare orders paths by root and then by the display form of their names.
// Two paths can compare unequal while Equal reports true.
func (p Path) Compare(other Path) int {
	return comparePaths(p, other)
}

func (p Path) String() string {
	displays := make([]string, len(p.names))
	for i, name := range p.names {
		displays[i] = name.String()
	}

	joined := strings.Join(displays, Separator)
	if p.IsAbsolute() {
		return Separator + joined
	}
	return joined
}

func equalNames(a, b []Name) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}

	return true
}
