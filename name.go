package cachefs

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Name is a single path segment. Display is kept exactly as given, while
// equality only considers the canonical form.
type Name struct {
	display   string
	canonical string
}

var (
	emptyName  = Name{}
	selfName   = Name{display: ".", canonical: "."}
	parentName = Name{display: "..", canonical: ".."}
	rootName   = Name{display: "/", canonical: "/"}
)

// newName canonicalizes display into Unicode NFC and, for case-insensitive
// filesystems, additionally folds its case.
func newName(display string, caseInsensitive bool) Name {
	switch display {
	case "":
		return emptyName
	case ".":
		return selfName
	case "..":
		return parentName
	}

	canonical := norm.NFC.String(display)
	if caseInsensitive {
		// A Caser keeps state and must not be shared between goroutines.
		canonical = cases.Fold().String(canonical)
	}

	return Name{display: display, canonical: canonical}
}

func (n Name) String() string {
	return n.display
}

// Canonical returns the form used for equality and storage keys.
func (n Name) Canonical() string {
	return n.canonical
}

func (n Name) Equal(other Name) bool {
	return n.canonical == other.canonical
}

func (n Name) IsEmpty() bool {
	return n.canonical == ""
}

func (n Name) IsSelf() bool {
	return n == selfName
}

func (n Name) IsParent() bool {
	return n == parentName
}
