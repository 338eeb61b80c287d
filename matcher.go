package cachefs

import "regexp"

// PathMatcher reports whether a path matches a compiled pattern.
type PathMatcher interface {
	Matches(p Path) bool
}

type regexMatcher struct {
	re *regexp.Regexp
}

func (m *regexMatcher) Matches(p Path) bool {
	return m.re.MatchString(p.String())
}

// PathMatcherFunc adapts a plain function to a PathMatcher.
type PathMatcherFunc func(p Path) bool

func (f PathMatcherFunc) Matches(p Path) bool {
	return f(p)
}
