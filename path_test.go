package cachefs_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mwantia/cachefs"
	"github.com/mwantia/cachefs/backend/memory"
	"github.com/mwantia/cachefs/log"
)

func newTestFileSystem(tst *testing.T, opts ...cachefs.FileSystemOption) (*cachefs.Provider, *cachefs.FileSystem) {
	tst.Helper()

	provider, err := cachefs.NewProvider(cachefs.WithLogger(log.Discard()))
	if err != nil {
		tst.Fatalf("Failed to create provider: %v", err)
	}

	fs, err := provider.NewFileSystem(tst.Context(), "test", memory.NewMemoryBackend(), opts...)
	if err != nil {
		tst.Fatalf("Failed to mount: %v", err)
	}
	tst.Cleanup(func() { provider.Shutdown(context.Background()) })

	return provider, fs
}

func mustParse(tst *testing.T, fs *cachefs.FileSystem, path string, more ...string) cachefs.Path {
	tst.Helper()

	p, err := fs.Path(path, more...)
	if err != nil {
		tst.Fatalf("Path(%q) failed: %v", path, err)
	}
	return p
}

func TestParse(t *testing.T) {
	_, fs := newTestFileSystem(t)

	tests := []struct {
		first    string
		more     []string
		expected string
		absolute bool
		names    int
	}{
		{first: "/", expected: "/", absolute: true, names: 0},
		{first: "", expected: "", absolute: false, names: 0},
		{first: "/a/b", expected: "/a/b", absolute: true, names: 2},
		{first: "a//b/", expected: "a/b", absolute: false, names: 2},
		{first: "/reports", more: []string{"2024", "a.txt"}, expected: "/reports/2024/a.txt", absolute: true, names: 3},
		{first: "", more: []string{"a", "", "b"}, expected: "a/b", absolute: false, names: 2},
		{first: "/a/./../b", expected: "/a/./../b", absolute: true, names: 4},
	}

	for _, test := range tests {
		p, err := fs.Path(test.first, test.more...)
		if err != nil {
			t.Fatalf("Path(%q, %v) failed: %v", test.first, test.more, err)
		}
		if p.String() != test.expected {
			t.Errorf("Path(%q, %v) = %q, expected %q", test.first, test.more, p.String(), test.expected)
		}
		if p.IsAbsolute() != test.absolute {
			t.Errorf("Path(%q).IsAbsolute() = %v", test.first, p.IsAbsolute())
		}
		if p.NameCount() != test.names {
			t.Errorf("Path(%q).NameCount() = %d, expected %d", test.first, p.NameCount(), test.names)
		}
	}

	if _, err := fs.Path("/a\x00b"); !errors.Is(err, cachefs.ErrInvalidPath) {
		t.Errorf("expected ErrInvalidPath for NUL, got %v", err)
	}
	if !fs.EmptyPath().IsEmpty() {
		t.Errorf("expected empty path")
	}
}

func TestNormalize(t *testing.T) {
	_, fs := newTestFileSystem(t)

	tests := map[string]string{
		"/a/./b":        "/a/b",
		"/a/b/..":       "/a",
		"/..":           "/",
		"/../a/../../b": "/b",
		"a/..":          "",
		"../a":          "../a",
		"a/../../b":     "../b",
		"../../a/./b":   "../../a/b",
		"./a/b/../c":    "a/c",
	}

	for input, expected := range tests {
		p := mustParse(t, fs, input)
		normalized := p.Normalize()
		if normalized.String() != expected {
			t.Errorf("Normalize(%q) = %q, expected %q", input, normalized.String(), expected)
		}
		if !normalized.Normalize().Equal(normalized) {
			t.Errorf("Normalize(%q) is not idempotent", input)
		}

		reparsed := mustParse(t, fs, normalized.String())
		if !reparsed.Equal(normalized) {
			t.Errorf("Parse(%q) does not round-trip", normalized.String())
		}
	}
}

func TestResolve(t *testing.T) {
	_, fs := newTestFileSystem(t)

	tests := []struct {
		base     string
		other    string
		expected string
	}{
		{base: "/a", other: "b/c", expected: "/a/b/c"},
		{base: "/a", other: "/x", expected: "/x"},
		{base: "/a", other: "", expected: "/a"},
		{base: "", other: "b", expected: "b"},
		{base: "a", other: "../b", expected: "a/../b"},
	}

	for _, test := range tests {
		base := mustParse(t, fs, test.base)
		other := mustParse(t, fs, test.other)

		resolved := base.Resolve(other)
		if resolved.String() != test.expected {
			t.Errorf("Resolve(%q, %q) = %q, expected %q", test.base, test.other, resolved.String(), test.expected)
		}
		if !other.IsAbsolute() && !base.IsEmpty() && resolved.IsAbsolute() != base.IsAbsolute() {
			t.Errorf("Resolve(%q, %q) changed absoluteness", test.base, test.other)
		}
	}

	sibling := mustParse(t, fs, "/a/b").ResolveSibling(mustParse(t, fs, "c"))
	if sibling.String() != "/a/c" {
		t.Errorf("ResolveSibling = %q", sibling.String())
	}

	named, err := mustParse(t, fs, "/a").ResolveName("b/c")
	if err != nil || named.String() != "/a/b/c" {
		t.Errorf("ResolveName = %q, %v", named.String(), err)
	}
}

func TestRelativize(t *testing.T) {
	_, fs := newTestFileSystem(t)

	tests := []struct {
		a        string
		b        string
		expected string
	}{
		{a: "/a/b", b: "/a/b/c/d", expected: "c/d"},
		{a: "/a/b/c", b: "/a/x", expected: "../../x"},
		{a: "/a", b: "/a", expected: ""},
		{a: "/", b: "/x/y", expected: "x/y"},
		{a: "a/b", b: "a/c", expected: "../c"},
		{a: "/a/./b", b: "/a/c", expected: "../c"},
	}

	for _, test := range tests {
		a := mustParse(t, fs, test.a)
		b := mustParse(t, fs, test.b)

		rel, err := a.Relativize(b)
		if err != nil {
			t.Fatalf("Relativize(%q, %q) failed: %v", test.a, test.b, err)
		}
		if rel.String() != test.expected {
			t.Errorf("Relativize(%q, %q) = %q, expected %q", test.a, test.b, rel.String(), test.expected)
		}
		if back := a.Resolve(rel).Normalize(); !back.Equal(b.Normalize()) {
			t.Errorf("Resolve(Relativize(%q, %q)) = %q, expected %q", test.a, test.b, back.String(), b.Normalize().String())
		}
	}

	_, err := mustParse(t, fs, "/a").Relativize(mustParse(t, fs, "b"))
	if !errors.Is(err, cachefs.ErrInvalidPath) {
		t.Errorf("expected ErrInvalidPath for different roots, got %v", err)
	}

	for _, base := range []string{"../x", "a/../../x"} {
		_, err := mustParse(t, fs, base).Relativize(mustParse(t, fs, "y"))
		if !errors.Is(err, cachefs.ErrInvalidPath) {
			t.Errorf("expected ErrInvalidPath for base %q climbing above its start, got %v", base, err)
		}
	}
}

func TestAccessors(t *testing.T) {
	_, fs := newTestFileSystem(t)

	p := mustParse(t, fs, "/reports/2024/a.txt")
	if p.FileName().String() != "a.txt" {
		t.Errorf("FileName = %q", p.FileName().String())
	}
	if p.Parent().String() != "/reports/2024" {
		t.Errorf("Parent = %q", p.Parent().String())
	}
	if p.Root().String() != "/" {
		t.Errorf("Root = %q", p.Root().String())
	}
	if p.Name(1).String() != "2024" {
		t.Errorf("Name(1) = %q", p.Name(1).String())
	}
	if !mustParse(t, fs, "/reports").Parent().Equal(fs.PathService().Root()) {
		t.Errorf("expected root as parent of /reports")
	}
	if !mustParse(t, fs, "a").Parent().IsEmpty() {
		t.Errorf("expected no parent for a single relative name")
	}

	sub, err := p.Subpath(1, 3)
	if err != nil || sub.String() != "2024/a.txt" {
		t.Errorf("Subpath(1, 3) = %q, %v", sub.String(), err)
	}
	if _, err := p.Subpath(2, 2); !errors.Is(err, cachefs.ErrInvalid) {
		t.Errorf("expected ErrInvalid for empty subpath, got %v", err)
	}

	if !p.StartsWith(mustParse(t, fs, "/reports")) {
		t.Errorf("expected StartsWith(/reports)")
	}
	if p.StartsWith(mustParse(t, fs, "reports")) {
		t.Errorf("relative prefix must not match an absolute path")
	}
	if !p.EndsWith(mustParse(t, fs, "2024/a.txt")) {
		t.Errorf("expected EndsWith(2024/a.txt)")
	}
	if p.Key() != "/reports/2024/a.txt" {
		t.Errorf("Key = %q", p.Key())
	}
	if mustParse(t, fs, "x/../y").Key() != "/y" {
		t.Errorf("Key of relative path = %q", mustParse(t, fs, "x/../y").Key())
	}
	if !fs.WorkingDirectory().Equal(fs.PathService().Root()) {
		t.Errorf("expected root as working directory")
	}
}

func TestCompare(t *testing.T) {
	_, fs := newTestFileSystem(t)

	ordered := []string{"", "a", "a/b", "b", "/", "/a", "/a/b", "/b"}
	for i := 0; i < len(ordered)-1; i++ {
		a := mustParse(t, fs, ordered[i])
		b := mustParse(t, fs, ordered[i+1])
		if a.Compare(b) >= 0 || b.Compare(a) <= 0 {
			t.Errorf("expected %q < %q", ordered[i], ordered[i+1])
		}
	}
}

func TestCaseInsensitive(t *testing.T) {
	_, fs := newTestFileSystem(t, cachefs.CaseInsensitive(true))

	upper := mustParse(t, fs, "/Reports/A.TXT")
	lower := mustParse(t, fs, "/reports/a.txt")

	if !upper.Equal(lower) {
		t.Errorf("expected equal paths on a case-insensitive filesystem")
	}
	if upper.Compare(lower) == 0 {
		t.Errorf("compare must use the display form")
	}
	if upper.Key() != lower.Key() {
		t.Errorf("expected identical keys, got %q and %q", upper.Key(), lower.Key())
	}
	if upper.String() != "/Reports/A.TXT" {
		t.Errorf("display form was altered: %q", upper.String())
	}
}

func TestUnicodeNormalization(t *testing.T) {
	_, fs := newTestFileSystem(t)

	composed := mustParse(t, fs, "/caf\u00e9")
	decomposed := mustParse(t, fs, "/cafe\u0301")

	if !composed.Equal(decomposed) {
		t.Errorf("expected NFC equal names")
	}
	if composed.String() == decomposed.String() {
		t.Errorf("display forms should be kept as given")
	}
}

func TestToURI(t *testing.T) {
	provider, fs := newTestFileSystem(t)
	ctx := t.Context()

	dir := mustParse(t, fs, "/reports")
	if err := provider.CreateDirectory(ctx, dir); err != nil {
		t.Fatalf("CreateDirectory failed: %v", err)
	}
	file := mustParse(t, fs, "/reports/a b.txt")
	if err := provider.WriteFile(ctx, file, []byte("x")); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	uri, err := dir.ToURI(ctx)
	if err != nil {
		t.Fatalf("ToURI failed: %v", err)
	}
	if uri.String() != "cache://test/reports/" {
		t.Errorf("unexpected directory uri %q", uri.String())
	}

	uri, err = file.ToURI(ctx)
	if err != nil {
		t.Fatalf("ToURI failed: %v", err)
	}
	if uri.String() != "cache://test/reports/a%20b.txt" {
		t.Errorf("unexpected file uri %q", uri.String())
	}

	back, err := provider.Path(ctx, uri.String())
	if err != nil {
		t.Fatalf("Path(uri) failed: %v", err)
	}
	if !back.Equal(file) {
		t.Errorf("uri round-trip gave %q", back.String())
	}

	if _, err := mustParse(t, fs, "reports").ToURI(ctx); !errors.Is(err, cachefs.ErrInvalidPath) {
		t.Errorf("expected ErrInvalidPath for relative path, got %v", err)
	}
}

func TestPathMatcher(t *testing.T) {
	_, fs := newTestFileSystem(t)

	tests := []struct {
		pattern  string
		path     string
		expected bool
	}{
		{pattern: "glob:*.txt", path: "a.txt", expected: true},
		{pattern: "glob:*.txt", path: "a/b.txt", expected: false},
		{pattern: "glob:**/b.txt", path: "a/b.txt", expected: true},
		{pattern: "glob:/reports/*.{csv,txt}", path: "/reports/a.csv", expected: true},
		{pattern: "regex:^/reports/[0-9]+$", path: "/reports/2024", expected: true},
		{pattern: "REGEX:^a$", path: "b", expected: false},
	}

	for _, test := range tests {
		matcher, err := fs.PathMatcher(test.pattern)
		if err != nil {
			t.Fatalf("PathMatcher(%q) failed: %v", test.pattern, err)
		}
		if got := matcher.Matches(mustParse(t, fs, test.path)); got != test.expected {
			t.Errorf("PathMatcher(%q).Matches(%q) = %v, expected %v", test.pattern, test.path, got, test.expected)
		}
	}

	for _, pattern := range []string{"*.txt", "sql:x", "glob:{a,{b}}", "glob:{a", "regex:("} {
		if _, err := fs.PathMatcher(pattern); !errors.Is(err, cachefs.ErrInvalidPath) {
			t.Errorf("PathMatcher(%q): expected ErrInvalidPath, got %v", pattern, err)
		}
	}
}
