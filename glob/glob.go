// Package glob translates shell-style glob patterns into anchored RE2 expressions.
package glob

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mwantia/cachefs/data"
)

const (
	separator      = '/'
	regexMetaChars = `.^$+{[]|()`
	globMetaChars  = `\*?[{`
)

// Error describes a malformed glob pattern and the index it was detected at.
type Error struct {
	Pattern string
	Index   int
	Reason  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s near index %d in '%s'", data.ErrInvalidPath, e.Reason, e.Index, e.Pattern)
}

func (e *Error) Unwrap() error {
	return data.ErrInvalidPath
}

func isRegexMeta(c byte) bool {
	return strings.IndexByte(regexMetaChars, c) >= 0
}

func isGlobMeta(c byte) bool {
	return strings.IndexByte(globMetaChars, c) >= 0
}

// ToRegex converts a glob pattern into an equivalent regular expression.
//
//	*      any run of characters excluding '/'
//	**     any run of characters including '/'
//	?      exactly one character other than '/'
//	[a-z]  character class, a leading '!' or '^' negates it
//	{a,b}  alternation, groups cannot be nested
//	\c     matches c literally
func ToRegex(pattern string) (string, error) {
	var sb strings.Builder
	sb.WriteByte('^')

	inGroup := false
	i := 0
	for i < len(pattern) {
		c := pattern[i]
		i++

		switch c {
		case '\\':
			if i == len(pattern) {
				return "", &Error{Pattern: pattern, Index: i - 1, Reason: "no character to escape"}
			}
			next := pattern[i]
			i++
			if isGlobMeta(next) || isRegexMeta(next) {
				sb.WriteByte('\\')
			}
			sb.WriteByte(next)

		case '/':
			sb.WriteByte(c)

		case '[':
			end, err := translateClass(&sb, pattern, i)
			if err != nil {
				return "", err
			}
			i = end

		case '{':
			if inGroup {
				return "", &Error{Pattern: pattern, Index: i - 1, Reason: "cannot nest groups"}
			}
			sb.WriteString("(?:(?:")
			inGroup = true

		case '}':
			if inGroup {
				sb.WriteString("))")
				inGroup = false
			} else {
				sb.WriteString(`\}`)
			}

		case ',':
			if inGroup {
				sb.WriteString(")|(?:")
			} else {
				sb.WriteByte(',')
			}

		case '*':
			if i < len(pattern) && pattern[i] == '*' {
				sb.WriteString(".*")
				i++
			} else {
				sb.WriteString("[^/]*")
			}

		case '?':
			sb.WriteString("[^/]")

		default:
			if isRegexMeta(c) {
				sb.WriteByte('\\')
			}
			sb.WriteByte(c)
		}
	}

	if inGroup {
		return "", &Error{Pattern: pattern, Index: len(pattern), Reason: "missing closing brace"}
	}

	sb.WriteByte('$')
	return sb.String(), nil
}

// translateClass writes the class opened at pattern[start-1] and returns the
// index just past its closing bracket.
func translateClass(sb *strings.Builder, pattern string, start int) (int, error) {
	i := start
	negate := false
	if i < len(pattern) && (pattern[i] == '!' || pattern[i] == '^') {
		negate = true
		i++
	}

	var members strings.Builder
	hasRangeStart := false
	var last byte
	closed := false
	for i < len(pattern) {
		c := pattern[i]
		i++

		if c == ']' && members.Len() > 0 {
			closed = true
			break
		}
		if c == separator {
			return 0, &Error{Pattern: pattern, Index: i - 1, Reason: "explicit separator in class"}
		}

		if c == '-' && hasRangeStart && i < len(pattern) && pattern[i] != ']' {
			hi := pattern[i]
			i++
			if hi < last {
				return 0, &Error{Pattern: pattern, Index: i - 3, Reason: "invalid range"}
			}
			if last < separator && hi > separator {
				return 0, &Error{Pattern: pattern, Index: i - 2, Reason: "explicit separator in class"}
			}
			members.WriteByte('-')
			writeClassChar(&members, hi)
			hasRangeStart = false
			continue
		}

		writeClassChar(&members, c)
		hasRangeStart = c != '-'
		last = c
	}

	if !closed {
		return 0, &Error{Pattern: pattern, Index: len(pattern), Reason: "missing ']'"}
	}

	if negate {
		sb.WriteString("[^/")
	} else {
		sb.WriteByte('[')
	}
	sb.WriteString(members.String())
	sb.WriteByte(']')
	return i, nil
}

func writeClassChar(sb *strings.Builder, c byte) {
	switch c {
	case '\\', '[', ']', '^', '-':
		sb.WriteByte('\\')
	}
	sb.WriteByte(c)
}

// Compile translates a glob and compiles it into a regular expression.
func Compile(pattern string) (*regexp.Regexp, error) {
	expr, err := ToRegex(pattern)
	if err != nil {
		return nil, err
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", data.ErrInvalidPath, err)
	}

	return re, nil
}
