// Package glob selects remote paths with glob patterns. Matching always runs
// on absolute paths so that patterns and listed paths compare the same way no
// matter whether the server reports them with a leading slash.
package glob

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ToAbsolute prefixes p with "/" unless it already starts with one.
func ToAbsolute(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}

// Match reports whether path is selected by pattern. A malformed pattern
// matches nothing; use Validate to reject it up front.
func Match(path, pattern string) bool {
	ok, err := doublestar.Match(ToAbsolute(pattern), ToAbsolute(path))
	if err != nil {
		return false
	}
	return ok
}

// Validate returns an error for patterns that can never match.
func Validate(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("glob pattern is empty")
	}
	if !doublestar.ValidatePattern(ToAbsolute(pattern)) {
		return fmt.Errorf("malformed glob pattern %q", pattern)
	}
	return nil
}

// StaticPrefix returns the part of the absolute pattern in front of the first
// wildcard token.
func StaticPrefix(pattern string) string {
	p := ToAbsolute(pattern)
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case '\\':
			i++
		case '*', '?', '[', '{':
			return p[:i]
		}
	}
	return p
}

// IsLiteral reports whether pattern has no wildcard at all and therefore
// names exactly one file.
func IsLiteral(pattern string) bool {
	return StaticPrefix(pattern) == ToAbsolute(pattern)
}

// BaseDir returns the longest wildcard free directory of pattern, the root of
// the listing that is guaranteed to contain every match.
func BaseDir(pattern string) string {
	base, _ := doublestar.SplitPattern(ToAbsolute(pattern))
	if base == "" || base == "." {
		return "/"
	}
	return base
}

// Unescape removes glob escapes from a literal pattern, yielding the path it
// names.
func Unescape(pattern string) string {
	p := ToAbsolute(pattern)
	if !strings.Contains(p, `\`) {
		return p
	}
	var b strings.Builder
	for i := 0; i < len(p); i++ {
		if p[i] == '\\' && i+1 < len(p) {
			i++
		}
		b.WriteByte(p[i])
	}
	return b.String()
}
