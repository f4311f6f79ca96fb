package detect

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MatchPath reports whether a source pattern matches a file path.
//
// Patterns are doublestar globs: `**` crosses directories (including
// zero), `*` and `?` never cross a separator. Matching is anchored at
// the end of the path, so a pattern may ignore any leading directory
// prefix (`src/**/*.py` matches `/repo/src/main/a.py`).
func MatchPath(pattern, path string) bool {
	p := strings.TrimPrefix(filepath.ToSlash(path), "/")
	pattern = filepath.ToSlash(pattern)

	if ok, err := doublestar.Match(pattern, p); err == nil && ok {
		return true
	}
	if strings.HasPrefix(pattern, "**/") {
		return false
	}
	ok, err := doublestar.Match("**/"+pattern, p)
	return err == nil && ok
}

// MatchAny reports whether any pattern matches the path.
func MatchAny(patterns []string, path string) bool {
	for _, pattern := range patterns {
		if MatchPath(pattern, path) {
			return true
		}
	}
	return false
}
