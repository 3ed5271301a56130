package archive

import (
	"path/filepath"
	"strings"
)

// defaultExcludePatterns are never shared into the repo artifact: the local
// status cache, editor backups, and OS droppings.
var defaultExcludePatterns = []string{
	"book.status",
	"*.bak",
	"*.tmp",
	".DS_Store",
	"Thumbs.db",
}

// excludePattern is a parsed exclusion pattern with its matching strategy.
type excludePattern struct {
	pattern   string
	matchPath bool // true = match against relative path; false = match against basename only
}

// ExcludeMatcher checks book-folder paths against exclusion patterns.
// Patterns without '/' match against the file's basename only; patterns
// with '/' match against the full path relative to the book folder.
type ExcludeMatcher struct {
	patterns []excludePattern
}

// NewExcludeMatcher creates a matcher from the default patterns plus any
// extras. Blank entries and entries starting with '#' are skipped.
func NewExcludeMatcher(extra []string) *ExcludeMatcher {
	var patterns []excludePattern
	for _, raw := range append(append([]string{}, defaultExcludePatterns...), extra...) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		patterns = append(patterns, excludePattern{
			pattern:   raw,
			matchPath: strings.Contains(raw, "/"),
		})
	}
	return &ExcludeMatcher{patterns: patterns}
}

// Match reports whether the given path (relative to the book folder) should
// be left out of the shared artifact.
func (m *ExcludeMatcher) Match(relativePath string) bool {
	normalized := filepath.ToSlash(relativePath)
	basename := filepath.Base(relativePath)

	for _, p := range m.patterns {
		var matched bool
		var err error
		if p.matchPath {
			matched, err = filepath.Match(p.pattern, normalized)
		} else {
			matched, err = filepath.Match(p.pattern, basename)
		}
		if err != nil {
			// Bad pattern — skip rather than crash.
			continue
		}
		if matched {
			return true
		}
	}
	return false
}
