package fs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFileName is the per-root ignore file read by the watcher.
const IgnoreFileName = ".ctignore"

// defaultIgnorePatterns are always applied regardless of config or .ctignore.
var defaultIgnorePatterns = []string{IgnoreFileName}

// ignorePattern is a parsed ignore pattern with its matching strategy.
type ignorePattern struct {
	pattern   string
	matchPath bool // true = match against relative path; false = match against each path component
}

// IgnoreMatcher checks watched paths against a set of ignore patterns.
// Patterns without '/' match any single component of the path, so ".git"
// ignores everything below a .git directory.
// Patterns with '/' match against the full relative path from the watch root.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings.
// Blank lines and lines starting with '#' are skipped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var patterns []ignorePattern
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		raw = strings.TrimSuffix(raw, "/")
		patterns = append(patterns, ignorePattern{
			pattern:   raw,
			matchPath: strings.Contains(raw, "/"),
		})
	}
	return &IgnoreMatcher{patterns: patterns}
}

// LoadIgnoreMatcher combines the default patterns, the configured patterns
// and the contents of root/.ctignore.
func LoadIgnoreMatcher(root string, configured []string) (*IgnoreMatcher, error) {
	fromFile, err := ParseIgnoreFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}

	raw := make([]string, 0, len(defaultIgnorePatterns)+len(configured)+len(fromFile))
	raw = append(raw, defaultIgnorePatterns...)
	raw = append(raw, configured...)
	raw = append(raw, fromFile...)
	return NewIgnoreMatcher(raw), nil
}

// Match reports whether the given relative path should be ignored.
// relativePath should use filepath separators and be relative to the watch root.
func (m *IgnoreMatcher) Match(relativePath string) bool {
	if len(m.patterns) == 0 || relativePath == "" {
		return false
	}

	// Normalize to forward slashes for consistent matching.
	normalized := filepath.ToSlash(relativePath)
	components := strings.Split(normalized, "/")

	for _, p := range m.patterns {
		if p.matchPath {
			if matched, err := filepath.Match(p.pattern, normalized); err == nil && matched {
				return true
			}
			continue
		}
		for _, c := range components {
			// Bad patterns never match.
			if matched, err := filepath.Match(p.pattern, c); err == nil && matched {
				return true
			}
		}
	}
	return false
}

// ParseIgnoreFile reads an ignore file and returns the raw pattern strings.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}
