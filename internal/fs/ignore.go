package fs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ckpt-go/internal/ckpt"
)

// IgnoreFileName is the per-source ignore file read in addition to the
// configured patterns.
const IgnoreFileName = ".ckptignore"

// ignorePattern is a parsed ignore pattern with its matching strategy.
type ignorePattern struct {
	pattern   string
	matchPath bool // true = match against relative path; false = match against basename only
	absolute  bool // true = pattern is an absolute path prefix
}

// IgnoreMatcher checks directory paths against a set of ignore patterns.
// Patterns without '/' match against the basename only.
// Patterns with '/' match against the full relative path from the walk root.
// Absolute patterns match the directory itself and everything below it.
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
		if filepath.IsAbs(raw) {
			patterns = append(patterns, ignorePattern{
				pattern:  filepath.Clean(raw),
				absolute: true,
			})
			continue
		}
		patterns = append(patterns, ignorePattern{
			pattern:   strings.TrimSuffix(raw, "/"),
			matchPath: strings.Contains(strings.TrimSuffix(raw, "/"), "/"),
		})
	}
	return &IgnoreMatcher{patterns: patterns}
}

// Match reports whether the given path should be ignored.
// relativePath should use filepath separators and be relative to the walk root.
func (m *IgnoreMatcher) Match(relativePath, absPath string) bool {
	if len(m.patterns) == 0 {
		return false
	}

	// Normalize to forward slashes for consistent matching.
	normalized := filepath.ToSlash(relativePath)
	basename := filepath.Base(relativePath)

	for _, p := range m.patterns {
		if p.absolute {
			if absPath == "" {
				continue
			}
			abs := filepath.Clean(absPath)
			if abs == p.pattern || strings.HasPrefix(abs, p.pattern+string(filepath.Separator)) {
				return true
			}
			continue
		}
		if relativePath == "" {
			continue
		}
		var matched bool
		var err error
		if p.matchPath {
			matched, err = filepath.Match(p.pattern, normalized)
		} else {
			matched, err = filepath.Match(p.pattern, basename)
		}
		if err != nil {
			// Bad pattern, skip rather than crash.
			continue
		}
		if matched {
			return true
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

// LoadIgnoreMatcher combines the configured patterns with the ignore file of
// sourceRoot. Extra absolute paths (such as a backup root living inside the
// source) are always ignored.
func LoadIgnoreMatcher(configured []string, sourceRoot string, extra ...string) (*IgnoreMatcher, error) {
	fromFile, err := ParseIgnoreFile(filepath.Join(sourceRoot, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	patterns := make([]string, 0, len(configured)+len(fromFile)+len(extra))
	patterns = append(patterns, configured...)
	patterns = append(patterns, fromFile...)
	for _, p := range extra {
		if filepath.IsAbs(p) {
			patterns = append(patterns, p)
		}
	}
	return NewIgnoreMatcher(patterns), nil
}

var _ ckpt.Matcher = (*IgnoreMatcher)(nil)
