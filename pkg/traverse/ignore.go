package traverse

import (
	"fmt"
	"path/filepath"
	"strings"
)

// IgnoreSet matches files excluded from traversal. A pattern matches a file
// equal to it, any file beneath it, or, when it holds glob metacharacters,
// any file whose absolute path or base name matches the glob.
type IgnoreSet struct {
	prefixes []string
	globs    []string
}

// NewIgnoreSet builds an IgnoreSet from paths or glob patterns.
func NewIgnoreSet(patterns []string) (*IgnoreSet, error) {
	set := &IgnoreSet{}

	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}

		if strings.ContainsAny(pattern, "*?[") {
			if _, err := filepath.Match(pattern, ""); err != nil {
				return nil, fmt.Errorf("ignore pattern %q: %w", pattern, err)
			}

			if !filepath.IsAbs(pattern) && strings.ContainsRune(pattern, filepath.Separator) {
				abs, err := filepath.Abs(pattern)
				if err != nil {
					return nil, fmt.Errorf("ignore pattern %q: %w", pattern, err)
				}

				pattern = abs
			}

			set.globs = append(set.globs, pattern)

			continue
		}

		abs, err := filepath.Abs(pattern)
		if err != nil {
			return nil, fmt.Errorf("ignore path %q: %w", pattern, err)
		}

		set.prefixes = append(set.prefixes, abs)
	}

	return set, nil
}

// Match reports whether the absolute file path is ignored.
func (s *IgnoreSet) Match(path string) bool {
	if s == nil {
		return false
	}

	for _, prefix := range s.prefixes {
		if path == prefix || strings.HasPrefix(path, prefix+string(filepath.Separator)) {
			return true
		}
	}

	base := filepath.Base(path)

	for _, glob := range s.globs {
		if ok, _ := filepath.Match(glob, path); ok { //nolint:errcheck // patterns validated in NewIgnoreSet
			return true
		}

		if ok, _ := filepath.Match(glob, base); ok { //nolint:errcheck // patterns validated in NewIgnoreSet
			return true
		}
	}

	return false
}
