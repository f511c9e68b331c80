package resolve

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// SearchPathSet is the ordered, immutable list of roots searched for local
// modules. Order is significant: the first root holding a match wins.
type SearchPathSet struct {
	roots []string
}

// NewSearchPathSet builds the search roots from the parent directories of
// the entry points, then the explicit extra paths, then environment-derived
// paths. Roots are made absolute and duplicates keep their first position.
func NewSearchPathSet(entries, extra, env []string) (*SearchPathSet, error) {
	candidates := make([]string, 0, len(entries)+len(extra)+len(env))

	for _, entry := range entries {
		candidates = append(candidates, filepath.Dir(entry))
	}

	candidates = append(candidates, extra...)
	candidates = append(candidates, env...)

	roots := make([]string, 0, len(candidates))

	for _, candidate := range candidates {
		if strings.TrimSpace(candidate) == "" {
			continue
		}

		abs, err := filepath.Abs(candidate)
		if err != nil {
			return nil, fmt.Errorf("search path %q: %w", candidate, err)
		}

		if !slices.Contains(roots, abs) {
			roots = append(roots, abs)
		}
	}

	return &SearchPathSet{roots: roots}, nil
}

// Roots returns a copy of the ordered roots.
func (s *SearchPathSet) Roots() []string {
	return slices.Clone(s.roots)
}

// RootOf returns the first root containing path, or "" when none does.
func (s *SearchPathSet) RootOf(path string) string {
	for _, root := range s.roots {
		rel, err := filepath.Rel(root, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return root
		}
	}

	return ""
}

// EnvPaths splits the values of the named environment variables on the
// platform list separator, in variable order, dropping empty elements.
func EnvPaths(vars []string, getenv func(string) string) []string {
	if getenv == nil {
		getenv = os.Getenv
	}

	var out []string

	for _, name := range vars {
		for _, elem := range filepath.SplitList(getenv(name)) {
			if elem != "" {
				out = append(out, elem)
			}
		}
	}

	return out
}
