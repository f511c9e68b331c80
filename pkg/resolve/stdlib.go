package resolve

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

//go:embed stdlib_modules.txt
var embeddedStdlib string

// Directory names under a stdlib root that never denote stdlib modules.
var stdlibSkipDirs = map[string]bool{
	"__pycache__":   true,
	"site-packages": true,
	"dist-packages": true,
}

const dynloadDir = "lib-dynload"

// StdlibSnapshot is the immutable set of top-level standard-library module
// names for one run. It is built once and then only read.
type StdlibSnapshot struct {
	names map[string]struct{}
}

// NewStdlibSnapshot returns the embedded CPython module list plus extra names.
func NewStdlibSnapshot(extra ...string) *StdlibSnapshot {
	names := make(map[string]struct{}, len(extra)+512) //nolint:mnd // embedded list holds ~300 names

	for line := range strings.SplitSeq(embeddedStdlib, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		names[line] = struct{}{}
	}

	for _, name := range extra {
		if name != "" {
			names[name] = struct{}{}
		}
	}

	return &StdlibSnapshot{names: names}
}

// LoadStdlibSnapshot extends the embedded list with the top-level modules
// found in an interpreter's stdlib directory. An empty dir yields the
// embedded list alone.
func LoadStdlibSnapshot(dir string) (*StdlibSnapshot, error) {
	if dir == "" {
		return NewStdlibSnapshot(), nil
	}

	names, err := scanStdlibDir(dir)
	if err != nil {
		return nil, err
	}

	return NewStdlibSnapshot(names...), nil
}

// Contains reports whether name is a top-level stdlib module.
func (s *StdlibSnapshot) Contains(name string) bool {
	_, ok := s.names[name]

	return ok
}

// Len returns the number of names in the snapshot.
func (s *StdlibSnapshot) Len() int {
	return len(s.names)
}

func scanStdlibDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read stdlib dir: %w", err)
	}

	var names []string

	for _, entry := range entries {
		name := entry.Name()

		switch {
		case entry.IsDir() && name == dynloadDir:
			dynload, dynErr := os.ReadDir(filepath.Join(dir, name))
			if dynErr != nil {
				return nil, fmt.Errorf("read %s: %w", dynloadDir, dynErr)
			}

			for _, lib := range dynload {
				names = append(names, moduleStem(lib.Name()))
			}
		case entry.IsDir():
			if stdlibSkipDirs[name] || !containsPython(filepath.Join(dir, name)) {
				continue
			}

			names = append(names, name)
		case isModuleFile(name):
			names = append(names, moduleStem(name))
		}
	}

	return names, nil
}

func containsPython(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}

	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), sourceSuffix) {
			return true
		}
	}

	return false
}

func isModuleFile(name string) bool {
	return strings.HasSuffix(name, sourceSuffix) ||
		strings.HasSuffix(name, ".so") ||
		strings.HasSuffix(name, ".pyd")
}

// moduleStem returns the module name of a file such as "_ssl.cpython-312-x86_64-linux-gnu.so".
func moduleStem(name string) string {
	stem, _, _ := strings.Cut(name, ".")

	return stem
}
