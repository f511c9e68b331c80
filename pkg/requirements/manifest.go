// Package requirements renders bound dependencies as a pip requirements
// manifest and as structured analysis reports.
package requirements

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// DefaultPath is the conventional manifest file name.
const DefaultPath = "requirements.txt"

// ErrEmptyName is returned when a manifest entry has no name.
var ErrEmptyName = errors.New("requirement with empty name")

// Line renders a single manifest line: "name==version", or the bare name
// when the version is unknown.
func Line(name, version string) string {
	if version == "" {
		return name
	}

	return name + "==" + version
}

// Lines renders reqs sorted ascending by name.
func Lines(reqs map[string]string) []string {
	names := slices.Sorted(maps.Keys(reqs))
	lines := make([]string, 0, len(names))

	for _, name := range names {
		lines = append(lines, Line(name, reqs[name]))
	}

	return lines
}

// Write serializes reqs one line per entry. Output depends only on the
// mapping, never on insertion order.
func Write(w io.Writer, reqs map[string]string) error {
	if _, ok := reqs[""]; ok {
		return ErrEmptyName
	}

	bw := bufio.NewWriter(w)

	for _, line := range Lines(reqs) {
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("write requirement: %w", err)
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush requirements: %w", err)
	}

	return nil
}

// Render returns the manifest as a string.
func Render(reqs map[string]string) (string, error) {
	var sb strings.Builder

	if err := Write(&sb, reqs); err != nil {
		return "", err
	}

	return sb.String(), nil
}

// WriteFile writes the output of render to path through a temporary file in
// the same directory, so a failure never leaves a partial file behind.
func WriteFile(path string, render func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tmp.Close()           //nolint:errcheck // already failing
			_ = os.Remove(tmp.Name()) //nolint:errcheck // best-effort cleanup
		}
	}()

	if err = render(tmp); err != nil {
		return err
	}

	if err = tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}

	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}

	return nil
}

// Parse reads a requirements manifest written by Write. Blank lines and
// comments are skipped; specifiers other than "==" are kept as the name.
func Parse(r io.Reader) (map[string]string, error) {
	reqs := make(map[string]string)
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		name, version, _ := strings.Cut(line, "==")
		reqs[strings.TrimSpace(name)] = strings.TrimSpace(version)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read requirements: %w", err)
	}

	return reqs, nil
}
