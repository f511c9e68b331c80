// Package entrypoint validates the files an analysis starts from.
package entrypoint

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/src-d/enry/v2"
)

// Sentinel errors.
var (
	ErrNotFound  = errors.New("entry point not found")
	ErrNotAFile  = errors.New("entry point is not a regular file")
	ErrNoEntries = errors.New("no entry points given")
)

const (
	languagePython = "Python"

	// sniffSize bounds the prefix read for language detection.
	sniffSize = 8 << 10
)

// Validate resolves paths to absolute, de-duplicated entry files in the
// given order. Every path must name an existing regular file. Files enry
// does not recognise as Python are accepted with a warning.
func Validate(paths []string, logger *slog.Logger) ([]string, error) {
	if len(paths) == 0 {
		return nil, ErrNoEntries
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	out := make([]string, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))

	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve entry point %s: %w", path, err)
		}

		info, err := os.Stat(abs)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}

		if err != nil {
			return nil, fmt.Errorf("stat entry point %s: %w", path, err)
		}

		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("%w: %s", ErrNotAFile, path)
		}

		if _, dup := seen[abs]; dup {
			continue
		}

		seen[abs] = struct{}{}
		out = append(out, abs)

		if lang := Language(abs); lang != languagePython {
			logger.Warn("entry point does not look like Python", "file", abs, "language", lang)
		}
	}

	return out, nil
}

// Language reports the enry language of the file at path, sniffing its
// first bytes when the name alone is not conclusive (shebang scripts).
func Language(path string) string {
	name := filepath.Base(path)

	if lang, safe := enry.GetLanguageByExtension(name); safe {
		return lang
	}

	content, err := readPrefix(path)
	if err != nil {
		return enry.GetLanguage(name, nil)
	}

	return enry.GetLanguage(name, content)
}

func readPrefix(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	buf, err := io.ReadAll(io.LimitReader(f, sniffSize))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return buf, nil
}
