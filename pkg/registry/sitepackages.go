// Package registry looks up installed Python distributions and binds external
// import names to their installed versions.
package registry

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/mail"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
)

// ErrNotInstalled is returned when no installed distribution matches a name.
var ErrNotInstalled = errors.New("package not installed")

// Lookup resolves an import name to an installed version string.
type Lookup interface {
	LookupVersion(ctx context.Context, name string) (string, error)
}

// LookupFunc adapts a function to the Lookup interface.
type LookupFunc func(ctx context.Context, name string) (string, error)

// LookupVersion calls f.
func (f LookupFunc) LookupVersion(ctx context.Context, name string) (string, error) {
	return f(ctx, name)
}

// Distribution is one installed package as described by its core metadata.
type Distribution struct {
	Name     string
	Version  string
	Path     string
	TopLevel []string
}

const (
	distInfoSuffix = ".dist-info"
	eggInfoSuffix  = ".egg-info"
	topLevelFile   = "top_level.txt"
)

var normalizeRe = regexp.MustCompile(`[-_.]+`)

// NormalizeName applies PEP 503 name normalization.
func NormalizeName(name string) string {
	return strings.ToLower(normalizeRe.ReplaceAllString(strings.TrimSpace(name), "-"))
}

// SitePackages reads distribution metadata from site-packages directories.
// Directories are scanned once, on first lookup; earlier directories win.
type SitePackages struct {
	dirs []string

	once     sync.Once
	loadErr  error
	dists    []Distribution
	byName   map[string]int
	byImport map[string]int
}

// NewSitePackages creates a registry over dirs. Missing directories are skipped.
func NewSitePackages(dirs ...string) *SitePackages {
	return &SitePackages{dirs: slices.Clone(dirs)}
}

// VirtualenvDirs returns the site-packages directories of the virtual
// environment rooted at venv, covering POSIX and Windows layouts.
func VirtualenvDirs(venv string) []string {
	if venv == "" {
		return nil
	}

	var dirs []string

	matches, err := filepath.Glob(filepath.Join(venv, "lib", "python*", "site-packages"))
	if err == nil {
		slices.Sort(matches)
		dirs = append(dirs, matches...)
	}

	win := filepath.Join(venv, "Lib", "site-packages")
	if info, statErr := os.Stat(win); statErr == nil && info.IsDir() && !slices.Contains(dirs, win) {
		dirs = append(dirs, win)
	}

	return dirs
}

// LookupVersion resolves name first as a distribution name, then as an
// import name listed in some distribution's top_level.txt.
func (s *SitePackages) LookupVersion(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := s.load(); err != nil {
		return "", err
	}

	if idx, ok := s.byName[NormalizeName(name)]; ok {
		return s.dists[idx].Version, nil
	}

	if idx, ok := s.byImport[name]; ok {
		return s.dists[idx].Version, nil
	}

	return "", fmt.Errorf("%w: %s", ErrNotInstalled, name)
}

func (s *SitePackages) load() error {
	s.once.Do(func() {
		s.byName = make(map[string]int)
		s.byImport = make(map[string]int)

		var errs []error

		for _, dir := range s.dirs {
			if err := s.scan(dir); err != nil {
				errs = append(errs, err)
			}
		}

		s.loadErr = errors.Join(errs...)
	})

	return s.loadErr
}

func (s *SitePackages) scan(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("scan site-packages %s: %w", dir, err)
	}

	for _, entry := range entries {
		name := entry.Name()

		var (
			dist Distribution
			ok   bool
		)

		switch {
		case strings.HasSuffix(name, distInfoSuffix) && entry.IsDir():
			dist, ok = readDistribution(filepath.Join(dir, name), "METADATA")
		case strings.HasSuffix(name, eggInfoSuffix) && entry.IsDir():
			dist, ok = readDistribution(filepath.Join(dir, name), "PKG-INFO")
		case strings.HasSuffix(name, eggInfoSuffix):
			dist, ok = readEggInfoFile(filepath.Join(dir, name))
		}

		if ok {
			s.add(dist)
		}
	}

	return nil
}

func (s *SitePackages) add(dist Distribution) {
	key := NormalizeName(dist.Name)
	if _, dup := s.byName[key]; dup {
		return
	}

	idx := len(s.dists)
	s.dists = append(s.dists, dist)
	s.byName[key] = idx

	for _, mod := range dist.TopLevel {
		if _, dup := s.byImport[mod]; !dup {
			s.byImport[mod] = idx
		}
	}
}

func readDistribution(dir, metadataFile string) (Distribution, bool) {
	f, err := os.Open(filepath.Join(dir, metadataFile))
	if err != nil {
		return Distribution{}, false
	}
	defer f.Close()

	dist, ok := parseMetadata(f)
	if !ok {
		return Distribution{}, false
	}

	dist.Path = dir
	dist.TopLevel = readTopLevel(filepath.Join(dir, topLevelFile))

	return dist, true
}

func readEggInfoFile(path string) (Distribution, bool) {
	f, err := os.Open(path)
	if err != nil {
		return Distribution{}, false
	}
	defer f.Close()

	dist, ok := parseMetadata(f)
	if ok {
		dist.Path = path
	}

	return dist, ok
}

// parseMetadata reads the RFC 822 style header block of a core metadata file.
func parseMetadata(f *os.File) (Distribution, bool) {
	msg, err := mail.ReadMessage(bufio.NewReader(f))
	if err != nil {
		return Distribution{}, false
	}

	name := strings.TrimSpace(msg.Header.Get("Name"))
	version := strings.TrimSpace(msg.Header.Get("Version"))

	if name == "" || version == "" {
		return Distribution{}, false
	}

	return Distribution{Name: name, Version: version}, true
}

func readTopLevel(path string) []string {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var mods []string

	for line := range strings.SplitSeq(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.Contains(line, "/") {
			mods = append(mods, line)
		}
	}

	return mods
}
