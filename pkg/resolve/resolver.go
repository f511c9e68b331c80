// Package resolve classifies Python import paths as standard-library, local
// or external, and locates the source file of local modules.
package resolve

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ronpik/mono-deps-analyzer/pkg/importmodel"
)

const (
	sourceSuffix = ".py"
	initFile     = "__init__.py"
)

// Kind is the classification of an import path.
type Kind int

// Import classifications.
const (
	KindStdlib Kind = iota + 1
	KindLocal
	KindExternal
	// KindUnresolved marks a relative import with no matching file. Relative
	// imports are never external.
	KindUnresolved
)

func (k Kind) String() string {
	switch k {
	case KindStdlib:
		return "stdlib"
	case KindLocal:
		return "local"
	case KindExternal:
		return "external"
	case KindUnresolved:
		return "unresolved"
	}

	return "unknown"
}

// ModuleReference locates a resolved local module.
type ModuleReference struct {
	DottedPath string
	File       string
	Root       string
	IsPackage  bool
}

// Resolution is the outcome of classifying one import path.
type Resolution struct {
	Kind Kind
	// Name is the top-level segment for stdlib and external imports.
	Name string
	// Ref is set for local imports.
	Ref *ModuleReference
}

// Resolver classifies import paths against a stdlib snapshot and a search
// path set. Both are read-only, so a Resolver is safe for concurrent use.
type Resolver struct {
	stdlib *StdlibSnapshot
	paths  *SearchPathSet
	memo   sync.Map // dotted path -> Resolution
}

// NewResolver creates a Resolver.
func NewResolver(stdlib *StdlibSnapshot, paths *SearchPathSet) *Resolver {
	return &Resolver{stdlib: stdlib, paths: paths}
}

// SearchPaths returns the resolver's search path set.
func (r *Resolver) SearchPaths() *SearchPathSet {
	return r.paths
}

// Classify resolves an absolute dotted import path.
func (r *Resolver) Classify(dotted string) Resolution {
	if cached, ok := r.memo.Load(dotted); ok {
		res, _ := cached.(Resolution) //nolint:errcheck // only Resolution values are stored

		return res
	}

	res := r.classify(dotted)
	r.memo.Store(dotted, res)

	return res
}

func (r *Resolver) classify(dotted string) Resolution {
	if dotted == "" {
		return Resolution{Kind: KindUnresolved}
	}

	parts := strings.Split(dotted, ".")
	top := parts[0]

	if r.stdlib.Contains(top) {
		return Resolution{Kind: KindStdlib, Name: top}
	}

	for _, root := range r.paths.roots {
		if ref := resolveAt(root, parts); ref != nil {
			ref.DottedPath = dotted

			return Resolution{Kind: KindLocal, Ref: ref}
		}
	}

	return Resolution{Kind: KindExternal, Name: top}
}

// ResolveStatement classifies a parsed statement on behalf of the file that
// contains it, handling relative imports against that file's location.
func (r *Resolver) ResolveStatement(fromFile string, stmt importmodel.Statement) Resolution {
	if !stmt.IsRelative() {
		return r.Classify(stmt.Path)
	}

	base := filepath.Dir(fromFile)
	for range stmt.Level - 1 {
		base = filepath.Dir(base)
	}

	if stmt.Path == "" {
		initPath := filepath.Join(base, initFile)
		if isFile(initPath) {
			return Resolution{Kind: KindLocal, Ref: &ModuleReference{
				DottedPath: stmt.String(),
				File:       initPath,
				Root:       base,
				IsPackage:  true,
			}}
		}

		return Resolution{Kind: KindUnresolved}
	}

	parts := strings.Split(stmt.Path, ".")

	ref := matchModule(base, parts)
	if ref == nil {
		ref = matchPackage(base, parts)
	}

	if ref == nil {
		return Resolution{Kind: KindUnresolved}
	}

	ref.DottedPath = stmt.String()

	return Resolution{Kind: KindLocal, Ref: ref}
}

// Submodule resolves name as a submodule of the package ref, as in
// "from pkg import name" where name is itself a module.
func (r *Resolver) Submodule(ref *ModuleReference, name string) *ModuleReference {
	if ref == nil || !ref.IsPackage || name == "" || name == "*" {
		return nil
	}

	dir := filepath.Dir(ref.File)
	parts := []string{name}

	sub := matchModule(dir, parts)
	if sub == nil {
		sub = matchPackage(dir, parts)
	}

	if sub == nil {
		return nil
	}

	sub.Root = ref.Root
	sub.DottedPath = ref.DottedPath + "." + name

	return sub
}

// PackageChain lists the package initializers on the directory chain from
// ref's root down to the directory holding ref, excluding ref's own file.
func (r *Resolver) PackageChain(ref *ModuleReference) []string {
	rel, err := filepath.Rel(ref.Root, filepath.Dir(ref.File))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return nil
	}

	var chain []string

	dir := ref.Root

	for _, segment := range strings.Split(rel, string(filepath.Separator)) {
		dir = filepath.Join(dir, segment)

		initPath := filepath.Join(dir, initFile)
		if initPath != ref.File && isFile(initPath) {
			chain = append(chain, initPath)
		}
	}

	return chain
}

// resolveAt applies the precedence chain at one root.
func resolveAt(root string, parts []string) *ModuleReference {
	if ref := matchModule(root, parts); ref != nil {
		return ref
	}

	if ref := matchPackage(root, parts); ref != nil {
		return ref
	}

	return matchBoundary(root, parts)
}

// matchModule tests root/s1/.../sn.py.
func matchModule(root string, parts []string) *ModuleReference {
	file := filepath.Join(append([]string{root}, parts...)...) + sourceSuffix
	if !isFile(file) {
		return nil
	}

	return &ModuleReference{File: file, Root: root}
}

// matchPackage tests root/s1/.../sn/__init__.py.
func matchPackage(root string, parts []string) *ModuleReference {
	file := filepath.Join(append(append([]string{root}, parts...), initFile)...)
	if !isFile(file) {
		return nil
	}

	return &ModuleReference{File: file, Root: root, IsPackage: true}
}

// matchBoundary walks the prefixes of parts left to right and, at the first
// prefix directory holding a package initializer, resolves the remaining
// suffix beneath that boundary.
func matchBoundary(root string, parts []string) *ModuleReference {
	for i := range parts {
		boundary := filepath.Join(append([]string{root}, parts[:i+1]...)...)
		if !isFile(filepath.Join(boundary, initFile)) {
			continue
		}

		rest := parts[i+1:]
		if len(rest) == 0 {
			return nil
		}

		if ref := matchModule(boundary, rest); ref != nil {
			ref.Root = root

			return ref
		}

		if ref := matchPackage(boundary, rest); ref != nil {
			ref.Root = root

			return ref
		}

		return nil
	}

	return nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.Mode().IsRegular()
}
