package traverse

import (
	"maps"
	"slices"
	"sync"
)

// VisitedSet records files already parsed. It only grows, and Add is an
// atomic check-and-insert so concurrent workers never parse a file twice.
type VisitedSet struct {
	mu    sync.Mutex
	files map[string]struct{}
}

// NewVisitedSet creates an empty VisitedSet.
func NewVisitedSet() *VisitedSet {
	return &VisitedSet{files: make(map[string]struct{})}
}

// Add inserts path and reports whether it was absent.
func (v *VisitedSet) Add(path string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.files[path]; ok {
		return false
	}

	v.files[path] = struct{}{}

	return true
}

// Contains reports whether path has been visited.
func (v *VisitedSet) Contains(path string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	_, ok := v.files[path]

	return ok
}

// Len returns the number of visited files.
func (v *VisitedSet) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	return len(v.files)
}

// Sorted returns the visited files in ascending order.
func (v *VisitedSet) Sorted() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	return slices.Sorted(maps.Keys(v.files))
}

// ExternalSet accumulates external dependency names with the files that
// import them. Merging is insert-if-absent per name.
type ExternalSet struct {
	mu   sync.Mutex
	deps map[string]map[string]struct{}
}

// NewExternalSet creates an empty ExternalSet.
func NewExternalSet() *ExternalSet {
	return &ExternalSet{deps: make(map[string]map[string]struct{})}
}

// Merge records that importer imports name and reports whether name is new.
func (e *ExternalSet) Merge(name, importer string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	importers, ok := e.deps[name]
	if !ok {
		importers = make(map[string]struct{})
		e.deps[name] = importers
	}

	if importer != "" {
		importers[importer] = struct{}{}
	}

	return !ok
}

// Importers returns, per name, the sorted files importing it.
func (e *ExternalSet) Importers() map[string][]string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string][]string, len(e.deps))
	for name, importers := range e.deps {
		out[name] = slices.Sorted(maps.Keys(importers))
	}

	return out
}

// Len returns the number of distinct names.
func (e *ExternalSet) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.deps)
}
