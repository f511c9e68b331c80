// Package traverse walks the local import graph of a Python project from its
// entry points to a fixpoint, collecting external dependency names.
package traverse

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/ronpik/mono-deps-analyzer/pkg/importmodel"
	"github.com/ronpik/mono-deps-analyzer/pkg/resolve"
)

// DefaultMaxFileSize caps the size of a source file read for parsing.
const DefaultMaxFileSize = 1 << 20

// ErrFileTooLarge is recorded for files above the configured size cap.
var ErrFileTooLarge = errors.New("file exceeds size limit")

// Parser extracts import statements from one file's content.
type Parser interface {
	Parse(ctx context.Context, path string, content []byte) (importmodel.File, error)
}

// Options configures an Engine.
type Options struct {
	// Workers is the number of concurrent parsers; zero uses the CPU count.
	Workers int
	// MaxFileSize caps file reads in bytes; zero uses DefaultMaxFileSize.
	MaxFileSize int64
	// ScanParentPackages enqueues the package initializers on the prefix
	// chain of every resolved local module.
	ScanParentPackages bool
	// Ignore excludes discovered files from parsing.
	Ignore *IgnoreSet

	Logger *slog.Logger
	Tracer trace.Tracer
}

// WorkItem is a file pending parse. Label is used for reporting only.
type WorkItem struct {
	Label string
	File  string
}

// FileError records a per-file read or parse failure.
type FileError struct {
	File string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

func (e FileError) Unwrap() error {
	return e.Err
}

// Stats counts classified import statements across all parsed files.
type Stats struct {
	Stdlib     int
	Local      int
	External   int
	Unresolved int
}

// Result is the outcome of one traversal. Every slice is sorted, so results
// do not depend on the order in which files were processed.
type Result struct {
	Entries  []WorkItem
	Visited  []string
	Local    []resolve.ModuleReference
	External map[string][]string
	Failures []FileError
	Ignored  []string
	Stats    Stats
	Roots    []string
}

// ExternalNames returns the external dependency names in ascending order.
func (r *Result) ExternalNames() []string {
	names := make([]string, 0, len(r.External))
	for name := range r.External {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// Engine performs the fixpoint walk.
type Engine struct {
	parser   Parser
	resolver *resolve.Resolver
	opts     Options
	readFile func(string) ([]byte, error)
}

// NewEngine creates an Engine.
func NewEngine(parser Parser, resolver *resolve.Resolver, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}

	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	if opts.Tracer == nil {
		opts.Tracer = nooptrace.NewTracerProvider().Tracer("traverse")
	}

	return &Engine{
		parser:   parser,
		resolver: resolver,
		opts:     opts,
		readFile: os.ReadFile,
	}
}

// EntryItems builds the seed work items for the given entry points. An entry
// under a search root is labeled with its dotted module path; any other entry
// with its file name minus the extension.
func EntryItems(entries []string, paths *resolve.SearchPathSet) ([]WorkItem, error) {
	items := make([]WorkItem, 0, len(entries))

	for _, entry := range entries {
		abs, err := filepath.Abs(entry)
		if err != nil {
			return nil, fmt.Errorf("entry point %q: %w", entry, err)
		}

		items = append(items, WorkItem{Label: entryLabel(paths, abs), File: abs})
	}

	return items, nil
}

func entryLabel(paths *resolve.SearchPathSet, file string) string {
	stem := strings.TrimSuffix(file, filepath.Ext(file))

	if paths != nil {
		if root := paths.RootOf(file); root != "" {
			if rel, err := filepath.Rel(root, stem); err == nil {
				return strings.ReplaceAll(rel, string(filepath.Separator), ".")
			}
		}
	}

	return filepath.Base(stem)
}

// run holds the shared state of one traversal.
type run struct {
	visited  *VisitedSet
	external *ExternalSet

	mu       sync.Mutex
	local    map[string]resolve.ModuleReference
	failures []FileError
	ignored  map[string]struct{}
	stats    Stats
}

// Run walks from the entry points until no unvisited local file remains.
// Per-file failures are recorded in the result; an error is returned only
// for invalid input or cancellation.
func (e *Engine) Run(ctx context.Context, entries []string) (*Result, error) {
	ctx, span := e.opts.Tracer.Start(ctx, "monodeps.traverse")
	defer span.End()

	seeds, err := EntryItems(entries, e.resolver.SearchPaths())
	if err != nil {
		return nil, err
	}

	state := &run{
		visited:  NewVisitedSet(),
		external: NewExternalSet(),
		local:    make(map[string]resolve.ModuleReference),
		ignored:  make(map[string]struct{}),
	}

	err = e.drain(ctx, state, seeds)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("monodeps.files.visited", state.visited.Len()),
		attribute.Int("monodeps.dependencies.external", state.external.Len()),
	)

	result := state.result(seeds, e.resolver.SearchPaths().Roots())
	span.SetAttributes(attribute.Int("monodeps.files.failed", len(result.Failures)))

	return result, nil
}

type outcome struct {
	next []WorkItem
}

// drain runs the work queue to a fixpoint. The coordinator owns the queue;
// workers own parsing and check-and-insert into the visited set.
func (e *Engine) drain(ctx context.Context, state *run, seeds []WorkItem) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("traversal cancelled: %w", err)
	}

	jobs := make(chan WorkItem)
	results := make(chan outcome)

	var wg sync.WaitGroup

	for range e.opts.Workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for item := range jobs {
				results <- outcome{next: e.process(ctx, state, item)}
			}
		}()
	}

	queue := slices.Clone(seeds)
	inflight := 0

	var cancelled error

	for (len(queue) > 0 && cancelled == nil) || inflight > 0 {
		var (
			send chan WorkItem
			next WorkItem
		)

		if len(queue) > 0 && cancelled == nil {
			send = jobs
			next = queue[len(queue)-1]
		}

		select {
		case send <- next:
			queue = queue[:len(queue)-1]
			inflight++
		case out := <-results:
			inflight--

			for _, item := range out.next {
				if !state.visited.Contains(item.File) {
					queue = append(queue, item)
				}
			}
		case <-ctx.Done():
			cancelled = ctx.Err()
		}
	}

	close(jobs)
	wg.Wait()

	if cancelled != nil {
		return fmt.Errorf("traversal cancelled: %w", cancelled)
	}

	return nil
}

// process parses one file and returns the local files it references.
func (e *Engine) process(ctx context.Context, state *run, item WorkItem) []WorkItem {
	if !state.visited.Add(item.File) {
		return nil
	}

	content, err := e.read(item.File)
	if err != nil {
		state.fail(item.File, err)
		e.opts.Logger.WarnContext(ctx, "skipping unreadable file", "file", item.File, "error", err)

		return nil
	}

	file, err := e.parser.Parse(ctx, item.File, content)
	if err != nil {
		state.fail(item.File, err)
		e.opts.Logger.WarnContext(ctx, "failed to parse file", "file", item.File, "error", err)

		return nil
	}

	e.opts.Logger.DebugContext(ctx, "parsed file", "file", item.File, "label", item.Label, "imports", len(file.Imports))

	var next []WorkItem

	for _, stmt := range file.Imports {
		res := e.resolver.ResolveStatement(item.File, stmt)

		switch res.Kind {
		case resolve.KindStdlib:
			state.count(func(s *Stats) { s.Stdlib++ })
		case resolve.KindExternal:
			state.count(func(s *Stats) { s.External++ })

			if state.external.Merge(res.Name, item.File) {
				e.opts.Logger.DebugContext(ctx, "external dependency", "name", res.Name, "file", item.File)
			}
		case resolve.KindLocal:
			state.count(func(s *Stats) { s.Local++ })

			next = append(next, e.follow(state, res.Ref)...)

			for _, name := range stmt.Names {
				if sub := e.resolver.Submodule(res.Ref, name); sub != nil {
					next = append(next, e.follow(state, sub)...)
				}
			}
		case resolve.KindUnresolved:
			state.count(func(s *Stats) { s.Unresolved++ })
			e.opts.Logger.DebugContext(ctx, "unresolved relative import", "import", stmt.String(), "file", item.File)
		}
	}

	return next
}

// follow records a resolved local module and returns the items to enqueue.
func (e *Engine) follow(state *run, ref *resolve.ModuleReference) []WorkItem {
	candidates := []WorkItem{{Label: ref.DottedPath, File: ref.File}}

	if e.opts.ScanParentPackages {
		for _, init := range e.resolver.PackageChain(ref) {
			candidates = append(candidates, WorkItem{Label: packageLabel(ref.Root, init), File: init})
		}
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if _, ok := state.local[ref.File]; !ok {
		state.local[ref.File] = *ref
	}

	items := candidates[:0]

	for _, item := range candidates {
		if e.opts.Ignore.Match(item.File) {
			state.ignored[item.File] = struct{}{}

			continue
		}

		items = append(items, item)
	}

	return items
}

func (e *Engine) read(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}

	if info.Size() > e.opts.MaxFileSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrFileTooLarge, info.Size(), e.opts.MaxFileSize)
	}

	content, err := e.readFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	return content, nil
}

// packageLabel derives a dotted package name for an initializer file.
func packageLabel(root, initPath string) string {
	rel, err := filepath.Rel(root, filepath.Dir(initPath))
	if err != nil {
		return filepath.Dir(initPath)
	}

	return strings.ReplaceAll(rel, string(filepath.Separator), ".")
}

func (s *run) fail(file string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures = append(s.failures, FileError{File: file, Err: err})
}

func (s *run) count(fn func(*Stats)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.stats)
}

func (s *run) result(seeds []WorkItem, roots []string) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	local := make([]resolve.ModuleReference, 0, len(s.local))
	for _, ref := range s.local {
		local = append(local, ref)
	}

	slices.SortFunc(local, func(a, b resolve.ModuleReference) int {
		return cmp.Compare(a.File, b.File)
	})

	failures := slices.Clone(s.failures)
	slices.SortFunc(failures, func(a, b FileError) int {
		return cmp.Compare(a.File, b.File)
	})

	ignored := make([]string, 0, len(s.ignored))
	for file := range s.ignored {
		ignored = append(ignored, file)
	}

	slices.Sort(ignored)

	return &Result{
		Entries:  slices.Clone(seeds),
		Visited:  s.visited.Sorted(),
		Local:    local,
		External: s.external.Importers(),
		Failures: failures,
		Ignored:  ignored,
		Stats:    s.stats,
		Roots:    roots,
	}
}
