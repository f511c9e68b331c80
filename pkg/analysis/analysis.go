// Package analysis runs one dependency analysis: it validates entry points,
// builds the resolver from configuration, walks the import graph, binds
// installed versions and assembles the report.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/ronpik/mono-deps-analyzer/pkg/config"
	"github.com/ronpik/mono-deps-analyzer/pkg/entrypoint"
	"github.com/ronpik/mono-deps-analyzer/pkg/observability"
	"github.com/ronpik/mono-deps-analyzer/pkg/pyenv"
	"github.com/ronpik/mono-deps-analyzer/pkg/pysource"
	"github.com/ronpik/mono-deps-analyzer/pkg/registry"
	"github.com/ronpik/mono-deps-analyzer/pkg/requirements"
	"github.com/ronpik/mono-deps-analyzer/pkg/resolve"
	"github.com/ronpik/mono-deps-analyzer/pkg/traverse"
)

// EnvVirtualenv names the active virtualenv, consulted when
// python.use_virtualenv is set.
const EnvVirtualenv = "VIRTUAL_ENV"

// Deps are the optional collaborators of an Analyzer. Zero values select
// the production defaults.
type Deps struct {
	// Lookup overrides the site-packages registry.
	Lookup registry.Lookup
	// Getenv overrides os.Getenv for search-path and virtualenv variables.
	Getenv func(string) string
	// Inspect overrides the interpreter query used when python.detect is set.
	Inspect pyenv.InspectFunc

	Logger  *slog.Logger
	Tracer  trace.Tracer
	Metrics *observability.AnalysisMetrics
}

// Analyzer runs analyses with a fixed configuration. It is safe for
// sequential reuse, e.g. by watch mode or the MCP server.
type Analyzer struct {
	cfg    *config.Config
	deps   Deps
	parser *pysource.Parser

	inspectOnce sync.Once
	python      pyenv.Environment
}

// New creates an Analyzer.
func New(cfg *config.Config, deps Deps) *Analyzer {
	if deps.Getenv == nil {
		deps.Getenv = os.Getenv
	}

	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}

	if deps.Tracer == nil {
		deps.Tracer = nooptrace.NewTracerProvider().Tracer("")
	}

	if deps.Inspect == nil {
		deps.Inspect = pyenv.Inspect
	}

	return &Analyzer{cfg: cfg, deps: deps, parser: pysource.NewParser()}
}

// Run analyzes the project reachable from entries.
func (a *Analyzer) Run(ctx context.Context, entries []string) (report *requirements.Report, err error) {
	start := time.Now()

	ctx, span := a.deps.Tracer.Start(ctx, "monodeps.analyze",
		trace.WithAttributes(attribute.Int("monodeps.entries", len(entries))))

	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		span.End()
		a.deps.Metrics.RecordRun(ctx, runStats(report, time.Since(start), err))
	}()

	files, err := entrypoint.Validate(entries, a.deps.Logger)
	if err != nil {
		return nil, err
	}

	python := a.interpreter(ctx)

	engine, err := a.engine(files, python)
	if err != nil {
		return nil, err
	}

	result, err := engine.Run(ctx, files)
	if err != nil {
		return nil, err
	}

	binder, err := registry.NewBinder(a.lookup(python), registry.BinderOptions{
		CacheSize:   a.cfg.Registry.CacheSize,
		Concurrency: a.cfg.Registry.Concurrency,
		Logger:      a.deps.Logger,
		Tracer:      a.deps.Tracer,
	})
	if err != nil {
		return nil, fmt.Errorf("create version binder: %w", err)
	}

	bindings, err := binder.Bind(ctx, result.ExternalNames())
	if err != nil {
		return nil, err
	}

	report = buildReport(result, bindings)

	a.deps.Logger.InfoContext(ctx, "analysis complete",
		"entries", len(files),
		"visited", len(report.Visited),
		"dependencies", len(report.Requirements),
		"unknown_versions", len(report.Misses),
		"failures", len(report.Failures),
	)

	return report, nil
}

// interpreter queries the Python interpreter once per Analyzer. Without
// one, the embedded stdlib list and configured directories are used.
func (a *Analyzer) interpreter(ctx context.Context) pyenv.Environment {
	a.inspectOnce.Do(func() {
		py := a.cfg.Python
		if !py.Detect || (py.StdlibDir != "" && len(py.SitePackages) > 0) {
			return
		}

		env, err := a.deps.Inspect(ctx, py.Interpreter)
		if err != nil {
			a.deps.Logger.WarnContext(ctx, "python interpreter not detected, using built-in stdlib list",
				"interpreter", py.Interpreter, "error", err)

			return
		}

		a.deps.Logger.DebugContext(ctx, "python interpreter detected",
			"version", env.Version, "stdlib", env.StdlibDir, "site_packages", env.PackageDirs())

		a.python = env
	})

	return a.python
}

func (a *Analyzer) stdlib(python pyenv.Environment) (*resolve.StdlibSnapshot, error) {
	if dir := a.cfg.Python.StdlibDir; dir != "" {
		return resolve.LoadStdlibSnapshot(dir)
	}

	stdlib, err := resolve.LoadStdlibSnapshot(python.StdlibDir)
	if err != nil {
		a.deps.Logger.Warn("cannot scan interpreter stdlib, using built-in list",
			"dir", python.StdlibDir, "error", err)

		return resolve.NewStdlibSnapshot(), nil
	}

	return stdlib, nil
}

func (a *Analyzer) engine(entries []string, python pyenv.Environment) (*traverse.Engine, error) {
	stdlib, err := a.stdlib(python)
	if err != nil {
		return nil, fmt.Errorf("load stdlib snapshot: %w", err)
	}

	paths, err := resolve.NewSearchPathSet(
		entries,
		a.cfg.Search.Paths,
		resolve.EnvPaths(a.cfg.Search.EnvVars, a.deps.Getenv),
	)
	if err != nil {
		return nil, fmt.Errorf("build search paths: %w", err)
	}

	ignore, err := traverse.NewIgnoreSet(a.cfg.Search.IgnorePaths)
	if err != nil {
		return nil, fmt.Errorf("compile ignore paths: %w", err)
	}

	maxSize, err := a.cfg.MaxFileSizeBytes()
	if err != nil {
		return nil, err
	}

	a.deps.Logger.Debug("search paths", "roots", paths.Roots(), "stdlib_modules", stdlib.Len())

	return traverse.NewEngine(a.parser, resolve.NewResolver(stdlib, paths), traverse.Options{
		Workers:            a.cfg.Analysis.Workers,
		MaxFileSize:        maxSize,
		ScanParentPackages: a.cfg.Analysis.ScanParentPackages,
		Ignore:             ignore,
		Logger:             a.deps.Logger,
		Tracer:             a.deps.Tracer,
	}), nil
}

// lookup returns the version registry for one run. A fresh registry per run
// picks up packages installed between watch iterations.
func (a *Analyzer) lookup(python pyenv.Environment) registry.Lookup {
	if a.deps.Lookup != nil {
		return a.deps.Lookup
	}

	return registry.NewSitePackages(SitePackageDirs(a.cfg, a.deps.Getenv, python)...)
}

// SitePackageDirs lists the directories searched for installed metadata:
// python.site_packages first, then the active virtualenv when enabled, then
// the interpreter's own directories when python.site_packages is empty.
// Duplicates keep their first position.
func SitePackageDirs(cfg *config.Config, getenv func(string) string, python pyenv.Environment) []string {
	dirs := slices.Clone(cfg.Python.SitePackages)

	if cfg.Python.UseVirtualenv {
		if venv := getenv(EnvVirtualenv); venv != "" {
			dirs = append(dirs, registry.VirtualenvDirs(venv)...)
		}
	}

	if len(cfg.Python.SitePackages) == 0 {
		dirs = append(dirs, python.PackageDirs()...)
	}

	seen := make(map[string]bool, len(dirs))

	return slices.DeleteFunc(dirs, func(dir string) bool {
		dup := seen[dir]
		seen[dir] = true

		return dup
	})
}

func buildReport(result *traverse.Result, bindings []registry.Binding) *requirements.Report {
	report := &requirements.Report{
		Entries:     make([]string, 0, len(result.Entries)),
		SearchPaths: result.Roots,
		Visited:     result.Visited,
		Ignored:     result.Ignored,
		Misses:      registry.Misses(bindings),
		Stats: requirements.ImportStats{
			Stdlib:     result.Stats.Stdlib,
			Local:      result.Stats.Local,
			External:   result.Stats.External,
			Unresolved: result.Stats.Unresolved,
		},
	}

	for _, entry := range result.Entries {
		report.Entries = append(report.Entries, entry.File)
	}

	report.Requirements = make([]requirements.Requirement, 0, len(bindings))
	for _, b := range bindings {
		version := ""
		if b.Known() {
			version = b.Version
		}

		report.Requirements = append(report.Requirements, requirements.Requirement{
			Name:       b.Name,
			Version:    version,
			ImportedBy: result.External[b.Name],
		})
	}

	report.LocalModules = make([]requirements.LocalModule, 0, len(result.Local))
	for _, ref := range result.Local {
		report.LocalModules = append(report.LocalModules, requirements.LocalModule{
			Module:    ref.DottedPath,
			File:      ref.File,
			IsPackage: ref.IsPackage,
		})
	}

	for _, failure := range result.Failures {
		report.Failures = append(report.Failures, requirements.Failure{
			File:  failure.File,
			Error: failure.Err.Error(),
		})
	}

	return report
}

func runStats(report *requirements.Report, elapsed time.Duration, err error) observability.RunStats {
	stats := observability.RunStats{Duration: elapsed, Err: err}
	if report == nil {
		return stats
	}

	stats.FilesVisited = len(report.Visited)
	stats.FilesFailed = len(report.Failures)
	stats.StdlibImports = report.Stats.Stdlib
	stats.LocalImports = report.Stats.Local
	stats.ExternalImports = report.Stats.External
	stats.UnresolvedImports = report.Stats.Unresolved
	stats.ExternalDependencies = len(report.Requirements)
	stats.UnknownVersions = len(report.Misses)

	return stats
}
