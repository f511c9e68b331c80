package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"slices"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ronpik/mono-deps-analyzer/pkg/analysis"
	"github.com/ronpik/mono-deps-analyzer/pkg/config"
	"github.com/ronpik/mono-deps-analyzer/pkg/observability"
	"github.com/ronpik/mono-deps-analyzer/pkg/pyenv"
	"github.com/ronpik/mono-deps-analyzer/pkg/registry"
	"github.com/ronpik/mono-deps-analyzer/pkg/requirements"
	"github.com/ronpik/mono-deps-analyzer/pkg/version"
)

// stdoutPath selects standard output as the output destination.
const stdoutPath = "-"

type analyzeDeps struct {
	// lookup overrides the site-packages registry.
	lookup            registry.Lookup
	inspect           pyenv.InspectFunc
	getenv            func(string) string
	initObservability func(observability.Config) (observability.Providers, error)
}

func defaultAnalyzeDeps() analyzeDeps {
	return analyzeDeps{getenv: os.Getenv, initObservability: observability.Init}
}

// AnalyzeCommand holds the flags and dependencies of the analyze command.
type AnalyzeCommand struct {
	configPath      string
	envFile         string
	paths           []string
	ignorePaths     []string
	sitePackages    []string
	output          string
	format          string
	workers         int
	metricsTextfile string
	verbose         bool
	check           bool
	watch           bool
	noColor         bool

	deps analyzeDeps
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand() *cobra.Command {
	return newAnalyzeCommandWithDeps(defaultAnalyzeDeps())
}

func newAnalyzeCommandWithDeps(deps analyzeDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze ENTRY...",
		Short: "Analyze Python entry points and write requirements",
		Long: `Follow the imports of the given Python entry points and write every
external distribution to the output file, pinned to its installed version.

Exit codes: 0 success, 1 missing entry point, drift under --check or
analysis failure, 2 invalid invocation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	bindAnalyze(cmd, deps)

	return cmd
}

// bindAnalyze installs the analyze flags and handler on cmd. It is shared by
// the root command and the analyze subcommand.
func bindAnalyze(cmd *cobra.Command, deps analyzeDeps) {
	ac := &AnalyzeCommand{deps: deps}

	cmd.Args = usageArgs(cobra.MinimumNArgs(1))
	cmd.RunE = ac.run

	flags := cmd.Flags()
	flags.StringSliceVarP(&ac.paths, "paths", "p", nil, "Additional search paths for local modules")
	flags.StringVarP(&ac.output, "output", "o", config.DefaultOutputPath, `Output file ("-" for stdout)`)
	flags.BoolVarP(&ac.verbose, "verbose", "v", false, "Print dependency and file summaries")
	flags.StringSliceVar(&ac.ignorePaths, "ignore-paths", nil, "Paths or glob patterns excluded from traversal")
	flags.StringVar(&ac.format, "format", config.DefaultOutputFormat, "Output format: requirements, json, yaml, plot")
	flags.BoolVar(&ac.check, "check", false, "Compare with the existing output instead of writing; exit 1 on drift")
	flags.StringVar(&ac.configPath, "config", "", "Config file (default: monodeps.yaml in ., ./config, ~/.config/monodeps)")
	flags.StringVar(&ac.envFile, "env-file", "", "Dotenv file whose values take precedence over the environment")
	flags.IntVar(&ac.workers, "workers", 0, "Number of parser workers (0 = CPU count)")
	flags.StringSliceVar(&ac.sitePackages, "site-packages", nil, "Directories holding installed package metadata")
	flags.StringVar(&ac.metricsTextfile, "metrics-textfile", "", "Write Prometheus text metrics to this file on exit")
	flags.BoolVar(&ac.watch, "watch", false, "Re-run whenever a visited source file changes")
	flags.BoolVar(&ac.noColor, "no-color", false, "Disable colored summary output")
}

func (ac *AnalyzeCommand) run(cmd *cobra.Command, args []string) error {
	getenv, err := ac.environment()
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig(ac.configPath)
	if err != nil {
		return err
	}

	if err := ac.applyFlags(cmd, cfg); err != nil {
		return err
	}

	format, err := requirements.ParseFormat(cfg.Output.Format)
	if err != nil {
		return &UsageError{Err: err}
	}

	providers, err := ac.initObservability(cmd, cfg, getenv)
	if err != nil {
		return err
	}

	defer func() {
		if shutdownErr := providers.Shutdown(context.Background()); shutdownErr != nil {
			providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}()

	metrics, err := observability.NewAnalysisMetrics(providers.Meter)
	if err != nil {
		return err
	}

	analyzer := analysis.New(cfg, analysis.Deps{
		Lookup:  ac.deps.lookup,
		Inspect: ac.deps.inspect,
		Getenv:  getenv,
		Logger:  providers.Logger,
		Tracer:  providers.Tracer,
		Metrics: metrics,
	})

	once := func(ctx context.Context) (*requirements.Report, error) {
		return ac.runOnce(ctx, cmd, analyzer, args, cfg.Output.Path, format)
	}

	if ac.watch {
		return watch(cmd.Context(), providers.Logger, args, once)
	}

	_, err = once(cmd.Context())

	return err
}

// environment returns the variable lookup used for search paths,
// virtualenv discovery and exporter settings.
func (ac *AnalyzeCommand) environment() (func(string) string, error) {
	getenv := ac.deps.getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	if ac.envFile == "" {
		return getenv, nil
	}

	values, err := godotenv.Read(ac.envFile)
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", ac.envFile, err)
	}

	return func(key string) string {
		if value, ok := values[key]; ok {
			return value
		}

		return getenv(key)
	}, nil
}

// applyFlags overlays explicitly set flags on cfg and revalidates it.
func (ac *AnalyzeCommand) applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()

	if flags.Changed("output") {
		cfg.Output.Path = ac.output
	}

	if flags.Changed("format") {
		cfg.Output.Format = ac.format
	}

	if flags.Changed("paths") {
		cfg.Search.Paths = slices.Concat(cfg.Search.Paths, ac.paths)
	}

	if flags.Changed("ignore-paths") {
		cfg.Search.IgnorePaths = slices.Concat(cfg.Search.IgnorePaths, ac.ignorePaths)
	}

	if flags.Changed("site-packages") {
		cfg.Python.SitePackages = slices.Concat(ac.sitePackages, cfg.Python.SitePackages)
	}

	if flags.Changed("workers") {
		cfg.Analysis.Workers = ac.workers
	}

	if err := config.Validate(cfg); err != nil {
		return &UsageError{Err: err}
	}

	return nil
}

func (ac *AnalyzeCommand) initObservability(
	cmd *cobra.Command, cfg *config.Config, getenv func(string) string,
) (observability.Providers, error) {
	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.LogJSON = cfg.Logging.Format == "json"
	obsCfg.LogWriter = cmd.ErrOrStderr()
	obsCfg.MetricsTextfile = ac.metricsTextfile
	obsCfg.ApplyEnv(getenv)

	if ac.watch {
		obsCfg.Mode = observability.ModeWatch
	}

	level, err := observability.ParseLogLevel(cfg.Logging.Level)
	if err != nil {
		return observability.Providers{}, err
	}

	obsCfg.LogLevel = level

	initFn := ac.deps.initObservability
	if initFn == nil {
		initFn = observability.Init
	}

	providers, err := initFn(obsCfg)
	if err != nil {
		return observability.Providers{}, fmt.Errorf("init observability: %w", err)
	}

	return providers, nil
}

func (ac *AnalyzeCommand) runOnce(
	ctx context.Context,
	cmd *cobra.Command,
	analyzer *analysis.Analyzer,
	entries []string,
	outputPath string,
	format requirements.Format,
) (*requirements.Report, error) {
	report, err := analyzer.Run(ctx, entries)
	if err != nil {
		return nil, err
	}

	render, err := requirements.Renderer(format, report)
	if err != nil {
		return nil, err
	}

	stdout := cmd.OutOrStdout()

	switch {
	case ac.check:
		err = checkDrift(stdout, outputPath, format, render)
	case outputPath == stdoutPath:
		err = render(stdout)
	default:
		err = requirements.WriteFile(outputPath, render)
	}

	if err != nil {
		return report, err
	}

	if ac.verbose {
		summaryOut := stdout
		if outputPath == stdoutPath && !ac.check {
			summaryOut = cmd.ErrOrStderr()
		}

		writeSummary(summaryOut, report, !ac.noColor)
	}

	return report, nil
}

// checkDrift renders into memory and compares with the file at path. A
// missing file counts as empty. Requirements manifests are compared by pin,
// so comments, blank lines and ordering are not drift.
func checkDrift(w io.Writer, path string, format requirements.Format, render func(io.Writer) error) error {
	var generated bytes.Buffer
	if err := render(&generated); err != nil {
		return err
	}

	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read %s: %w", path, err)
	}

	drift := requirements.Diff(string(existing), generated.String())

	same := drift.Empty()
	if !same && format == requirements.FormatRequirements {
		same, err = samePins(existing, generated.Bytes())
		if err != nil {
			return err
		}
	}

	if same {
		fmt.Fprintf(w, "%s is up to date\n", path)

		return nil
	}

	fmt.Fprint(w, drift.Unified())

	return fmt.Errorf("%w: %s (%d added, %d removed)", ErrDrift, path, len(drift.Added), len(drift.Removed))
}

func samePins(existing, generated []byte) (bool, error) {
	have, err := requirements.Parse(bytes.NewReader(existing))
	if err != nil {
		return false, err
	}

	want, err := requirements.Parse(bytes.NewReader(generated))
	if err != nil {
		return false, err
	}

	return maps.Equal(have, want), nil
}
