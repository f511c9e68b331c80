package commands

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ronpik/mono-deps-analyzer/internal/mcp"
	"github.com/ronpik/mono-deps-analyzer/pkg/config"
	"github.com/ronpik/mono-deps-analyzer/pkg/observability"
	"github.com/ronpik/mono-deps-analyzer/pkg/version"
)

// NewMCPCommand creates the MCP server command.
func NewMCPCommand() *cobra.Command {
	var (
		debug      bool
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start MCP server for AI agent integration",
		Long: `Start a Model Context Protocol (MCP) server on stdio transport.

The server exposes one tool:
  - monodeps_analyze: follow the imports of Python entry points and return
    the pinned requirements together with the full report`,
		Args:          usageArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}

			providers, err := initMCPObservability(cobraCmd, debug)
			if err != nil {
				return err
			}

			defer func() {
				shutdownErr := providers.Shutdown(context.Background())
				if shutdownErr != nil {
					providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
				}
			}()

			requests, err := observability.NewRequestMetrics(providers.Meter)
			if err != nil {
				return err
			}

			analysisMetrics, err := observability.NewAnalysisMetrics(providers.Meter)
			if err != nil {
				return err
			}

			srv, err := mcp.NewServer(mcp.ServerDeps{
				Config:   cfg,
				Logger:   providers.Logger,
				Tracer:   providers.Tracer,
				Requests: requests,
				Analysis: analysisMetrics,
			})
			if err != nil {
				return err
			}

			return srv.Run(cobraCmd.Context())
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging to stderr")
	cmd.Flags().StringVar(&configPath, "config", "", "Config file providing the base search settings")

	return cmd
}

func initMCPObservability(cmd *cobra.Command, debug bool) (observability.Providers, error) {
	cfg := observability.DefaultConfig()
	cfg.ServiceVersion = version.Version
	cfg.Mode = observability.ModeMCP
	cfg.LogJSON = true
	cfg.LogWriter = cmd.ErrOrStderr()
	cfg.ApplyEnv(os.Getenv)

	if debug {
		cfg.LogLevel = slog.LevelDebug
	}

	return observability.Init(cfg)
}
