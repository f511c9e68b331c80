// Package observability provides OpenTelemetry tracing, metrics and
// structured logging for every monodeps mode (CLI, watch, MCP).
package observability

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

// AppMode identifies how the binary was launched.
type AppMode string

const (
	// ModeCLI is a one-shot analysis run.
	ModeCLI AppMode = "cli"
	// ModeWatch re-runs the analysis whenever a visited file changes.
	ModeWatch AppMode = "watch"
	// ModeMCP is the MCP stdio server mode.
	ModeMCP AppMode = "mcp"
)

const (
	defaultServiceName        = "monodeps"
	defaultShutdownTimeoutSec = 5
)

// Standard OTel exporter variables honored by ApplyEnv.
const (
	EnvOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvOTLPHeaders  = "OTEL_EXPORTER_OTLP_HEADERS"
	EnvOTLPInsecure = "OTEL_EXPORTER_OTLP_INSECURE"
	EnvEnvironment  = "MONODEPS_ENVIRONMENT"
)

// Config holds all observability configuration.
type Config struct {
	// ServiceName is the OTel resource service name and the "service" log attribute.
	ServiceName string

	// ServiceVersion is the version of the running binary. Empty omits it from logs.
	ServiceVersion string

	// Environment is the deployment environment, e.g. "ci" or "dev".
	Environment string

	// Mode identifies how the binary was launched: cli, watch or mcp.
	Mode AppMode

	// OTLPEndpoint is the OTLP gRPC collector address (e.g. "localhost:4317").
	// Empty disables OTLP export.
	OTLPEndpoint string

	// OTLPHeaders are extra gRPC metadata headers sent to the collector.
	OTLPHeaders map[string]string

	// OTLPInsecure disables TLS for the collector connection.
	OTLPInsecure bool

	// SampleRatio is the root sampling ratio. Zero samples every root span.
	SampleRatio float64

	// LogLevel is the minimum slog severity.
	LogLevel slog.Level

	// LogJSON selects the JSON handler over the text handler.
	LogJSON bool

	// LogWriter receives log output. Nil means stderr.
	LogWriter io.Writer

	// MetricsTextfile, when set, receives a Prometheus text exposition of
	// all recorded metrics at shutdown (node_exporter textfile collector).
	MetricsTextfile string

	// ShutdownTimeoutSec bounds the flush performed by Providers.Shutdown.
	ShutdownTimeoutSec int
}

// DefaultConfig returns a Config for zero-config startup: no export, info logs.
func DefaultConfig() Config {
	return Config{
		ServiceName:        defaultServiceName,
		Mode:               ModeCLI,
		LogLevel:           slog.LevelInfo,
		ShutdownTimeoutSec: defaultShutdownTimeoutSec,
	}
}

// ApplyEnv fills exporter settings from the standard OTel variables.
// Values already present in cfg win.
func (cfg *Config) ApplyEnv(getenv func(string) string) {
	if cfg.OTLPEndpoint == "" {
		cfg.OTLPEndpoint = getenv(EnvOTLPEndpoint)
	}

	if cfg.OTLPHeaders == nil {
		cfg.OTLPHeaders = ParseOTLPHeaders(getenv(EnvOTLPHeaders))
	}

	if insecure, err := strconv.ParseBool(getenv(EnvOTLPInsecure)); err == nil && insecure {
		cfg.OTLPInsecure = true
	}

	if cfg.Environment == "" {
		cfg.Environment = getenv(EnvEnvironment)
	}
}

// ParseLogLevel maps a configured level name to an [slog.Level].
func ParseLogLevel(name string) (slog.Level, error) {
	var level slog.Level

	err := level.UnmarshalText([]byte(strings.TrimSpace(name)))
	if err != nil {
		return slog.LevelInfo, fmt.Errorf("parse log level %q: %w", name, err)
	}

	return level, nil
}
