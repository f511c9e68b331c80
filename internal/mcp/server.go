// Package mcp implements a Model Context Protocol server exposing monodeps
// dependency analysis as an MCP tool over stdio transport.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ronpik/mono-deps-analyzer/pkg/config"
	"github.com/ronpik/mono-deps-analyzer/pkg/observability"
	"github.com/ronpik/mono-deps-analyzer/pkg/pyenv"
	"github.com/ronpik/mono-deps-analyzer/pkg/registry"
	"github.com/ronpik/mono-deps-analyzer/pkg/version"
)

const serverName = "monodeps"

// ServerDeps holds injectable dependencies for the MCP server.
// Zero-value fields use production defaults.
type ServerDeps struct {
	// Config is the base configuration; tool inputs override search settings.
	// Nil loads defaults.
	Config *config.Config

	// Lookup overrides the site-packages registry.
	Lookup registry.Lookup

	// Inspect queries the Python interpreter; results are shared by all calls.
	// Nil uses pyenv.Inspect.
	Inspect pyenv.InspectFunc

	Logger *slog.Logger
	Tracer trace.Tracer

	// Requests records per-tool-call rate, errors and duration.
	Requests *observability.RequestMetrics
	// Analysis records per-run analysis metrics.
	Analysis *observability.AnalysisMetrics
}

// Server wraps the MCP SDK server with the monodeps tool registrations.
type Server struct {
	inner *mcpsdk.Server
	deps  ServerDeps

	mu    sync.RWMutex
	tools []string
}

// NewServer creates an MCP server with all monodeps tools registered.
func NewServer(deps ServerDeps) (*Server, error) {
	if deps.Config == nil {
		cfg, err := config.Default()
		if err != nil {
			return nil, fmt.Errorf("default config: %w", err)
		}

		deps.Config = cfg
	}

	if deps.Inspect == nil {
		deps.Inspect = pyenv.Inspect
	}

	deps.Inspect = pyenv.Memoize(deps.Inspect)

	opts := &mcpsdk.ServerOptions{Logger: deps.Logger}

	srv := &Server{
		inner: mcpsdk.NewServer(&mcpsdk.Implementation{Name: serverName, Version: version.Version}, opts),
		deps:  deps,
	}

	srv.registerAnalyzeTool()

	return srv, nil
}

// ListToolNames returns the sorted names of all registered tools.
func (s *Server) ListToolNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Sorted(slices.Values(s.tools))
}

// Run serves on stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.RunWithTransport(ctx, &mcpsdk.StdioTransport{})
}

// RunWithTransport serves on transport until ctx is cancelled or the
// connection closes.
func (s *Server) RunWithTransport(ctx context.Context, transport mcpsdk.Transport) error {
	err := s.inner.Run(ctx, transport)
	if err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	return nil
}

func (s *Server) registerAnalyzeTool() {
	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        ToolNameAnalyze,
		Description: analyzeToolDescription,
	}, instrument(s.deps, ToolNameAnalyze, s.handleAnalyze))

	s.mu.Lock()
	s.tools = append(s.tools, ToolNameAnalyze)
	s.mu.Unlock()
}

const (
	mcpSpanPrefix  = "mcp."
	traceIDMetaKey = "trace_id"
)

// instrument wraps a tool handler with a server span and request metrics.
// A sampled span's trace_id is appended to the result content.
func instrument[In, Out any](
	deps ServerDeps,
	toolName string,
	handler mcpsdk.ToolHandlerFor[In, Out],
) mcpsdk.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input In) (*mcpsdk.CallToolResult, Out, error) {
		if deps.Tracer != nil {
			var span trace.Span

			ctx, span = deps.Tracer.Start(ctx, mcpSpanPrefix+toolName,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attribute.String("mcp.tool", toolName)),
			)
			defer span.End()
		}

		done := deps.Requests.Begin(ctx, mcpSpanPrefix+toolName)

		result, output, err := handler(ctx, req, input)

		failure := err
		if failure == nil && result != nil && result.IsError {
			failure = errToolResult
		}

		if failure != nil {
			span := trace.SpanFromContext(ctx)
			span.SetStatus(codes.Error, failure.Error())
		}

		if sc := trace.SpanContextFromContext(ctx); sc.IsSampled() && result != nil {
			result.Content = append(result.Content, &mcpsdk.TextContent{
				Text: traceIDMetaKey + "=" + sc.TraceID().String(),
			})
		}

		done(failure)

		return result, output, err
	}
}

const analyzeToolDescription = "Discover the third-party dependencies of a Python project by following " +
	"imports from its entry-point files. Returns requirements.txt content pinned to installed " +
	"versions plus a report of visited files, local modules and parse failures."
