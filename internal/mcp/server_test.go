package mcp_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ronpik/mono-deps-analyzer/internal/mcp"
	"github.com/ronpik/mono-deps-analyzer/internal/pyfixture"
	"github.com/ronpik/mono-deps-analyzer/pkg/observability"
	"github.com/ronpik/mono-deps-analyzer/pkg/pyenv"
	"github.com/ronpik/mono-deps-analyzer/pkg/registry"
)

func noInterpreter(context.Context, string) (pyenv.Environment, error) {
	return pyenv.Environment{}, pyenv.ErrNoInterpreter
}

func connect(t *testing.T, deps mcp.ServerDeps) *mcpsdk.ClientSession {
	t.Helper()

	if deps.Inspect == nil {
		deps.Inspect = noInterpreter
	}

	srv, err := mcp.NewServer(deps)
	require.NoError(t, err)

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)

	serverDone := make(chan error, 1)

	go func() {
		serverDone <- srv.RunWithTransport(ctx, serverTransport)
	}()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "1.0.0"}, nil)

	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = session.Close() //nolint:errcheck // test cleanup
		cancel()
		<-serverDone
	})

	return session
}

func callAnalyze(t *testing.T, session *mcpsdk.ClientSession, args map[string]any) *mcpsdk.CallToolResult {
	t.Helper()

	result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      mcp.ToolNameAnalyze,
		Arguments: args,
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	return result
}

func TestNewServer_ToolsRegistered(t *testing.T) {
	t.Parallel()

	srv, err := mcp.NewServer(mcp.ServerDeps{})
	require.NoError(t, err)
	assert.Equal(t, []string{"monodeps_analyze"}, srv.ListToolNames())
}

func TestServer_ListTools(t *testing.T) {
	t.Parallel()

	session := connect(t, mcp.ServerDeps{})

	tools, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, tools.Tools, 1)

	assert.Equal(t, mcp.ToolNameAnalyze, tools.Tools[0].Name)
	assert.NotNil(t, tools.Tools[0].InputSchema)
	assert.NotNil(t, tools.Tools[0].OutputSchema)
}

func TestServer_CallAnalyze(t *testing.T) {
	t.Parallel()

	root := pyfixture.New(t, pyfixture.Monorepo)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	requests, err := observability.NewRequestMetrics(mp.Meter("test"))
	require.NoError(t, err)

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	session := connect(t, mcp.ServerDeps{
		Lookup:   registry.StaticLookup{"pandas": "1.3.0"},
		Tracer:   tp.Tracer("test"),
		Requests: requests,
	})

	result := callAnalyze(t, session, map[string]any{
		"entries": []string{filepath.Join(root, "service", "main.py")},
		"paths":   []string{root},
	})
	require.False(t, result.IsError)

	text, ok := result.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)
	assert.Equal(t, "external_pkg\npandas==1.3.0\nrequests\nsqlalchemy\n", text.Text)

	raw, err := json.Marshal(result.StructuredContent)
	require.NoError(t, err)

	var out mcp.AnalyzeOutput
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, text.Text, out.Requirements)
	require.NotNil(t, out.Report)
	assert.Len(t, out.Report.Requirements, 4)

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}

	assert.Contains(t, names, "mcp.monodeps_analyze")
	assert.Contains(t, names, "monodeps.analyze")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.NotEmpty(t, rm.ScopeMetrics)
}

func TestServer_CallAnalyze_InvalidInput(t *testing.T) {
	t.Parallel()

	session := connect(t, mcp.ServerDeps{Lookup: registry.StaticLookup{}})

	tests := map[string]map[string]any{
		"empty entries":  {"entries": []string{}},
		"relative entry": {"entries": []string{"service/main.py"}},
		"relative path":  {"entries": []string{"/abs/main.py"}, "paths": []string{"libs"}},
		"missing entry":  {"entries": []string{filepath.Join(t.TempDir(), "nonexistent.py")}},
	}

	for name, args := range tests {
		result := callAnalyze(t, session, args)
		assert.True(t, result.IsError, name)
	}
}
