package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/ronpik/mono-deps-analyzer/pkg/observability"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}

	return out
}

func sumByAttr(t *testing.T, data metricdata.Aggregation, key string) map[string]int64 {
	t.Helper()

	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum, got %T", data)

	out := make(map[string]int64)

	for _, dp := range sum.DataPoints {
		val, _ := dp.Attributes.Value(attribute.Key(key))
		out[val.AsString()] += dp.Value
	}

	return out
}

func TestAnalysisMetrics_RecordRun(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	metrics, err := observability.NewAnalysisMetrics(mp.Meter("test"))
	require.NoError(t, err)

	metrics.RecordRun(context.Background(), observability.RunStats{
		FilesVisited:         5,
		FilesFailed:          1,
		StdlibImports:        3,
		LocalImports:         3,
		ExternalImports:      4,
		ExternalDependencies: 4,
		UnknownVersions:      2,
		Duration:             1500 * time.Millisecond,
	})

	data := collect(t, reader)

	assert.Equal(t, map[string]int64{"": 5}, sumByAttr(t, data["monodeps.files.visited.total"], "kind"))
	assert.Equal(t, map[string]int64{"": 1}, sumByAttr(t, data["monodeps.files.failed.total"], "kind"))
	assert.Equal(t, map[string]int64{"": 2}, sumByAttr(t, data["monodeps.versions.unknown.total"], "kind"))
	assert.Equal(t,
		map[string]int64{"stdlib": 3, "local": 3, "external": 4, "unresolved": 0},
		sumByAttr(t, data["monodeps.imports.total"], "kind"))

	gauge, ok := data["monodeps.dependencies.external"].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(4), gauge.DataPoints[0].Value)

	hist, ok := data["monodeps.analysis.duration.seconds"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.InDelta(t, 1.5, hist.DataPoints[0].Sum, 1e-9)
}

func TestAnalysisMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var metrics *observability.AnalysisMetrics

	assert.NotPanics(t, func() {
		metrics.RecordRun(context.Background(), observability.RunStats{FilesVisited: 1})
	})
}

func TestRequestMetrics_Begin(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	metrics, err := observability.NewRequestMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()

	metrics.Begin(ctx, "monodeps_analyze")(nil)
	metrics.Begin(ctx, "monodeps_analyze")(errors.New("entry point not found"))
	pending := metrics.Begin(ctx, "monodeps_analyze")

	data := collect(t, reader)

	assert.Equal(t, map[string]int64{"ok": 1, "error": 1}, sumByAttr(t, data["monodeps.requests.total"], "status"))
	assert.Equal(t, map[string]int64{"monodeps_analyze": 1}, sumByAttr(t, data["monodeps.requests.inflight"], "op"))

	pending(nil)

	data = collect(t, reader)
	assert.Equal(t, map[string]int64{"monodeps_analyze": 0}, sumByAttr(t, data["monodeps.requests.inflight"], "op"))

	var nilMetrics *observability.RequestMetrics
	assert.NotPanics(t, func() { nilMetrics.Begin(ctx, "x")(nil) })
}
