package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricFilesVisited     = "monodeps.files.visited.total"
	metricFilesFailed      = "monodeps.files.failed.total"
	metricImports          = "monodeps.imports.total"
	metricExternalDeps     = "monodeps.dependencies.external"
	metricVersionsUnknown  = "monodeps.versions.unknown.total"
	metricAnalysisDuration = "monodeps.analysis.duration.seconds"

	metricRequestsTotal   = "monodeps.requests.total"
	metricRequestDuration = "monodeps.request.duration.seconds"
	metricRequestsActive  = "monodeps.requests.inflight"

	attrKind   = "kind"
	attrOp     = "op"
	attrStatus = "status"
	attrResult = "result"

	statusOK    = "ok"
	statusError = "error"
)

// durationBucketBoundaries spans 10ms single-file runs up to ten-minute
// scans of very large monorepos.
var durationBucketBoundaries = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// AnalysisMetrics holds the instruments describing analysis runs.
type AnalysisMetrics struct {
	filesVisited    metric.Int64Counter
	filesFailed     metric.Int64Counter
	imports         metric.Int64Counter
	externalDeps    metric.Int64Gauge
	versionsUnknown metric.Int64Counter
	duration        metric.Float64Histogram
}

// RunStats summarizes one analysis run.
type RunStats struct {
	FilesVisited int
	FilesFailed  int

	StdlibImports     int
	LocalImports      int
	ExternalImports   int
	UnresolvedImports int

	ExternalDependencies int
	UnknownVersions      int

	Duration time.Duration
	Err      error
}

// NewAnalysisMetrics creates the analysis instruments from mt.
func NewAnalysisMetrics(mt metric.Meter) (*AnalysisMetrics, error) {
	var (
		am  AnalysisMetrics
		err error
	)

	am.filesVisited, err = mt.Int64Counter(metricFilesVisited,
		metric.WithDescription("Python files parsed"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricFilesVisited, err)
	}

	am.filesFailed, err = mt.Int64Counter(metricFilesFailed,
		metric.WithDescription("Files that could not be read or parsed"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricFilesFailed, err)
	}

	am.imports, err = mt.Int64Counter(metricImports,
		metric.WithDescription("Import statements by classification"),
		metric.WithUnit("{import}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricImports, err)
	}

	am.externalDeps, err = mt.Int64Gauge(metricExternalDeps,
		metric.WithDescription("External distributions found by the last run"),
		metric.WithUnit("{dependency}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricExternalDeps, err)
	}

	am.versionsUnknown, err = mt.Int64Counter(metricVersionsUnknown,
		metric.WithDescription("External dependencies emitted without a version"),
		metric.WithUnit("{dependency}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricVersionsUnknown, err)
	}

	am.duration, err = mt.Float64Histogram(metricAnalysisDuration,
		metric.WithDescription("Analysis run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricAnalysisDuration, err)
	}

	return &am, nil
}

// RecordRun records a completed run. Safe to call on a nil receiver.
func (am *AnalysisMetrics) RecordRun(ctx context.Context, stats RunStats) {
	if am == nil {
		return
	}

	am.filesVisited.Add(ctx, int64(stats.FilesVisited))
	am.filesFailed.Add(ctx, int64(stats.FilesFailed))

	for kind, n := range map[string]int{
		"stdlib":     stats.StdlibImports,
		"local":      stats.LocalImports,
		"external":   stats.ExternalImports,
		"unresolved": stats.UnresolvedImports,
	} {
		am.imports.Add(ctx, int64(n), metric.WithAttributes(attribute.String(attrKind, kind)))
	}

	am.externalDeps.Record(ctx, int64(stats.ExternalDependencies))
	am.versionsUnknown.Add(ctx, int64(stats.UnknownVersions))

	result := statusOK
	if stats.Err != nil {
		result = statusError
	}

	am.duration.Record(ctx, stats.Duration.Seconds(), metric.WithAttributes(attribute.String(attrResult, result)))
}

// RequestMetrics holds rate, error and duration instruments for served
// requests such as MCP tool calls.
type RequestMetrics struct {
	total    metric.Int64Counter
	duration metric.Float64Histogram
	inflight metric.Int64UpDownCounter
}

// NewRequestMetrics creates the request instruments from mt.
func NewRequestMetrics(mt metric.Meter) (*RequestMetrics, error) {
	total, err := mt.Int64Counter(metricRequestsTotal,
		metric.WithDescription("Requests served, by operation and status"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRequestsTotal, err)
	}

	duration, err := mt.Float64Histogram(metricRequestDuration,
		metric.WithDescription("Request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRequestDuration, err)
	}

	inflight, err := mt.Int64UpDownCounter(metricRequestsActive,
		metric.WithDescription("Requests currently being served"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRequestsActive, err)
	}

	return &RequestMetrics{total: total, duration: duration, inflight: inflight}, nil
}

// Begin marks a request for op as in flight. The returned function ends it,
// recording its status from err and its duration. Safe on a nil receiver.
func (rm *RequestMetrics) Begin(ctx context.Context, op string) func(err error) {
	if rm == nil {
		return func(error) {}
	}

	start := time.Now()
	opAttr := metric.WithAttributes(attribute.String(attrOp, op))
	rm.inflight.Add(ctx, 1, opAttr)

	return func(err error) {
		rm.inflight.Add(ctx, -1, opAttr)

		status := statusOK
		if err != nil {
			status = statusError
		}

		attrs := metric.WithAttributes(attribute.String(attrOp, op), attribute.String(attrStatus, status))
		rm.total.Add(ctx, 1, attrs)
		rm.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}
