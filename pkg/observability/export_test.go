package observability

import (
	"context"

	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// BuildResource exposes buildResource to external tests.
func BuildResource(cfg Config) (*resource.Resource, error) {
	return buildResource(cfg)
}

// Sampled reports whether a root span would be sampled under cfg and env.
func Sampled(cfg Config, env map[string]string) bool {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(selectSampler(cfg, func(key string) string {
		return env[key]
	})))
	defer func() { _ = tp.Shutdown(context.Background()) }() //nolint:errcheck // test helper

	_, span := tp.Tracer("sampling").Start(context.Background(), "root")
	defer span.End()

	return span.SpanContext().IsSampled()
}
