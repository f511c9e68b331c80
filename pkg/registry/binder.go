package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheSize bounds the number of memoized lookups.
const DefaultCacheSize = 4096

const defaultConcurrency = 8

// Binding is the outcome of binding one external name.
type Binding struct {
	Name    string
	Version string
	// Err is set when the lookup missed; Version is then empty.
	Err error
}

// Known reports whether a version was found.
func (b Binding) Known() bool {
	return b.Err == nil && b.Version != ""
}

// BinderOptions configures a Binder.
type BinderOptions struct {
	CacheSize   int
	Concurrency int
	Logger      *slog.Logger
	Tracer      trace.Tracer
}

type cached struct {
	version string
	err     error
}

// Binder binds external names to installed versions. Lookups are memoized
// and concurrent requests for the same name share one registry query.
type Binder struct {
	lookup Lookup
	cache  *lru.Cache[string, cached]
	group  singleflight.Group
	opts   BinderOptions
}

// NewBinder creates a Binder over lookup.
func NewBinder(lookup Lookup, opts BinderOptions) (*Binder, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	if opts.Tracer == nil {
		opts.Tracer = nooptrace.NewTracerProvider().Tracer("registry")
	}

	cache, err := lru.New[string, cached](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create lookup cache: %w", err)
	}

	return &Binder{lookup: lookup, cache: cache, opts: opts}, nil
}

// Bind looks up every name and returns the bindings sorted by name. A miss
// is logged and yields an unknown version; it never fails the call. Only
// context cancellation is returned as an error.
func (b *Binder) Bind(ctx context.Context, names []string) ([]Binding, error) {
	ctx, span := b.opts.Tracer.Start(ctx, "monodeps.bind")
	defer span.End()

	unique := slices.Compact(slices.Sorted(slices.Values(names)))
	out := make([]Binding, len(unique))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Concurrency)

	for i, name := range unique {
		g.Go(func() error {
			version, err := b.Version(gctx, name)
			if ctxErr := gctx.Err(); ctxErr != nil {
				return ctxErr
			}

			if err != nil {
				b.opts.Logger.WarnContext(gctx, "installed version not found", "package", name, "error", err)
			}

			out[i] = Binding{Name: name, Version: version, Err: err}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("bind versions: %w", err)
	}

	misses := 0

	for _, binding := range out {
		if !binding.Known() {
			misses++
		}
	}

	span.SetAttributes(
		attribute.Int("monodeps.bind.names", len(out)),
		attribute.Int("monodeps.bind.misses", misses),
	)

	return out, nil
}

// Version returns the installed version of name, querying the registry at
// most once per name while the result stays cached.
func (b *Binder) Version(ctx context.Context, name string) (string, error) {
	if hit, ok := b.cache.Get(name); ok {
		return hit.version, hit.err
	}

	v, _, _ := b.group.Do(name, func() (any, error) { //nolint:errcheck // errors travel inside cached
		if hit, ok := b.cache.Get(name); ok {
			return hit, nil
		}

		version, err := b.lookup.LookupVersion(ctx, name)
		if err == nil && version == "" {
			err = fmt.Errorf("%w: %s has no version", ErrNotInstalled, name)
		}

		res := cached{version: version, err: err}

		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			b.cache.Add(name, res)
		}

		return res, nil
	})

	res, _ := v.(cached) //nolint:errcheck // only cached values are returned

	return res.version, res.err
}

// Misses returns the sorted names whose version is unknown.
func Misses(bindings []Binding) []string {
	var misses []string

	for _, binding := range bindings {
		if !binding.Known() {
			misses = append(misses, binding.Name)
		}
	}

	return slices.Sorted(slices.Values(misses))
}

// StaticLookup serves versions from a fixed map.
type StaticLookup map[string]string

// LookupVersion implements Lookup.
func (s StaticLookup) LookupVersion(_ context.Context, name string) (string, error) {
	if version, ok := s[name]; ok {
		return version, nil
	}

	return "", fmt.Errorf("%w: %s", ErrNotInstalled, name)
}
