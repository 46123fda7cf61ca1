package main

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/tandem/internal/backend"
	tc "github.com/linnemanlabs/tandem/internal/cfg"
	"github.com/linnemanlabs/tandem/internal/policy"
	"github.com/linnemanlabs/tandem/internal/policy/filecatalog"
	"github.com/linnemanlabs/tandem/internal/policy/pgcatalog"
	"github.com/linnemanlabs/tandem/internal/router"
	"github.com/linnemanlabs/tandem/internal/telemetry"
	"github.com/linnemanlabs/tandem/internal/telemetry/redissink"
)

// closer releases a component on shutdown.
type closer struct {
	name string
	fn   func(context.Context) error
}

// buildCatalog opens the configured policy source. A file catalog is
// watched for changes until ctx is cancelled.
func buildCatalog(ctx context.Context, c *tc.Config, L log.Logger) (policy.Catalog, []closer, error) {
	statuses := c.Statuses()

	if c.DatabaseURL != "" {
		pc, err := pgcatalog.New(ctx, c.DatabaseURL, statuses)
		if err != nil {
			return nil, nil, fmt.Errorf("pg catalog: %w", err)
		}
		L.Info(ctx, "using postgres policy catalog", "statuses", policy.StatusStrings(statuses))
		return pc, []closer{{"postgres catalog", func(context.Context) error { pc.Close(); return nil }}}, nil
	}

	fc, err := filecatalog.New(c.CatalogFile, statuses, L)
	if err != nil {
		return nil, nil, fmt.Errorf("file catalog: %w", err)
	}
	go func() {
		if err := fc.Watch(ctx); err != nil && ctx.Err() == nil {
			L.Error(ctx, err, "catalog watch stopped", "path", c.CatalogFile)
		}
	}()
	L.Info(ctx, "using file policy catalog", "path", c.CatalogFile, "statuses", policy.StatusStrings(statuses))
	return fc, nil, nil
}

// buildBackend returns the inference backend selected by -backend.
func buildBackend(c *tc.Config) (backend.Backend, error) {
	timeout := time.Duration(c.InferenceTimeoutSeconds) * time.Second
	switch c.Backend {
	case tc.BackendHTTP:
		return backend.NewHTTP(c.InferenceURL, c.InferenceAPIKey, timeout), nil
	case tc.BackendAnthropic:
		return backend.NewAnthropic(c.AnthropicAPIKey, int64(c.AnthropicMaxTokens), timeout), nil
	case tc.BackendStub:
		return backend.NewStub(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", c.Backend)
	}
}

// buildSink fans output events out to every configured destination. With
// none configured events are discarded.
func buildSink(ctx context.Context, c *tc.Config, L log.Logger) (telemetry.Sink, []closer, error) {
	var (
		sinks   []telemetry.Sink
		closers []closer
	)

	if c.CollectorURL != "" {
		sinks = append(sinks, telemetry.NewCollector(c.CollectorURL, c.CollectorAPIKey,
			time.Duration(c.CollectorTimeoutSeconds)*time.Second))
		L.Info(ctx, "telemetry sink enabled", "type", "collector", "url", c.CollectorURL)
	}

	if c.RedisURL != "" {
		rs, err := redissink.NewFromURL(ctx, c.RedisURL, c.RedisStream)
		if err != nil {
			return nil, nil, fmt.Errorf("redis sink: %w", err)
		}
		sinks = append(sinks, rs)
		closers = append(closers, closer{"redis sink", func(context.Context) error { return rs.Close() }})
		L.Info(ctx, "telemetry sink enabled", "type", "redis", "stream", rs.Stream())
	}

	if len(sinks) == 0 {
		L.Warn(ctx, "no telemetry sink configured, output events are discarded")
	}
	return telemetry.Fanout(sinks...), closers, nil
}

// buildRandSource seeds shadow sampling when -router-seed is set.
func buildRandSource(seed uint64) router.RandSource {
	if seed == 0 {
		return router.SystemRand()
	}
	return router.NewSeededRand(seed)
}
