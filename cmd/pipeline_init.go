package main

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geonext/internal/config"
	"github.com/sells-group/geonext/internal/db"
	"github.com/sells-group/geonext/internal/extract"
	"github.com/sells-group/geonext/internal/pipeline"
	"github.com/sells-group/geonext/internal/resilience"
	"github.com/sells-group/geonext/internal/resolve"
	"github.com/sells-group/geonext/internal/store"
	anthropicpkg "github.com/sells-group/geonext/pkg/anthropic"
	"github.com/sells-group/geonext/pkg/geocode"
)

// pipelineEnv holds the store, gazetteers and pipeline needed by the
// run/evaluate/serve/mcp commands.
type pipelineEnv struct {
	Store      store.Store
	Gazetteers geocode.Set
	Pipeline   *pipeline.Pipeline

	closers []func()
}

// Close releases resources held by the environment, newest first.
func (pe *pipelineEnv) Close() {
	for i := len(pe.closers) - 1; i >= 0; i-- {
		pe.closers[i]()
	}
	pe.closers = nil
}

func (pe *pipelineEnv) onClose(fn func()) { pe.closers = append(pe.closers, fn) }

// openStore opens and migrates the configured store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}

// initPipeline validates the configuration for mode and builds the whole
// stack. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &pipelineEnv{}
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env.Store = st
	env.onClose(func() { _ = st.Close() })

	gazetteers, err := initGazetteers(ctx, cfg, st, env.onClose)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Gazetteers = gazetteers

	client := anthropicpkg.NewClient(cfg.Anthropic.Key)
	retry := retryConfig(cfg)

	ex, err := initExtractor(client, gazetteers, st, retry)
	if err != nil {
		env.Close()
		return nil, err
	}

	var judge resolve.Judge
	if cfg.Resolve.JudgeEnabled {
		judge = resolve.NewModelJudge(client, cfg.Anthropic.JudgeModel,
			resilience.Seconds(cfg.Resolve.JudgeTimeoutSecs), retry,
			resilience.NewCircuitBreaker(circuitConfig(cfg, "judge")))
	}

	res := resolve.New(gazetteers, judge, resolveConfig(cfg))
	env.Pipeline = pipeline.New(ex, res, st, pipeline.Config{
		MaxConcurrentDocuments: cfg.Batch.MaxConcurrentDocuments,
		FlushEvery:             cfg.Batch.FlushEvery,
		StopOnError:            cfg.Batch.StopOnError,
		MaxDLQRetries:          cfg.Retry.MaxAttempts,
	})

	zap.L().Info("pipeline initialized",
		zap.String("extract_model", cfg.Anthropic.ExtractModel),
		zap.String("style", cfg.Extract.Style),
		zap.Strings("gazetteers", gazetteers.Names()),
		zap.Bool("judge", judge != nil),
	)
	return env, nil
}

func initExtractor(client anthropicpkg.Client, gazetteers geocode.Set, st store.Store, retry resilience.RetryConfig) (*extract.Extractor, error) {
	style, err := extract.ParseStyle(cfg.Extract.Style)
	if err != nil {
		return nil, err
	}
	var examples []extract.Example
	if cfg.Extract.ExamplesFile != "" {
		examples, err = extract.LoadExamples(cfg.Extract.ExamplesFile)
		if err != nil {
			return nil, err
		}
	}

	opts := []extract.Option{
		extract.WithRetry(retry),
		extract.WithBreaker(resilience.NewCircuitBreaker(circuitConfig(cfg, "anthropic"))),
	}
	if style == extract.StyleAgent {
		opts = append(opts, extract.WithGazetteers(gazetteers))
	}
	if cfg.Extract.CacheEnabled && st != nil {
		opts = append(opts, extract.WithCache(st))
	}

	return extract.New(client, extract.Config{
		Model:         cfg.Anthropic.ExtractModel,
		Style:         style,
		Examples:      examples,
		Shots:         cfg.Extract.Shots,
		ContextWindow: cfg.Extract.ContextWindow,
		MaxTokens:     cfg.Anthropic.MaxTokens,
		Timeout:       resilience.Seconds(cfg.Extract.TimeoutSecs),
		MaxToolRounds: cfg.Extract.MaxToolRounds,
	}, opts...), nil
}

// initGazetteers builds one client per configured backend in priority
// order. st may be nil, which disables the gazetteer cache; its Postgres
// pool also serves the PostGIS backend when no separate URL is configured.
func initGazetteers(ctx context.Context, c *config.Config, st store.Store, onClose func(func())) (geocode.Set, error) {
	g := c.Gazetteers
	hc := geocode.NewHTTPClient(resilience.Seconds(g.TimeoutSecs))

	var set geocode.Set
	for _, name := range g.Priority {
		name = strings.ToLower(strings.TrimSpace(name))
		var (
			backend geocode.Backend
			rps     float64
		)
		switch name {
		case "nominatim":
			var nopts []geocode.NominatimOption
			nopts = append(nopts, geocode.WithNominatimHTTPClient(hc))
			if g.Nominatim.Email != "" {
				nopts = append(nopts, geocode.WithNominatimEmail(g.Nominatim.Email))
			}
			backend = geocode.NewNominatimBackend(g.Nominatim.BaseURL, g.Nominatim.UserAgent, nopts...)
			rps = g.Nominatim.RateLimit
		case "photon":
			backend = geocode.NewPhotonBackend(g.Photon.BaseURL, hc)
			rps = g.Photon.RateLimit
		case "geonames":
			backend = geocode.NewGeoNamesBackend(g.GeoNames.BaseURL, g.GeoNames.Username, hc)
			rps = g.GeoNames.RateLimit
		case "google":
			backend = geocode.NewGoogleBackend(g.Google.Key, hc)
			rps = g.Google.RateLimit
		case "postgis":
			pool, err := postgisPool(ctx, g.PostGIS, st, onClose)
			if err != nil {
				return nil, err
			}
			backend = geocode.NewPostGISBackend(pool, g.PostGIS.Table)
		case "fixture":
			fb, err := geocode.LoadFixture(g.Fixture.Path)
			if err != nil {
				return nil, err
			}
			backend = fb
		default:
			return nil, eris.Errorf("unknown gazetteer %q", name)
		}

		opts := []geocode.Option{
			geocode.WithRetry(retryConfig(c)),
			geocode.WithTimeout(resilience.Seconds(g.TimeoutSecs)),
			geocode.WithBreaker(resilience.NewCircuitBreaker(circuitConfig(c, name))),
			geocode.WithMaxResults(g.MaxResults),
		}
		if rps > 0 {
			opts = append(opts, geocode.WithRateLimit(rps))
		}
		if g.CacheEnabled && st != nil {
			opts = append(opts, geocode.WithCache(st, time.Duration(g.CacheTTLHours)*time.Hour))
		}
		set = append(set, geocode.NewClient(backend, opts...))
	}
	if len(set) == 0 {
		return nil, eris.New("no gazetteers configured")
	}
	return set, nil
}

func postgisPool(ctx context.Context, pc config.PostGISConfig, st store.Store, onClose func(func())) (db.Pool, error) {
	if pc.DatabaseURL == "" {
		if ps, ok := st.(*store.PostgresStore); ok {
			zap.L().Info("postgis gazetteer using the store's database pool")
			return ps.Pool(), nil
		}
		return nil, eris.New("gazetteers.postgis.database_url is required unless store.driver is postgres")
	}
	pool, err := store.NewPool(ctx, pc.DatabaseURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "connect postgis gazetteer")
	}
	onClose(pool.Close)
	return pool, nil
}

func retryConfig(c *config.Config) resilience.RetryConfig {
	r := c.Retry
	return resilience.FromRetryConfig(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs, r.Multiplier, r.JitterFraction)
}

func circuitConfig(c *config.Config, service string) resilience.CircuitBreakerConfig {
	cc := resilience.FromCircuitConfig(c.Circuit.FailureThreshold, c.Circuit.ResetTimeoutSecs)
	cc.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("circuit breaker state change",
			zap.String("service", service),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
	return cc
}

func resolveConfig(c *config.Config) resolve.Config {
	r := c.Resolve
	return resolve.Config{
		Strategy:            resolve.Strategy(c.Gazetteers.Strategy),
		AcceptanceThreshold: r.AcceptanceThreshold,
		DedupDistanceKM:     r.DedupDistanceKM,
		MaxQueryRounds:      r.MaxQueryRounds,
		RegionResolution:    r.RegionResolution,
		JudgeTimeout:        resilience.Seconds(r.JudgeTimeoutSecs),
		Weights: resolve.Weights{
			Plausibility: r.Weights.Plausibility,
			Relevance:    r.Weights.Relevance,
			Context:      r.Weights.Context,
			Prominence:   r.Weights.Prominence,
		},
	}
}
