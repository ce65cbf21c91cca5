package config

import (
	"fmt"
	"slices"
	"strings"
)

// Known gazetteer backend names.
var knownGazetteers = []string{"nominatim", "photon", "geonames", "google", "postgis", "fixture"}

// ConfigError lists every problem found by Validate. It is returned before
// any document is processed.
type ConfigError struct {
	Mode     string
	Problems []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: invalid configuration for %q: %s", e.Mode, strings.Join(e.Problems, "; "))
}

// Validate checks the configuration for the given command mode: run,
// evaluate, serve, mcp, lookup or export.
func (c *Config) Validate(mode string) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch mode {
	case "run", "evaluate", "serve", "mcp":
		c.validatePipeline(add)
		if mode == "serve" && c.Server.Port <= 0 {
			add("server.port must be > 0")
		}
	case "lookup":
		c.validateGazetteers(add)
	case "export":
		c.validateStore(add)
	default:
		return &ConfigError{Mode: mode, Problems: []string{"unknown mode " + mode}}
	}

	if len(problems) > 0 {
		return &ConfigError{Mode: mode, Problems: problems}
	}
	return nil
}

func (c *Config) validatePipeline(add func(string, ...any)) {
	c.validateStore(add)
	c.validateGazetteers(add)

	if c.Anthropic.Key == "" {
		add("anthropic.key is required")
	}
	if c.Anthropic.ExtractModel == "" {
		add("anthropic.extract_model is required")
	}
	if c.Resolve.JudgeEnabled && c.Anthropic.JudgeModel == "" {
		add("anthropic.judge_model is required when resolve.judge_enabled")
	}

	switch c.Extract.Style {
	case "zero_shot", "few_shot", "agent":
	default:
		add("extract.style must be one of zero_shot, few_shot, agent")
	}
	if c.Extract.Shots < 0 {
		add("extract.shots must be >= 0")
	}
	if c.Extract.ContextWindow < 0 {
		add("extract.context_window must be >= 0")
	}
	if c.Extract.Style == "agent" && c.Extract.MaxToolRounds <= 0 {
		add("extract.max_tool_rounds must be > 0 in agent mode")
	}

	r := c.Resolve
	if r.AcceptanceThreshold <= 0 || r.AcceptanceThreshold > 1 {
		add("resolve.acceptance_threshold must be in (0, 1]")
	}
	if r.DedupDistanceKM <= 0 {
		add("resolve.dedup_distance_km must be > 0")
	}
	if r.MaxQueryRounds < 1 || r.MaxQueryRounds > 3 {
		add("resolve.max_query_rounds must be between 1 and 3")
	}
	if r.RegionResolution < 0 || r.RegionResolution > 15 {
		add("resolve.region_resolution must be between 0 and 15")
	}
	w := r.Weights
	if w.Plausibility < 0 || w.Relevance < 0 || w.Context < 0 || w.Prominence < 0 {
		add("resolve.weights values must be >= 0")
	}
	if w.Plausibility+w.Relevance+w.Context+w.Prominence == 0 {
		add("resolve.weights must not all be zero")
	}

	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 10 {
		add("retry.max_attempts must be between 1 and 10")
	}
	if c.Batch.MaxConcurrentDocuments < 1 || c.Batch.MaxConcurrentDocuments > 64 {
		add("batch.max_concurrent_documents must be between 1 and 64")
	}

	switch c.Evaluate.UnresolvedPolicy {
	case "exclude", "penalize":
	default:
		add("evaluate.unresolved_policy must be exclude or penalize")
	}
	if c.Evaluate.MaxErrorKM <= 0 {
		add("evaluate.max_error_km must be > 0")
	}
	if c.Evaluate.AUCBins <= 0 {
		add("evaluate.auc_bins must be > 0")
	}
}

func (c *Config) validateStore(add func(string, ...any)) {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		add("store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		add("store.database_url is required")
	}
}

func (c *Config) validateGazetteers(add func(string, ...any)) {
	g := c.Gazetteers
	if len(g.Priority) == 0 {
		add("gazetteers.priority must name at least one gazetteer")
	}
	seen := make(map[string]bool, len(g.Priority))
	for _, name := range g.Priority {
		if !slices.Contains(knownGazetteers, name) {
			add("gazetteers.priority: unknown gazetteer %q", name)
			continue
		}
		if seen[name] {
			add("gazetteers.priority: %q listed twice", name)
		}
		seen[name] = true
	}
	if seen["geonames"] && g.GeoNames.Username == "" {
		add("gazetteers.geonames.username is required")
	}
	if seen["google"] && g.Google.Key == "" {
		add("gazetteers.google.key is required")
	}
	if seen["postgis"] && g.PostGIS.DatabaseURL == "" && c.Store.Driver != "postgres" {
		add("gazetteers.postgis.database_url is required unless store.driver is postgres")
	}
	if seen["fixture"] && g.Fixture.Path == "" {
		add("gazetteers.fixture.path is required")
	}
	switch g.Strategy {
	case "fanout", "cascade":
	default:
		add("gazetteers.strategy must be fanout or cascade")
	}
	if g.MaxResults <= 0 {
		add("gazetteers.max_results must be > 0")
	}
	if g.TimeoutSecs <= 0 {
		add("gazetteers.timeout_secs must be > 0")
	}
}
