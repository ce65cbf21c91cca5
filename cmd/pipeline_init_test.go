package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geonext/internal/config"
	"github.com/sells-group/geonext/internal/evaluate"
	"github.com/sells-group/geonext/internal/model"
	"github.com/sells-group/geonext/internal/resolve"
)

const fixtureYAML = `places:
  - name: Odense
    lat: 55.3959
    lon: 10.3883
    country_code: DK
    country: Denmark
    population: 180000
    feature_type: city
  - name: Copenhagen
    aliases: [København]
    lat: 55.6761
    lon: 12.5683
    country_code: DK
    country: Denmark
    population: 1300000
    feature_type: city
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	fixture := filepath.Join(dir, "places.yaml")
	require.NoError(t, os.WriteFile(fixture, []byte(fixtureYAML), 0o644))

	c := &config.Config{}
	c.Store = config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(dir, "geonext.db")}
	c.Gazetteers = config.GazetteersConfig{
		Priority:   []string{"fixture"},
		Strategy:   "fanout",
		MaxResults: 5,
		Fixture:    config.FixtureConfig{Path: fixture},
	}
	c.Retry = config.RetryConfig{MaxAttempts: 1}
	c.Resolve = config.ResolveConfig{
		AcceptanceThreshold: 0.6,
		DedupDistanceKM:     2,
		MaxQueryRounds:      2,
		RegionResolution:    4,
		JudgeTimeoutSecs:    5,
		Weights:             config.WeightsConfig{Plausibility: 0.1, Relevance: 0.5, Context: 0.3, Prominence: 0.1},
	}
	return c
}

func noClose(func()) {}

func TestInitGazetteers_Fixture(t *testing.T) {
	set, err := initGazetteers(context.Background(), testConfig(t), nil, noClose)
	require.NoError(t, err)
	assert.Equal(t, []string{"fixture"}, set.Names())

	res, faults := set.Lookup(context.Background(), "København", model.QueryHints{})
	assert.Empty(t, faults)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "DK", res.Candidates[0].CountryCode)
}

func TestInitGazetteers_Errors(t *testing.T) {
	c := testConfig(t)
	c.Gazetteers.Priority = []string{"atlas"}
	_, err := initGazetteers(context.Background(), c, nil, noClose)
	assert.ErrorContains(t, err, "unknown gazetteer")

	c.Gazetteers.Priority = nil
	_, err = initGazetteers(context.Background(), c, nil, noClose)
	assert.Error(t, err)

	c.Gazetteers.Priority = []string{"postgis"}
	_, err = initGazetteers(context.Background(), c, nil, noClose)
	assert.ErrorContains(t, err, "database_url")
}

func TestInitGazetteers_HTTPBackends(t *testing.T) {
	c := testConfig(t)
	c.Gazetteers.Priority = []string{"Nominatim", "photon", "geonames", "google"}
	c.Gazetteers.Nominatim = config.NominatimConfig{BaseURL: "http://127.0.0.1:1", UserAgent: "test", RateLimit: 1}
	c.Gazetteers.GeoNames = config.GeoNamesConfig{BaseURL: "http://127.0.0.1:1", Username: "demo"}

	set, err := initGazetteers(context.Background(), c, nil, noClose)
	require.NoError(t, err)
	assert.Equal(t, []string{"nominatim", "photon", "geonames", "google"}, set.Names())
}

func TestResolveConfig(t *testing.T) {
	c := testConfig(t)
	rc := resolveConfig(c)
	assert.Equal(t, resolve.StrategyFanout, rc.Strategy)
	assert.InDelta(t, 0.6, rc.AcceptanceThreshold, 1e-9)
	assert.Equal(t, 2, rc.MaxQueryRounds)
	assert.Equal(t, 4, rc.RegionResolution)
	assert.Equal(t, 5*time.Second, rc.JudgeTimeout)
	assert.InDelta(t, 0.5, rc.Weights.Relevance, 1e-9)
}

func TestRetryAndCircuitConfig(t *testing.T) {
	c := testConfig(t)
	c.Circuit = config.CircuitConfig{FailureThreshold: 2, ResetTimeoutSecs: 7}

	assert.Equal(t, 1, retryConfig(c).MaxAttempts)
	cc := circuitConfig(c, "nominatim")
	assert.Equal(t, 2, cc.FailureThreshold)
	assert.Equal(t, 7*time.Second, cc.ResetTimeout)
	assert.NotNil(t, cc.OnStateChange)
}

func TestEvaluateOptions(t *testing.T) {
	opts, err := evaluateOptions(config.EvaluateConfig{UnresolvedPolicy: "exclude", AUCBins: 50})
	require.NoError(t, err)
	assert.Equal(t, evaluate.PolicyExclude, opts.Policy)
	assert.Equal(t, 50, opts.AUCBins)

	_, err = evaluateOptions(config.EvaluateConfig{UnresolvedPolicy: "ignore"})
	assert.Error(t, err)
}

func TestPipelineEnvClose(t *testing.T) {
	var order []int
	env := &pipelineEnv{}
	env.onClose(func() { order = append(order, 1) })
	env.onClose(func() { order = append(order, 2) })
	env.Close()
	env.Close()
	assert.Equal(t, []int{2, 1}, order)
}
