package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geonext/internal/extract"
	"github.com/sells-group/geonext/internal/resilience"
	"github.com/sells-group/geonext/internal/resolve"
	"github.com/sells-group/geonext/internal/store"
	"github.com/sells-group/geonext/pkg/anthropic"
	"github.com/sells-group/geonext/pkg/geocode"
)

// --- Anthropic Mock ---

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

// forText matches the extraction request for one document.
func forText(text string) any {
	return mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.Messages) > 0 && req.Messages[len(req.Messages)-1].Content == text
	})
}

func answer(json string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content:    []anthropic.ContentBlock{{Type: "text", Text: json}},
		StopReason: "end_turn",
	}
}

var (
	errModelDown = errors.New("model endpoint unreachable")
	noRetry      = resilience.RetryConfig{MaxAttempts: 1}
)

// --- Fixtures ---

var places = []geocode.FixturePlace{
	{Name: "Odense", Latitude: 55.3959, Longitude: 10.3883, CountryCode: "DK", Admin1: "Syddanmark", Population: 180000, FeatureType: "city"},
	{Name: "Copenhagen", Aliases: []string{"København"}, Latitude: 55.6761, Longitude: 12.5683, CountryCode: "DK", Admin1: "Hovedstaden", Population: 1300000, FeatureType: "city"},
	{Name: "Oslo", Latitude: 59.9139, Longitude: 10.7522, CountryCode: "NO", Admin1: "Oslo", Population: 700000, FeatureType: "city"},
}

const (
	flightsText = "Flights from Odense to Copenhagen."
	snowText    = "Snow in Oslo."
	rainText    = "Rain over Copenhagen."
)

func fixtureSet() geocode.Set {
	return geocode.Set{geocode.NewClient(geocode.NewFixtureBackend("fixture", places), geocode.WithRetry(noRetry))}
}

// openSet returns a gazetteer whose circuit is already open.
func openSet(t *testing.T) geocode.Set {
	t.Helper()
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 1})
	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("down") })
	require.Equal(t, resilience.CircuitOpen, cb.State())
	return geocode.Set{geocode.NewClient(geocode.NewFixtureBackend("fixture", places),
		geocode.WithRetry(noRetry), geocode.WithBreaker(cb))}
}

func newTestPipeline(client anthropic.Client, gaz geocode.Set, st store.Store, cfg Config) *Pipeline {
	ex := extract.New(client, extract.Config{Model: "test-model", Style: extract.StyleZeroShot, ContextWindow: 20},
		extract.WithRetry(noRetry))
	return New(ex, resolve.New(gaz, nil, resolve.Config{}), st, cfg)
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func happyClient() *mockAnthropicClient {
	c := &mockAnthropicClient{}
	c.On("CreateMessage", mock.Anything, forText(flightsText)).
		Return(answer(`{"locations":[{"name":"Odense","start":13},{"name":"Copenhagen","start":23}]}`), nil)
	c.On("CreateMessage", mock.Anything, forText(snowText)).
		Return(answer(`{"locations":[{"name":"Oslo","start":8}]}`), nil)
	c.On("CreateMessage", mock.Anything, forText(rainText)).
		Return(answer(`{"locations":[{"name":"Copenhagen","start":10}]}`), nil)
	return c
}
