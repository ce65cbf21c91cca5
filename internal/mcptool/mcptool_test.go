package mcptool

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geonext/internal/extract"
	"github.com/sells-group/geonext/internal/model"
	"github.com/sells-group/geonext/internal/pipeline"
	"github.com/sells-group/geonext/internal/resilience"
	"github.com/sells-group/geonext/internal/resolve"
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

const tripText = "Flights from Odense to Atlantis."

var places = []geocode.FixturePlace{
	{Name: "Odense", Latitude: 55.3959, Longitude: 10.3883, CountryCode: "DK", Population: 180000, FeatureType: "city"},
	{Name: "Odense", Latitude: 40.1, Longitude: -75.2, CountryCode: "US", Population: 100, FeatureType: "city", Score: 0.6},
}

func newTestPipeline(client anthropic.Client) *pipeline.Pipeline {
	noRetry := resilience.RetryConfig{MaxAttempts: 1}
	set := geocode.Set{geocode.NewClient(geocode.NewFixtureBackend("fixture", places), geocode.WithRetry(noRetry))}
	ex := extract.New(client, extract.Config{Model: "test-model", Style: extract.StyleZeroShot}, extract.WithRetry(noRetry))
	return pipeline.New(ex, resolve.New(set, nil, resolve.Config{}), nil, pipeline.Config{})
}

func tripClient() *mockAnthropicClient {
	c := &mockAnthropicClient{}
	c.On("CreateMessage", mock.Anything, mock.Anything).Return(&anthropic.MessageResponse{
		Content:    []anthropic.ContentBlock{{Type: "text", Text: `{"locations":[{"name":"Odense","start":13,"precision":6},{"name":"Atlantis","start":23}]}`}},
		StopReason: "end_turn",
	}, nil)
	return c
}

// connect returns a client session talking to server over in-memory pipes.
func connect(t *testing.T, server *mcp.Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	st, ct := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, st, nil)
	require.NoError(t, err)
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = cs.Close()
		_ = ss.Wait()
	})
	return cs
}

func decode[T any](t *testing.T, res *mcp.CallToolResult) T {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content")
	var out T
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func TestServer_ListsTools(t *testing.T) {
	cs := connect(t, NewServer(newTestPipeline(&mockAnthropicClient{}), "test"))

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"geocode", "geocode_location"}, names)
}

func TestGeocodeTool(t *testing.T) {
	cs := connect(t, NewServer(newTestPipeline(tripClient()), "test"))

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "geocode",
		Arguments: map[string]any{"text": tripText, "language": "en"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)

	out := decode[OutputGeocode](t, res)
	require.Len(t, out.Locations, 2)

	odense := out.Locations[0]
	assert.Equal(t, "Odense", odense.Surface)
	assert.Equal(t, 13, odense.Start)
	assert.Equal(t, 19, odense.End)
	require.NotNil(t, odense.Latitude)
	assert.InDelta(t, 55.3959, *odense.Latitude, 1e-6)
	assert.Equal(t, "DK", odense.Country)
	assert.Greater(t, odense.Confidence, 0.0)
	assert.Equal(t, 6, odense.Precision)

	atlantis := out.Locations[1]
	assert.Equal(t, "Atlantis", atlantis.Surface)
	assert.Nil(t, atlantis.Latitude)
	assert.Nil(t, atlantis.Longitude)
	assert.Zero(t, atlantis.Confidence)
}

func TestGeocodeTool_CountryIsOnlyABias(t *testing.T) {
	cs := connect(t, NewServer(newTestPipeline(tripClient()), "test"))

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "geocode",
		Arguments: map[string]any{"text": tripText, "country": "us"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)

	out := decode[OutputGeocode](t, res)
	require.Len(t, out.Locations, 2)
	assert.Equal(t, "DK", out.Locations[0].Country, "the better Danish match is not filtered out")
}

func TestGeocodeTool_RequiresText(t *testing.T) {
	cs := connect(t, NewServer(newTestPipeline(&mockAnthropicClient{}), "test"))

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "geocode",
		Arguments: map[string]any{"text": "   "},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestGeocodeLocationTool(t *testing.T) {
	cs := connect(t, NewServer(newTestPipeline(&mockAnthropicClient{}), "test"))

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "geocode_location",
		Arguments: map[string]any{"query": "Odense", "country_codes": []string{"us"}},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)

	out := decode[OutputGeocodeLocation](t, res)
	assert.Equal(t, "fixture", out.Gazetteer)
	require.Len(t, out.Candidates, 1)
	assert.Equal(t, "US", out.Candidates[0].CountryCode)
	assert.Empty(t, out.Faults)
}

func TestGeocodeOutput(t *testing.T) {
	coord := model.Coordinate{Latitude: 1, Longitude: 2}
	out := geocodeOutput(&model.DocumentResult{
		Locations: []model.ResolvedLocation{
			{Surface: "A", Span: model.Span{Start: 0, End: 1}, Status: model.StatusResolved, Coordinate: &coord, Confidence: 0.7},
			{Surface: "B", Span: model.Span{Start: 2, End: 3}, Status: model.StatusUnresolved},
		},
		Faults: []model.Fault{model.NewServiceFault("geocoder", "nominatim", errors.New("503"))},
	})
	require.Len(t, out.Locations, 2)
	assert.Equal(t, 1.0, *out.Locations[0].Latitude)
	assert.Nil(t, out.Locations[1].Latitude)
	require.Len(t, out.Faults, 1)
	assert.Contains(t, out.Faults[0], "nominatim")
}

func TestHTTPHandler(t *testing.T) {
	srv := httptest.NewServer(HTTPHandler(NewServer(newTestPipeline(&mockAnthropicClient{}), "test")))
	defer srv.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(context.Background(), &mcp.StreamableClientTransport{Endpoint: srv.URL}, nil)
	require.NoError(t, err)
	defer cs.Close() //nolint:errcheck

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "geocode_location",
		Arguments: map[string]any{"query": "Odense"},
	})
	require.NoError(t, err)
	out := decode[OutputGeocodeLocation](t, res)
	assert.Len(t, out.Candidates, 2)
}
