package resolve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geonext/internal/model"
	"github.com/sells-group/geonext/pkg/anthropic"
)

func TestStateTransitions(t *testing.T) {
	assert.True(t, CanTransition(StatePending, StateQuerying))
	assert.True(t, CanTransition(StateQuerying, StateUnresolved))
	assert.True(t, CanTransition(StateDisambiguating, StateResolved))
	assert.False(t, CanTransition(StatePending, StateResolved))
	assert.False(t, CanTransition(StateResolved, StateQuerying))
	assert.True(t, StateUnresolved.Terminal())
	assert.False(t, StateDisambiguating.Terminal())
	assert.Equal(t, "CANDIDATES_COLLECTED", StateCandidatesCollected.String())
}

func resolvedAt(lat, lon float64, cc, admin1 string) model.ResolvedLocation {
	c := model.Coordinate{Latitude: lat, Longitude: lon}
	return model.ResolvedLocation{
		Status:     model.StatusResolved,
		Coordinate: &c,
		Chosen:     &model.CandidateLocation{Coordinate: c, CountryCode: cc, Admin1: admin1},
	}
}

func TestAccumulator(t *testing.T) {
	acc := NewAccumulator(0)
	_, ok := acc.DominantCountry()
	assert.False(t, ok)
	assert.Nil(t, acc.Centroid())
	_, active := acc.ContextScore(model.CandidateLocation{CountryCode: "DK"})
	assert.False(t, active)

	acc.Add(resolvedAt(55.676, 12.566, "dk", "Capital Region"))
	acc.Add(resolvedAt(55.403, 10.402, "DK", "South Denmark"))
	acc.Add(resolvedAt(59.913, 10.752, "NO", "Oslo"))
	acc.Add(model.Unresolved(model.ToponymMention{Surface: "Atlantis"}, "no candidates"))
	assert.Equal(t, 3, acc.Len())

	cc, ok := acc.DominantCountry()
	require.True(t, ok)
	assert.Equal(t, "DK", cc)

	score, active := acc.ContextScore(model.CandidateLocation{
		Coordinate: model.Coordinate{Latitude: 55.6737, Longitude: 12.5681}, CountryCode: "DK", Admin1: "capital region",
	})
	assert.True(t, active)
	assert.InDelta(t, 1.0, score, 1e-9)

	score, _ = acc.ContextScore(model.CandidateLocation{
		Coordinate: model.Coordinate{Latitude: 55.68, Longitude: 12.57}, CountryCode: "SE",
	})
	assert.InDelta(t, 0.8, score, 1e-9, "same H3 region cell")

	score, _ = acc.ContextScore(model.CandidateLocation{
		Coordinate: model.Coordinate{Latitude: 57.048, Longitude: 9.919}, CountryCode: "DK", Admin1: "North Denmark",
	})
	assert.InDelta(t, 0.6, score, 1e-9)

	score, _ = acc.ContextScore(model.CandidateLocation{
		Coordinate: model.Coordinate{Latitude: 41.96, Longitude: 12.8}, CountryCode: "IT",
	})
	assert.Zero(t, score)
}

func TestAccumulator_CentroidAcrossAntimeridian(t *testing.T) {
	acc := NewAccumulator(3)
	acc.Add(resolvedAt(-17.0, 179.0, "FJ", ""))
	acc.Add(resolvedAt(-17.0, -179.0, "FJ", ""))
	c := acc.Centroid()
	require.NotNil(t, c)
	assert.InDelta(t, -17.0, c.Latitude, 1e-9)
	assert.InDelta(t, 180.0, abs(c.Longitude), 1e-6)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func TestQueryPlan(t *testing.T) {
	m := model.ToponymMention{Surface: "Odense", Query: "Odense, Denmark"}
	acc := NewAccumulator(3)
	acc.Add(resolvedAt(55.676, 12.566, "DK", ""))

	p := NewQueryPlan(m, model.QueryHints{Countries: []string{"DK"}}, acc, 3)
	r1 := p.First()
	assert.Equal(t, RoundSurface, r1.Kind)
	require.NotNil(t, r1.Hints.BiasPoint, "centroid becomes the bias point")
	assert.Empty(t, r1.Hints.CountryBias, "caller countries take precedence")

	r2, ok := p.Next(r1, 0)
	require.True(t, ok)
	assert.Equal(t, RoundRelaxed, r2.Kind)
	assert.Empty(t, r2.Hints.Countries)
	assert.NotNil(t, r2.Hints.BiasPoint)

	r3, ok := p.Next(r2, 0)
	require.True(t, ok)
	assert.Equal(t, RoundRefined, r3.Kind)
	assert.Equal(t, "Odense, Denmark", r3.Query)

	_, ok = p.Next(r3, 0)
	assert.False(t, ok)

	// candidates in round 1: skip the relaxed round, keep the hints for refinement
	r3, ok = p.Next(r1, 4)
	require.True(t, ok)
	assert.Equal(t, 3, r3.Number)
	assert.Equal(t, []string{"DK"}, r3.Hints.Countries)

	// no caller hints: the dominant country biases every round
	p = NewQueryPlan(m, model.QueryHints{}, acc, 3)
	assert.Equal(t, "DK", p.First().Hints.CountryBias)
	assert.False(t, p.First().Hints.Restrictive())

	// a single round
	p = NewQueryPlan(m, model.QueryHints{Countries: []string{"DK"}}, nil, 1)
	_, ok = p.Next(p.First(), 0)
	assert.False(t, ok)

	// refined query equal to the surface after folding
	p = NewQueryPlan(model.ToponymMention{Surface: "Zürich", Query: "zurich"}, model.QueryHints{}, nil, 3)
	_, ok = p.Next(p.First(), 0)
	assert.False(t, ok)
}

func TestMergeCandidates_DedupKeepsHigherRelevance(t *testing.T) {
	a := model.CandidateLocation{Coordinate: model.Coordinate{Latitude: 55.6761, Longitude: 12.5683}, Source: "a", Relevance: 0.6}
	b := model.CandidateLocation{Coordinate: model.Coordinate{Latitude: 55.6765, Longitude: 12.5690}, Source: "b", Relevance: 0.9}
	c := model.CandidateLocation{Coordinate: model.Coordinate{Latitude: 41.96, Longitude: 12.80}, Source: "b", Relevance: 0.5}
	d := model.CandidateLocation{Coordinate: model.Coordinate{Latitude: 41.9601, Longitude: 12.8001}, Source: "c", Relevance: 0.4}

	merged := mergeCandidates([][]model.CandidateLocation{{a}, {b, c}, {d}}, 1.0)
	require.Len(t, merged, 2)
	assert.Equal(t, b, merged[0])
	assert.Equal(t, c, merged[1])

	assert.Len(t, mergeCandidates([][]model.CandidateLocation{{a}, {b}}, 0.01), 2)
	assert.Empty(t, mergeCandidates(nil, 1))
}

func TestScoreCandidates(t *testing.T) {
	w := DefaultWeights()
	cands := []model.CandidateLocation{
		{DisplayName: "first", Relevance: 0.8},
		{DisplayName: "second", Relevance: 0.8},
		{DisplayName: "populous", Relevance: 0.8, Population: 1000},
	}

	scored := scoreCandidates(cands, nil, nil, w)
	assert.Equal(t, "populous", scored[0].Candidate.DisplayName)
	assert.Equal(t, "first", scored[1].Candidate.DisplayName, "merge order breaks remaining ties")
	require.NotNil(t, scored[1].Prominence)
	assert.Zero(t, *scored[1].Prominence)

	scored = scoreCandidates(cands[:2], []float64{0.1, 0.9}, nil, w)
	assert.Equal(t, "second", scored[0].Candidate.DisplayName)
	assert.InDelta(t, (0.4*0.9+0.3*0.8)/0.7, scored[0].Combined, 1e-9)
	assert.Nil(t, scored[0].Prominence, "inactive without population")
	assert.Nil(t, scored[0].Context)

	scored = scoreCandidates(cands[:1], nil, nil, Weights{Plausibility: 1})
	assert.InDelta(t, 0.8, scored[0].Combined, 1e-9, "falls back to relevance when no weighted term is active")
}

func TestProminence(t *testing.T) {
	assert.Zero(t, prominence(0))
	assert.InDelta(t, 0.75, prominence(999999), 1e-9)
	assert.InDelta(t, 1.0, prominence(5_000_000_000), 1e-9)
	assert.Less(t, prominence(56533), prominence(116250))
}

func TestParseScores(t *testing.T) {
	s, err := parseScores(`Sure: {"scores":[0.9, 1.4, -0.2]}`, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.9, 1, 0}, s)

	_, err = parseScores(`{"scores":[0.9]}`, 2)
	assert.ErrorIs(t, err, ErrMalformedJudgement)
	_, err = parseScores(`no idea`, 2)
	assert.ErrorIs(t, err, ErrMalformedJudgement)
	_, err = parseScores(`{"scores":"high"}`, 1)
	assert.ErrorIs(t, err, ErrMalformedJudgement)
}

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

func TestModelJudge(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "judge-model" && req.Temperature != nil && *req.Temperature == 0 &&
			len(req.Messages) == 1 && indexOf(req.Messages[0].Content, "1. Springfield, Massachusetts") >= 0
	})).Return(&anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: `{"scores":[0.9,0.1]}`}},
	}, nil)

	j := NewModelJudge(client, "judge-model", 0, noRetry, nil)
	scores, err := j.Judge(context.Background(), model.ToponymMention{Surface: "Springfield", Context: "capital of Illinois"}, []model.CandidateLocation{
		{DisplayName: "Springfield, Illinois", CountryCode: "US", Population: 116250, FeatureType: model.FeatureCity},
		{DisplayName: "Springfield, Massachusetts", CountryCode: "US", FeatureType: model.FeatureCity},
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.9, 0.1}, scores)
	client.AssertExpectations(t)
}
