package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geonext/internal/model"
)

func TestProcessDocument_ResolvesEveryMention(t *testing.T) {
	p := newTestPipeline(happyClient(), fixtureSet(), nil, Config{})

	doc := model.NewDocument("flights", flightsText, "en")
	result, err := p.ProcessDocument(context.Background(), doc, model.QueryHints{})
	require.NoError(t, err)

	assert.Equal(t, "flights", result.DocumentID)
	assert.Equal(t, flightsText, result.Text)
	assert.Empty(t, result.Faults)
	require.Len(t, result.Locations, 2)

	for i, loc := range result.Locations {
		assert.Equal(t, i, loc.MentionIndex)
		assert.Equal(t, doc.Text[loc.Span.Start:loc.Span.End], loc.Surface)
		assert.Equal(t, model.StatusResolved, loc.Status)
		assert.GreaterOrEqual(t, loc.Confidence, 0.5)
		assert.LessOrEqual(t, loc.Confidence, 1.0)
		require.NotNil(t, loc.Chosen)
		assert.Equal(t, "DK", loc.Chosen.CountryCode)
	}
	assert.Equal(t, "Odense", result.Locations[0].Surface)
	assert.Equal(t, "Copenhagen", result.Locations[1].Surface)
}

func TestProcessDocument_EmptyText(t *testing.T) {
	client := &mockAnthropicClient{}
	p := newTestPipeline(client, fixtureSet(), nil, Config{})

	result, err := p.ProcessDocument(context.Background(), model.NewDocument("empty", "", ""), model.QueryHints{})
	require.NoError(t, err)
	assert.Empty(t, result.Locations)
	client.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestProcessDocument_ExtractorDownGazetteersUp(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errModelDown)
	p := newTestPipeline(client, fixtureSet(), nil, Config{})

	result, err := p.ProcessDocument(context.Background(), model.NewDocument("d", snowText, "en"), model.QueryHints{})
	require.NoError(t, err)
	assert.Empty(t, result.Locations)
	require.Len(t, result.Faults, 1)
	assert.Equal(t, model.FaultService, result.Faults[0].Kind)
	assert.Equal(t, "extractor", result.Faults[0].Component)
}

func TestProcessDocument_AllBackendsUnavailable(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errModelDown)
	p := newTestPipeline(client, openSet(t), nil, Config{})

	result, err := p.ProcessDocument(context.Background(), model.NewDocument("d", snowText, "en"), model.QueryHints{})
	require.ErrorIs(t, err, ErrBackendsUnavailable)
	require.NotNil(t, result)
	assert.Empty(t, result.Locations)
}

func TestProcessDocument_Cancelled(t *testing.T) {
	p := newTestPipeline(happyClient(), fixtureSet(), nil, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := p.ProcessDocument(ctx, model.NewDocument("d", flightsText, "en"), model.QueryHints{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Nil(t, result)
}

func TestBackendsUnavailable(t *testing.T) {
	p := newTestPipeline(&mockAnthropicClient{}, fixtureSet(), nil, Config{})

	extractorDown := model.NewServiceFault("extractor", "test-model", errModelDown)
	gazetteerDown := model.NewServiceFault("geocoder", "fixture", errors.New("503"))

	assert.False(t, p.backendsUnavailable(nil))
	assert.False(t, p.backendsUnavailable([]model.Fault{extractorDown}))
	assert.False(t, p.backendsUnavailable([]model.Fault{gazetteerDown}))
	assert.True(t, p.backendsUnavailable([]model.Fault{extractorDown, gazetteerDown}))
}
