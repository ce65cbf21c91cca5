package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpan(t *testing.T) {
	s := Span{Start: 3, End: 8}
	assert.Equal(t, 5, s.Len())
	assert.True(t, s.Valid(8))
	assert.False(t, s.Valid(7))
	assert.False(t, Span{Start: 4, End: 4}.Valid(10))
	assert.False(t, Span{Start: -1, End: 2}.Valid(10))

	assert.True(t, s.Overlaps(Span{Start: 7, End: 9}))
	assert.False(t, s.Overlaps(Span{Start: 8, End: 9}), "half-open spans touching at the edge")
}

func TestNewDocument(t *testing.T) {
	d := NewDocument("", "Flooding in Odense.", "en")
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, "doc-1", NewDocument("doc-1", "x", "").ID)
}

func TestDocumentResultResolved(t *testing.T) {
	c := Coordinate{Latitude: 1, Longitude: 1}
	r := DocumentResult{Locations: []ResolvedLocation{
		{MentionIndex: 0, Status: StatusResolved, Coordinate: &c, Confidence: 0.8},
		Unresolved(ToponymMention{Index: 1, Surface: "Atlantis"}, "no candidates"),
	}}
	got := r.Resolved()
	assert.Len(t, got, 1)
	assert.Equal(t, 0, got[0].MentionIndex)

	u := r.Locations[1]
	assert.Nil(t, u.Coordinate)
	assert.Zero(t, u.Confidence)
	assert.Equal(t, "no candidates", u.Rationale.Reason)
}

func TestFaults(t *testing.T) {
	f := NewServiceFault("geocoder", "nominatim", errors.New("503"))
	assert.Equal(t, FaultService, f.Kind)
	assert.Equal(t, SeverityHigh, f.Severity)
	assert.Equal(t, -1, f.MentionIndex)
	assert.Equal(t, "service/geocoder[nominatim]: 503", f.String())

	m := f.ForMention(2)
	assert.Equal(t, 2, m.MentionIndex)
	assert.Equal(t, -1, f.MentionIndex)

	e := NewExtractionFault("span mismatch", SeverityLow)
	assert.Equal(t, "extraction/extractor: span mismatch", e.String())
	assert.Equal(t, "unknown error", NewServiceFault("extractor", "", nil).Message)
}
