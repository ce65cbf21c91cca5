package export

import (
	"bytes"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geonext/internal/evaluate"
	"github.com/sells-group/geonext/internal/model"
)

func sampleResults() []model.DocumentResult {
	odense := model.Coordinate{Latitude: 55.3959, Longitude: 10.3883}
	return []model.DocumentResult{{
		DocumentID:  "doc-1",
		Text:        "Flights from Odense to Atlantis.",
		ProcessedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		DurationMS:  42,
		Locations: []model.ResolvedLocation{
			{
				MentionIndex: 0,
				Surface:      "Odense",
				Span:         model.Span{Start: 13, End: 19},
				Status:       model.StatusResolved,
				Coordinate:   &odense,
				Confidence:   0.82,
				Precision:    6,
				Chosen: &model.CandidateLocation{
					Coordinate:  odense,
					DisplayName: "Odense",
					FeatureType: model.FeatureCity,
					CountryCode: "DK",
					Source:      "fixture",
					Population:  180000,
				},
			},
			model.Unresolved(model.ToponymMention{Index: 1, Surface: "Atlantis", Span: model.Span{Start: 23, End: 31}}, "no candidates"),
		},
	}}
}

func TestFeatureCollection(t *testing.T) {
	fc := FeatureCollection(sampleResults(), GeoJSONOptions{})
	require.Len(t, fc.Features, 1)

	f := fc.Features[0]
	assert.Equal(t, "Odense", f.Properties["surface"])
	assert.Equal(t, "DK", f.Properties["country_code"])
	assert.Equal(t, 6, f.Properties["precision"])
	assert.Equal(t, "doc-1", f.Properties["document_id"])
	assert.Equal(t, 2, f.Properties["document_mentions"])
	assert.Equal(t, "2025-03-01T12:00:00Z", f.Properties["document_processed_at"])
	assert.NotContains(t, f.Properties, "document_text")
	require.NotNil(t, f.Geometry)
	assert.Equal(t, []float64{10.3883, 55.3959}, f.Geometry.FlatCoords())
}

func TestFeatureCollection_IncludeUnresolved(t *testing.T) {
	fc := FeatureCollection(sampleResults(), GeoJSONOptions{IncludeUnresolved: true, IncludeText: true})
	require.Len(t, fc.Features, 2)
	assert.Nil(t, fc.Features[1].Geometry)
	assert.Equal(t, "unresolved", fc.Features[1].Properties["status"])
	assert.Equal(t, "no candidates", fc.Features[1].Properties["reason"])
	assert.NotContains(t, fc.Features[1].Properties, "precision", "unreported precision is omitted")
	assert.Equal(t, "Flights from Odense to Atlantis.", fc.Features[1].Properties["document_text"])
}

func TestWriteGeoJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteGeoJSON(&buf, sampleResults(), GeoJSONOptions{}))

	var decoded struct {
		Type     string `json:"type"`
		Features []struct {
			Type     string `json:"type"`
			Geometry struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "FeatureCollection", decoded.Type)
	require.Len(t, decoded.Features, 1)
	assert.Equal(t, "Feature", decoded.Features[0].Type)
	assert.Equal(t, "Point", decoded.Features[0].Geometry.Type)
	assert.Equal(t, []float64{10.3883, 55.3959}, decoded.Features[0].Geometry.Coordinates)
	assert.InDelta(t, 0.82, decoded.Features[0].Properties["confidence"], 1e-9)
}

func TestWriteGeoJSON_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteGeoJSON(&buf, nil, GeoJSONOptions{}))
	assert.JSONEq(t, `{"type":"FeatureCollection","features":[]}`, buf.String())
}

func TestWriteEvaluationReport(t *testing.T) {
	records := []model.EvaluationRecord{
		{DocumentID: "doc-1", MentionIndex: 0, Surface: "Odense", Resolved: true,
			Gold: model.Coordinate{Latitude: 55.4, Longitude: 10.39}, Predicted: &model.Coordinate{Latitude: 55.3959, Longitude: 10.3883}, DistanceKM: 0.47},
		{DocumentID: "doc-1", MentionIndex: -1, Surface: "Atlantis", Gold: model.Coordinate{Latitude: 36, Longitude: 25}},
	}
	metrics := evaluate.Metrics{
		Records: 2, Resolved: 1, Coverage: 0.5, AccuracyAt161: 1, MeanKM: 0.47, MedianKM: 0.47,
		Policy:     evaluate.PolicyExclude,
		Extraction: &evaluate.Extraction{TruePositives: 1, FalseNegatives: 1, Precision: 1, Recall: 0.5},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteEvaluationReport(&buf, "run-1", metrics, records))

	summary, err := ReadSheet(buf.Bytes(), SummarySheet)
	require.NoError(t, err)
	values := make(map[string]string)
	for _, row := range summary {
		require.Len(t, row, 2)
		values[row[0]] = row[1]
	}
	assert.Equal(t, "run-1", values["run_id"])
	assert.Equal(t, "2", values["records"])
	assert.Equal(t, "exclude", values["unresolved_policy"])
	assert.NotContains(t, values, "penalty_km")
	assert.Equal(t, "1", values["extraction_true_positives"])

	rows, err := ReadSheet(buf.Bytes(), RecordsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, recordHeader, rows[0])
	assert.Equal(t, "Odense", rows[1][2])
	dist, err := strconv.ParseFloat(rows[1][8], 64)
	require.NoError(t, err)
	assert.InDelta(t, 0.47, dist, 1e-9)
	assert.Equal(t, "-1", rows[2][1])
	assert.Empty(t, rows[2][6])
}

func TestReadSheet_Missing(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteEvaluationReport(&buf, "run-1", evaluate.Metrics{}, nil))
	_, err := ReadSheet(buf.Bytes(), "nope")
	assert.Error(t, err)
}
