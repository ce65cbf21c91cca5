package store

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geonext/internal/model"
)

var evaluationColumns = []string{
	"run_id", "document_id", "mention_index", "surface",
	"predicted_lat", "predicted_lon", "gold_lat", "gold_lon",
	"distance_km", "resolved",
}

var (
	evaluationColumnList = strings.Join(evaluationColumns, ", ")
	evaluationSelectList = strings.Join(evaluationColumns[1:], ", ")
)

func evaluationRows(runID string, records []model.EvaluationRecord) [][]any {
	rows := make([][]any, len(records))
	for i, r := range records {
		var lat, lon *float64
		if r.Predicted != nil {
			lat, lon = &r.Predicted.Latitude, &r.Predicted.Longitude
		}
		rows[i] = []any{
			runID, r.DocumentID, r.MentionIndex, r.Surface,
			lat, lon, r.Gold.Latitude, r.Gold.Longitude,
			r.DistanceKM, r.Resolved,
		}
	}
	return rows
}

func scanEvaluation(row scannable) (model.EvaluationRecord, error) {
	var (
		r        model.EvaluationRecord
		lat, lon *float64
	)
	err := row.Scan(&r.DocumentID, &r.MentionIndex, &r.Surface, &lat, &lon,
		&r.Gold.Latitude, &r.Gold.Longitude, &r.DistanceKM, &r.Resolved)
	if err != nil {
		return r, eris.Wrap(err, "store: scan evaluation record")
	}
	if lat != nil && lon != nil {
		r.Predicted = &model.Coordinate{Latitude: *lat, Longitude: *lon}
	}
	return r, nil
}

func decodeResult(data []byte) (*model.DocumentResult, error) {
	var r model.DocumentResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal result")
	}
	return &r, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

func expired(cachedAt time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && time.Since(cachedAt) > maxAge
}

func nonNil(cands []model.CandidateLocation) []model.CandidateLocation {
	if cands == nil {
		return []model.CandidateLocation{}
	}
	return cands
}
