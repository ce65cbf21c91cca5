package evaluate

import (
	"github.com/sells-group/geonext/internal/model"
)

// Extraction holds span-level extraction scores.
type Extraction struct {
	TruePositives  int     `json:"true_positives"`
	FalsePositives int     `json:"false_positives"`
	FalseNegatives int     `json:"false_negatives"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
}

// Add accumulates counts from o and recomputes the ratios.
func (e *Extraction) Add(o Extraction) {
	e.TruePositives += o.TruePositives
	e.FalsePositives += o.FalsePositives
	e.FalseNegatives += o.FalseNegatives
	e.compute()
}

func (e *Extraction) compute() {
	e.Precision, e.Recall, e.F1 = 0, 0, 0
	if tp := float64(e.TruePositives); tp > 0 {
		e.Precision = tp / float64(e.TruePositives+e.FalsePositives)
		e.Recall = tp / float64(e.TruePositives+e.FalseNegatives)
		e.F1 = 2 * e.Precision * e.Recall / (e.Precision + e.Recall)
	}
}

// MatchDocument pairs predicted locations with gold mentions by span and
// returns one record per located gold mention plus the extraction counts.
// Exact span matches are paired first, then the largest overlaps; every
// prediction is used at most once.
func MatchDocument(result model.DocumentResult, gold model.GoldDocument) ([]model.EvaluationRecord, Extraction) {
	matchOf := make([]int, len(gold.Mentions)) // gold index -> location index
	used := make([]bool, len(result.Locations))
	for i := range matchOf {
		matchOf[i] = -1
	}

	for gi, g := range gold.Mentions {
		for li, loc := range result.Locations {
			if !used[li] && loc.Span == g.Span {
				matchOf[gi], used[li] = li, true
				break
			}
		}
	}
	for gi, g := range gold.Mentions {
		if matchOf[gi] >= 0 {
			continue
		}
		best, bestOverlap := -1, 0
		for li, loc := range result.Locations {
			if used[li] {
				continue
			}
			if ov := overlap(loc.Span, g.Span); ov > bestOverlap {
				best, bestOverlap = li, ov
			}
		}
		if best >= 0 {
			matchOf[gi], used[best] = best, true
		}
	}

	var (
		records []model.EvaluationRecord
		ext     Extraction
	)
	for gi, g := range gold.Mentions {
		var loc *model.ResolvedLocation
		if li := matchOf[gi]; li >= 0 {
			loc = &result.Locations[li]
			ext.TruePositives++
		} else {
			ext.FalseNegatives++
		}
		if g.Coordinate != nil {
			records = append(records, Evaluate(gold.ID, loc, g))
		}
	}
	for _, u := range used {
		if !u {
			ext.FalsePositives++
		}
	}
	ext.compute()
	return records, ext
}

func overlap(a, b model.Span) int {
	return max(0, min(a.End, b.End)-max(a.Start, b.Start))
}

// Score matches every gold document against its result and aggregates the
// records. A gold document without a result counts as one with no
// predictions.
func Score(gold []model.GoldDocument, results map[string]model.DocumentResult, opts Options) ([]model.EvaluationRecord, Metrics) {
	var (
		records []model.EvaluationRecord
		ext     Extraction
	)
	for _, g := range gold {
		result, ok := results[g.ID]
		if !ok {
			result = model.DocumentResult{DocumentID: g.ID}
		}
		recs, e := MatchDocument(result, g)
		records = append(records, recs...)
		ext.Add(e)
	}
	m := Aggregate(records, opts)
	m.Extraction = &ext
	return records, m
}
