package resolve

import (
	"cmp"
	"math"
	"slices"

	"github.com/sells-group/geonext/internal/model"
)

// Weights weight the disambiguation terms.
type Weights struct {
	Plausibility float64
	Relevance    float64
	Context      float64
	Prominence   float64
}

// DefaultWeights favour the judge, then gazetteer relevance.
func DefaultWeights() Weights {
	return Weights{Plausibility: 0.4, Relevance: 0.3, Context: 0.2, Prominence: 0.1}
}

// prominence maps population to [0,1] on a log scale; 10^8 saturates.
func prominence(pop int64) float64 {
	if pop <= 0 {
		return 0
	}
	return math.Min(1, math.Log10(float64(pop)+1)/8)
}

// scoreCandidates computes the combined score of every candidate as the
// weighted mean of the active terms and returns them ranked. plausibility
// may be nil when the judge was not consulted. Context and prominence only
// discriminate between candidates, so a lone candidate is scored on
// relevance alone. The ranking is combined descending, then population, then
// relevance, then merge order.
func scoreCandidates(cands []model.CandidateLocation, plausibility []float64, acc *Accumulator, w Weights) []model.ScoredCandidate {
	contested := len(cands) > 1
	prominent := false
	for _, c := range cands {
		if contested && c.Population > 0 {
			prominent = true
			break
		}
	}

	out := make([]model.ScoredCandidate, len(cands))
	for i, c := range cands {
		sc := model.ScoredCandidate{Candidate: c, Relevance: c.Relevance}
		sum, weight := w.Relevance*c.Relevance, w.Relevance

		if plausibility != nil {
			p := plausibility[i]
			sc.Plausibility = &p
			sum += w.Plausibility * p
			weight += w.Plausibility
		}
		if contested && acc != nil {
			if ctx, ok := acc.ContextScore(c); ok {
				sc.Context = &ctx
				sum += w.Context * ctx
				weight += w.Context
			}
		}
		if prominent {
			p := prominence(c.Population)
			sc.Prominence = &p
			sum += w.Prominence * p
			weight += w.Prominence
		}

		if weight > 0 {
			sc.Combined = sum / weight
		} else {
			sc.Combined = c.Relevance
		}
		out[i] = sc
	}

	slices.SortStableFunc(out, func(a, b model.ScoredCandidate) int {
		return cmp.Or(
			cmp.Compare(b.Combined, a.Combined),
			cmp.Compare(b.Candidate.Population, a.Candidate.Population),
			cmp.Compare(b.Relevance, a.Relevance),
		)
	})
	return out
}
