package resolve

import (
	"github.com/sells-group/geonext/internal/model"
	"github.com/sells-group/geonext/pkg/geocode"
)

// RoundKind names why a query round is issued.
type RoundKind string

const (
	// RoundSurface queries the surface form with caller hints and context bias.
	RoundSurface RoundKind = "surface"
	// RoundRelaxed repeats the surface query without hard filters.
	RoundRelaxed RoundKind = "relaxed"
	// RoundRefined uses the model's refined query.
	RoundRefined RoundKind = "refined"
)

// Round is one query issued to the gazetteers.
type Round struct {
	Number int
	Kind   RoundKind
	Query  string
	Hints  model.QueryHints
}

// QueryPlan decides which rounds to run for a mention. Later rounds depend
// on the outcome of earlier ones, so the plan is consulted after each round.
type QueryPlan struct {
	mention   model.ToponymMention
	hints     model.QueryHints
	maxRounds int
}

// NewQueryPlan derives a plan from the caller's hints and the document
// context. The accumulator centroid and dominant country become soft biases
// where the caller supplied none; they never filter.
func NewQueryPlan(m model.ToponymMention, hints model.QueryHints, acc *Accumulator, maxRounds int) *QueryPlan {
	if acc != nil {
		if hints.BiasPoint == nil {
			hints.BiasPoint = acc.Centroid()
		}
		if cc, ok := acc.DominantCountry(); ok && hints.CountryBias == "" && len(hints.Countries) == 0 {
			hints.CountryBias = cc
		}
	}
	if maxRounds <= 0 || maxRounds > 3 {
		maxRounds = 3
	}
	return &QueryPlan{mention: m, hints: hints, maxRounds: maxRounds}
}

// First returns round 1.
func (p *QueryPlan) First() Round {
	return Round{Number: 1, Kind: RoundSurface, Query: p.mention.Surface, Hints: p.hints}
}

// Next returns the round following prev given how many candidates have been
// collected so far, or false when the plan is exhausted.
func (p *QueryPlan) Next(prev Round, collected int) (Round, bool) {
	for n := prev.Number + 1; n <= p.maxRounds; n++ {
		switch n {
		case 2:
			if collected == 0 && p.hints.Restrictive() {
				return Round{Number: 2, Kind: RoundRelaxed, Query: p.mention.Surface, Hints: p.hints.Relaxed()}, true
			}
		case 3:
			if q := p.mention.Query; q != "" && geocode.Fold(q) != geocode.Fold(p.mention.Surface) {
				hints := p.hints
				if collected == 0 {
					hints = hints.Relaxed()
				}
				return Round{Number: 3, Kind: RoundRefined, Query: q, Hints: hints}, true
			}
		}
	}
	return Round{}, false
}
