package resolve

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/sells-group/geonext/internal/model"
	"github.com/sells-group/geonext/pkg/geocode"
)

// Strategy selects how the gazetteers are queried in a round.
type Strategy string

const (
	// StrategyFanout queries every gazetteer concurrently.
	StrategyFanout Strategy = "fanout"
	// StrategyCascade queries in priority order until one returns candidates.
	StrategyCascade Strategy = "cascade"
)

// roundResult is the outcome of one round, in gazetteer priority order.
type roundResult struct {
	lists  [][]model.CandidateLocation
	calls  []model.ToolCall
	faults []model.Fault
}

// runRound issues r against the gazetteers. Failures become faults; only
// cancellation of ctx is returned as an error.
func runRound(ctx context.Context, clients geocode.Set, strategy Strategy, r Round) (roundResult, error) {
	results := make([]*geocode.Result, len(clients))

	if strategy == StrategyCascade {
		for i, c := range clients {
			res := c.Query(ctx, r.Query, r.Hints)
			results[i] = &res
			if len(res.Candidates) > 0 {
				break
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		for i, c := range clients {
			g.Go(func() error {
				res := c.Query(gctx, r.Query, r.Hints)
				results[i] = &res
				return nil
			})
		}
		_ = g.Wait()
	}
	if err := ctx.Err(); err != nil {
		return roundResult{}, err
	}

	var out roundResult
	for _, res := range results {
		if res == nil {
			continue
		}
		call := model.ToolCall{
			Round:      r.Number,
			Gazetteer:  res.Gazetteer,
			Query:      r.Query,
			Hints:      r.Hints,
			Results:    len(res.Candidates),
			Cached:     res.Cached,
			DurationMS: res.Duration.Milliseconds(),
		}
		if res.Fault != nil {
			call.Fault = res.Fault.Message
			out.faults = append(out.faults, *res.Fault)
		}
		out.calls = append(out.calls, call)
		out.lists = append(out.lists, res.Candidates)
	}
	return out, nil
}

// mergeCandidates concatenates lists in order and drops candidates closer
// than dedupKM to an earlier one. Of two duplicates the one with higher
// relevance survives, in the position of the first.
func mergeCandidates(lists [][]model.CandidateLocation, dedupKM float64) []model.CandidateLocation {
	var merged []model.CandidateLocation
	for _, list := range lists {
	next:
		for _, c := range list {
			for i, m := range merged {
				if m.DistanceKM(c.Coordinate) < dedupKM {
					if c.Relevance > m.Relevance {
						merged[i] = c
					}
					continue next
				}
			}
			merged = append(merged, c)
		}
	}
	return merged
}
