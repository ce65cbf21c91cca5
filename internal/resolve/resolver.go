package resolve

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geonext/internal/model"
	"github.com/sells-group/geonext/pkg/geocode"
)

// Config controls a Resolver.
type Config struct {
	Strategy            Strategy
	AcceptanceThreshold float64
	DedupDistanceKM     float64
	MaxQueryRounds      int
	RegionResolution    int
	JudgeTimeout        time.Duration
	Weights             Weights
}

// DefaultConfig returns the default resolver settings.
func DefaultConfig() Config {
	return Config{
		Strategy:            StrategyFanout,
		AcceptanceThreshold: 0.5,
		DedupDistanceKM:     1.0,
		MaxQueryRounds:      3,
		RegionResolution:    DefaultRegionResolution,
		JudgeTimeout:        30 * time.Second,
		Weights:             DefaultWeights(),
	}
}

// Resolver resolves mentions against a set of gazetteers.
type Resolver struct {
	clients geocode.Set
	judge   Judge
	cfg     Config
}

// New creates a Resolver. judge may be nil to disable the plausibility term.
func New(clients geocode.Set, judge Judge, cfg Config) *Resolver {
	def := DefaultConfig()
	if cfg.Strategy == "" {
		cfg.Strategy = def.Strategy
	}
	if cfg.AcceptanceThreshold <= 0 {
		cfg.AcceptanceThreshold = def.AcceptanceThreshold
	}
	if cfg.DedupDistanceKM <= 0 {
		cfg.DedupDistanceKM = def.DedupDistanceKM
	}
	if cfg.MaxQueryRounds <= 0 {
		cfg.MaxQueryRounds = def.MaxQueryRounds
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = def.Weights
	}
	return &Resolver{clients: clients, judge: judge, cfg: cfg}
}

// Gazetteers returns the clients in priority order.
func (r *Resolver) Gazetteers() geocode.Set { return r.clients }

// NewAccumulator returns an empty accumulator at the configured resolution.
func (r *Resolver) NewAccumulator() *Accumulator {
	return NewAccumulator(r.cfg.RegionResolution)
}

// attempt is the working state of one mention.
type attempt struct {
	m         model.ToponymMention
	state     State
	rationale model.Rationale
	faults    []model.Fault
	log       *zap.Logger
}

func (a *attempt) transition(to State) {
	if !CanTransition(a.state, to) {
		a.log.Error("illegal resolution transition", zap.Stringer("from", a.state), zap.Stringer("to", to))
	}
	a.log.Debug("resolution transition", zap.Stringer("from", a.state), zap.Stringer("to", to))
	a.state = to
	a.rationale.States = append(a.rationale.States, to.String())
}

func (a *attempt) unresolved(reason string) model.ResolvedLocation {
	a.transition(StateUnresolved)
	loc := model.Unresolved(a.m, reason)
	a.rationale.Reason = reason
	loc.Rationale = a.rationale
	return loc
}

// Resolve resolves one mention. acc is read but never modified. Faults are
// attributed to the mention. The error is non-nil only when ctx is done.
func (r *Resolver) Resolve(ctx context.Context, m model.ToponymMention, hints model.QueryHints, acc *Accumulator) (model.ResolvedLocation, []model.Fault, error) {
	a := &attempt{
		m:         m,
		state:     StatePending,
		rationale: model.Rationale{States: []string{StatePending.String()}},
		log:       zap.L().With(zap.Int("mention", m.Index), zap.String("surface", m.Surface)),
	}

	a.transition(StateQuerying)
	cands, err := r.query(ctx, a, hints, acc)
	if err != nil {
		return model.ResolvedLocation{}, nil, err
	}
	if len(cands) == 0 {
		return a.unresolved("no candidates"), a.faults, nil
	}

	a.transition(StateCandidatesCollected)
	a.log.Debug("candidates collected", zap.Int("candidates", len(cands)))

	a.transition(StateDisambiguating)
	var plausibility []float64
	if r.judge != nil && len(cands) > 1 {
		plausibility = r.plausibility(ctx, a, cands)
		if err := ctx.Err(); err != nil {
			return model.ResolvedLocation{}, nil, err
		}
	}

	scored := scoreCandidates(cands, plausibility, acc, r.cfg.Weights)
	a.rationale.Candidates = scored
	top := scored[0]

	if top.Combined < r.cfg.AcceptanceThreshold {
		return a.unresolved(fmt.Sprintf("best score %.3f below threshold %.3f", top.Combined, r.cfg.AcceptanceThreshold)), a.faults, nil
	}

	a.transition(StateResolved)
	chosen := top.Candidate
	coord := chosen.Coordinate
	a.rationale.Reason = fmt.Sprintf("chose %s from %s with score %.3f", chosen.DisplayName, chosen.Source, top.Combined)
	return model.ResolvedLocation{
		MentionIndex: m.Index,
		Surface:      m.Surface,
		Span:         m.Span,
		Status:       model.StatusResolved,
		Coordinate:   &coord,
		Confidence:   top.Combined,
		Precision:    m.Precision,
		Chosen:       &chosen,
		Rationale:    a.rationale,
	}, a.faults, nil
}

// query runs the query plan and returns the merged candidate set.
func (r *Resolver) query(ctx context.Context, a *attempt, hints model.QueryHints, acc *Accumulator) ([]model.CandidateLocation, error) {
	plan := NewQueryPlan(a.m, hints, acc, r.cfg.MaxQueryRounds)

	var lists [][]model.CandidateLocation
	collected := 0
	for round, ok := plan.First(), len(r.clients) > 0; ok; round, ok = plan.Next(round, collected) {
		res, err := runRound(ctx, r.clients, r.cfg.Strategy, round)
		if err != nil {
			return nil, err
		}
		for _, f := range res.faults {
			a.faults = append(a.faults, f.ForMention(a.m.Index))
		}
		a.rationale.ToolCalls = append(a.rationale.ToolCalls, res.calls...)
		for _, l := range res.lists {
			collected += len(l)
		}
		lists = append(lists, res.lists...)
	}

	if s := a.m.Suggestion; s != nil {
		lists = append(lists, []model.CandidateLocation{r.suggestionCandidate(ctx, a.m)})
	}
	return mergeCandidates(lists, r.cfg.DedupDistanceKM), nil
}

// suggestionCandidate turns the model's own coordinate into a candidate,
// filling country and admin1 by reverse lookup when a gazetteer supports it.
func (r *Resolver) suggestionCandidate(ctx context.Context, m model.ToponymMention) model.CandidateLocation {
	s := m.Suggestion
	rel := s.Confidence
	if rel == 0 {
		rel = 0.5
	}
	c := model.CandidateLocation{
		Coordinate:  s.Coordinate,
		DisplayName: m.Surface,
		FeatureType: precisionFeatureType(s.Precision),
		Source:      model.SourceModel,
		RawScore:    s.Confidence,
		Relevance:   rel,
	}
	if place, ok := r.clients.Reverse(ctx, s.Coordinate); ok {
		c.CountryCode = place.CountryCode
		c.Admin1 = place.Admin1
		if place.DisplayName != "" {
			c.DisplayName = place.DisplayName
		}
	}
	return c
}

// precisionFeatureType maps the model's 1-10 precision to a feature type.
func precisionFeatureType(p int) model.FeatureType {
	switch {
	case p <= 0:
		return model.FeatureOther
	case p <= 2:
		return model.FeatureCountry
	case p <= 4:
		return model.FeatureRegion
	case p <= 7:
		return model.FeatureCity
	case p <= 8:
		return model.FeaturePOI
	default:
		return model.FeatureAddress
	}
}

func (r *Resolver) plausibility(ctx context.Context, a *attempt, cands []model.CandidateLocation) []float64 {
	jctx := ctx
	if r.cfg.JudgeTimeout > 0 {
		var cancel context.CancelFunc
		jctx, cancel = context.WithTimeout(ctx, r.cfg.JudgeTimeout)
		defer cancel()
	}
	scores, err := r.judge.Judge(jctx, a.m, cands)
	if err == nil {
		return scores
	}
	if ctx.Err() != nil {
		return nil
	}
	a.log.Warn("judge failed", zap.Error(err))
	f := model.NewServiceFault("judge", "", err)
	if eris.Is(err, ErrMalformedJudgement) {
		f = model.Fault{Kind: model.FaultDisambiguation, Component: "judge", Message: err.Error(), Severity: model.SeverityLow}
	}
	a.faults = append(a.faults, f.ForMention(a.m.Index))
	return nil
}

// ResolveDocument resolves mentions sequentially in text order, feeding each
// accepted location into the document accumulator before the next mention.
// On cancellation the partial result is discarded.
func (r *Resolver) ResolveDocument(ctx context.Context, mentions []model.ToponymMention, hints model.QueryHints) ([]model.ResolvedLocation, []model.Fault, error) {
	acc := r.NewAccumulator()
	locs := make([]model.ResolvedLocation, 0, len(mentions))
	var faults []model.Fault
	for _, m := range mentions {
		loc, f, err := r.Resolve(ctx, m, hints, acc)
		if err != nil {
			return nil, nil, err
		}
		faults = append(faults, f...)
		acc.Add(loc)
		locs = append(locs, loc)
	}
	return locs, faults, nil
}
