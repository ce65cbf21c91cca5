// Package pipeline runs extraction and resolution over documents, one
// document at a time or in resumable batches.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geonext/internal/extract"
	"github.com/sells-group/geonext/internal/model"
	"github.com/sells-group/geonext/internal/resolve"
	"github.com/sells-group/geonext/internal/store"
)

// ErrBackendsUnavailable stops a run when the reasoning model failed with a
// service fault and every gazetteer faulted or has an open circuit.
var ErrBackendsUnavailable = eris.New("pipeline: reasoning model and all gazetteers unavailable")

// ErrDocumentFailed marks a batch document whose extraction failed with a
// service fault.
var ErrDocumentFailed = eris.New("pipeline: document failed")

// Config controls batch behaviour.
type Config struct {
	MaxConcurrentDocuments int
	FlushEvery             int
	StopOnError            bool
	MaxDLQRetries          int
}

// Pipeline ties an extractor to a resolver.
type Pipeline struct {
	extractor *extract.Extractor
	resolver  *resolve.Resolver
	store     store.Store
	cfg       Config
}

// New creates a Pipeline. st may be nil, which disables persistence,
// resume and the dead-letter queue.
func New(ex *extract.Extractor, res *resolve.Resolver, st store.Store, cfg Config) *Pipeline {
	if cfg.MaxConcurrentDocuments <= 0 {
		cfg.MaxConcurrentDocuments = 4
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 10
	}
	if cfg.MaxDLQRetries <= 0 {
		cfg.MaxDLQRetries = 3
	}
	return &Pipeline{extractor: ex, resolver: res, store: st, cfg: cfg}
}

// Resolver returns the pipeline's resolver.
func (p *Pipeline) Resolver() *resolve.Resolver { return p.resolver }

// Store returns the pipeline's store, possibly nil.
func (p *Pipeline) Store() store.Store { return p.store }

// ProcessDocument extracts and resolves every toponym of doc. Faults are
// recorded on the result. The error is non-nil when ctx is done, in which
// case no result is returned, or when every backend is down, in which case
// the result is returned alongside ErrBackendsUnavailable.
func (p *Pipeline) ProcessDocument(ctx context.Context, doc model.Document, hints model.QueryHints) (*model.DocumentResult, error) {
	log := zap.L().With(zap.String("document", doc.ID))
	start := time.Now()

	it := p.extractor.Extract(ctx, doc)
	mentions, faults, err := extract.Collect(it)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: extract %s", doc.ID)
	}

	if hints.Language == "" {
		hints.Language = doc.Language
	}
	locs, rfaults, err := p.resolver.ResolveDocument(ctx, mentions, hints)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: resolve %s", doc.ID)
	}

	result := &model.DocumentResult{
		DocumentID:  doc.ID,
		Text:        doc.Text,
		Locations:   locs,
		Faults:      append(faults, rfaults...),
		ProcessedAt: time.Now().UTC(),
		DurationMS:  time.Since(start).Milliseconds(),
	}

	log.Info("document processed",
		zap.Int("mentions", len(mentions)),
		zap.Int("resolved", len(result.Resolved())),
		zap.Int("faults", len(result.Faults)),
		zap.Int64("duration_ms", result.DurationMS),
	)
	for _, f := range result.Faults {
		log.Debug("document fault", zap.Stringer("fault", f))
	}

	if p.backendsUnavailable(result.Faults) {
		return result, ErrBackendsUnavailable
	}
	return result, nil
}

// extractorFault returns the extractor's service fault, if any.
func extractorFault(faults []model.Fault) (model.Fault, bool) {
	for _, f := range faults {
		if f.Kind == model.FaultService && f.Component == "extractor" {
			return f, true
		}
	}
	return model.Fault{}, false
}

// backendsUnavailable reports whether the extractor failed with a service
// fault and no gazetteer could be reached either.
func (p *Pipeline) backendsUnavailable(faults []model.Fault) bool {
	if _, ok := extractorFault(faults); !ok {
		return false
	}
	faulted := make(map[string]bool)
	for _, f := range faults {
		if f.Kind == model.FaultService && f.Component == "geocoder" {
			faulted[f.Source] = true
		}
	}
	for _, c := range p.resolver.Gazetteers() {
		if !faulted[c.Name()] && !c.Unavailable() {
			return false
		}
	}
	return true
}
