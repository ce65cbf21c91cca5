package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/geonext/internal/model"
	"github.com/sells-group/geonext/internal/resilience"
)

// BatchStats summarises a batch run.
type BatchStats struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// ResultFunc observes each finished document. It may be called concurrently.
type ResultFunc func(result model.DocumentResult)

// ProcessBatch processes docs concurrently. Documents that already have a
// stored result are skipped, finished results are flushed to the store every
// FlushEvery documents, and documents whose extraction failed are
// dead-lettered instead of saved. The run stops on ErrBackendsUnavailable, on
// cancellation, or on the first failed document when StopOnError is set.
func (p *Pipeline) ProcessBatch(ctx context.Context, docs []model.Document, hints model.QueryHints, onResult ResultFunc) (BatchStats, error) {
	stats := BatchStats{Total: len(docs)}

	pending, err := p.pending(ctx, docs)
	if err != nil {
		return stats, err
	}
	stats.Skipped = len(docs) - len(pending)
	if len(pending) == 0 {
		zap.L().Info("batch: nothing to process", zap.Int("skipped", stats.Skipped))
		return stats, nil
	}

	zap.L().Info("batch: processing",
		zap.Int("documents", len(pending)),
		zap.Int("skipped", stats.Skipped),
		zap.Int("concurrency", p.cfg.MaxConcurrentDocuments),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrentDocuments)

	var (
		processed, failed atomic.Int64
		mu                sync.Mutex
		buffer            []model.DocumentResult
	)
	// Saves are detached from cancellation so every result passed to
	// onResult is stored. A failed save keeps its results buffered.
	saveCtx := context.WithoutCancel(ctx)
	flush := func(force bool) error {
		mu.Lock()
		if len(buffer) == 0 || (!force && len(buffer) < p.cfg.FlushEvery) {
			mu.Unlock()
			return nil
		}
		batch := buffer
		buffer = nil
		mu.Unlock()
		if err := p.save(saveCtx, batch); err != nil {
			mu.Lock()
			buffer = append(batch, buffer...)
			mu.Unlock()
			return err
		}
		return nil
	}

	for _, doc := range pending {
		g.Go(func() error {
			result, err := p.ProcessDocument(gctx, doc, hints)
			if err != nil {
				failed.Add(1)
				p.deadLetter(ctx, doc, err)
				if errors.Is(err, ErrBackendsUnavailable) || gctx.Err() != nil || p.cfg.StopOnError {
					return err
				}
				zap.L().Error("batch: document failed", zap.String("document", doc.ID), zap.Error(err))
				return nil
			}

			if f, ok := extractorFault(result.Faults); ok {
				failed.Add(1)
				cause := eris.Wrapf(ErrDocumentFailed, "%s: %s", doc.ID, f)
				p.deadLetter(ctx, doc, cause)
				if p.cfg.StopOnError {
					return cause
				}
				zap.L().Warn("batch: extraction failed", zap.String("document", doc.ID), zap.Stringer("fault", f))
				return nil
			}

			processed.Add(1)
			if onResult != nil {
				onResult(*result)
			}
			mu.Lock()
			buffer = append(buffer, *result)
			mu.Unlock()
			return flush(false)
		})
	}

	runErr := g.Wait()
	if err := flush(true); err != nil && runErr == nil {
		runErr = err
	}

	stats.Processed = int(processed.Load())
	stats.Failed = int(failed.Load())
	zap.L().Info("batch: complete",
		zap.Int("processed", stats.Processed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
	)
	if runErr != nil {
		return stats, eris.Wrap(runErr, "batch processing")
	}
	return stats, nil
}

// pending drops documents that already have a stored result.
func (p *Pipeline) pending(ctx context.Context, docs []model.Document) ([]model.Document, error) {
	if p.store == nil {
		return docs, nil
	}
	done, err := p.store.ResultIDs(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load finished documents")
	}
	out := make([]model.Document, 0, len(docs))
	for _, d := range docs {
		if !done[d.ID] {
			out = append(out, d)
		}
	}
	return out, nil
}

func (p *Pipeline) save(ctx context.Context, results []model.DocumentResult) error {
	if p.store == nil {
		return nil
	}
	for _, r := range results {
		if err := p.store.SaveResult(ctx, r); err != nil {
			return eris.Wrap(err, "pipeline: flush results")
		}
	}
	zap.L().Debug("batch: flushed results", zap.Int("count", len(results)))
	return nil
}

// deadLetter queues doc for a later retry. It runs detached from
// cancellation so cancelled documents are recorded too.
func (p *Pipeline) deadLetter(ctx context.Context, doc model.Document, cause error) {
	if p.store == nil {
		return
	}
	now := time.Now().UTC()
	entry := resilience.DLQEntry{
		Document:     doc,
		Error:        cause.Error(),
		ErrorType:    errorType(cause),
		MaxRetries:   p.cfg.MaxDLQRetries,
		NextRetryAt:  resilience.NextRetry(now, 0),
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if err := p.store.EnqueueDLQ(context.WithoutCancel(ctx), entry); err != nil {
		zap.L().Warn("batch: dead-letter failed", zap.String("document", doc.ID), zap.Error(err))
	}
}

func errorType(err error) string {
	if errors.Is(err, ErrBackendsUnavailable) || errors.Is(err, ErrDocumentFailed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "transient"
	}
	return resilience.ClassifyError(err)
}
