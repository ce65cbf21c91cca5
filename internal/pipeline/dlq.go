package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geonext/internal/model"
	"github.com/sells-group/geonext/internal/resilience"
)

// RetryStats summarises a dead-letter retry pass.
type RetryStats struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// RetryDLQ reprocesses due dead-letter entries sequentially. Successful
// documents are saved and removed from the queue. Failures, including
// documents whose extraction faulted again, are rescheduled.
func (p *Pipeline) RetryDLQ(ctx context.Context, filter resilience.DLQFilter, hints model.QueryHints) (RetryStats, error) {
	var stats RetryStats
	if p.store == nil {
		return stats, eris.New("pipeline: dead-letter retry needs a store")
	}
	entries, err := p.store.DequeueDLQ(ctx, filter)
	if err != nil {
		return stats, err
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Attempted++
		log := zap.L().With(zap.String("dlq_id", e.ID), zap.String("document", e.Document.ID))

		result, err := p.ProcessDocument(ctx, e.Document, hints)
		if err == nil {
			if f, ok := extractorFault(result.Faults); ok {
				err = eris.Wrapf(ErrDocumentFailed, "%s: %s", e.Document.ID, f)
			}
		}
		if err != nil {
			stats.Failed++
			next := resilience.NextRetry(time.Now(), e.RetryCount+1)
			if incErr := p.store.IncrementDLQRetry(context.WithoutCancel(ctx), e.ID, next, err.Error()); incErr != nil {
				log.Warn("dlq: reschedule failed", zap.Error(incErr))
			}
			log.Warn("dlq: retry failed", zap.Error(err), zap.Int("retry_count", e.RetryCount+1))
			if errors.Is(err, ErrBackendsUnavailable) || ctx.Err() != nil {
				return stats, err
			}
			continue
		}

		if err := p.store.SaveResult(ctx, *result); err != nil {
			return stats, err
		}
		if err := p.store.RemoveDLQ(ctx, e.ID); err != nil {
			return stats, err
		}
		stats.Succeeded++
		log.Info("dlq: retry succeeded")
	}
	return stats, nil
}
