// Package store persists document results, extraction and gazetteer caches,
// the dead-letter queue and evaluation records.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geonext/internal/config"
	"github.com/sells-group/geonext/internal/model"
	"github.com/sells-group/geonext/internal/resilience"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// ResultFilter pages through stored document results.
type ResultFilter struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Store defines the persistence interface for the geocoding pipeline.
type Store interface {
	// Document results
	SaveResult(ctx context.Context, result model.DocumentResult) error
	GetResult(ctx context.Context, documentID string) (*model.DocumentResult, error)
	ListResults(ctx context.Context, filter ResultFilter) ([]model.DocumentResult, error)
	ResultIDs(ctx context.Context) (map[string]bool, error)

	// Extraction cache
	GetExtraction(ctx context.Context, key string) (string, bool, error)
	PutExtraction(ctx context.Context, key, modelID, response string) error

	// Gazetteer cache
	GetCandidates(ctx context.Context, key string, maxAge time.Duration) ([]model.CandidateLocation, bool, error)
	PutCandidates(ctx context.Context, key, gazetteer string, cands []model.CandidateLocation) error

	// Dead letter queue
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	// Evaluation records
	SaveEvaluation(ctx context.Context, runID string, records []model.EvaluationRecord) (int64, error)
	ListEvaluation(ctx context.Context, runID string) ([]model.EvaluationRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates the store selected by cfg.Driver and runs migrations.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		st  Store
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		st, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		st, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}
