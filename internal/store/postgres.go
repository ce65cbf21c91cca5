package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/geonext/internal/db"
	"github.com/sells-group/geonext/internal/model"
	"github.com/sells-group/geonext/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pool, err := NewPool(ctx, connString, poolCfg)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPool opens and pings a pgx pool. The PostGIS gazetteer uses it directly
// when it has its own database.
func NewPool(ctx context.Context, connString string, poolCfg *PoolConfig) (*pgxpool.Pool, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return pool, nil
}

// Pool returns the underlying pool, shared with the PostGIS gazetteer.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS document_results (
	document_id  TEXT PRIMARY KEY,
	result       JSONB NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS extraction_cache (
	cache_key TEXT PRIMARY KEY,
	model     TEXT NOT NULL,
	response  TEXT NOT NULL,
	cached_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS geocode_cache (
	cache_key  TEXT PRIMARY KEY,
	gazetteer  TEXT NOT NULL,
	candidates JSONB NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	document       JSONB NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS evaluation_records (
	id            BIGSERIAL PRIMARY KEY,
	run_id        TEXT NOT NULL,
	document_id   TEXT NOT NULL,
	mention_index INTEGER NOT NULL,
	surface       TEXT NOT NULL,
	predicted_lat DOUBLE PRECISION,
	predicted_lon DOUBLE PRECISION,
	gold_lat      DOUBLE PRECISION NOT NULL,
	gold_lon      DOUBLE PRECISION NOT NULL,
	distance_km   DOUBLE PRECISION NOT NULL,
	resolved      BOOLEAN NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_processed_at ON document_results(processed_at);
CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
CREATE INDEX IF NOT EXISTS idx_evaluation_run ON evaluation_records(run_id);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate creates the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// SaveResult inserts or replaces the result for a document.
func (s *PostgresStore) SaveResult(ctx context.Context, result model.DocumentResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}
	processed := result.ProcessedAt
	if processed.IsZero() {
		processed = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO document_results (document_id, result, processed_at) VALUES ($1, $2, $3)
		 ON CONFLICT (document_id) DO UPDATE SET result = EXCLUDED.result, processed_at = EXCLUDED.processed_at`,
		result.DocumentID, data, processed,
	)
	return eris.Wrapf(err, "postgres: save result %s", result.DocumentID)
}

// GetResult returns ErrNotFound for unknown documents.
func (s *PostgresStore) GetResult(ctx context.Context, documentID string) (*model.DocumentResult, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT result FROM document_results WHERE document_id = $1`, documentID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: result %s", documentID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get result %s", documentID)
	}
	return decodeResult(data)
}

// ListResults returns results in processing order.
func (s *PostgresStore) ListResults(ctx context.Context, filter ResultFilter) ([]model.DocumentResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT result FROM document_results ORDER BY processed_at, document_id LIMIT $1 OFFSET $2`,
		limitOrDefault(filter.Limit), max(filter.Offset, 0),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list results")
	}
	defer rows.Close()

	var out []model.DocumentResult
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		r, err := decodeResult(data)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list results iterate")
}

// ResultIDs returns the set of documents that already have a result.
func (s *PostgresStore) ResultIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT document_id FROM document_results`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: result ids")
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result id")
		}
		ids[id] = true
	}
	return ids, eris.Wrap(rows.Err(), "postgres: result ids iterate")
}

// GetExtraction returns a cached model response.
func (s *PostgresStore) GetExtraction(ctx context.Context, key string) (string, bool, error) {
	var response string
	err := s.pool.QueryRow(ctx,
		`SELECT response FROM extraction_cache WHERE cache_key = $1`, key,
	).Scan(&response)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrap(err, "postgres: get extraction")
	}
	return response, true, nil
}

// PutExtraction stores a model response.
func (s *PostgresStore) PutExtraction(ctx context.Context, key, modelID, response string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO extraction_cache (cache_key, model, response, cached_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (cache_key) DO UPDATE SET response = EXCLUDED.response, cached_at = EXCLUDED.cached_at`,
		key, modelID, response, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: put extraction")
}

// GetCandidates returns cached gazetteer candidates younger than maxAge.
func (s *PostgresStore) GetCandidates(ctx context.Context, key string, maxAge time.Duration) ([]model.CandidateLocation, bool, error) {
	var (
		data     []byte
		cachedAt time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT candidates, cached_at FROM geocode_cache WHERE cache_key = $1`, key,
	).Scan(&data, &cachedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: get candidates")
	}
	if expired(cachedAt, maxAge) {
		return nil, false, nil
	}
	var cands []model.CandidateLocation
	if err := json.Unmarshal(data, &cands); err != nil {
		return nil, false, eris.Wrap(err, "postgres: unmarshal candidates")
	}
	return cands, true, nil
}

// PutCandidates stores gazetteer candidates.
func (s *PostgresStore) PutCandidates(ctx context.Context, key, gazetteer string, cands []model.CandidateLocation) error {
	data, err := json.Marshal(nonNil(cands))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal candidates")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO geocode_cache (cache_key, gazetteer, candidates, cached_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (cache_key) DO UPDATE SET candidates = EXCLUDED.candidates, cached_at = EXCLUDED.cached_at`,
		key, gazetteer, data, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: put candidates")
}

// Dead letter queue methods

// EnqueueDLQ inserts an entry or updates the existing entry with the same ID.
func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	docJSON, err := json.Marshal(entry.Document)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal dlq document")
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue
		 (id, document, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   error = $3, error_type = $4, retry_count = $5,
		   next_retry_at = $7, last_failed_at = $9`,
		entry.ID, docJSON, entry.Error, entry.ErrorType,
		entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

// DequeueDLQ lists entries that are due and have retries left.
func (s *PostgresStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, document, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue
	          WHERE next_retry_at <= now() AND retry_count < max_retries`
	args := []any{}
	argIdx := 1

	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}

	query += ` ORDER BY next_retry_at ASC`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limitOrDefault(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: dequeue dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var docJSON []byte
		if err := rows.Scan(&e.ID, &docJSON, &e.Error, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries,
			&e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		if err := json.Unmarshal(docJSON, &e.Document); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal dlq document")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: dequeue dlq iterate")
}

// IncrementDLQRetry records another failed attempt.
func (s *PostgresStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = $1, error = $2, last_failed_at = now()
		 WHERE id = $3`,
		nextRetryAt, lastErr, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment dlq retry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "dlq_entry %s", id)
	}
	return nil
}

// RemoveDLQ deletes an entry.
func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove dlq")
}

// CountDLQ counts all queued entries.
func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}

// SaveEvaluation replaces the records of runID, bulk-loading them with COPY.
func (s *PostgresStore) SaveEvaluation(ctx context.Context, runID string, records []model.EvaluationRecord) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin evaluation")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM evaluation_records WHERE run_id = $1`, runID); err != nil {
		return 0, eris.Wrap(err, "postgres: clear evaluation")
	}
	n, err := db.CopyFrom(ctx, tx, "evaluation_records", evaluationColumns, evaluationRows(runID, records))
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit evaluation")
	}
	return n, nil
}

// ListEvaluation returns the records saved for runID.
func (s *PostgresStore) ListEvaluation(ctx context.Context, runID string) ([]model.EvaluationRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+evaluationSelectList+` FROM evaluation_records WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list evaluation")
	}
	defer rows.Close()

	var out []model.EvaluationRecord
	for rows.Next() {
		r, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list evaluation iterate")
}
