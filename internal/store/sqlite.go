package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/geonext/internal/model"
	"github.com/sells-group/geonext/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite. Timestamps are
// stored as unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS document_results (
	document_id  TEXT PRIMARY KEY,
	result       TEXT NOT NULL,
	processed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS extraction_cache (
	cache_key TEXT PRIMARY KEY,
	model     TEXT NOT NULL,
	response  TEXT NOT NULL,
	cached_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS geocode_cache (
	cache_key  TEXT PRIMARY KEY,
	gazetteer  TEXT NOT NULL,
	candidates TEXT NOT NULL,
	cached_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	document       TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  INTEGER NOT NULL,
	created_at     INTEGER NOT NULL,
	last_failed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS evaluation_records (
	run_id        TEXT NOT NULL,
	document_id   TEXT NOT NULL,
	mention_index INTEGER NOT NULL,
	surface       TEXT NOT NULL,
	predicted_lat REAL,
	predicted_lon REAL,
	gold_lat      REAL NOT NULL,
	gold_lon      REAL NOT NULL,
	distance_km   REAL NOT NULL,
	resolved      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_processed_at ON document_results(processed_at);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
CREATE INDEX IF NOT EXISTS idx_evaluation_run ON evaluation_records(run_id);
`

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveResult inserts or replaces the result for a document.
func (s *SQLiteStore) SaveResult(ctx context.Context, result model.DocumentResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}
	processed := result.ProcessedAt
	if processed.IsZero() {
		processed = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO document_results (document_id, result, processed_at) VALUES (?, ?, ?)
		 ON CONFLICT(document_id) DO UPDATE SET result = excluded.result, processed_at = excluded.processed_at`,
		result.DocumentID, string(data), processed.UnixNano(),
	)
	return eris.Wrapf(err, "sqlite: save result %s", result.DocumentID)
}

// GetResult returns ErrNotFound for unknown documents.
func (s *SQLiteStore) GetResult(ctx context.Context, documentID string) (*model.DocumentResult, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM document_results WHERE document_id = ?`, documentID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: result %s", documentID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get result %s", documentID)
	}
	return decodeResult([]byte(data))
}

// ListResults returns results in processing order.
func (s *SQLiteStore) ListResults(ctx context.Context, filter ResultFilter) ([]model.DocumentResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT result FROM document_results ORDER BY processed_at, document_id LIMIT ? OFFSET ?`,
		limitOrDefault(filter.Limit), max(filter.Offset, 0),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list results")
	}
	defer rows.Close()

	var out []model.DocumentResult
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		r, err := decodeResult([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list results iterate")
}

// ResultIDs returns the set of documents that already have a result.
func (s *SQLiteStore) ResultIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT document_id FROM document_results`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: result ids")
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result id")
		}
		ids[id] = true
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: result ids iterate")
}

// GetExtraction returns a cached model response.
func (s *SQLiteStore) GetExtraction(ctx context.Context, key string) (string, bool, error) {
	var response string
	err := s.db.QueryRowContext(ctx,
		`SELECT response FROM extraction_cache WHERE cache_key = ?`, key,
	).Scan(&response)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrap(err, "sqlite: get extraction")
	}
	return response, true, nil
}

// PutExtraction stores a model response.
func (s *SQLiteStore) PutExtraction(ctx context.Context, key, modelID, response string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO extraction_cache (cache_key, model, response, cached_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET response = excluded.response, cached_at = excluded.cached_at`,
		key, modelID, response, time.Now().UnixNano(),
	)
	return eris.Wrap(err, "sqlite: put extraction")
}

// GetCandidates returns cached gazetteer candidates younger than maxAge.
func (s *SQLiteStore) GetCandidates(ctx context.Context, key string, maxAge time.Duration) ([]model.CandidateLocation, bool, error) {
	var (
		data     string
		cachedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT candidates, cached_at FROM geocode_cache WHERE cache_key = ?`, key,
	).Scan(&data, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: get candidates")
	}
	if expired(time.Unix(0, cachedAt), maxAge) {
		return nil, false, nil
	}
	var cands []model.CandidateLocation
	if err := json.Unmarshal([]byte(data), &cands); err != nil {
		return nil, false, eris.Wrap(err, "sqlite: unmarshal candidates")
	}
	return cands, true, nil
}

// PutCandidates stores gazetteer candidates.
func (s *SQLiteStore) PutCandidates(ctx context.Context, key, gazetteer string, cands []model.CandidateLocation) error {
	data, err := json.Marshal(nonNil(cands))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal candidates")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO geocode_cache (cache_key, gazetteer, candidates, cached_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET candidates = excluded.candidates, cached_at = excluded.cached_at`,
		key, gazetteer, string(data), time.Now().UnixNano(),
	)
	return eris.Wrap(err, "sqlite: put candidates")
}

// Dead letter queue methods

// EnqueueDLQ inserts an entry or updates the existing entry with the same ID.
func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	docJSON, err := json.Marshal(entry.Document)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal dlq document")
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue
		 (id, document, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   error = excluded.error, error_type = excluded.error_type, retry_count = excluded.retry_count,
		   next_retry_at = excluded.next_retry_at, last_failed_at = excluded.last_failed_at`,
		entry.ID, string(docJSON), entry.Error, entry.ErrorType, entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt.UnixNano(), entry.CreatedAt.UnixNano(), entry.LastFailedAt.UnixNano(),
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

// DequeueDLQ lists entries that are due and have retries left. Entries stay
// queued until RemoveDLQ.
func (s *SQLiteStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, document, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue
	          WHERE next_retry_at <= ? AND retry_count < max_retries`
	args := []any{time.Now().UnixNano()}
	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	query += ` ORDER BY next_retry_at ASC LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: dequeue dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var (
			e                          resilience.DLQEntry
			docJSON                    string
			nextRetry, created, failed int64
		)
		if err := rows.Scan(&e.ID, &docJSON, &e.Error, &e.ErrorType, &e.RetryCount, &e.MaxRetries,
			&nextRetry, &created, &failed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		if err := json.Unmarshal([]byte(docJSON), &e.Document); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal dlq document")
		}
		e.NextRetryAt = time.Unix(0, nextRetry).UTC()
		e.CreatedAt = time.Unix(0, created).UTC()
		e.LastFailedAt = time.Unix(0, failed).UTC()
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: dequeue dlq iterate")
}

// IncrementDLQRetry records another failed attempt.
func (s *SQLiteStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = ?, error = ?, last_failed_at = ?
		 WHERE id = ?`,
		nextRetryAt.UnixNano(), lastErr, time.Now().UnixNano(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment dlq retry %s", id)
	}
	return checkRowsAffected(res, "dlq_entry", id)
}

// RemoveDLQ deletes an entry.
func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
	return eris.Wrap(err, "sqlite: remove dlq")
}

// CountDLQ counts all queued entries.
func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count dlq")
}

// SaveEvaluation replaces the records of runID in one transaction.
func (s *SQLiteStore) SaveEvaluation(ctx context.Context, runID string, records []model.EvaluationRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin evaluation")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM evaluation_records WHERE run_id = ?`, runID); err != nil {
		return 0, eris.Wrap(err, "sqlite: clear evaluation")
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO evaluation_records (`+evaluationColumnList+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare evaluation")
	}
	defer stmt.Close()

	for _, row := range evaluationRows(runID, records) {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return 0, eris.Wrap(err, "sqlite: insert evaluation")
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit evaluation")
	}
	return int64(len(records)), nil
}

// ListEvaluation returns the records saved for runID.
func (s *SQLiteStore) ListEvaluation(ctx context.Context, runID string) ([]model.EvaluationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+evaluationSelectList+` FROM evaluation_records WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list evaluation")
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
	return out, eris.Wrap(rows.Err(), "sqlite: list evaluation iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}
