package resilience

import (
	"time"

	"github.com/sells-group/geonext/internal/model"
)

// DLQEntry is a document whose processing failed and may be retried.
type DLQEntry struct {
	ID           string         `json:"id"`
	Document     model.Document `json:"document"`
	Error        string         `json:"error"`
	ErrorType    string         `json:"error_type"` // "transient" or "permanent"
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	NextRetryAt  time.Time      `json:"next_retry_at"`
	CreatedAt    time.Time      `json:"created_at"`
	LastFailedAt time.Time      `json:"last_failed_at"`
}

// DLQFilter selects dead-letter entries.
type DLQFilter struct {
	ErrorType string `json:"error_type,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// CanRetry reports whether the entry has retries left.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// ClassifyError labels err "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}

// NextRetry returns when an entry that has failed retryCount times may run again.
func NextRetry(now time.Time, retryCount int) time.Time {
	backoff := time.Minute << min(retryCount, 10)
	return now.Add(backoff)
}
