package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDLQEntry_CanRetry(t *testing.T) {
	e := &DLQEntry{RetryCount: 1, MaxRetries: 3}
	assert.True(t, e.CanRetry())
	e.RetryCount = 3
	assert.False(t, e.CanRetry())
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "transient", ClassifyError(NewTransientError(errors.New("x"), 503)))
	assert.Equal(t, "permanent", ClassifyError(errors.New("bad input")))
}

func TestNextRetry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(time.Minute), NextRetry(now, 0))
	assert.Equal(t, now.Add(4*time.Minute), NextRetry(now, 2))
	assert.Equal(t, NextRetry(now, 10), NextRetry(now, 50))
}
