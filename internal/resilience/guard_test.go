package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestCallGuarded_RetriesPerAttemptTimeout(t *testing.T) {
	g := Guard{Name: "slow", Retry: fastRetry(3), Timeout: 5 * time.Millisecond}
	calls := 0
	val, attempts, err := CallGuarded(context.Background(), g, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, 3, attempts)
}

func TestCallGuarded_OpenBreakerNotRetried(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	g := Guard{Name: "down", Retry: fastRetry(3), Breaker: cb, Limiter: rate.NewLimiter(rate.Inf, 1)}

	_, attempts, err := CallGuarded(context.Background(), g, func(_ context.Context) (int, error) {
		return 0, NewTransientError(errors.New("503"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 2, attempts, "second attempt is rejected by the open breaker")
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCallGuarded_OuterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := Guard{Name: "x", Retry: fastRetry(3), Limiter: rate.NewLimiter(1, 1)}
	_, _, err := CallGuarded(ctx, g, func(_ context.Context) (int, error) { return 1, nil })
	require.Error(t, err)
}
