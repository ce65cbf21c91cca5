package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tripped(t *testing.T, threshold int) *CircuitBreaker {
	t.Helper()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: threshold, ResetTimeout: time.Minute})
	for range threshold {
		_ = cb.Execute(context.Background(), func(_ context.Context) error { return errors.New("fail") })
	}
	require.Equal(t, CircuitOpen, cb.State())
	return cb
}

func TestCircuitBreaker_OpensAndRejects(t *testing.T) {
	cb := tripped(t, 3)
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		t.Fatal("should not run while open")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})
	_ = cb.Execute(context.Background(), func(_ context.Context) error { return errors.New("fail") })
	failures, _ := cb.Counters()
	assert.Equal(t, 1, failures)

	require.NoError(t, cb.Execute(context.Background(), func(_ context.Context) error { return nil }))
	failures, state := cb.Counters()
	assert.Equal(t, 0, failures)
	assert.Equal(t, CircuitClosed, state)
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb := tripped(t, 2)
	now := time.Now()
	cb.now = func() time.Time { return now.Add(2 * time.Minute) }
	assert.Equal(t, CircuitHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), func(_ context.Context) error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := tripped(t, 2)
	later := time.Now().Add(2 * time.Minute)
	cb.now = func() time.Time { return later }

	_ = cb.Execute(context.Background(), func(_ context.Context) error { return errors.New("still down") })
	_, state := cb.Counters()
	assert.Equal(t, CircuitOpen, state)
}

func TestCircuitBreaker_ShouldTripFiltersErrors(t *testing.T) {
	benign := errors.New("not found")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ShouldTrip:       func(err error) bool { return !errors.Is(err, benign) },
	})
	_ = cb.Execute(context.Background(), func(_ context.Context) error { return benign })
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	_ = cb.Execute(context.Background(), func(_ context.Context) error { return errors.New("x") })
	cb.Reset()
	assert.Equal(t, []string{"closed->open", "open->closed"}, transitions)
}

func TestServiceBreakers(t *testing.T) {
	sb := NewServiceBreakers(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	assert.Same(t, sb.Get("nominatim"), sb.Get("nominatim"))
	assert.False(t, sb.IsOpen("photon"))

	_ = sb.Get("nominatim").Execute(context.Background(), func(_ context.Context) error { return errors.New("x") })
	assert.True(t, sb.IsOpen("nominatim"))
	assert.Equal(t, map[string]CircuitState{"nominatim": CircuitOpen}, sb.States())
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
