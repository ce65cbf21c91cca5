package resilience

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Guard bundles the protections applied to every call against one backend.
// Each attempt waits on the limiter, passes through the breaker and runs
// under its own timeout; attempts are retried per Retry.
type Guard struct {
	Name    string
	Retry   RetryConfig
	Timeout time.Duration
	Breaker *CircuitBreaker
	Limiter *rate.Limiter
}

// CallGuarded runs fn under g and returns the value and number of attempts.
func CallGuarded[T any](ctx context.Context, g Guard, fn func(ctx context.Context) (T, error)) (T, int, error) {
	retry := g.Retry
	if retry.ShouldRetry == nil {
		retry.ShouldRetry = func(err error) bool {
			return !eris.Is(err, ErrCircuitOpen) && IsTransient(err)
		}
	}
	if retry.OnRetry == nil && g.Name != "" {
		retry.OnRetry = RetryLogger(g.Name, "call")
	}

	return DoCount(ctx, retry, func(ctx context.Context) (T, error) {
		var zero T
		if g.Limiter != nil {
			if err := g.Limiter.Wait(ctx); err != nil {
				return zero, eris.Wrapf(err, "%s: rate limit", g.Name)
			}
		}
		attempt := func(ctx context.Context) (T, error) {
			if g.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, g.Timeout)
				defer cancel()
			}
			return fn(ctx)
		}
		if g.Breaker == nil {
			return attempt(ctx)
		}
		return ExecuteVal(ctx, g.Breaker, attempt)
	})
}
