package geocode

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/geonext/internal/model"
	"github.com/sells-group/geonext/internal/resilience"
)

// DefaultMaxResults caps the candidates returned per query.
const DefaultMaxResults = 10

// Result is the outcome of one Client.Query. A failed query has no
// candidates and a non-nil Fault; it never surfaces as an error.
type Result struct {
	Gazetteer  string
	Candidates []model.CandidateLocation
	Fault      *model.Fault
	Cached     bool
	Attempts   int
	Duration   time.Duration
}

// Client wraps a Backend with retries, a per-call timeout, a circuit
// breaker, a rate limiter, an optional cache and schema normalization.
type Client struct {
	backend    Backend
	guard      resilience.Guard
	cache      Cache
	cacheTTL   time.Duration
	maxResults int
}

// Option configures a Client.
type Option func(*Client)

// WithRetry sets the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.guard.Retry = cfg }
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.guard.Timeout = d }
}

// WithBreaker sets the circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) { c.guard.Breaker = cb }
}

// WithRateLimit limits requests per second. Non-positive values disable limiting.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.guard.Limiter = nil
			return
		}
		c.guard.Limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}
}

// WithLimiter sets the rate limiter directly.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.guard.Limiter = l }
}

// WithCache enables result caching. ttl <= 0 keeps entries forever.
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = cache
		c.cacheTTL = ttl
	}
}

// WithMaxResults caps the candidates per query.
func WithMaxResults(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxResults = n
		}
	}
}

// NewClient wraps backend with the given options.
func NewClient(backend Backend, opts ...Option) *Client {
	c := &Client{
		backend: backend,
		guard: resilience.Guard{
			Name:    backend.Name(),
			Retry:   resilience.DefaultRetryConfig(),
			Timeout: 10 * time.Second,
		},
		maxResults: DefaultMaxResults,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the backend name.
func (c *Client) Name() string { return c.backend.Name() }

// Backend returns the wrapped backend.
func (c *Client) Backend() Backend { return c.backend }

// Unavailable reports whether the client's circuit is open.
func (c *Client) Unavailable() bool {
	return c.guard.Breaker != nil && c.guard.Breaker.State() == resilience.CircuitOpen
}

// Query looks up query, returning at most the configured number of
// candidates ordered by relevance. Backend failures that survive all retries
// are reported as a service fault with an empty candidate list.
func (c *Client) Query(ctx context.Context, query string, hints model.QueryHints) Result {
	start := time.Now()
	res := Result{Gazetteer: c.Name()}
	if query == "" {
		return res
	}

	log := zap.L().With(zap.String("gazetteer", c.Name()), zap.String("query", query))

	var key string
	if c.cache != nil {
		key = cacheKey(c.Name(), query, hints, c.maxResults)
		cands, ok, err := c.cache.GetCandidates(ctx, key, c.cacheTTL)
		if err != nil {
			log.Debug("geocode cache lookup failed", zap.Error(err))
		}
		if ok {
			res.Candidates = cands
			res.Cached = true
			res.Duration = time.Since(start)
			return res
		}
	}

	cands, attempts, err := resilience.CallGuarded(ctx, c.guard, func(ctx context.Context) ([]model.CandidateLocation, error) {
		return c.backend.Search(ctx, query, hints, c.maxResults)
	})
	res.Attempts = attempts
	res.Duration = time.Since(start)
	if err != nil {
		log.Warn("gazetteer query failed", zap.Int("attempts", attempts), zap.Error(err))
		f := model.NewServiceFault("geocoder", c.Name(), err)
		res.Fault = &f
		return res
	}

	res.Candidates = normalize(filterHints(cands, hints), c.Name(), c.maxResults)
	log.Debug("gazetteer query", zap.Int("results", len(res.Candidates)), zap.Int("attempts", attempts))

	if c.cache != nil {
		if err := c.cache.PutCandidates(ctx, key, c.Name(), res.Candidates); err != nil {
			log.Debug("geocode cache store failed", zap.Error(err))
		}
	}
	return res
}

// Reverse describes a coordinate when the backend supports it.
func (c *Client) Reverse(ctx context.Context, coord model.Coordinate) (*Place, bool) {
	rv, ok := c.backend.(Reverser)
	if !ok {
		return nil, false
	}
	place, _, err := resilience.CallGuarded(ctx, c.guard, func(ctx context.Context) (*Place, error) {
		return rv.Reverse(ctx, coord)
	})
	if err != nil {
		zap.L().Debug("reverse lookup failed", zap.String("gazetteer", c.Name()), zap.Error(err))
		return nil, false
	}
	return place, true
}

// Set is an ordered list of clients, highest priority first.
type Set []*Client

// Names lists the client names in priority order.
func (s Set) Names() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = c.Name()
	}
	return out
}

// Get returns the named client or nil.
func (s Set) Get(name string) *Client {
	for _, c := range s {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// Reverse asks each client in priority order until one can describe coord.
func (s Set) Reverse(ctx context.Context, coord model.Coordinate) (*Place, bool) {
	for _, c := range s {
		if p, ok := c.Reverse(ctx, coord); ok {
			return p, true
		}
	}
	return nil, false
}

// Lookup queries the clients in priority order and returns the first result
// with candidates, plus the faults of every client that failed on the way.
// When nothing matches, the last result is returned.
func (s Set) Lookup(ctx context.Context, query string, hints model.QueryHints) (Result, []model.Fault) {
	var (
		last   Result
		faults []model.Fault
	)
	for _, c := range s {
		res := c.Query(ctx, query, hints)
		if res.Fault != nil {
			faults = append(faults, *res.Fault)
		}
		if len(res.Candidates) > 0 {
			return res, faults
		}
		last = res
	}
	return last, faults
}

// NewHTTPClient returns the HTTP client used by the web backends.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
