package geocode

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sells-group/geonext/internal/model"
	"github.com/sells-group/geonext/internal/resilience"
)

// newRewriteClient returns an HTTP client that sends requests for
// targetPrefix to the test server instead.
func newRewriteClient(testServerURL, targetPrefix string) *http.Client {
	return &http.Client{Transport: &rewriteTransport{
		base:         http.DefaultTransport,
		testServer:   testServerURL,
		targetPrefix: targetPrefix,
	}}
}

type rewriteTransport struct {
	base         http.RoundTripper
	testServer   string
	targetPrefix string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	origURL := req.URL.String()
	if !strings.HasPrefix(origURL, t.targetPrefix) {
		return t.base.RoundTrip(req)
	}
	parsed, err := req.URL.Parse(t.testServer + origURL[len(t.targetPrefix):])
	if err != nil {
		return nil, err
	}
	newReq := req.Clone(req.Context())
	newReq.URL = parsed
	newReq.Host = parsed.Host
	return t.base.RoundTrip(newReq)
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

// stubBackend returns canned answers and counts calls.
type stubBackend struct {
	name  string
	mu    sync.Mutex
	calls int
	fn    func(call int, query string, hints model.QueryHints) ([]model.CandidateLocation, error)
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Search(_ context.Context, query string, hints model.QueryHints, _ int) ([]model.CandidateLocation, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	return s.fn(call, query, hints)
}

// memCache is an in-memory Cache.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]model.CandidateLocation
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]model.CandidateLocation)}
}

func (m *memCache) GetCandidates(_ context.Context, key string, _ time.Duration) ([]model.CandidateLocation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.entries[key]
	return c, ok, nil
}

func (m *memCache) PutCandidates(_ context.Context, key, _ string, cands []model.CandidateLocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = cands
	return nil
}
