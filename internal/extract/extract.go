// Package extract finds toponym mentions in documents with the reasoning
// model.
package extract

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/geonext/internal/model"
	"github.com/sells-group/geonext/internal/resilience"
	"github.com/sells-group/geonext/pkg/anthropic"
	"github.com/sells-group/geonext/pkg/geocode"
)

// Cache stores raw model answers keyed by model, style and text.
type Cache interface {
	GetExtraction(ctx context.Context, key string) (string, bool, error)
	PutExtraction(ctx context.Context, key, modelID, response string) error
}

// Config controls an Extractor.
type Config struct {
	Model         string
	Style         Style
	Examples      []Example
	Shots         int
	ContextWindow int
	MaxTokens     int64
	Timeout       time.Duration
	MaxToolRounds int
}

// Extractor turns document text into ordered toponym mentions.
type Extractor struct {
	client     anthropic.Client
	cfg        Config
	guard      resilience.Guard
	gazetteers geocode.Set
	cache      Cache
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithGazetteers provides the clients the agent style may call.
func WithGazetteers(s geocode.Set) Option {
	return func(e *Extractor) { e.gazetteers = s }
}

// WithCache enables the extraction cache.
func WithCache(c Cache) Option {
	return func(e *Extractor) { e.cache = c }
}

// WithRetry sets the retry policy for model calls.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(e *Extractor) { e.guard.Retry = cfg }
}

// WithBreaker sets the circuit breaker for model calls.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(e *Extractor) { e.guard.Breaker = cb }
}

// New creates an Extractor.
func New(client anthropic.Client, cfg Config, opts ...Option) *Extractor {
	if cfg.Style == "" {
		cfg.Style = StyleFewShot
	}
	if cfg.Examples == nil {
		cfg.Examples = DefaultExamples
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 6
	}
	e := &Extractor{
		client: client,
		cfg:    cfg,
		guard: resilience.Guard{
			Name:    "anthropic",
			Retry:   resilience.DefaultRetryConfig(),
			Timeout: cfg.Timeout,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Model returns the configured model ID.
func (e *Extractor) Model() string { return e.cfg.Model }

// Extract returns a lazy iterator over the mentions of doc. No model call is
// made until the first Next.
func (e *Extractor) Extract(ctx context.Context, doc model.Document) *MentionIterator {
	return &MentionIterator{ctx: ctx, ex: e, doc: doc, pos: -1}
}

// run performs the extraction for one document.
func (e *Extractor) run(ctx context.Context, doc model.Document) ([]model.ToponymMention, []model.Fault, anthropic.TokenUsage, error) {
	var usage anthropic.TokenUsage
	if doc.Text == "" {
		return nil, nil, usage, nil
	}
	log := zap.L().With(zap.String("document_id", doc.ID), zap.String("style", string(e.cfg.Style)))

	key := e.cacheKey(doc.Text)
	answer, cached := e.cached(ctx, key)

	var faults []model.Fault
	if !cached {
		var (
			err    error
			refuse bool
		)
		switch e.cfg.Style {
		case StyleAgent:
			answer, refuse, faults, err = e.converse(ctx, doc, &usage)
		default:
			answer, refuse, err = e.complete(ctx, doc, &usage)
		}
		if ctx.Err() != nil {
			return nil, nil, usage, ctx.Err()
		}
		if err != nil {
			log.Warn("extraction call failed", zap.Error(err))
			return nil, append(faults, model.NewServiceFault("extractor", e.cfg.Model, err)), usage, nil
		}
		if refuse {
			return nil, append(faults, model.NewExtractionFault("model refused to answer", model.SeverityHigh)), usage, nil
		}
		usage.LogCost(e.cfg.Model, "extract")
	}

	locs, err := parseOutput(answer)
	if err != nil {
		log.Warn("malformed extraction output", zap.Error(err))
		return nil, append(faults, model.NewExtractionFault(err.Error(), model.SeverityHigh)), usage, nil
	}
	if !cached {
		e.store(ctx, key, answer)
	}

	mentions, spanFaults := toMentions(doc.Text, locs, e.cfg.ContextWindow)
	faults = append(faults, spanFaults...)
	log.Debug("extracted mentions", zap.Int("mentions", len(mentions)), zap.Int("faults", len(faults)), zap.Bool("cached", cached))
	return mentions, faults, usage, nil
}

// complete issues a single prompt for zero_shot and few_shot.
func (e *Extractor) complete(ctx context.Context, doc model.Document, usage *anthropic.TokenUsage) (string, bool, error) {
	req := anthropic.MessageRequest{
		Model:     e.cfg.Model,
		MaxTokens: e.cfg.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(systemPrompt(e.cfg.Style, doc.Language), ""),
		Messages:  buildMessages(e.cfg.Style, e.cfg.Examples, e.cfg.Shots, doc.Text),
	}
	resp, err := e.call(ctx, req)
	if err != nil {
		return "", false, err
	}
	usage.Add(resp.Usage)
	return resp.Text(), resp.StopReason == "refusal", nil
}

func (e *Extractor) call(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	resp, _, err := resilience.CallGuarded(ctx, e.guard, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.client.CreateMessage(ctx, req)
	})
	return resp, err
}

func (e *Extractor) cacheKey(text string) string {
	raw := fmt.Sprintf("%s|%s|%d|%s", e.cfg.Model, e.cfg.Style, e.cfg.Shots, text)
	return fmt.Sprintf("%x", sha256.Sum256([]byte(raw)))
}

func (e *Extractor) cached(ctx context.Context, key string) (string, bool) {
	if e.cache == nil {
		return "", false
	}
	answer, ok, err := e.cache.GetExtraction(ctx, key)
	if err != nil {
		zap.L().Debug("extraction cache lookup failed", zap.Error(err))
		return "", false
	}
	return answer, ok
}

func (e *Extractor) store(ctx context.Context, key, answer string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.PutExtraction(ctx, key, e.cfg.Model, answer); err != nil {
		zap.L().Debug("extraction cache store failed", zap.Error(err))
	}
}
