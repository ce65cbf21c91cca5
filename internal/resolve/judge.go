package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geonext/internal/model"
	"github.com/sells-group/geonext/internal/resilience"
	"github.com/sells-group/geonext/pkg/anthropic"
)

// Judge rates how plausible each candidate is as the referent of a mention.
// It returns one score in [0,1] per candidate, in input order.
type Judge interface {
	Judge(ctx context.Context, m model.ToponymMention, cands []model.CandidateLocation) ([]float64, error)
}

// ErrMalformedJudgement is returned when the judge's answer cannot be used.
var ErrMalformedJudgement = eris.New("resolve: malformed judge response")

// ModelJudge asks the reasoning model to rate candidates.
type ModelJudge struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	guard     resilience.Guard
}

// NewModelJudge creates a judge on model.
func NewModelJudge(client anthropic.Client, modelID string, timeout time.Duration, retry resilience.RetryConfig, cb *resilience.CircuitBreaker) *ModelJudge {
	return &ModelJudge{
		client:    client,
		model:     modelID,
		maxTokens: 1024,
		guard:     resilience.Guard{Name: "judge", Retry: retry, Timeout: timeout, Breaker: cb},
	}
}

const judgeSystem = `You disambiguate place names. Given a place mention, the text around it and numbered gazetteer candidates, rate how likely each candidate is the place the text refers to.
Respond with ONLY a JSON object: {"scores":[<score for candidate 0>, <score for candidate 1>, ...]} with one number between 0 and 1 per candidate, in order.`

// Judge implements Judge.
func (j *ModelJudge) Judge(ctx context.Context, m model.ToponymMention, cands []model.CandidateLocation) ([]float64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Mention: %q\nContext: %q\n\nCandidates:\n", m.Surface, m.Context)
	for i, c := range cands {
		fmt.Fprintf(&b, "%d. %s (%s", i, c.DisplayName, c.FeatureType)
		if c.CountryCode != "" {
			fmt.Fprintf(&b, ", country %s", c.CountryCode)
		}
		if c.Population > 0 {
			fmt.Fprintf(&b, ", population %d", c.Population)
		}
		fmt.Fprintf(&b, ") at %.4f, %.4f\n", c.Latitude, c.Longitude)
	}

	temp := 0.0
	req := anthropic.MessageRequest{
		Model:       j.model,
		MaxTokens:   j.maxTokens,
		System:      anthropic.BuildCachedSystemBlocks(judgeSystem, ""),
		Messages:    anthropic.UserText(b.String()),
		Temperature: &temp,
	}
	resp, _, err := resilience.CallGuarded(ctx, j.guard, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return j.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(j.model, "judge")
	return parseScores(resp.Text(), len(cands))
}

func parseScores(text string, n int) ([]float64, error) {
	text = strings.TrimSpace(text)
	first, last := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if first < 0 || last < first {
		return nil, eris.Wrap(ErrMalformedJudgement, "no JSON object")
	}
	var out struct {
		Scores []float64 `json:"scores"`
	}
	if err := json.Unmarshal([]byte(text[first:last+1]), &out); err != nil {
		return nil, eris.Wrap(ErrMalformedJudgement, err.Error())
	}
	if len(out.Scores) != n {
		return nil, eris.Wrapf(ErrMalformedJudgement, "got %d scores for %d candidates", len(out.Scores), n)
	}
	for i, s := range out.Scores {
		out.Scores[i] = min(1, max(0, s))
	}
	return out.Scores, nil
}
