package extract

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/geonext/internal/model"
	"github.com/sells-group/geonext/pkg/anthropic"
)

// ToolName is the geocoding tool offered to the model in agent style.
const ToolName = "geocode_location"

// GeocodeTool describes the geocoding tool.
var GeocodeTool = anthropic.Tool{
	Name:        ToolName,
	Description: "Look up a place name in the configured gazetteers. Returns candidate locations ordered by relevance.",
	Properties: map[string]any{
		"query": map[string]any{
			"type":        "string",
			"description": "Place name, optionally with country or state, e.g. \"Odense, Denmark\".",
		},
		"country_codes": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "Optional ISO 3166-1 alpha-2 codes restricting the search.",
		},
	},
	Required: []string{"query"},
}

// ToolInput is the argument object of a geocode_location call.
type ToolInput struct {
	Query        string   `json:"query"`
	CountryCodes []string `json:"country_codes,omitempty"`
}

// ToolCandidate is one candidate in a geocode_location answer.
type ToolCandidate struct {
	Name        string  `json:"name"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	CountryCode string  `json:"country_code,omitempty"`
	Admin1      string  `json:"admin1,omitempty"`
	FeatureType string  `json:"feature_type"`
	Population  int64   `json:"population,omitempty"`
	Relevance   float64 `json:"relevance"`
	Source      string  `json:"source"`
}

// ToolCandidates converts gazetteer candidates to their tool form.
func ToolCandidates(cands []model.CandidateLocation) []ToolCandidate {
	out := make([]ToolCandidate, len(cands))
	for i, c := range cands {
		out[i] = ToolCandidate{
			Name:        c.DisplayName,
			Latitude:    c.Latitude,
			Longitude:   c.Longitude,
			CountryCode: c.CountryCode,
			Admin1:      c.Admin1,
			FeatureType: string(c.FeatureType),
			Population:  c.Population,
			Relevance:   c.Relevance,
			Source:      c.Source,
		}
	}
	return out
}

const maxToolCandidates = 5

// converse runs the agent loop: the model may call geocode_location until it
// answers or MaxToolRounds is reached. In the last round tool results are
// followed by an instruction to answer.
func (e *Extractor) converse(ctx context.Context, doc model.Document, usage *anthropic.TokenUsage) (string, bool, []model.Fault, error) {
	req := anthropic.MessageRequest{
		Model:     e.cfg.Model,
		MaxTokens: e.cfg.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(systemPrompt(StyleAgent, doc.Language), ""),
		Messages:  anthropic.UserText(doc.Text),
		Tools:     []anthropic.Tool{GeocodeTool},
	}

	var faults []model.Fault
	for round := 1; ; round++ {
		resp, err := e.call(ctx, req)
		if err != nil {
			return "", false, faults, err
		}
		usage.Add(resp.Usage)

		uses := resp.ToolUses()
		if resp.StopReason != "tool_use" || len(uses) == 0 {
			return resp.Text(), resp.StopReason == "refusal", faults, nil
		}
		if round > e.cfg.MaxToolRounds {
			faults = append(faults, model.NewExtractionFault(
				fmt.Sprintf("tool round limit %d reached", e.cfg.MaxToolRounds), model.SeverityHigh))
			return "", false, faults, nil
		}

		results := make([]anthropic.ContentBlock, 0, len(uses)+1)
		for _, use := range uses {
			text, isErr, toolFaults := e.runTool(ctx, use)
			faults = append(faults, toolFaults...)
			results = append(results, anthropic.ContentBlock{
				Type:      "tool_result",
				ToolUseID: use.ID,
				Text:      text,
				IsError:   isErr,
			})
		}
		if round == e.cfg.MaxToolRounds {
			results = append(results, anthropic.ContentBlock{
				Type: "text",
				Text: "Tool budget exhausted. Answer now with the final JSON.",
			})
		}
		req.Messages = append(req.Messages,
			anthropic.Message{Role: "assistant", Blocks: resp.Content},
			anthropic.Message{Role: "user", Blocks: results},
		)
	}
}

// runTool executes one geocode_location call against the gazetteers.
func (e *Extractor) runTool(ctx context.Context, use anthropic.ContentBlock) (string, bool, []model.Fault) {
	if use.Name != ToolName {
		return fmt.Sprintf("unknown tool %q", use.Name), true, nil
	}
	var in ToolInput
	if err := json.Unmarshal(use.Input, &in); err != nil || in.Query == "" {
		return "invalid input: query is required", true, nil
	}
	if len(e.gazetteers) == 0 {
		return "no gazetteers configured", true, nil
	}

	res, faults := e.gazetteers.Lookup(ctx, in.Query, model.QueryHints{Countries: in.CountryCodes})
	zap.L().Debug("agent tool call",
		zap.String("query", in.Query),
		zap.String("gazetteer", res.Gazetteer),
		zap.Int("results", len(res.Candidates)),
	)
	if len(res.Candidates) == 0 && len(faults) == len(e.gazetteers) {
		return "all gazetteers failed", true, faults
	}

	cands := res.Candidates
	if len(cands) > maxToolCandidates {
		cands = cands[:maxToolCandidates]
	}
	b, _ := json.Marshal(map[string]any{"candidates": ToolCandidates(cands)})
	return string(b), false, faults
}
