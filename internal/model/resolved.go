package model

// ResolutionStatus is the terminal outcome of resolving a mention.
type ResolutionStatus string

const (
	StatusResolved   ResolutionStatus = "resolved"
	StatusUnresolved ResolutionStatus = "unresolved"
)

// ResolvedLocation is the final answer for one mention. An unresolved
// location has a nil Coordinate and zero Confidence.
type ResolvedLocation struct {
	MentionIndex int                `json:"mention_index"`
	Surface      string             `json:"surface"`
	Span         Span               `json:"span"`
	Status       ResolutionStatus   `json:"status"`
	Coordinate   *Coordinate        `json:"coordinate"`
	Confidence   float64            `json:"confidence"`
	Precision    int                `json:"precision,omitempty"`
	Chosen       *CandidateLocation `json:"chosen,omitempty"`
	Rationale    Rationale          `json:"rationale"`
}

// Unresolved builds the canonical unresolved outcome for a mention.
func Unresolved(m ToponymMention, reason string) ResolvedLocation {
	return ResolvedLocation{
		MentionIndex: m.Index,
		Surface:      m.Surface,
		Span:         m.Span,
		Status:       StatusUnresolved,
		Precision:    m.Precision,
		Rationale:    Rationale{Reason: reason},
	}
}

// Rationale records how a resolution was reached.
type Rationale struct {
	States     []string          `json:"states,omitempty"`
	ToolCalls  []ToolCall        `json:"tool_calls,omitempty"`
	Candidates []ScoredCandidate `json:"candidates,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}

// ToolCall is one gazetteer query issued while resolving a mention.
type ToolCall struct {
	Round      int        `json:"round"`
	Gazetteer  string     `json:"gazetteer"`
	Query      string     `json:"query"`
	Hints      QueryHints `json:"hints"`
	Results    int        `json:"results"`
	Cached     bool       `json:"cached,omitempty"`
	Fault      string     `json:"fault,omitempty"`
	DurationMS int64      `json:"duration_ms"`
}

// ScoredCandidate is a merged candidate with its per-term scores.
type ScoredCandidate struct {
	Candidate    CandidateLocation `json:"candidate"`
	Plausibility *float64          `json:"plausibility,omitempty"`
	Relevance    float64           `json:"relevance"`
	Context      *float64          `json:"context,omitempty"`
	Prominence   *float64          `json:"prominence,omitempty"`
	Combined     float64           `json:"combined"`
}
