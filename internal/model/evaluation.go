package model

// GoldMention is an annotated toponym. Coordinate is nil for mentions
// annotated only for extraction.
type GoldMention struct {
	Span       Span        `json:"span"`
	Surface    string      `json:"surface"`
	Coordinate *Coordinate `json:"coordinate,omitempty"`
}

// GoldDocument is a document paired with its annotations.
type GoldDocument struct {
	Document
	Mentions []GoldMention `json:"mentions"`
}

// EvaluationRecord pairs one prediction with its gold location. Predicted is
// nil when the mention was not resolved or not extracted at all.
type EvaluationRecord struct {
	DocumentID   string      `json:"document_id"`
	MentionIndex int         `json:"mention_index"`
	Surface      string      `json:"surface"`
	Predicted    *Coordinate `json:"predicted"`
	Gold         Coordinate  `json:"gold"`
	DistanceKM   float64     `json:"distance_km"`
	Resolved     bool        `json:"resolved"`
}
