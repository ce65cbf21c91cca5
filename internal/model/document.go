package model

import (
	"time"

	"github.com/google/uuid"
)

// Document is one unit of input text. It is never mutated after ingestion.
type Document struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Language string   `json:"language,omitempty"`
	Metadata Metadata `json:"metadata,omitempty"`
}

// Metadata carries optional provenance for a document.
type Metadata struct {
	Source    string            `json:"source,omitempty"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// NewDocument builds a Document, assigning a random ID when id is empty.
func NewDocument(id, text, language string) Document {
	if id == "" {
		id = uuid.NewString()
	}
	return Document{ID: id, Text: text, Language: language}
}

// Span is a half-open byte range into Document.Text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of bytes covered by the span.
func (s Span) Len() int { return s.End - s.Start }

// Valid reports whether the span lies within a text of length n.
func (s Span) Valid(n int) bool {
	return s.Start >= 0 && s.End > s.Start && s.End <= n
}

// Overlaps reports whether two spans share at least one byte.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// ToponymMention is a place name found in a document. Surface always equals
// Text[Span.Start:Span.End] of the owning document.
type ToponymMention struct {
	Index   int    `json:"index"`
	Span    Span   `json:"span"`
	Surface string `json:"surface"`
	Context string `json:"context,omitempty"`

	// Query is the geocoder query proposed by the model, e.g. "Odense, Denmark".
	Query string `json:"query,omitempty"`

	// Precision is the model's granularity estimate, 1 for a country up to
	// 10 for an exact address. 0 when not reported.
	Precision int `json:"precision,omitempty"`

	// Suggestion is a coordinate proposed by the model itself (agent mode).
	Suggestion *Suggestion `json:"suggestion,omitempty"`
}

// Suggestion is a model-proposed location for a mention.
type Suggestion struct {
	Coordinate
	Confidence float64 `json:"confidence,omitempty"` // model self-assessment in [0,1]
	Precision  int     `json:"precision,omitempty"`  // 1-10 as reported by the model
}

// DocumentResult is the full outcome of processing one document.
type DocumentResult struct {
	DocumentID  string             `json:"document_id"`
	Text        string             `json:"text,omitempty"`
	Locations   []ResolvedLocation `json:"locations"`
	Faults      []Fault            `json:"faults,omitempty"`
	ProcessedAt time.Time          `json:"processed_at"`
	DurationMS  int64              `json:"duration_ms"`
}

// Resolved returns the locations that were accepted.
func (r *DocumentResult) Resolved() []ResolvedLocation {
	var out []ResolvedLocation
	for _, l := range r.Locations {
		if l.Status == StatusResolved {
			out = append(out, l)
		}
	}
	return out
}
