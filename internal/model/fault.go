package model

import "fmt"

// FaultKind classifies a recoverable failure recorded against a document.
type FaultKind string

const (
	// FaultExtraction covers malformed, refused or span-invalid model output.
	FaultExtraction FaultKind = "extraction"
	// FaultService covers a gazetteer or model backend that failed or timed out after retries.
	FaultService FaultKind = "service"
	// FaultDisambiguation covers a malformed or failed judge response.
	FaultDisambiguation FaultKind = "disambiguation"
)

// Severity of a fault.
type Severity string

const (
	SeverityLow  Severity = "low"
	SeverityHigh Severity = "high"
)

// Fault is a recorded, non-fatal failure. MentionIndex is -1 for document-level faults.
type Fault struct {
	Kind         FaultKind `json:"kind"`
	Component    string    `json:"component"`
	Source       string    `json:"source,omitempty"`
	Message      string    `json:"message"`
	Severity     Severity  `json:"severity"`
	MentionIndex int       `json:"mention_index"`
}

func (f Fault) String() string {
	if f.Source != "" {
		return fmt.Sprintf("%s/%s[%s]: %s", f.Kind, f.Component, f.Source, f.Message)
	}
	return fmt.Sprintf("%s/%s: %s", f.Kind, f.Component, f.Message)
}

// NewServiceFault records a backend failure.
func NewServiceFault(component, source string, err error) Fault {
	return Fault{
		Kind:         FaultService,
		Component:    component,
		Source:       source,
		Message:      errString(err),
		Severity:     SeverityHigh,
		MentionIndex: -1,
	}
}

// NewExtractionFault records unusable extractor output.
func NewExtractionFault(msg string, sev Severity) Fault {
	return Fault{
		Kind:         FaultExtraction,
		Component:    "extractor",
		Message:      msg,
		Severity:     sev,
		MentionIndex: -1,
	}
}

// ForMention returns a copy of f attributed to mention i.
func (f Fault) ForMention(i int) Fault {
	f.MentionIndex = i
	return f
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
