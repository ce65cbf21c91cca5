package extract

import (
	"context"

	"github.com/sells-group/geonext/internal/model"
	"github.com/sells-group/geonext/pkg/anthropic"
)

// MentionIterator yields the mentions of one document in text order. It is
// finite and cannot be restarted.
//
//	it := ex.Extract(ctx, doc)
//	for it.Next() {
//		m := it.Mention()
//	}
//	if err := it.Err(); err != nil { ... }
type MentionIterator struct {
	ctx context.Context
	ex  *Extractor
	doc model.Document

	started  bool
	mentions []model.ToponymMention
	pos      int
	faults   []model.Fault
	usage    anthropic.TokenUsage
	err      error
}

// Next advances to the next mention. The first call runs the extraction.
func (it *MentionIterator) Next() bool {
	if !it.started {
		it.started = true
		it.mentions, it.faults, it.usage, it.err = it.ex.run(it.ctx, it.doc)
	}
	if it.err != nil || it.pos+1 >= len(it.mentions) {
		it.pos = len(it.mentions)
		return false
	}
	it.pos++
	return true
}

// Mention returns the current mention.
func (it *MentionIterator) Mention() model.ToponymMention {
	return it.mentions[it.pos]
}

// Faults returns the faults recorded during extraction.
func (it *MentionIterator) Faults() []model.Fault { return it.faults }

// Usage returns the tokens consumed by the extraction.
func (it *MentionIterator) Usage() anthropic.TokenUsage { return it.usage }

// Err is non-nil only when the context was cancelled. Model failures are
// reported through Faults.
func (it *MentionIterator) Err() error { return it.err }

// Collect drains it.
func Collect(it *MentionIterator) ([]model.ToponymMention, []model.Fault, error) {
	var out []model.ToponymMention
	for it.Next() {
		out = append(out, it.Mention())
	}
	return out, it.Faults(), it.Err()
}
