package extract

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geonext/internal/model"
)

// reportedLocation is one entry of the model's answer.
type reportedLocation struct {
	Name       string   `json:"name"`
	Start      *int     `json:"start,omitempty"`
	Query      string   `json:"query,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Precision  *int     `json:"precision,omitempty"`
}

type reportedOutput struct {
	Locations []reportedLocation `json:"locations"`
}

// cleanJSON strips code fences and surrounding prose from a model answer.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		if i := strings.Index(text, "\n"); i >= 0 {
			text = text[i+1:]
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	first := strings.IndexAny(text, "{[")
	last := strings.LastIndexAny(text, "}]")
	if first < 0 || last < first {
		return text
	}
	return text[first : last+1]
}

// parseOutput decodes the model answer. A bare array of location objects is
// accepted as well as the wrapped form.
func parseOutput(text string) ([]reportedLocation, error) {
	cleaned := cleanJSON(text)
	if cleaned == "" {
		return nil, eris.New("extract: empty model response")
	}
	if strings.HasPrefix(cleaned, "[") {
		var locs []reportedLocation
		if err := json.Unmarshal([]byte(cleaned), &locs); err != nil {
			return nil, eris.Wrap(err, "extract: parse location array")
		}
		return locs, nil
	}
	var out reportedOutput
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return nil, eris.Wrap(err, "extract: parse locations")
	}
	return out.Locations, nil
}

// runeIndex maps rune offsets to byte offsets for one text.
type runeIndex struct {
	text    string
	offsets []int // offsets[i] is the byte offset of rune i; offsets[n] == len(text)
}

func newRuneIndex(text string) runeIndex {
	offsets := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	return runeIndex{text: text, offsets: append(offsets, len(text))}
}

// byteOffset returns the byte offset of rune r, or false when out of range.
func (ri runeIndex) byteOffset(r int) (int, bool) {
	if r < 0 || r >= len(ri.offsets) {
		return 0, false
	}
	return ri.offsets[r], true
}

// runeOffset returns the rune position of byte offset b.
func (ri runeIndex) runeOffset(b int) int {
	i, _ := slices.BinarySearch(ri.offsets, b)
	return i
}

// contextAround returns up to window runes either side of span.
func (ri runeIndex) contextAround(span model.Span, window int) string {
	if window <= 0 {
		return ri.text[span.Start:span.End]
	}
	from := max(0, ri.runeOffset(span.Start)-window)
	to := min(len(ri.offsets)-1, ri.runeOffset(span.End)+window)
	return ri.text[ri.offsets[from]:ri.offsets[to]]
}

// toMentions converts reported locations into validated, ordered mentions.
// Locations whose span does not reproduce their name are dropped with a
// low-severity fault. When no start is reported, the first unclaimed
// occurrence of the name is used.
func toMentions(text string, locs []reportedLocation, window int) ([]model.ToponymMention, []model.Fault) {
	ri := newRuneIndex(text)
	var (
		mentions []model.ToponymMention
		faults   []model.Fault
		seen     = make(map[model.Span]bool)
	)
	for _, loc := range locs {
		if loc.Name == "" {
			continue
		}
		span, ok := locate(ri, loc, seen)
		if !ok {
			faults = append(faults, model.NewExtractionFault(spanMismatch(loc), model.SeverityLow))
			continue
		}
		if seen[span] {
			continue
		}
		seen[span] = true

		m := model.ToponymMention{
			Span:    span,
			Surface: text[span.Start:span.End],
			Context: ri.contextAround(span, window),
			Query:   strings.TrimSpace(loc.Query),
		}
		if m.Query == "" {
			m.Query = m.Surface
		}
		if loc.Precision != nil && *loc.Precision >= 1 && *loc.Precision <= 10 {
			m.Precision = *loc.Precision
		}
		m.Suggestion = suggestion(loc)
		mentions = append(mentions, m)
	}

	slices.SortStableFunc(mentions, func(a, b model.ToponymMention) int {
		return cmp.Or(cmp.Compare(a.Span.Start, b.Span.Start), cmp.Compare(a.Span.End, b.Span.End))
	})
	for i := range mentions {
		mentions[i].Index = i
	}
	return mentions, faults
}

func locate(ri runeIndex, loc reportedLocation, seen map[model.Span]bool) (model.Span, bool) {
	if loc.Start != nil {
		start, ok := ri.byteOffset(*loc.Start)
		if !ok {
			return model.Span{}, false
		}
		span := model.Span{Start: start, End: start + len(loc.Name)}
		if !span.Valid(len(ri.text)) || ri.text[span.Start:span.End] != loc.Name {
			return model.Span{}, false
		}
		return span, true
	}
	from := 0
	for {
		idx := strings.Index(ri.text[from:], loc.Name)
		if idx < 0 {
			return model.Span{}, false
		}
		span := model.Span{Start: from + idx, End: from + idx + len(loc.Name)}
		if !seen[span] {
			return span, true
		}
		from = span.End
	}
}

func spanMismatch(loc reportedLocation) string {
	if loc.Start == nil {
		return fmt.Sprintf("location %q not found in text", loc.Name)
	}
	return fmt.Sprintf("location %q does not occur at offset %d", loc.Name, *loc.Start)
}

func suggestion(loc reportedLocation) *model.Suggestion {
	if loc.Latitude == nil || loc.Longitude == nil {
		return nil
	}
	s := &model.Suggestion{Coordinate: model.Coordinate{Latitude: *loc.Latitude, Longitude: *loc.Longitude}}
	if !s.Valid() {
		return nil
	}
	if loc.Confidence != nil {
		s.Confidence = min(1, max(0, *loc.Confidence/10))
	}
	if loc.Precision != nil {
		s.Precision = *loc.Precision
	}
	return s
}
