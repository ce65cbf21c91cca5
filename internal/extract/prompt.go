package extract

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/geonext/pkg/anthropic"
)

// Style selects how the extraction prompt is built.
type Style string

const (
	StyleZeroShot Style = "zero_shot"
	StyleFewShot  Style = "few_shot"
	StyleAgent    Style = "agent"
)

// ParseStyle validates a configured style name.
func ParseStyle(s string) (Style, error) {
	switch st := Style(s); st {
	case StyleZeroShot, StyleFewShot, StyleAgent:
		return st, nil
	case "":
		return StyleFewShot, nil
	default:
		return "", eris.Errorf("extract: unknown style %q", s)
	}
}

// Example is an in-context demonstration: a text and the places in it.
type Example struct {
	Text      string            `yaml:"text" json:"text"`
	Locations []ExampleLocation `yaml:"locations" json:"locations"`
}

// ExampleLocation is one expected place of an Example.
type ExampleLocation struct {
	Name  string `yaml:"name" json:"name"`
	Query string `yaml:"query" json:"query"`
}

// DefaultExamples are used by few_shot when no examples file is configured.
var DefaultExamples = []Example{
	{
		Text: "Evacuation centres opened in Lviv and Chernihiv after the floods.",
		Locations: []ExampleLocation{
			{Name: "Lviv", Query: "Lviv, Ukraine"},
			{Name: "Chernihiv", Query: "Chernihiv, Ukraine"},
		},
	},
	{
		Text: "Clashes erupted near the southern outskirts of New York City late Monday.",
		Locations: []ExampleLocation{
			{Name: "New York City", Query: "New York City, New York, United States"},
		},
	},
}

// LoadExamples reads few-shot examples from a YAML file with a top-level
// `examples:` list. Every location name must occur in its example text.
func LoadExamples(path string) ([]Example, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: read examples %s", path)
	}
	var doc struct {
		Examples []Example `yaml:"examples"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "extract: parse examples %s", path)
	}
	for i, ex := range doc.Examples {
		for _, loc := range ex.Locations {
			if !strings.Contains(ex.Text, loc.Name) {
				return nil, eris.Errorf("extract: example %d: %q not found in text", i, loc.Name)
			}
		}
	}
	return doc.Examples, nil
}

// answer renders the expected model output for an example, with character
// offsets of the first occurrence after the previous location.
func (ex Example) answer() string {
	out := reportedOutput{Locations: make([]reportedLocation, 0, len(ex.Locations))}
	from := 0
	for _, loc := range ex.Locations {
		idx := strings.Index(ex.Text[from:], loc.Name)
		if idx < 0 {
			idx, from = strings.Index(ex.Text, loc.Name), 0
		}
		start := utf8.RuneCountInString(ex.Text[:from+idx])
		from += idx + len(loc.Name)
		out.Locations = append(out.Locations, reportedLocation{Name: loc.Name, Start: &start, Query: loc.Query})
	}
	b, _ := json.Marshal(out)
	return string(b)
}

const baseInstructions = `You are a meticulous information extraction assistant for geographic text.
Task: identify every mention of a real-world place in the user's document: countries, regions, cities, towns, villages, districts, rivers, mountains, landmarks and street addresses.
Do NOT return organisations, person names, demonyms, weekdays, months or plain nouns.

Respond with ONLY a JSON object, no prose and no code fences:
{"locations":[{"name":"<exact text>","start":<character offset>,"query":"<geocoder query>","precision":<1-10>}]}

Rules:
- "name" must be copied exactly as it appears in the document, including case and diacritics.
- "start" is the zero-based character offset of that occurrence in the document.
- Report every occurrence of a place separately, in document order.
- "query" is the name with its country or state appended when the document makes it clear (e.g. "Odense" becomes "Odense, Denmark").
- "precision" rates how specific the place is: 1 for a country, 3 for a region, 6 for a city, 8 for a landmark, 10 for an exact address.
- If the document mentions no places, respond with {"locations":[]}.`

const agentInstructions = `

You have a geocode_location tool that searches gazetteers. For each distinct place:
- Call geocode_location one place at a time, appending the country or state to the query when obvious.
- If several candidates come back, reason over the document to pick the right one; if none fit, refine the query (at most 2 extra tries per place).
- Then add "latitude", "longitude" and "confidence" (1-10) to the location.
- Leave out latitude and longitude when you could not determine them.`

// systemPrompt returns the static system text for style.
func systemPrompt(style Style, language string) string {
	var b strings.Builder
	b.WriteString(baseInstructions)
	if style == StyleAgent {
		b.WriteString(agentInstructions)
	}
	if language != "" {
		fmt.Fprintf(&b, "\n\nThe document language is %q.", language)
	}
	return b.String()
}

// buildMessages returns the conversation for one document. few_shot adds up
// to shots example exchanges before the document.
func buildMessages(style Style, examples []Example, shots int, text string) []anthropic.Message {
	var msgs []anthropic.Message
	if style == StyleFewShot {
		for i, ex := range examples {
			if i >= shots {
				break
			}
			msgs = append(msgs,
				anthropic.Message{Role: "user", Content: ex.Text},
				anthropic.Message{Role: "assistant", Content: ex.answer()},
			)
		}
	}
	return append(msgs, anthropic.Message{Role: "user", Content: text})
}
