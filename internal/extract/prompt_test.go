package extract

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geonext/internal/model"
)

func TestExampleAnswer_RoundTrips(t *testing.T) {
	for _, ex := range DefaultExamples {
		locs, err := parseOutput(ex.answer())
		require.NoError(t, err)
		mentions, faults := toMentions(ex.Text, locs, 0)
		assert.Empty(t, faults, ex.Text)
		require.Len(t, mentions, len(ex.Locations))
		for i, m := range mentions {
			assert.Equal(t, ex.Locations[i].Name, m.Surface)
			assert.Equal(t, ex.Locations[i].Query, m.Query)
		}
	}
}

func TestExampleAnswer_Offsets(t *testing.T) {
	assert.JSONEq(t,
		`{"locations":[{"name":"Lviv","start":29,"query":"Lviv, Ukraine"},{"name":"Chernihiv","start":38,"query":"Chernihiv, Ukraine"}]}`,
		DefaultExamples[0].answer())
}

func TestLoadExamples(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
examples:
  - text: "Aid convoys left Dnipro for Kharkiv."
    locations:
      - {name: Dnipro, query: "Dnipro, Ukraine"}
      - {name: Kharkiv, query: "Kharkiv, Ukraine"}
`), 0o644))
	exs, err := LoadExamples(good)
	require.NoError(t, err)
	require.Len(t, exs, 1)
	assert.Equal(t, "Kharkiv", exs[0].Locations[1].Name)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
examples:
  - text: "Aid convoys left Dnipro."
    locations:
      - {name: Odesa}
`), 0o644))
	_, err = LoadExamples(bad)
	assert.ErrorContains(t, err, "Odesa")

	_, err = LoadExamples(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestBuildMessages(t *testing.T) {
	msgs := buildMessages(StyleFewShot, DefaultExamples, 1, "doc")
	require.Len(t, msgs, 3)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "doc", msgs[2].Content)

	assert.Len(t, buildMessages(StyleZeroShot, DefaultExamples, 2, "doc"), 1)
	assert.Len(t, buildMessages(StyleAgent, DefaultExamples, 2, "doc"), 1)
}

func TestSystemPrompt(t *testing.T) {
	assert.NotContains(t, systemPrompt(StyleFewShot, ""), "geocode_location")
	agent := systemPrompt(StyleAgent, "da")
	assert.Contains(t, agent, "geocode_location")
	assert.True(t, strings.HasSuffix(agent, `"da".`))
}

func TestCleanJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, cleanJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `[1]`, cleanJSON("Here you go: [1] done"))
	assert.Equal(t, "nothing", cleanJSON("nothing"))
}

func TestParseOutput_BareArray(t *testing.T) {
	locs, err := parseOutput(`[{"name":"Bern"}]`)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Nil(t, locs[0].Start)

	_, err = parseOutput("")
	assert.Error(t, err)
}

func TestToMentions_NoStartClaimsNextOccurrence(t *testing.T) {
	text := "Bern to Bern"
	mentions, faults := toMentions(text, []reportedLocation{{Name: "Bern"}, {Name: "Bern"}, {Name: "Bern"}}, 0)
	require.Len(t, mentions, 2)
	assert.Equal(t, model.Span{Start: 0, End: 4}, mentions[0].Span)
	assert.Equal(t, model.Span{Start: 8, End: 12}, mentions[1].Span)
	require.Len(t, faults, 1)
	assert.Contains(t, faults[0].Message, "not found")
}

func TestToMentions_OutOfRangeAndInvalidSuggestion(t *testing.T) {
	start := 99
	lat, lon := 95.0, 10.0
	zero := 0
	mentions, faults := toMentions("in Bern", []reportedLocation{
		{Name: "Bern", Start: &start},
		{Name: "Bern", Start: func() *int { s := 3; return &s }(), Latitude: &lat, Longitude: &lon},
		{Name: "", Start: &zero},
	}, 0)
	require.Len(t, mentions, 1)
	assert.Nil(t, mentions[0].Suggestion)
	assert.Len(t, faults, 1)
}
