package geocode

import (
	"context"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/geonext/internal/model"
)

// FixturePlace is one entry of a YAML gazetteer.
type FixturePlace struct {
	Name        string   `yaml:"name"`
	Aliases     []string `yaml:"aliases"`
	Latitude    float64  `yaml:"lat"`
	Longitude   float64  `yaml:"lon"`
	CountryCode string   `yaml:"country_code"`
	Country     string   `yaml:"country"`
	Admin1      string   `yaml:"admin1"`
	Population  int64    `yaml:"population"`
	FeatureType string   `yaml:"feature_type"`
	Score       float64  `yaml:"score"`
}

// FixtureBackend is an in-memory gazetteer loaded from YAML. It serves
// offline runs and tests.
type FixtureBackend struct {
	name   string
	places []FixturePlace
	index  map[string][]int
}

// NewFixtureBackend indexes places by folded name and alias.
func NewFixtureBackend(name string, places []FixturePlace) *FixtureBackend {
	f := &FixtureBackend{name: name, places: places, index: make(map[string][]int)}
	for i, p := range places {
		for _, n := range append([]string{p.Name}, p.Aliases...) {
			key := Fold(n)
			f.index[key] = append(f.index[key], i)
		}
	}
	return f
}

// LoadFixture reads a YAML file of the form `places: [...]`.
func LoadFixture(path string) (*FixtureBackend, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: read fixture %s", path)
	}
	var doc struct {
		Places []FixturePlace `yaml:"places"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "geocode: parse fixture %s", path)
	}
	return NewFixtureBackend("fixture", doc.Places), nil
}

// Name implements Backend.
func (f *FixtureBackend) Name() string { return f.name }

// Search implements Backend. The first comma-separated part of the query is
// matched exactly after folding; any further part must match the country
// code, country name or admin1 of the place.
func (f *FixtureBackend) Search(_ context.Context, query string, _ model.QueryHints, limit int) ([]model.CandidateLocation, error) {
	parts := strings.Split(query, ",")
	qualifiers := make([]string, 0, len(parts)-1)
	for _, q := range parts[1:] {
		if q = Fold(q); q != "" {
			qualifiers = append(qualifiers, q)
		}
	}

	var out []model.CandidateLocation
	for _, i := range f.index[Fold(parts[0])] {
		p := f.places[i]
		if !qualifies(p, qualifiers) {
			continue
		}
		score := p.Score
		if score == 0 {
			score = 0.9
		}
		out = append(out, model.CandidateLocation{
			Coordinate:  model.Coordinate{Latitude: p.Latitude, Longitude: p.Longitude},
			DisplayName: p.Name,
			FeatureType: model.ParseFeatureType(p.FeatureType),
			Population:  p.Population,
			CountryCode: p.CountryCode,
			Admin1:      p.Admin1,
			RawScore:    score,
			Relevance:   score,
		})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func qualifies(p FixturePlace, qualifiers []string) bool {
	for _, q := range qualifiers {
		if q != Fold(p.CountryCode) && q != Fold(p.Country) && q != Fold(p.Admin1) {
			return false
		}
	}
	return true
}
