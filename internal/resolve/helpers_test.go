package resolve

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/geonext/internal/model"
	"github.com/sells-group/geonext/internal/resilience"
	"github.com/sells-group/geonext/pkg/geocode"
)

// --- Judge Mock ---

type mockJudge struct {
	mock.Mock
}

func (m *mockJudge) Judge(ctx context.Context, mention model.ToponymMention, cands []model.CandidateLocation) ([]float64, error) {
	args := m.Called(ctx, mention, cands)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float64), args.Error(1)
}

type downBackend struct {
	name  string
	calls atomic.Int32
}

func (d *downBackend) Name() string { return d.name }

func (d *downBackend) Search(context.Context, string, model.QueryHints, int) ([]model.CandidateLocation, error) {
	d.calls.Add(1)
	return nil, errors.New("connection refused")
}

type recordingBackend struct {
	geocode.Backend
	queries []string
	hints   []model.QueryHints
}

func (r *recordingBackend) Search(ctx context.Context, q string, h model.QueryHints, limit int) ([]model.CandidateLocation, error) {
	r.queries = append(r.queries, q)
	r.hints = append(r.hints, h)
	return r.Backend.Search(ctx, q, h, limit)
}

var noRetry = resilience.RetryConfig{MaxAttempts: 1}

func gazetteer(name string, places ...geocode.FixturePlace) *geocode.Client {
	return geocode.NewClient(geocode.NewFixtureBackend(name, places), geocode.WithRetry(noRetry))
}

func mention(i int, text, surface string) model.ToponymMention {
	start := indexOf(text, surface)
	return model.ToponymMention{
		Index:   i,
		Span:    model.Span{Start: start, End: start + len(surface)},
		Surface: surface,
		Context: text,
		Query:   surface,
	}
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

var (
	copenhagen = geocode.FixturePlace{
		Name: "Copenhagen", Latitude: 55.67594, Longitude: 12.56553,
		CountryCode: "DK", Country: "Denmark", Admin1: "Capital Region", Population: 1153615, FeatureType: "city",
	}
	tivoliItaly = geocode.FixturePlace{
		Name: "Tivoli", Latitude: 41.9634, Longitude: 12.7980,
		CountryCode: "IT", Country: "Italy", Admin1: "Lazio", Population: 56533, FeatureType: "city", Score: 0.9,
	}
	tivoliGardens = geocode.FixturePlace{
		Name: "Tivoli", Aliases: []string{"Tivoli Gardens"}, Latitude: 55.6737, Longitude: 12.5681,
		CountryCode: "DK", Country: "Denmark", Admin1: "Capital Region", FeatureType: "poi", Score: 0.7,
	}
	springfieldIL = geocode.FixturePlace{
		Name: "Springfield", Latitude: 39.80172, Longitude: -89.64371,
		CountryCode: "US", Country: "United States", Admin1: "Illinois", Population: 116250, FeatureType: "city",
	}
	springfieldMA = geocode.FixturePlace{
		Name: "Springfield", Latitude: 42.10148, Longitude: -72.58981,
		CountryCode: "US", Country: "United States", Admin1: "Massachusetts", Population: 155929, FeatureType: "city",
	}
	springfieldMO = geocode.FixturePlace{
		Name: "Springfield", Latitude: 37.21533, Longitude: -93.29824,
		CountryCode: "US", Country: "United States", Admin1: "Missouri", Population: 169176, FeatureType: "city",
	}
	arles = geocode.FixturePlace{
		Name: "Arles", Latitude: 43.67681, Longitude: 4.63031,
		CountryCode: "FR", Country: "France", Admin1: "Provence-Alpes-Côte d'Azur", Population: 52510, FeatureType: "city", Score: 0.8,
	}
	illinois = geocode.FixturePlace{
		Name: "Illinois", Latitude: 40.0, Longitude: -89.0,
		CountryCode: "US", Country: "United States", Admin1: "Illinois", Population: 12812508, FeatureType: "region",
	}
)
