package geocode

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sells-group/geonext/internal/model"
)

// NominatimBackend queries an OpenStreetMap Nominatim instance.
type NominatimBackend struct {
	baseURL    string
	userAgent  string
	email      string
	httpClient *http.Client
}

// NominatimOption configures a NominatimBackend.
type NominatimOption func(*NominatimBackend)

// WithNominatimEmail sets the contact address Nominatim asks heavy users for.
func WithNominatimEmail(email string) NominatimOption {
	return func(n *NominatimBackend) { n.email = email }
}

// WithNominatimHTTPClient sets the HTTP client.
func WithNominatimHTTPClient(hc *http.Client) NominatimOption {
	return func(n *NominatimBackend) { n.httpClient = hc }
}

// NewNominatimBackend creates a backend for baseURL. Nominatim's usage
// policy requires an identifying User-Agent.
func NewNominatimBackend(baseURL, userAgent string, opts ...NominatimOption) *NominatimBackend {
	n := &NominatimBackend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
		httpClient: defaultHTTPClient(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name implements Backend.
func (n *NominatimBackend) Name() string { return "nominatim" }

// nominatimBiasDegrees is the half-width of the unbounded viewbox drawn
// around a bias point.
const nominatimBiasDegrees = 2.5

type nominatimPlace struct {
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	DisplayName string  `json:"display_name"`
	Importance  float64 `json:"importance"`
	Category    string  `json:"category"`
	Type        string  `json:"type"`
	AddressType string  `json:"addresstype"`
	Address     struct {
		CountryCode string `json:"country_code"`
		State       string `json:"state"`
		Region      string `json:"region"`
	} `json:"address"`
	ExtraTags map[string]string `json:"extratags"`
}

// Search implements Backend. Importance is an absolute prominence measure,
// so relevance is the larger of it and the rank-based relevance other
// backends use.
func (n *NominatimBackend) Search(ctx context.Context, query string, hints model.QueryHints, limit int) ([]model.CandidateLocation, error) {
	params := url.Values{
		"q":              {query},
		"format":         {"jsonv2"},
		"addressdetails": {"1"},
		"extratags":      {"1"},
		"limit":          {strconv.Itoa(limit)},
	}
	if len(hints.Countries) > 0 {
		params.Set("countrycodes", strings.ToLower(strings.Join(hints.Countries, ",")))
	}
	switch {
	case hints.BBox != nil:
		b := hints.BBox
		params.Set("viewbox", fmt.Sprintf("%g,%g,%g,%g", b.MinLon, b.MaxLat, b.MaxLon, b.MinLat))
		params.Set("bounded", "1")
	case hints.BiasPoint != nil:
		// without bounded=1 the viewbox only ranks results inside it higher
		p := hints.BiasPoint
		params.Set("viewbox", fmt.Sprintf("%g,%g,%g,%g",
			math.Max(-180, p.Longitude-nominatimBiasDegrees), math.Min(90, p.Latitude+nominatimBiasDegrees),
			math.Min(180, p.Longitude+nominatimBiasDegrees), math.Max(-90, p.Latitude-nominatimBiasDegrees)))
	}
	if hints.Language != "" {
		params.Set("accept-language", hints.Language)
	}
	if n.email != "" {
		params.Set("email", n.email)
	}

	var places []nominatimPlace
	if err := getJSON(ctx, n.httpClient, "nominatim", n.baseURL+"/search?"+params.Encode(), n.header(), &places); err != nil {
		return nil, err
	}

	out := make([]model.CandidateLocation, 0, len(places))
	for _, p := range places {
		lat, errLat := strconv.ParseFloat(p.Lat, 64)
		lon, errLon := strconv.ParseFloat(p.Lon, 64)
		if errLat != nil || errLon != nil {
			continue
		}
		admin1 := p.Address.State
		if admin1 == "" {
			admin1 = p.Address.Region
		}
		pop, _ := strconv.ParseInt(p.ExtraTags["population"], 10, 64)
		out = append(out, model.CandidateLocation{
			Coordinate:  model.Coordinate{Latitude: lat, Longitude: lon},
			DisplayName: p.DisplayName,
			FeatureType: nominatimFeatureType(p),
			Population:  pop,
			CountryCode: p.Address.CountryCode,
			Admin1:      admin1,
			RawScore:    p.Importance,
			Relevance:   math.Max(rankRelevance(len(out)), clamp01(p.Importance)),
		})
	}
	return out, nil
}

// Reverse implements Reverser.
func (n *NominatimBackend) Reverse(ctx context.Context, c model.Coordinate) (*Place, error) {
	params := url.Values{
		"lat":            {strconv.FormatFloat(c.Latitude, 'f', 6, 64)},
		"lon":            {strconv.FormatFloat(c.Longitude, 'f', 6, 64)},
		"format":         {"jsonv2"},
		"zoom":           {"5"},
		"addressdetails": {"1"},
	}
	var p nominatimPlace
	if err := getJSON(ctx, n.httpClient, "nominatim", n.baseURL+"/reverse?"+params.Encode(), n.header(), &p); err != nil {
		return nil, err
	}
	admin1 := p.Address.State
	if admin1 == "" {
		admin1 = p.Address.Region
	}
	return &Place{
		CountryCode: strings.ToUpper(p.Address.CountryCode),
		Admin1:      admin1,
		DisplayName: p.DisplayName,
	}, nil
}

func (n *NominatimBackend) header() http.Header {
	return http.Header{"User-Agent": {n.userAgent}}
}

func nominatimFeatureType(p nominatimPlace) model.FeatureType {
	switch p.AddressType {
	case "country":
		return model.FeatureCountry
	case "state", "region", "province", "county", "state_district":
		return model.FeatureRegion
	case "city", "town", "village", "hamlet", "municipality", "suburb", "borough":
		return model.FeatureCity
	case "road", "house_number", "house":
		return model.FeatureAddress
	}
	if p.Category == "amenity" || p.Category == "tourism" || p.Category == "historic" || p.Category == "building" {
		return model.FeaturePOI
	}
	return model.FeatureOther
}
