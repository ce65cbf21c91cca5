package geocode

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geonext/internal/model"
	"github.com/sells-group/geonext/internal/resilience"
)

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// GoogleBackend queries the Google Geocoding API.
type GoogleBackend struct {
	key        string
	endpoint   string
	httpClient *http.Client
}

// NewGoogleBackend creates a backend with an API key.
func NewGoogleBackend(key string, hc *http.Client) *GoogleBackend {
	if hc == nil {
		hc = defaultHTTPClient()
	}
	return &GoogleBackend{key: key, endpoint: googleGeocodeURL, httpClient: hc}
}

// Name implements Backend.
func (g *GoogleBackend) Name() string { return "google" }

type googleGeocodeResponse struct {
	Results      []googleResult `json:"results"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
}

type googleResult struct {
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"`
	} `json:"geometry"`
	FormattedAddress  string   `json:"formatted_address"`
	Types             []string `json:"types"`
	PartialMatch      bool     `json:"partial_match"`
	AddressComponents []struct {
		LongName  string   `json:"long_name"`
		ShortName string   `json:"short_name"`
		Types     []string `json:"types"`
	} `json:"address_components"`
}

// Search implements Backend. Google takes one region bias rather than a hard
// filter, so additional countries are enforced by the Client.
func (g *GoogleBackend) Search(ctx context.Context, query string, hints model.QueryHints, limit int) ([]model.CandidateLocation, error) {
	if g.key == "" {
		return nil, eris.New("geocode: google api key not configured")
	}
	params := url.Values{
		"address": {query},
		"key":     {g.key},
	}
	switch {
	case len(hints.Countries) > 0:
		params.Set("region", strings.ToLower(hints.Countries[0]))
		if len(hints.Countries) == 1 {
			params.Set("components", "country:"+strings.ToUpper(hints.Countries[0]))
		}
	case hints.CountryBias != "":
		params.Set("region", strings.ToLower(hints.CountryBias))
	}
	if hints.Language != "" {
		params.Set("language", hints.Language)
	}

	var resp googleGeocodeResponse
	if err := getJSON(ctx, g.httpClient, "google", g.endpoint+"?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	switch resp.Status {
	case "OK":
	case "ZERO_RESULTS":
		return nil, nil
	case "OVER_QUERY_LIMIT", "UNKNOWN_ERROR":
		return nil, resilience.NewTransientError(eris.Errorf("geocode: google status %s", resp.Status), http.StatusTooManyRequests)
	default:
		return nil, eris.Errorf("geocode: google status %s: %s", resp.Status, resp.ErrorMessage)
	}

	out := make([]model.CandidateLocation, 0, min(limit, len(resp.Results)))
	for i, r := range resp.Results {
		if i >= limit {
			break
		}
		rel := rankRelevance(i) + 0.15
		if r.PartialMatch {
			rel -= 0.3
		}
		c := model.CandidateLocation{
			Coordinate:  model.Coordinate{Latitude: r.Geometry.Location.Lat, Longitude: r.Geometry.Location.Lng},
			DisplayName: r.FormattedAddress,
			FeatureType: googleFeatureType(r.Types),
			RawScore:    float64(i),
			Relevance:   rel,
		}
		for _, ac := range r.AddressComponents {
			switch {
			case hasType(ac.Types, "country"):
				c.CountryCode = ac.ShortName
			case hasType(ac.Types, "administrative_area_level_1"):
				c.Admin1 = ac.LongName
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func hasType(types []string, t string) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}

func googleFeatureType(types []string) model.FeatureType {
	switch {
	case hasType(types, "country"):
		return model.FeatureCountry
	case hasType(types, "administrative_area_level_1"), hasType(types, "administrative_area_level_2"):
		return model.FeatureRegion
	case hasType(types, "locality"), hasType(types, "sublocality"), hasType(types, "postal_town"):
		return model.FeatureCity
	case hasType(types, "street_address"), hasType(types, "route"), hasType(types, "premise"):
		return model.FeatureAddress
	case hasType(types, "point_of_interest"), hasType(types, "establishment"), hasType(types, "natural_feature"):
		return model.FeaturePOI
	default:
		return model.FeatureOther
	}
}
