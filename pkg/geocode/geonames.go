package geocode

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geonext/internal/model"
	"github.com/sells-group/geonext/internal/resilience"
)

// GeoNamesBackend queries the GeoNames searchJSON web service.
type GeoNamesBackend struct {
	baseURL    string
	username   string
	httpClient *http.Client
}

// NewGeoNamesBackend creates a backend. username is the GeoNames account.
func NewGeoNamesBackend(baseURL, username string, hc *http.Client) *GeoNamesBackend {
	if hc == nil {
		hc = defaultHTTPClient()
	}
	return &GeoNamesBackend{baseURL: strings.TrimRight(baseURL, "/"), username: username, httpClient: hc}
}

// Name implements Backend.
func (g *GeoNamesBackend) Name() string { return "geonames" }

type geonamesResponse struct {
	GeoNames []struct {
		Lat         string  `json:"lat"`
		Lng         string  `json:"lng"`
		Name        string  `json:"name"`
		CountryCode string  `json:"countryCode"`
		CountryName string  `json:"countryName"`
		AdminName1  string  `json:"adminName1"`
		Population  int64   `json:"population"`
		FCL         string  `json:"fcl"`
		FCode       string  `json:"fcode"`
		Score       float64 `json:"score"`
	} `json:"geonames"`
	Status *struct {
		Message string `json:"message"`
		Value   int    `json:"value"`
	} `json:"status"`
}

// Search implements Backend. GeoNames scores are unbounded, so relevance is
// the score relative to the best hit.
func (g *GeoNamesBackend) Search(ctx context.Context, query string, hints model.QueryHints, limit int) ([]model.CandidateLocation, error) {
	params := url.Values{
		"q":              {query},
		"maxRows":        {strconv.Itoa(limit)},
		"username":       {g.username},
		"style":          {"FULL"},
		"isNameRequired": {"true"},
	}
	for _, cc := range hints.Countries {
		params.Add("country", strings.ToUpper(cc))
	}
	if hints.CountryBias != "" && len(hints.Countries) == 0 {
		params.Set("countryBias", strings.ToUpper(hints.CountryBias))
	}
	switch hints.FeatureType {
	case model.FeatureCity:
		params.Set("featureClass", "P")
	case model.FeatureCountry, model.FeatureRegion:
		params.Set("featureClass", "A")
	}
	if b := hints.BBox; b != nil {
		params.Set("west", strconv.FormatFloat(b.MinLon, 'f', -1, 64))
		params.Set("south", strconv.FormatFloat(b.MinLat, 'f', -1, 64))
		params.Set("east", strconv.FormatFloat(b.MaxLon, 'f', -1, 64))
		params.Set("north", strconv.FormatFloat(b.MaxLat, 'f', -1, 64))
	}
	if hints.Language != "" {
		params.Set("lang", hints.Language)
	}

	var resp geonamesResponse
	if err := getJSON(ctx, g.httpClient, "geonames", g.baseURL+"/searchJSON?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Status != nil {
		return nil, geonamesStatusError(resp.Status.Value, resp.Status.Message)
	}

	maxScore := 0.0
	for _, r := range resp.GeoNames {
		maxScore = max(maxScore, r.Score)
	}

	out := make([]model.CandidateLocation, 0, len(resp.GeoNames))
	for i, r := range resp.GeoNames {
		lat, errLat := strconv.ParseFloat(r.Lat, 64)
		lon, errLon := strconv.ParseFloat(r.Lng, 64)
		if errLat != nil || errLon != nil {
			continue
		}
		rel := rankRelevance(i)
		if maxScore > 0 {
			rel = r.Score / maxScore
		}
		name := r.Name
		if r.AdminName1 != "" {
			name += ", " + r.AdminName1
		}
		if r.CountryName != "" {
			name += ", " + r.CountryName
		}
		out = append(out, model.CandidateLocation{
			Coordinate:  model.Coordinate{Latitude: lat, Longitude: lon},
			DisplayName: name,
			FeatureType: geonamesFeatureType(r.FCL, r.FCode),
			Population:  r.Population,
			CountryCode: r.CountryCode,
			Admin1:      r.AdminName1,
			RawScore:    r.Score,
			Relevance:   rel,
		})
	}
	return out, nil
}

// geonamesStatusError maps GeoNames status codes. 18-20 are credit and
// rate limits, 22 is a server timeout.
func geonamesStatusError(code int, msg string) error {
	err := eris.Errorf("geocode: geonames status %d: %s", code, msg)
	switch code {
	case 13, 18, 19, 20, 22:
		return resilience.NewTransientError(err, 0)
	default:
		return err
	}
}

func geonamesFeatureType(fcl, fcode string) model.FeatureType {
	switch fcl {
	case "A":
		if strings.HasPrefix(fcode, "PCL") {
			return model.FeatureCountry
		}
		return model.FeatureRegion
	case "P":
		return model.FeatureCity
	case "S", "L", "T", "H", "V", "U":
		return model.FeaturePOI
	case "R":
		return model.FeatureAddress
	default:
		return model.FeatureOther
	}
}
