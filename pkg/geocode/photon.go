package geocode

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/geonext/internal/model"
)

// PhotonBackend queries a Komoot Photon instance. Photon answers with a
// GeoJSON FeatureCollection and reports no score, so relevance is derived
// from rank.
type PhotonBackend struct {
	baseURL    string
	httpClient *http.Client
}

// NewPhotonBackend creates a backend for baseURL.
func NewPhotonBackend(baseURL string, hc *http.Client) *PhotonBackend {
	if hc == nil {
		hc = defaultHTTPClient()
	}
	return &PhotonBackend{baseURL: strings.TrimRight(baseURL, "/"), httpClient: hc}
}

// Name implements Backend.
func (p *PhotonBackend) Name() string { return "photon" }

// Search implements Backend. Country and feature filters are applied by the
// Client since Photon has no equivalent parameters.
func (p *PhotonBackend) Search(ctx context.Context, query string, hints model.QueryHints, limit int) ([]model.CandidateLocation, error) {
	params := url.Values{
		"q":     {query},
		"limit": {strconv.Itoa(limit)},
	}
	if hints.BiasPoint != nil {
		params.Set("lat", strconv.FormatFloat(hints.BiasPoint.Latitude, 'f', 5, 64))
		params.Set("lon", strconv.FormatFloat(hints.BiasPoint.Longitude, 'f', 5, 64))
	}
	if b := hints.BBox; b != nil {
		params.Set("bbox", fmt.Sprintf("%g,%g,%g,%g", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat))
	}
	switch hints.Language {
	case "de", "en", "fr", "it":
		params.Set("lang", hints.Language)
	}

	var fc geojson.FeatureCollection
	if err := getJSON(ctx, p.httpClient, "photon", p.baseURL+"/api/?"+params.Encode(), nil, &fc); err != nil {
		return nil, err
	}

	out := make([]model.CandidateLocation, 0, len(fc.Features))
	for i, f := range fc.Features {
		pt, ok := f.Geometry.(*geom.Point)
		if !ok || pt == nil {
			continue
		}
		props := f.Properties
		out = append(out, model.CandidateLocation{
			Coordinate:  model.Coordinate{Latitude: pt.Y(), Longitude: pt.X()},
			DisplayName: photonDisplayName(props),
			FeatureType: photonFeatureType(props),
			CountryCode: stringProp(props, "countrycode"),
			Admin1:      stringProp(props, "state"),
			RawScore:    float64(i),
			Relevance:   rankRelevance(i),
		})
	}
	return out, nil
}

func stringProp(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func photonDisplayName(props map[string]any) string {
	var parts []string
	for _, k := range []string{"name", "city", "state", "country"} {
		if v := stringProp(props, k); v != "" && (len(parts) == 0 || parts[len(parts)-1] != v) {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ", ")
}

func photonFeatureType(props map[string]any) model.FeatureType {
	switch stringProp(props, "type") {
	case "country":
		return model.FeatureCountry
	case "state", "county", "district":
		return model.FeatureRegion
	case "city", "locality":
		return model.FeatureCity
	case "street", "house":
		return model.FeatureAddress
	}
	if stringProp(props, "osm_key") == "place" {
		return model.ParseFeatureType(stringProp(props, "osm_value"))
	}
	return model.FeaturePOI
}
