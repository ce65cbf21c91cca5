// Package geocode queries gazetteers (Nominatim, Photon, GeoNames, Google,
// a PostGIS GeoNames table, or a YAML fixture) and normalizes their answers
// into model.CandidateLocation lists.
package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geonext/internal/model"
	"github.com/sells-group/geonext/internal/resilience"
)

// Backend is a single gazetteer. Search returns at most limit candidates in
// the backend's native relevance order. Zero hits is not an error.
type Backend interface {
	Name() string
	Search(ctx context.Context, query string, hints model.QueryHints, limit int) ([]model.CandidateLocation, error)
}

// Reverser is implemented by backends that can describe a coordinate.
type Reverser interface {
	Reverse(ctx context.Context, c model.Coordinate) (*Place, error)
}

// Place is the administrative context of a coordinate.
type Place struct {
	CountryCode string `json:"country_code"`
	Admin1      string `json:"admin1"`
	DisplayName string `json:"display_name"`
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// getJSON issues a GET and decodes a 200 response into out. Retryable
// statuses come back as resilience.TransientError.
func getJSON(ctx context.Context, hc *http.Client, service, rawURL string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return eris.Wrapf(err, "geocode: %s build request", service)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return eris.Wrapf(err, "geocode: %s request", service)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resilience.StatusError("geocode: "+service, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrapf(err, "geocode: %s read body", service)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrapf(err, "geocode: %s parse response", service)
	}
	return nil
}
