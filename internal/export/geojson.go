// Package export writes document results and evaluation runs in
// interchange formats.
package export

import (
	"encoding/json"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/geonext/internal/model"
)

// GeoJSONOptions controls the feature collection.
type GeoJSONOptions struct {
	// IncludeUnresolved adds unresolved mentions as features with a null geometry.
	IncludeUnresolved bool
	// IncludeText copies the document text into every feature.
	IncludeText bool
}

// FeatureCollection builds one point feature per resolved mention, in
// document then mention order. Document fields are flattened into each
// feature's properties with a "document_" prefix.
func FeatureCollection(results []model.DocumentResult, opts GeoJSONOptions) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{}}
	for _, r := range results {
		doc := documentProperties(r, opts.IncludeText)
		for _, loc := range r.Locations {
			resolved := loc.Status == model.StatusResolved && loc.Coordinate != nil
			if !resolved && !opts.IncludeUnresolved {
				continue
			}
			f := &geojson.Feature{Properties: locationProperties(loc)}
			for k, v := range doc {
				f.Properties[k] = v
			}
			if resolved {
				f.Geometry = geom.NewPointFlat(geom.XY, []float64{loc.Coordinate.Longitude, loc.Coordinate.Latitude})
			}
			fc.Features = append(fc.Features, f)
		}
	}
	return fc
}

func documentProperties(r model.DocumentResult, withText bool) map[string]any {
	props := map[string]any{
		"document_id":          r.DocumentID,
		"document_mentions":    len(r.Locations),
		"document_faults":      len(r.Faults),
		"document_duration_ms": r.DurationMS,
	}
	if !r.ProcessedAt.IsZero() {
		props["document_processed_at"] = r.ProcessedAt.UTC().Format(time.RFC3339)
	}
	if withText {
		props["document_text"] = r.Text
	}
	return props
}

func locationProperties(loc model.ResolvedLocation) map[string]any {
	props := map[string]any{
		"mention_index": loc.MentionIndex,
		"surface":       loc.Surface,
		"start":         loc.Span.Start,
		"end":           loc.Span.End,
		"status":        string(loc.Status),
		"confidence":    loc.Confidence,
	}
	if loc.Precision > 0 {
		props["precision"] = loc.Precision
	}
	if loc.Rationale.Reason != "" {
		props["reason"] = loc.Rationale.Reason
	}
	if c := loc.Chosen; c != nil {
		props["name"] = c.DisplayName
		props["feature_type"] = string(c.FeatureType)
		props["source"] = c.Source
		if c.CountryCode != "" {
			props["country_code"] = c.CountryCode
		}
		if c.Admin1 != "" {
			props["admin1"] = c.Admin1
		}
		if c.Population > 0 {
			props["population"] = c.Population
		}
	}
	return props
}

// WriteGeoJSON encodes the feature collection of results to w.
func WriteGeoJSON(w io.Writer, results []model.DocumentResult, opts GeoJSONOptions) error {
	fc := FeatureCollection(results, opts)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(fc); err != nil {
		return eris.Wrap(err, "export: encode geojson")
	}
	return nil
}
