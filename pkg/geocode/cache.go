package geocode

import (
	"context"
	"crypto/sha256"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sells-group/geonext/internal/model"
)

// Cache persists gazetteer answers. maxAge <= 0 accepts entries of any age.
type Cache interface {
	GetCandidates(ctx context.Context, key string, maxAge time.Duration) ([]model.CandidateLocation, bool, error)
	PutCandidates(ctx context.Context, key, gazetteer string, cands []model.CandidateLocation) error
}

// cacheKey returns the SHA-256 hex of the gazetteer, folded query, hints and
// result cap.
func cacheKey(gazetteer, query string, hints model.QueryHints, limit int) string {
	countries := make([]string, len(hints.Countries))
	for i, c := range hints.Countries {
		countries[i] = strings.ToUpper(c)
	}
	slices.Sort(countries)

	var bias, bbox string
	if p := hints.BiasPoint; p != nil {
		bias = fmt.Sprintf("%.2f,%.2f", p.Latitude, p.Longitude)
	}
	if b := hints.BBox; b != nil {
		bbox = fmt.Sprintf("%.4f,%.4f,%.4f,%.4f", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
	}
	normalized := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%s|%d",
		gazetteer, Fold(query), strings.Join(countries, ","), bias, strings.ToUpper(hints.CountryBias), bbox,
		hints.FeatureType, strings.ToLower(hints.Language), limit)
	return fmt.Sprintf("%x", sha256.Sum256([]byte(normalized)))
}
