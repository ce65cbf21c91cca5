package geocode

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/geonext/internal/model"
)

// Fold lowercases s, strips diacritics and collapses whitespace, so
// "São  Paulo" and "sao paulo" compare equal.
func Fold(s string) string {
	s, _, _ = transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		strings.ToLower(s),
	)
	return strings.Join(strings.Fields(s), " ")
}

// rankRelevance scores the i-th hit of a backend that reports no score.
// The top hit gets 0.8 and each further rank loses 15%.
func rankRelevance(rank int) float64 {
	return 0.8 * math.Pow(0.85, float64(rank))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// filterHints drops candidates that violate hard hint filters. Backends
// without native filtering rely on this.
func filterHints(cands []model.CandidateLocation, hints model.QueryHints) []model.CandidateLocation {
	if !hints.Restrictive() {
		return cands
	}
	out := cands[:0:0]
	for _, c := range cands {
		if len(hints.Countries) > 0 && !containsFold(hints.Countries, c.CountryCode) {
			continue
		}
		if hints.BBox != nil && !hints.BBox.Contains(c.Coordinate) {
			continue
		}
		if hints.FeatureType != "" && c.FeatureType != hints.FeatureType {
			continue
		}
		out = append(out, c)
	}
	return out
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// normalize enforces the candidate schema: valid coordinates only, upper-case
// country codes, relevance in [0,1], descending relevance (stable on native
// order), at most limit results, and Rank set to the final position.
func normalize(cands []model.CandidateLocation, source string, limit int) []model.CandidateLocation {
	out := make([]model.CandidateLocation, 0, len(cands))
	for _, c := range cands {
		if !c.Valid() || (c.Latitude == 0 && c.Longitude == 0) {
			continue
		}
		c.Source = source
		c.CountryCode = strings.ToUpper(c.CountryCode)
		c.Relevance = clamp01(c.Relevance)
		if c.FeatureType == "" {
			c.FeatureType = model.FeatureOther
		}
		out = append(out, c)
	}
	slices.SortStableFunc(out, func(a, b model.CandidateLocation) int {
		return cmp.Compare(b.Relevance, a.Relevance)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Rank = i
	}
	return out
}
