package model

import (
	"math"
	"strings"
)

// Coordinate is a WGS84 point in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the coordinate is within WGS84 bounds.
func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// BBox is a lon/lat bounding box.
type BBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

// Contains reports whether c lies inside the box.
func (b BBox) Contains(c Coordinate) bool {
	return c.Longitude >= b.MinLon && c.Longitude <= b.MaxLon &&
		c.Latitude >= b.MinLat && c.Latitude <= b.MaxLat
}

// FeatureType is the normalized class of a gazetteer feature.
type FeatureType string

const (
	FeatureCountry FeatureType = "country"
	FeatureRegion  FeatureType = "region"
	FeatureCity    FeatureType = "city"
	FeaturePOI     FeatureType = "poi"
	FeatureAddress FeatureType = "address"
	FeatureOther   FeatureType = "other"
)

// ParseFeatureType maps a loose label to a FeatureType. Unknown labels map to FeatureOther.
func ParseFeatureType(s string) FeatureType {
	switch s {
	case "country":
		return FeatureCountry
	case "region", "state", "province", "county", "admin", "administrative":
		return FeatureRegion
	case "city", "town", "village", "hamlet", "locality", "municipality", "suburb":
		return FeatureCity
	case "poi", "landmark", "building", "amenity":
		return FeaturePOI
	case "address", "street", "house":
		return FeatureAddress
	default:
		return FeatureOther
	}
}

// SourceModel marks a candidate proposed by the reasoning model rather than a gazetteer.
const SourceModel = "model"

// CandidateLocation is one gazetteer hit for a mention. It belongs to exactly
// one resolution attempt and is never shared across mentions.
type CandidateLocation struct {
	Coordinate
	DisplayName string      `json:"display_name"`
	FeatureType FeatureType `json:"feature_type"`
	Population  int64       `json:"population,omitempty"`
	CountryCode string      `json:"country_code,omitempty"`
	Admin1      string      `json:"admin1,omitempty"`
	Source      string      `json:"source"`
	RawScore    float64     `json:"raw_score"`
	Relevance   float64     `json:"relevance"` // backend score normalized to [0,1]
	Rank        int         `json:"rank"`
}

// QueryHints narrows or biases a gazetteer query.
type QueryHints struct {
	// Countries is a hard filter of ISO 3166-1 alpha-2 codes.
	Countries []string `json:"countries,omitempty"`

	// BiasPoint softly prefers results near a point where the backend supports it.
	BiasPoint *Coordinate `json:"bias_point,omitempty"`

	// CountryBias softly prefers results in one ISO 3166-1 alpha-2 country.
	CountryBias string `json:"country_bias,omitempty"`

	BBox        *BBox       `json:"bbox,omitempty"`
	FeatureType FeatureType `json:"feature_type,omitempty"`
	Language    string      `json:"language,omitempty"`
}

// Restrictive reports whether the hints filter results rather than only bias them.
func (h QueryHints) Restrictive() bool {
	return len(h.Countries) > 0 || h.BBox != nil || h.FeatureType != ""
}

// Relaxed returns a copy with every hard filter removed. A dropped country
// filter survives as the country bias when none was set.
func (h QueryHints) Relaxed() QueryHints {
	bias := h.CountryBias
	if bias == "" && len(h.Countries) > 0 {
		bias = strings.ToUpper(h.Countries[0])
	}
	return QueryHints{BiasPoint: h.BiasPoint, CountryBias: bias, Language: h.Language}
}

// EarthRadiusKM is the mean Earth radius used for great-circle distances.
const EarthRadiusKM = 6371.0088

// DistanceKM returns the haversine great-circle distance to o in kilometres.
func (c Coordinate) DistanceKM(o Coordinate) float64 {
	lat1 := c.Latitude * math.Pi / 180
	lat2 := o.Latitude * math.Pi / 180
	dLat := (o.Latitude - c.Latitude) * math.Pi / 180
	dLng := (o.Longitude - c.Longitude) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	a = math.Min(1, a)
	return EarthRadiusKM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
