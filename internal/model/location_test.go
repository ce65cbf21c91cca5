package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceKM(t *testing.T) {
	paris := Coordinate{Latitude: 48.8566, Longitude: 2.3522}
	london := Coordinate{Latitude: 51.5074, Longitude: -0.1278}

	assert.InDelta(t, 343.5, paris.DistanceKM(london), 1.0)
	assert.InDelta(t, paris.DistanceKM(london), london.DistanceKM(paris), 1e-9)
	assert.Zero(t, paris.DistanceKM(paris))

	north := Coordinate{Latitude: 90}
	south := Coordinate{Latitude: -90}
	assert.InDelta(t, 20015.1, north.DistanceKM(south), 1.0)
}

func TestCoordinateValid(t *testing.T) {
	assert.True(t, Coordinate{Latitude: -90, Longitude: 180}.Valid())
	assert.False(t, Coordinate{Latitude: 90.1}.Valid())
	assert.False(t, Coordinate{Longitude: -180.5}.Valid())
}

func TestBBoxContains(t *testing.T) {
	b := BBox{MinLon: 5, MinLat: 45, MaxLon: 11, MaxLat: 48}
	assert.True(t, b.Contains(Coordinate{Latitude: 46.9, Longitude: 7.4}))
	assert.False(t, b.Contains(Coordinate{Latitude: 52.5, Longitude: 13.4}))
}

func TestParseFeatureType(t *testing.T) {
	assert.Equal(t, FeatureCity, ParseFeatureType("town"))
	assert.Equal(t, FeatureRegion, ParseFeatureType("state"))
	assert.Equal(t, FeatureOther, ParseFeatureType("volcano"))
}

func TestQueryHints(t *testing.T) {
	bias := Coordinate{Latitude: 1, Longitude: 2}
	h := QueryHints{Countries: []string{"IT"}, BiasPoint: &bias, Language: "it", FeatureType: FeatureCity}
	assert.True(t, h.Restrictive())

	r := h.Relaxed()
	assert.False(t, r.Restrictive())
	assert.Equal(t, &bias, r.BiasPoint)
	assert.Equal(t, "it", r.Language)
	assert.Equal(t, "IT", r.CountryBias, "the dropped filter becomes a bias")
	assert.False(t, QueryHints{CountryBias: "IT"}.Restrictive())
	assert.False(t, QueryHints{BiasPoint: &bias}.Restrictive())
}
