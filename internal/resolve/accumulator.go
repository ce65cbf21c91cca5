package resolve

import (
	"strings"

	"github.com/uber/h3-go/v4"

	"github.com/sells-group/geonext/internal/model"
)

// DefaultRegionResolution is the H3 resolution used for regional
// consistency. Resolution 3 cells are roughly 12,000 km².
const DefaultRegionResolution = 3

// Accumulator holds the mentions of a document resolved so far. Only the
// coordinating task appends to it; resolution of a single mention only reads.
type Accumulator struct {
	resolution int
	entries    []accEntry
}

type accEntry struct {
	coord   model.Coordinate
	country string
	admin1  string
	cell    h3.Cell
}

// NewAccumulator creates an empty accumulator. resolution <= 0 uses
// DefaultRegionResolution.
func NewAccumulator(resolution int) *Accumulator {
	if resolution <= 0 || resolution > 15 {
		resolution = DefaultRegionResolution
	}
	return &Accumulator{resolution: resolution}
}

// Add records a resolved location. Unresolved locations are ignored.
func (a *Accumulator) Add(loc model.ResolvedLocation) {
	if loc.Status != model.StatusResolved || loc.Coordinate == nil {
		return
	}
	e := accEntry{coord: *loc.Coordinate, cell: a.cell(*loc.Coordinate)}
	if loc.Chosen != nil {
		e.country = strings.ToUpper(loc.Chosen.CountryCode)
		e.admin1 = loc.Chosen.Admin1
	}
	a.entries = append(a.entries, e)
}

// Len returns the number of resolved locations.
func (a *Accumulator) Len() int { return len(a.entries) }

// DominantCountry returns the most frequent country among resolved
// locations. Ties go to the country seen first.
func (a *Accumulator) DominantCountry() (string, bool) {
	counts := make(map[string]int)
	best, bestN := "", 0
	for _, e := range a.entries {
		if e.country == "" {
			continue
		}
		counts[e.country]++
		if n := counts[e.country]; n > bestN {
			best, bestN = e.country, n
		}
	}
	return best, bestN > 0
}

// Centroid returns the mean of the resolved coordinates, or nil when empty.
// Longitudes are averaged on the unit circle so the antimeridian does not
// pull the centroid across the globe.
func (a *Accumulator) Centroid() *model.Coordinate {
	if len(a.entries) == 0 {
		return nil
	}
	var lat, x, y float64
	for _, e := range a.entries {
		lat += e.coord.Latitude
		x += cosDeg(e.coord.Longitude)
		y += sinDeg(e.coord.Longitude)
	}
	n := float64(len(a.entries))
	return &model.Coordinate{Latitude: lat / n, Longitude: atan2Deg(y, x)}
}

// ContextScore rates how well c fits the resolved locations: 1.0 for a shared
// admin1, 0.8 for a shared H3 region cell, 0.6 for a shared country and 0
// otherwise. The best match over all resolved locations wins. The second
// return is false while nothing is resolved.
func (a *Accumulator) ContextScore(c model.CandidateLocation) (float64, bool) {
	if len(a.entries) == 0 {
		return 0, false
	}
	country := strings.ToUpper(c.CountryCode)
	cell := a.cell(c.Coordinate)
	best := 0.0
	for _, e := range a.entries {
		switch {
		case country != "" && e.country == country && e.admin1 != "" && strings.EqualFold(e.admin1, c.Admin1):
			return 1.0, true
		case cell != 0 && e.cell == cell:
			best = max(best, 0.8)
		case country != "" && e.country == country:
			best = max(best, 0.6)
		}
	}
	return best, true
}

func (a *Accumulator) cell(c model.Coordinate) h3.Cell {
	cell, err := h3.LatLngToCell(h3.NewLatLng(c.Latitude, c.Longitude), a.resolution)
	if err != nil {
		return 0
	}
	return cell
}
