package geocode

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geonext/internal/db"
	"github.com/sells-group/geonext/internal/model"
)

// PostGISBackend searches a GeoNames table loaded into Postgres. The table
// needs name, asciiname, alternatenames (text[]), latitude, longitude,
// feature_class, feature_code, country_code, admin1_name and population.
type PostGISBackend struct {
	pool  db.Pool
	table string
}

// NewPostGISBackend creates a backend over a schema-qualified table name.
func NewPostGISBackend(pool db.Pool, table string) *PostGISBackend {
	return &PostGISBackend{pool: pool, table: table}
}

// Name implements Backend.
func (p *PostGISBackend) Name() string { return "postgis" }

func (p *PostGISBackend) searchSQL() string {
	return fmt.Sprintf(`
		SELECT name, latitude, longitude, feature_class, feature_code, country_code,
			coalesce(admin1_name, ''), coalesce(population, 0),
			CASE WHEN lower(name) = lower($1) OR lower(asciiname) = $2 THEN 1.0 ELSE 0.7 END AS score
		FROM %s
		WHERE (lower(name) = lower($1) OR lower(asciiname) = $2 OR $1 = ANY(alternatenames))
			AND (cardinality($3::text[]) = 0 OR country_code = ANY($3::text[]))
		ORDER BY score DESC, population DESC
		LIMIT $4`, db.Identifier(p.table).Sanitize())
}

// Search implements Backend. Only the part of the query before the first
// comma is matched against names; "Odense, Denmark" looks up "Odense".
func (p *PostGISBackend) Search(ctx context.Context, query string, hints model.QueryHints, limit int) ([]model.CandidateLocation, error) {
	name := strings.TrimSpace(strings.SplitN(query, ",", 2)[0])
	if name == "" {
		return nil, nil
	}
	countries := make([]string, len(hints.Countries))
	for i, cc := range hints.Countries {
		countries[i] = strings.ToUpper(cc)
	}

	rows, err := p.pool.Query(ctx, p.searchSQL(), name, Fold(name), countries, limit)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: postgis query")
	}
	defer rows.Close()

	var out []model.CandidateLocation
	for rows.Next() {
		var (
			c          model.CandidateLocation
			fcl, fcode string
		)
		if err := rows.Scan(&c.DisplayName, &c.Latitude, &c.Longitude, &fcl, &fcode,
			&c.CountryCode, &c.Admin1, &c.Population, &c.RawScore); err != nil {
			return nil, eris.Wrap(err, "geocode: postgis scan")
		}
		c.FeatureType = geonamesFeatureType(fcl, fcode)
		c.Relevance = c.RawScore
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "geocode: postgis rows")
	}
	return out, nil
}
