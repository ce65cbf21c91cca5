package store

import (
	"github.com/sells-group/geonext/internal/extract"
	"github.com/sells-group/geonext/pkg/geocode"
)

var (
	_ Store         = (*SQLiteStore)(nil)
	_ Store         = (*PostgresStore)(nil)
	_ extract.Cache = (Store)(nil)
	_ geocode.Cache = (Store)(nil)
)
