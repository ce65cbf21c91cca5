// Package mcptool exposes the geocoding pipeline as MCP tools.
package mcptool

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geonext/internal/extract"
	"github.com/sells-group/geonext/internal/model"
	"github.com/sells-group/geonext/internal/pipeline"
)

// MetadataGeocode describes the geocode tool.
var MetadataGeocode = &mcp.Tool{
	Name: "geocode",
	Description: "Find every place mentioned in a text and resolve it to coordinates. " +
		"Returns the mentions in document order with latitude, longitude and a confidence in [0,1]. " +
		"Mentions that could not be resolved have no coordinates and confidence 0.",
}

// InputGeocode is the input of the geocode tool.
type InputGeocode struct {
	Text     string `json:"text" jsonschema:"the text to geocode"`
	Language string `json:"language,omitempty" jsonschema:"optional ISO 639-1 language of the text"`
	Country  string `json:"country,omitempty" jsonschema:"optional ISO 3166-1 alpha-2 code of the country to prefer; places elsewhere are still returned"`
}

// GeocodedMention is one mention in a geocode answer.
type GeocodedMention struct {
	Surface    string   `json:"surface"`
	Start      int      `json:"start"`
	End        int      `json:"end"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	Confidence float64  `json:"confidence"`
	Precision  int      `json:"precision,omitempty"`
	Name       string   `json:"name,omitempty"`
	Country    string   `json:"country_code,omitempty"`
}

// OutputGeocode is the output of the geocode tool.
type OutputGeocode struct {
	Locations []GeocodedMention `json:"locations"`
	Faults    []string          `json:"faults"`
}

// MetadataGeocodeLocation describes the geocode_location tool.
var MetadataGeocodeLocation = &mcp.Tool{
	Name: extract.ToolName,
	Description: "Look up a single place name in the configured gazetteers, highest priority first. " +
		"Returns candidate locations ordered by relevance.",
}

// InputGeocodeLocation is the input of the geocode_location tool.
type InputGeocodeLocation struct {
	Query        string   `json:"query" jsonschema:"place name, optionally with country or state"`
	CountryCodes []string `json:"country_codes,omitempty" jsonschema:"optional ISO 3166-1 alpha-2 codes restricting the search"`
}

// OutputGeocodeLocation is the output of the geocode_location tool.
type OutputGeocodeLocation struct {
	Candidates []extract.ToolCandidate `json:"candidates"`
	Gazetteer  string                  `json:"gazetteer,omitempty"`
	Faults     []string                `json:"faults"`
}

// Tools holds the handlers over one pipeline.
type Tools struct {
	pipe *pipeline.Pipeline
}

// NewTools creates the tool handlers.
func NewTools(p *pipeline.Pipeline) *Tools {
	return &Tools{pipe: p}
}

// Geocode extracts and resolves every toponym of the input text.
func (t *Tools) Geocode(ctx context.Context, _ *mcp.CallToolRequest, in InputGeocode) (*mcp.CallToolResult, OutputGeocode, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, OutputGeocode{}, eris.New("text is required")
	}
	doc := model.NewDocument("mcp-"+uuid.NewString(), in.Text, in.Language)
	hints := model.QueryHints{CountryBias: strings.ToUpper(strings.TrimSpace(in.Country)), Language: in.Language}

	result, err := t.pipe.ProcessDocument(ctx, doc, hints)
	if err != nil {
		zap.L().Warn("mcp: geocode failed", zap.String("document", doc.ID), zap.Error(err))
		return nil, OutputGeocode{}, err
	}
	return nil, geocodeOutput(result), nil
}

func geocodeOutput(result *model.DocumentResult) OutputGeocode {
	out := OutputGeocode{
		Locations: make([]GeocodedMention, 0, len(result.Locations)),
		Faults:    faultStrings(result.Faults),
	}
	for _, loc := range result.Locations {
		m := GeocodedMention{
			Surface:    loc.Surface,
			Start:      loc.Span.Start,
			End:        loc.Span.End,
			Confidence: loc.Confidence,
			Precision:  loc.Precision,
		}
		if loc.Status == model.StatusResolved && loc.Coordinate != nil {
			lat, lon := loc.Coordinate.Latitude, loc.Coordinate.Longitude
			m.Latitude, m.Longitude = &lat, &lon
		}
		if loc.Chosen != nil {
			m.Name = loc.Chosen.DisplayName
			m.Country = loc.Chosen.CountryCode
		}
		out.Locations = append(out.Locations, m)
	}
	return out
}

// GeocodeLocation runs a raw gazetteer lookup.
func (t *Tools) GeocodeLocation(ctx context.Context, _ *mcp.CallToolRequest, in InputGeocodeLocation) (*mcp.CallToolResult, OutputGeocodeLocation, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, OutputGeocodeLocation{}, eris.New("query is required")
	}
	res, faults := t.pipe.Resolver().Gazetteers().Lookup(ctx, query, model.QueryHints{Countries: upper(in.CountryCodes)})
	return nil, OutputGeocodeLocation{
		Candidates: extract.ToolCandidates(res.Candidates),
		Gazetteer:  res.Gazetteer,
		Faults:     faultStrings(faults),
	}, nil
}

func faultStrings(faults []model.Fault) []string {
	out := make([]string, len(faults))
	for i, f := range faults {
		out[i] = f.String()
	}
	return out
}

func upper(codes []string) []string {
	if len(codes) == 0 {
		return nil
	}
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = strings.ToUpper(strings.TrimSpace(c))
	}
	return out
}
