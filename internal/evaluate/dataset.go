package evaluate

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geonext/internal/model"
)

// goldRecord accepts both the native format and GeoCorpora-style records.
type goldRecord struct {
	ID        string        `json:"id"`
	Text      string        `json:"text"`
	TweetText string        `json:"tweet_text"`
	Language  string        `json:"language"`
	Mentions  []goldMention `json:"mentions"`
	Entities  []goldEntity  `json:"entities"`
}

// goldMention is a native annotation with byte offsets.
type goldMention struct {
	Start     int      `json:"start"`
	End       int      `json:"end"`
	Surface   string   `json:"surface"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// goldEntity is a GeoCorpora entity with character offsets.
type goldEntity struct {
	Text         string   `json:"text"`
	EntityType   string   `json:"entity_type"`
	Indices      []int    `json:"indices"`
	CharPosition *float64 `json:"char_position"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	Lat          *float64 `json:"lat"`
	Lon          *float64 `json:"lon"`
}

var nanRE = regexp.MustCompile(`:\s*NaN`)

// LoadGold reads gold documents from a JSON array or JSON Lines file.
// Records without text are skipped. NaN values, common in GeoCorpora
// exports, are read as null.
func LoadGold(path string) ([]model.GoldDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "evaluate: read gold %s", path)
	}
	return ParseGold(data)
}

// ParseGold decodes gold documents from data. See LoadGold.
func ParseGold(data []byte) ([]model.GoldDocument, error) {
	data = nanRE.ReplaceAll(data, []byte(": null"))

	var recs []goldRecord
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &recs); err != nil {
			return nil, eris.Wrap(err, "evaluate: parse gold array")
		}
	} else {
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		line := 0
		for sc.Scan() {
			line++
			if len(bytes.TrimSpace(sc.Bytes())) == 0 {
				continue
			}
			var r goldRecord
			if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
				return nil, eris.Wrapf(err, "evaluate: parse gold line %d", line)
			}
			recs = append(recs, r)
		}
		if err := sc.Err(); err != nil {
			return nil, eris.Wrap(err, "evaluate: scan gold")
		}
	}

	docs := make([]model.GoldDocument, 0, len(recs))
	for i, r := range recs {
		text := r.Text
		if text == "" {
			text = r.TweetText
		}
		if text == "" {
			continue
		}
		id := r.ID
		if id == "" {
			id = fmt.Sprintf("doc-%d", i+1)
		}
		doc := model.GoldDocument{Document: model.NewDocument(id, text, r.Language)}
		doc.Mentions = append(doc.Mentions, nativeMentions(text, r.Mentions)...)
		doc.Mentions = append(doc.Mentions, entityMentions(text, r.Entities)...)
		docs = append(docs, doc)
	}
	return docs, nil
}

func coordinate(lat, lon *float64) *model.Coordinate {
	if lat == nil || lon == nil {
		return nil
	}
	c := model.Coordinate{Latitude: *lat, Longitude: *lon}
	if !c.Valid() {
		return nil
	}
	return &c
}

func nativeMentions(text string, ms []goldMention) []model.GoldMention {
	var out []model.GoldMention
	for _, m := range ms {
		span := model.Span{Start: m.Start, End: m.End}
		if !span.Valid(len(text)) {
			continue
		}
		out = append(out, model.GoldMention{
			Span:       span,
			Surface:    text[span.Start:span.End],
			Coordinate: coordinate(m.Latitude, m.Longitude),
		})
	}
	return out
}

var locationTypes = map[string]bool{"": true, "LOC": true, "LOCATION": true, "GPE": true}

// entityMentions converts GeoCorpora character offsets to byte spans.
func entityMentions(text string, ents []goldEntity) []model.GoldMention {
	if len(ents) == 0 {
		return nil
	}
	offsets := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	offsets = append(offsets, len(text))

	var out []model.GoldMention
	for _, e := range ents {
		if !locationTypes[strings.ToUpper(e.EntityType)] {
			continue
		}
		var s, end int
		switch {
		case len(e.Indices) == 2:
			s, end = e.Indices[0], e.Indices[1]
		case e.CharPosition != nil && e.Text != "":
			s = int(*e.CharPosition)
			end = s + utf8.RuneCountInString(e.Text)
		default:
			continue
		}
		if s < 0 || end <= s || end >= len(offsets) {
			continue
		}
		span := model.Span{Start: offsets[s], End: offsets[end]}
		lat, lon := e.Latitude, e.Longitude
		if lat == nil {
			lat = e.Lat
		}
		if lon == nil {
			lon = e.Lon
		}
		out = append(out, model.GoldMention{
			Span:       span,
			Surface:    text[span.Start:span.End],
			Coordinate: coordinate(lat, lon),
		})
	}
	return out
}
