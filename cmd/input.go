package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geonext/internal/model"
)

// readDocuments reads documents from a JSONL file or a JSON array, or from
// stdin when path is "-". Each record needs "text"; "id" defaults to
// doc-<line> and "language" is optional.
func readDocuments(path string) ([]model.Document, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "read documents %s", path)
	}
	return parseDocuments(data)
}

func parseDocuments(data []byte) ([]model.Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var docs []model.Document
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &docs); err != nil {
			return nil, eris.Wrap(err, "parse document array")
		}
	} else {
		sc := bufio.NewScanner(bytes.NewReader(trimmed))
		sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		line := 0
		for sc.Scan() {
			line++
			raw := bytes.TrimSpace(sc.Bytes())
			if len(raw) == 0 {
				continue
			}
			var d model.Document
			if err := json.Unmarshal(raw, &d); err != nil {
				return nil, eris.Wrapf(err, "parse document line %d", line)
			}
			docs = append(docs, d)
		}
		if err := sc.Err(); err != nil {
			return nil, eris.Wrap(err, "scan documents")
		}
	}

	seen := make(map[string]bool, len(docs))
	for i := range docs {
		if docs[i].ID == "" {
			docs[i].ID = docIDFor(i)
		}
		if seen[docs[i].ID] {
			return nil, eris.Errorf("duplicate document id %q", docs[i].ID)
		}
		seen[docs[i].ID] = true
	}
	return docs, nil
}

func docIDFor(i int) string { return fmt.Sprintf("doc-%d", i+1) }

// hintsFromFlags builds query hints from --country and --language flags.
func hintsFromFlags(countries []string, language string) model.QueryHints {
	h := model.QueryHints{Language: language}
	for _, c := range countries {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			h.Countries = append(h.Countries, c)
		}
	}
	return h
}

// writeJSON pretty-prints v.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
