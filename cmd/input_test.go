package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDocuments_JSONL(t *testing.T) {
	data := []byte(`{"id":"a","text":"Snow in Oslo.","language":"en"}

{"text":"Rain over Bergen."}
`)
	docs, err := parseDocuments(data)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "en", docs[0].Language)
	assert.Equal(t, "doc-2", docs[1].ID)
	assert.Equal(t, "Rain over Bergen.", docs[1].Text)
}

func TestParseDocuments_Array(t *testing.T) {
	docs, err := parseDocuments([]byte(` [{"id":"x","text":"Odense"},{"text":"Aarhus"}]`))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "x", docs[0].ID)
	assert.Equal(t, "doc-2", docs[1].ID)
}

func TestParseDocuments_Errors(t *testing.T) {
	_, err := parseDocuments([]byte("{\"id\":\"a\",\"text\":\"x\"}\n{broken"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	_, err = parseDocuments([]byte("{\"id\":\"a\",\"text\":\"x\"}\n{\"id\":\"a\",\"text\":\"y\"}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	docs, err := parseDocuments([]byte("  \n"))
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestReadDocuments_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"a","text":"Snow in Oslo."}`), 0o644))

	docs, err := readDocuments(path)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	_, err = readDocuments(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
}

func TestHintsFromFlags(t *testing.T) {
	h := hintsFromFlags([]string{" dk", "", "no"}, "da")
	assert.Equal(t, []string{"DK", "NO"}, h.Countries)
	assert.Equal(t, "da", h.Language)
	assert.True(t, h.Restrictive())

	assert.False(t, hintsFromFlags(nil, "").Restrictive())
}
