package main

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/poiesic/transcriptlens/ingestion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscripts(t *testing.T) {
	docs := slices.Collect(transcripts(complaints, 5, 3, 42))
	require.Len(t, docs, 5)
	assert.Equal(t, "gesprek_001.txt", docs[0].Filename)
	assert.Equal(t, "gesprek_005.txt", docs[4].Filename)

	for _, doc := range docs {
		assert.Equal(t, 4, strings.Count(doc.Content, "Klant: "), "three complaints plus the closing line")
		assert.True(t, strings.HasPrefix(doc.Content, "Medewerker: Goedemiddag"))
	}

	again := slices.Collect(transcripts(complaints, 5, 3, 42))
	assert.Equal(t, docs, again, "same seed gives the same corpus")
}

func TestTranscripts_StopsEarly(t *testing.T) {
	var seen int
	for range transcripts(complaints, 10, 1, 1) {
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)
}

func TestLinesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lines.txt")
	require.NoError(t, os.WriteFile(path, []byte("Te laat.\n\n  Kapot.  \n"), 0o644))

	lines, err := linesFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Te laat.", "Kapot."}, lines)

	_, err = linesFromFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestWriteCorpus(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "corpus")
	docs := []ingestion.Document{
		{Filename: "gesprek_001.txt", Content: "Klant: Te laat."},
		{Filename: "gesprek_002.txt", Content: "Klant: Kapot."},
	}
	require.NoError(t, writeCorpus(dir, docs))

	loaded, err := ingestion.LoadDirectory(t.Context(), dir)
	require.NoError(t, err)
	require.Len(t, loaded.Documents, 2)
	assert.Equal(t, "Klant: Te laat.", loaded.Documents[0].Content)
}
