package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/transcriptlens/ai/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCorpus(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func TestLoadDirectory(t *testing.T) {
	dir := writeCorpus(t, map[string]string{
		"b.txt":    "  Tweede gesprek.\n",
		"a.txt":    "Eerste gesprek.",
		"leeg.txt": "   \n\t",
		"notes.md": "geen transcript",
		"c.txt":    "Derde gesprek.",
	})

	corpus, err := LoadDirectory(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, corpus.Documents, 3)
	assert.Equal(t, "a.txt", corpus.Documents[0].Filename)
	assert.Equal(t, "b.txt", corpus.Documents[1].Filename)
	assert.Equal(t, "c.txt", corpus.Documents[2].Filename)
	assert.Equal(t, "Tweede gesprek.", corpus.Documents[1].Content)
	assert.Equal(t, filepath.Join(dir, "a.txt"), corpus.Documents[0].Source)

	require.Len(t, corpus.Skipped, 1)
	assert.Equal(t, "leeg.txt", corpus.Skipped[0].Filename)
	assert.Equal(t, "empty", corpus.Skipped[0].Reason)
}

func TestLoadDirectory_Errors(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		_, err := LoadDirectory(context.Background(), filepath.Join(t.TempDir(), "missing"))
		assert.ErrorIs(t, err, ErrCorpusNotFound)
	})

	t.Run("file instead of directory", func(t *testing.T) {
		dir := writeCorpus(t, map[string]string{"a.txt": "x"})
		_, err := LoadDirectory(context.Background(), filepath.Join(dir, "a.txt"))
		assert.ErrorIs(t, err, ErrCorpusNotFound)
	})

	t.Run("no transcripts", func(t *testing.T) {
		dir := writeCorpus(t, map[string]string{"readme.md": "x"})
		_, err := LoadDirectory(context.Background(), dir)
		assert.ErrorIs(t, err, ErrNoTranscripts)
	})
}

func TestIngestDirectory(t *testing.T) {
	dir := writeCorpus(t, map[string]string{
		"gesprek1.txt": "Klant belt over late levering.",
		"gesprek2.txt": "Klant klaagt over een beschadigd pakket.",
		"leeg.txt":     "",
	})
	store := newTestStore(t)
	p := newTestPipeline(t, store, mock.NewMockEmbedder())

	summary, err := p.IngestDirectory(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalDocuments)
	assert.Equal(t, 1, summary.SkippedDocuments)
	assert.Equal(t, 2, summary.TotalChunks)
	assert.Equal(t, 2, summary.RecordsWritten)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestIngestDirectory_Missing(t *testing.T) {
	store := newTestStore(t)
	p := newTestPipeline(t, store, mock.NewMockEmbedder())

	summary, err := p.IngestDirectory(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, ErrCorpusNotFound)
	assert.Nil(t, summary)
}
