package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// Document is one transcript read from the corpus.
type Document struct {
	Filename string // Base name, used as the source ID
	Source   string // Path the transcript was read from
	Content  string // Trimmed file contents
}

// SkippedFile records a corpus file that was not ingested.
type SkippedFile struct {
	Filename string
	Reason   string
	Err      error
}

// Corpus is the result of loading a transcript directory.
type Corpus struct {
	Documents []Document    // Non-empty transcripts sorted by filename
	Skipped   []SkippedFile // Empty or unreadable files
}

// LoadDirectory reads every .txt file in dir on a pool sized to the CPU
// count. See Pipeline.IngestDirectory for the full ingestion run.
func LoadDirectory(ctx context.Context, dir string) (*Corpus, error) {
	pool, err := ants.NewPool(max(runtime.NumCPU(), 1))
	if err != nil {
		return nil, err
	}
	defer pool.Release()
	return loadDirectory(ctx, dir, pool, slog.Default().With("component", "ingestion"))
}

func loadDirectory(ctx context.Context, dir string, pool *ants.Pool, logger *slog.Logger) (*Corpus, error) {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrCorpusNotFound, dir)
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrCorpusNotFound, dir)
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoTranscripts, dir)
	}
	slices.Sort(paths)
	logger.Info("found transcripts", "dir", dir, "files", len(paths))

	type loaded struct {
		doc     Document
		skipped *SkippedFile
	}
	results := make([]loaded, len(paths))

	var wg sync.WaitGroup
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return nil, err
		}
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			name := filepath.Base(path)
			data, err := os.ReadFile(path)
			if err != nil {
				results[i].skipped = &SkippedFile{Filename: name, Reason: "unreadable", Err: err}
				return
			}
			content := strings.TrimSpace(string(data))
			if content == "" {
				results[i].skipped = &SkippedFile{Filename: name, Reason: "empty"}
				return
			}
			results[i].doc = Document{Filename: name, Source: path, Content: content}
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return nil, err
		}
	}
	wg.Wait()

	corpus := &Corpus{}
	for _, r := range results {
		if r.skipped != nil {
			logger.Warn("skipping transcript", "file", r.skipped.Filename, "reason", r.skipped.Reason, "error", r.skipped.Err)
			corpus.Skipped = append(corpus.Skipped, *r.skipped)
			continue
		}
		logger.Debug("loaded transcript", "file", r.doc.Filename, "chars", len([]rune(r.doc.Content)))
		corpus.Documents = append(corpus.Documents, r.doc)
	}
	return corpus, nil
}
