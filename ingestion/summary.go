package ingestion

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// ChunkFailure records a chunk that could not be embedded.
type ChunkFailure struct {
	Filename   string
	SourceID   string
	ChunkIndex int
	Err        error
}

// Summary reports the outcome of an ingestion run.
type Summary struct {
	TotalDocuments   int
	SkippedDocuments int
	TotalChunks      int
	ChunksEmbedded   int
	ChunksFailed     int
	BatchesWritten   int
	RecordsWritten   int
	RecordsFailed    int
	Failures         []ChunkFailure
	Elapsed          time.Duration
}

// Print writes a human readable report of the run to w.
func (s *Summary) Print(w io.Writer) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "Ingestion summary")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "  Transcripts processed: %d\n", s.TotalDocuments)
	if s.SkippedDocuments > 0 {
		fmt.Fprintf(w, "  Transcripts skipped:   %d\n", s.SkippedDocuments)
	}
	fmt.Fprintf(w, "  Chunks created:        %d\n", s.TotalChunks)
	fmt.Fprintf(w, "  Embeddings generated:  %d\n", s.ChunksEmbedded)
	fmt.Fprintf(w, "  Records written:       %d (%d batches)\n", s.RecordsWritten, s.BatchesWritten)
	if s.ChunksFailed > 0 {
		fmt.Fprintf(w, "  Chunks failed:         %d\n", s.ChunksFailed)
	}
	if s.RecordsFailed > 0 {
		fmt.Fprintf(w, "  Records failed:        %d\n", s.RecordsFailed)
	}
	fmt.Fprintf(w, "  Elapsed:               %v\n", s.Elapsed.Round(time.Millisecond))

	if len(s.Failures) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Failed chunks:")
		for _, f := range s.Failures {
			fmt.Fprintf(w, "  - %s #%d: %v\n", f.Filename, f.ChunkIndex, f.Err)
		}
	}
	fmt.Fprintln(w, rule)
}

// Succeeded reports whether every chunk was embedded and written.
func (s *Summary) Succeeded() bool {
	return s.ChunksFailed == 0 && s.RecordsFailed == 0
}
