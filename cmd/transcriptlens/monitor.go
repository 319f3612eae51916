package main

import (
	"fmt"
	"io"
	"time"

	"github.com/poiesic/transcriptlens/core"
	"github.com/poiesic/transcriptlens/query"
)

// verboseMonitor reports each stage of an analysis with its latency.
type verboseMonitor struct {
	w     io.Writer
	start time.Time
	last  time.Time
}

func newVerboseMonitor(w io.Writer) *verboseMonitor {
	return &verboseMonitor{w: w}
}

func (m *verboseMonitor) lap() time.Duration {
	now := time.Now()
	d := now.Sub(m.last)
	m.last = now
	return d
}

func (m *verboseMonitor) Start(question string) {
	m.start = time.Now()
	m.last = m.start
	fmt.Fprintf(m.w, "question: %q\n", question)
}

func (m *verboseMonitor) AfterEmbedding(vector []float32) {
	fmt.Fprintf(m.w, "embedded question: %d dimensions (%v)\n", len(vector), m.lap().Round(time.Millisecond))
}

func (m *verboseMonitor) AfterRetrieval(records []*core.RetrievedRecord) {
	fmt.Fprintf(m.w, "retrieved %d chunks (%v)\n", len(records), m.lap().Round(time.Millisecond))
	for i, record := range records {
		name := record.Metadata.String(core.MetaFilename)
		if name == "" {
			name = record.Metadata.String(core.MetaSourceID)
		}
		index, _ := record.Metadata.Int(core.MetaChunkIndex)
		fmt.Fprintf(m.w, "  %d. %s #%d  similarity %.3f\n", i+1, name, index, record.Similarity)
	}
}

func (m *verboseMonitor) AfterAttempt(attempt int, failure *query.DecodeFailure) {
	if failure == nil {
		fmt.Fprintf(m.w, "generation attempt %d accepted (%v)\n", attempt, m.lap().Round(time.Millisecond))
		return
	}
	fmt.Fprintf(m.w, "generation attempt %d rejected: %v (%v)\n", attempt, failure.Err, m.lap().Round(time.Millisecond))
}

func (m *verboseMonitor) Finish(result *core.AnalysisResult) {
	fmt.Fprintf(m.w, "found %d complaints in %v\n\n", len(result.Complaints), time.Since(m.start).Round(time.Millisecond))
}
