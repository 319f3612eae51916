// Package chunker splits transcripts into overlapping character windows.
package chunker

import (
	"iter"
	"slices"

	"github.com/poiesic/transcriptlens/core"
)

// Chunker splits documents into windows of Size characters where each window
// after the first repeats the last Overlap characters of its predecessor.
type Chunker struct {
	size    int
	overlap int
}

// New creates a chunker, rejecting parameters that would never advance.
func New(size, overlap int) (*Chunker, error) {
	if err := core.ValidateChunkParams(size, overlap); err != nil {
		return nil, err
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the window length in characters.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the number of characters shared by consecutive windows.
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns the chunks of document lazily. The sequence may be ranged
// over any number of times and always yields the same chunks. A document no
// longer than the window yields exactly one chunk.
func (c *Chunker) Split(document, sourceID string) iter.Seq[core.Chunk] {
	runes := []rune(document)
	step := c.size - c.overlap

	return func(yield func(core.Chunk) bool) {
		index := 0
		for start := 0; ; start += step {
			end := min(start+c.size, len(runes))
			chunk := core.Chunk{
				Content:  string(runes[start:end]),
				SourceID: sourceID,
				Index:    index,
			}
			if !yield(chunk) {
				return
			}
			if end == len(runes) {
				return
			}
			index++
		}
	}
}

// Collect returns all chunks of document as a slice.
func (c *Chunker) Collect(document, sourceID string) []core.Chunk {
	return slices.Collect(c.Split(document, sourceID))
}

// Split is a convenience wrapper that validates the parameters and returns
// the lazy chunk sequence.
func Split(document, sourceID string, size, overlap int) (iter.Seq[core.Chunk], error) {
	c, err := New(size, overlap)
	if err != nil {
		return nil, err
	}
	return c.Split(document, sourceID), nil
}
