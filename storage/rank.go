package storage

import (
	"cmp"
	"slices"

	"github.com/poiesic/transcriptlens/core"
)

// Ranker accumulates search candidates and produces the final ordering.
// Both backends scan their records through a Ranker so that filtering,
// the similarity floor and tie-breaking behave identically.
type Ranker struct {
	query         []float32
	filter        Filter
	minSimilarity float32
	results       []*core.RetrievedRecord
}

// NewRanker prepares a ranking of candidates against query.
func NewRanker(query []float32, filter Filter, minSimilarity float32) *Ranker {
	return &Ranker{query: query, filter: filter, minSimilarity: minSimilarity}
}

// Offer considers one stored record. Records failing the filter are dropped
// before their similarity is computed.
func (r *Ranker) Offer(record *core.EmbeddedRecord) {
	if !r.filter.Matches(record.Metadata) {
		return
	}
	similarity := core.CosineSimilarity(r.query, record.Vector)
	if similarity < r.minSimilarity {
		return
	}
	r.results = append(r.results, &core.RetrievedRecord{
		EmbeddedRecord: *record,
		Similarity:     similarity,
	})
}

// Top returns at most k results by descending similarity, most recent first
// among equals.
func (r *Ranker) Top(k int) []*core.RetrievedRecord {
	slices.SortFunc(r.results, func(a, b *core.RetrievedRecord) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return cmp.Compare(b.Seq, a.Seq)
	})
	if len(r.results) > k {
		r.results = r.results[:k]
	}
	if r.results == nil {
		return []*core.RetrievedRecord{}
	}
	return r.results
}
