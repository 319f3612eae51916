package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/poiesic/transcriptlens/core"
)

// Searcher is the read side of the vector store used by the query pipeline.
type Searcher interface {
	// Search returns at most k records whose metadata matches filter, ranked
	// by descending cosine similarity to vector. Records below the store's
	// minimum similarity are never returned. Ties go to the most recently
	// written record. An empty store yields an empty slice.
	Search(ctx context.Context, vector []float32, k int, filter Filter) ([]*core.RetrievedRecord, error)
}

// RecordRepository persists embedded transcript chunks.
// Implementations must be thread-safe and support concurrent access.
type RecordRepository interface {
	Searcher

	// Upsert writes records in batches of at most the configured batch size,
	// one transaction per batch. Records are keyed by ID, so writing the same
	// record again replaces it. Failed batches are reported in the result and
	// do not roll back batches that were already committed; in that case the
	// returned error wraps ErrPartialWrite. Vectors whose dimensionality
	// differs from the store's fail the whole call before anything is written.
	Upsert(ctx context.Context, records ...*core.EmbeddedRecord) (*UpsertResult, error)

	// GetRecord retrieves a single record by ID.
	// Returns ErrNotFound if the record doesn't exist.
	GetRecord(ctx context.Context, id uuid.UUID) (*core.EmbeddedRecord, error)

	// ForEach calls fn with batches of at most batchSize records in write
	// order. Iteration stops at the first error returned by fn.
	ForEach(ctx context.Context, batchSize int, fn func([]*core.EmbeddedRecord) error) error

	// DeleteSource removes every record whose source_id metadata equals
	// sourceID and returns how many were removed.
	DeleteSource(ctx context.Context, sourceID string) (int, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Dimensions returns the vector length fixed by the first write, or 0 for
	// a store that has never been written.
	Dimensions(ctx context.Context) (int, error)

	// Close closes the storage backend and releases resources.
	Close() error
}

// UpsertResult reports the outcome of an Upsert call.
type UpsertResult struct {
	Written []uuid.UUID     // IDs of records in committed batches
	Failed  []RecordFailure // Records of batches that failed to commit
	Batches int             // Number of committed batches
}

// RecordFailure names a record that could not be written.
type RecordFailure struct {
	ID  uuid.UUID
	Err error
}
