package reembed

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/poiesic/transcriptlens/ai"
	"github.com/poiesic/transcriptlens/core"
	"github.com/poiesic/transcriptlens/retry"
	"github.com/poiesic/transcriptlens/storage"
)

// BatchProcessor embeds batches of stored records again and writes the
// results to the target store.
type BatchProcessor struct {
	target         storage.RecordRepository
	embedder       ai.Embedder
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewBatchProcessor creates a new batch processor.
// maxRetries: maximum number of retry attempts for embedding API calls
// retryBaseDelay: base delay for exponential backoff
func NewBatchProcessor(target storage.RecordRepository, embedder ai.Embedder, maxRetries int, retryBaseDelay time.Duration) *BatchProcessor {
	return &BatchProcessor{
		target:         target,
		embedder:       embedder,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
	}
}

// Process embeds the content of records and upserts copies carrying the new
// vectors into the target store. IDs and metadata are preserved. Vectors are
// normalized before they are written. Returns the number of records written.
func (bp *BatchProcessor) Process(ctx context.Context, records []*core.EmbeddedRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	texts := make([]string, len(records))
	for i, record := range records {
		texts[i] = record.Content
	}

	var embeddings [][]float32
	err := retry.WithBackoff(ctx, func() error {
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	}, bp.maxRetries, bp.retryBaseDelay)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || core.KindOf(err) != core.KindInternal {
			return 0, err
		}
		return 0, fmt.Errorf("%w: failed after %d attempts: %w", core.ErrEmbedding, bp.maxRetries, err)
	}

	if len(embeddings) != len(records) {
		return 0, fmt.Errorf("%w: expected %d, got %d", ErrEmbeddingCountMismatch, len(records), len(embeddings))
	}

	rewritten := make([]*core.EmbeddedRecord, len(records))
	for i, record := range records {
		rewritten[i] = &core.EmbeddedRecord{
			ID:       record.ID,
			Content:  record.Content,
			Vector:   core.NormalizeVector(embeddings[i]),
			Metadata: maps.Clone(record.Metadata),
		}
	}

	result, err := bp.target.Upsert(ctx, rewritten...)
	if err != nil {
		return 0, fmt.Errorf("failed to write records: %w", err)
	}
	return len(result.Written), nil
}
