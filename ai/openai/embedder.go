package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/transcriptlens/ai"
	"github.com/poiesic/transcriptlens/core"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder implements ai.Embedder using OpenAI-compatible embedding APIs.
type Embedder struct {
	embedder   embeddings.Embedder
	dimensions int
	logger     *slog.Logger
}

// newEmbedder is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newEmbedder(config *ai.Config) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	opts := []openai.Option{
		openai.WithBaseURL(config.EmbeddingHost),
		openai.WithToken(config.Token()),
		openai.WithEmbeddingModel(config.EmbeddingModel),
	}
	if config.Dimensions > 0 {
		opts = append(opts, openai.WithEmbeddingDimensions(config.Dimensions))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: creating embedding client: %w", core.ErrConfiguration, err)
	}

	return newEmbedderFromClient(client, config.Dimensions, config.EmbeddingBatchSize)
}

// newEmbedderFromClient wraps any langchaingo embedding client.
func newEmbedderFromClient(client embeddings.EmbedderClient, dimensions, batchSize int) (*Embedder, error) {
	embedder, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(batchSize),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrConfiguration, err)
	}

	return &Embedder{
		embedder:   embedder,
		dimensions: dimensions,
		logger:     slog.Default().With("component", "openai-embedder"),
	}, nil
}

// NewEmbedder creates a new embedder using the provided configuration.
// No network call is made until the first embedding is requested.
//
// Returns ai.Embedder interface to enforce abstraction.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	return newEmbedder(config)
}

// EmbedText generates a vector embedding for a single text string.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	e.logger.Debug("generating embedding for single text", "length", len(text))

	vectors, err := e.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		e.logger.Error("failed to generate embedding", "err", err)
		return nil, fmt.Errorf("%w: %w", core.ErrEmbedding, err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: service returned no vector", core.ErrEmbedding)
	}
	if err := core.ValidateDimensions(vectors[0], e.dimensions); err != nil {
		return nil, e.dimensionError(err)
	}
	return vectors[0], nil
}

// EmbedTexts generates vector embeddings for multiple text strings in a batch.
// If the batch request fails, every text is retried on its own so that one
// bad input does not take the others down. Texts that still fail are
// reported through a *core.BatchEmbeddingError alongside the vectors that
// succeeded.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	e.logger.Debug("generating embeddings for texts", "count", len(texts))

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err == nil && len(vectors) == len(texts) {
		for _, v := range vectors {
			if err := core.ValidateDimensions(v, e.dimensions); err != nil {
				return nil, e.dimensionError(err)
			}
		}
		return vectors, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrEmbedding, ctxErr)
	}
	if err == nil {
		err = fmt.Errorf("expected %d vectors, got %d", len(texts), len(vectors))
	}
	e.logger.Warn("batch embedding failed, embedding texts individually", "count", len(texts), "err", err)

	return e.embedIndividually(ctx, texts)
}

func (e *Embedder) embedIndividually(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	var failures []*core.EmbeddingError
	for i, text := range texts {
		v, err := e.EmbedText(ctx, text)
		if errors.Is(err, core.ErrConfiguration) {
			return nil, err
		}
		if err != nil {
			failures = append(failures, &core.EmbeddingError{Index: i, Err: err})
			continue
		}
		vectors[i] = v
	}
	if len(failures) > 0 {
		return vectors, &core.BatchEmbeddingError{Failures: failures}
	}
	return vectors, nil
}

func (e *Embedder) dimensionError(err error) error {
	if errors.Is(err, core.ErrEmptyVector) {
		return fmt.Errorf("%w: %w", core.ErrEmbedding, err)
	}
	e.logger.Error("embedding model returned unexpected dimensionality", "expected", e.dimensions, "err", err)
	return err
}
