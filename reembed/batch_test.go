package reembed

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/transcriptlens/core"
	"github.com/poiesic/transcriptlens/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockEmbedder for testing
type mockEmbedder struct {
	embedTextFunc  func(ctx context.Context, text string) ([]float32, error)
	embedTextsFunc func(ctx context.Context, texts []string) ([][]float32, error)
}

func (m *mockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if m.embedTextFunc != nil {
		return m.embedTextFunc(ctx, text)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *mockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if m.embedTextsFunc != nil {
		return m.embedTextsFunc(ctx, texts)
	}
	// Default: return unnormalized vectors for each text
	result := make([][]float32, len(texts))
	for i := range texts {
		result[i] = []float32{1.0, 2.0, 2.0} // magnitude = 3.0
	}
	return result, nil
}

func newStore(t *testing.T) *badger.RecordRepository {
	t.Helper()
	store, err := badger.NewMemoryRepository()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// seedRecords writes n records with two-dimensional vectors into store.
func seedRecords(t *testing.T, store *badger.RecordRepository, n int) []*core.EmbeddedRecord {
	t.Helper()
	records := make([]*core.EmbeddedRecord, n)
	for i := range n {
		chunk := core.Chunk{Content: fmt.Sprintf("gesprek %d", i), SourceID: "gesprek.txt", Index: i}
		records[i] = core.NewEmbeddedRecord(chunk, []float32{1, 0}, core.Metadata{core.MetaFilename: "gesprek.txt"})
	}
	_, err := store.Upsert(context.Background(), records...)
	require.NoError(t, err)
	return records
}

func TestBatchProcessor_Process(t *testing.T) {
	source := newStore(t)
	target := newStore(t)
	ctx := context.Background()

	records := seedRecords(t, source, 3)

	var seen []string
	embedder := &mockEmbedder{
		embedTextsFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			seen = append(seen, texts...)
			result := make([][]float32, len(texts))
			for i := range texts {
				result[i] = []float32{0, 0, 2}
			}
			return result, nil
		},
	}
	processor := NewBatchProcessor(target, embedder, 3, 10*time.Millisecond)

	written, err := processor.Process(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 3, written)
	assert.Equal(t, []string{"gesprek 0", "gesprek 1", "gesprek 2"}, seen)

	dims, err := target.Dimensions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, dims)

	for _, record := range records {
		copied, err := target.GetRecord(ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, record.Content, copied.Content)
		assert.Equal(t, []float32{0, 0, 1}, copied.Vector)
		assert.Equal(t, "gesprek.txt", copied.Metadata.String(core.MetaFilename))
		assert.Equal(t, record.Metadata.String(core.MetaContentHash), copied.Metadata.String(core.MetaContentHash))
	}

	// The source keeps its original vectors
	original, err := source.GetRecord(ctx, records[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, original.Vector)
}

func TestBatchProcessor_EmptyBatch(t *testing.T) {
	target := newStore(t)

	embedder := &mockEmbedder{}
	processor := NewBatchProcessor(target, embedder, 3, 10*time.Millisecond)

	written, err := processor.Process(context.Background(), []*core.EmbeddedRecord{})
	require.NoError(t, err, "empty batch should not error")
	assert.Zero(t, written)
}

func TestBatchProcessor_EmbeddingError(t *testing.T) {
	source := newStore(t)
	target := newStore(t)
	records := seedRecords(t, source, 1)

	expectedErr := errors.New("embedding error")
	embedder := &mockEmbedder{
		embedTextsFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			return nil, expectedErr
		},
	}
	processor := NewBatchProcessor(target, embedder, 3, 10*time.Millisecond)

	_, err := processor.Process(context.Background(), records)
	require.Error(t, err)
	assert.ErrorIs(t, err, expectedErr)
	assert.ErrorIs(t, err, core.ErrEmbedding)

	count, err := target.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestBatchProcessor_ConfigurationErrorNotRetried(t *testing.T) {
	source := newStore(t)
	target := newStore(t)
	records := seedRecords(t, source, 1)

	attempts := 0
	embedder := &mockEmbedder{
		embedTextsFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			attempts++
			return nil, fmt.Errorf("%w: missing api token", core.ErrConfiguration)
		},
	}
	processor := NewBatchProcessor(target, embedder, 3, 10*time.Millisecond)

	_, err := processor.Process(context.Background(), records)
	assert.ErrorIs(t, err, core.ErrConfiguration)
	assert.Equal(t, 1, attempts)
}

func TestBatchProcessor_Retry(t *testing.T) {
	source := newStore(t)
	target := newStore(t)
	records := seedRecords(t, source, 1)

	attempts := 0
	embedder := &mockEmbedder{
		embedTextsFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			attempts++
			if attempts < 2 {
				return nil, errors.New("temporary error")
			}
			// Success on second attempt
			result := make([][]float32, len(texts))
			for i := range texts {
				result[i] = []float32{1.0, 0.0, 0.0}
			}
			return result, nil
		},
	}
	processor := NewBatchProcessor(target, embedder, 3, 10*time.Millisecond)

	written, err := processor.Process(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 1, written)
	assert.Equal(t, 2, attempts, "should retry on failure")

	copied, err := target.GetRecord(context.Background(), records[0].ID)
	require.NoError(t, err)
	require.NotEmpty(t, copied.Vector)
}

func TestBatchProcessor_CountMismatch(t *testing.T) {
	source := newStore(t)
	target := newStore(t)
	records := seedRecords(t, source, 2)

	embedder := &mockEmbedder{
		embedTextsFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			return [][]float32{{1, 0, 0}}, nil
		},
	}
	processor := NewBatchProcessor(target, embedder, 1, 10*time.Millisecond)

	_, err := processor.Process(context.Background(), records)
	assert.ErrorIs(t, err, ErrEmbeddingCountMismatch)
}

func TestBatchProcessor_ContextCancellation(t *testing.T) {
	source := newStore(t)
	target := newStore(t)
	records := seedRecords(t, source, 1)

	ctx, cancel := context.WithCancel(context.Background())
	embedder := &mockEmbedder{
		embedTextsFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			cancel() // Cancel during embedding
			return nil, errors.New("error")
		},
	}
	processor := NewBatchProcessor(target, embedder, 3, 10*time.Millisecond)

	_, err := processor.Process(ctx, records)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBatchProcessor_VectorNormalization(t *testing.T) {
	source := newStore(t)
	target := newStore(t)
	records := seedRecords(t, source, 1)

	// Return a known unnormalized vector
	embedder := &mockEmbedder{
		embedTextsFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			// Vector (3, 4) has magnitude 5
			return [][]float32{{3.0, 4.0}}, nil
		},
	}
	processor := NewBatchProcessor(target, embedder, 3, 10*time.Millisecond)

	_, err := processor.Process(context.Background(), records)
	require.NoError(t, err)

	copied, err := target.GetRecord(context.Background(), records[0].ID)
	require.NoError(t, err)
	require.Len(t, copied.Vector, 2)
	assert.InDelta(t, 0.6, copied.Vector[0], 0.001)
	assert.InDelta(t, 0.8, copied.Vector[1], 0.001)
}
