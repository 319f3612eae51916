package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/poiesic/transcriptlens/core"
	"github.com/poiesic/transcriptlens/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(source string, index int, content string, vector ...float32) *core.EmbeddedRecord {
	chunk := core.Chunk{Content: content, SourceID: source, Index: index}
	return core.NewEmbeddedRecord(chunk, vector, core.Metadata{core.MetaFilename: source})
}

func newTestRepository(t *testing.T, opts ...Option) *Repository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "vectors.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "vectors.db")
	repo, err := Open(path)
	require.NoError(t, err)
	defer repo.Close()

	count, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestOpen_InvalidOption(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "x.db"), WithBatchSize(0))
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestUpsertAndGet(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	rec := newRecord("gesprek.txt", 2, "Mijn pakket is nooit aangekomen.", 0.6, 0.8)
	result, err := repo.Upsert(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{rec.ID}, result.Written)
	assert.NotZero(t, rec.Seq)

	got, err := repo.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Content, got.Content)
	assert.Equal(t, rec.Vector, got.Vector)
	assert.Equal(t, rec.Seq, got.Seq)
	assert.Equal(t, "gesprek.txt", got.Metadata.String(core.MetaSourceID))

	_, err = repo.GetRecord(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	dims, err := repo.Dimensions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, dims)
}

func TestUpsert_ReplaceMovesToEnd(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	a := newRecord("a.txt", 0, "a", 1, 0)
	b := newRecord("a.txt", 1, "b", 0, 1)
	_, err := repo.Upsert(ctx, a, b)
	require.NoError(t, err)

	again := newRecord("a.txt", 0, "a", 1, 1)
	_, err = repo.Upsert(ctx, again)
	require.NoError(t, err)
	assert.Greater(t, again.Seq, b.Seq)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	var order []string
	err = repo.ForEach(ctx, 10, func(batch []*core.EmbeddedRecord) error {
		for _, rec := range batch {
			order = append(order, rec.Content)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, order)
}

func TestUpsert_DimensionMismatch(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, newRecord("a.txt", 0, "drie", 1, 2, 3))
	require.NoError(t, err)

	_, err = repo.Upsert(ctx, newRecord("a.txt", 1, "twee", 1, 2))
	assert.ErrorIs(t, err, core.ErrConfiguration)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
}

func TestUpsert_PartialFailure(t *testing.T) {
	repo := newTestRepository(t, WithBatchSize(2))
	ctx := context.Background()

	calls := 0
	repo.beforeCommit = func([]*core.EmbeddedRecord) error {
		calls++
		if calls == 1 {
			return errors.New("locked")
		}
		return nil
	}

	records := make([]*core.EmbeddedRecord, 4)
	for i := range records {
		records[i] = newRecord("a.txt", i, fmt.Sprint(i), 1, float32(i))
	}

	result, err := repo.Upsert(ctx, records...)
	assert.ErrorIs(t, err, storage.ErrPartialWrite)
	assert.Equal(t, 1, result.Batches)
	assert.Equal(t, []uuid.UUID{records[2].ID, records[3].ID}, result.Written)
	assert.Len(t, result.Failed, 2)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSearch(t *testing.T) {
	repo := newTestRepository(t, WithMinSimilarity(0.1))
	ctx := context.Background()

	_, err := repo.Upsert(ctx,
		newRecord("a.txt", 0, "zeer gelijk", 1, 0, 0),
		newRecord("a.txt", 1, "redelijk gelijk", 0.9, 0.1, 0),
		newRecord("b.txt", 0, "ongelijk", 0, 0, 1))
	require.NoError(t, err)

	query := []float32{1, 0, 0}

	t.Run("floor and ordering", func(t *testing.T) {
		results, err := repo.Search(ctx, query, 10, nil)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "zeer gelijk", results[0].Content)
		assert.Equal(t, "redelijk gelijk", results[1].Content)
	})

	t.Run("source filter", func(t *testing.T) {
		results, err := repo.Search(ctx, query, 10, storage.Filter{core.MetaSourceID: "a.txt", core.MetaIndex: 1})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "redelijk gelijk", results[0].Content)
	})

	t.Run("invalid k", func(t *testing.T) {
		_, err := repo.Search(ctx, query, -1, nil)
		assert.ErrorIs(t, err, core.ErrValidation)
	})
}

func TestSearch_EmptyStore(t *testing.T) {
	repo := newTestRepository(t)

	results, err := repo.Search(context.Background(), []float32{1, 0}, 3, nil)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestDeleteSource(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.Upsert(ctx,
		newRecord("a.txt", 0, "a0", 1, 0),
		newRecord("b.txt", 0, "b0", 0, 1))
	require.NoError(t, err)

	n, err := repo.DeleteSource(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestForEach_Pages(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := repo.Upsert(ctx, newRecord("a.txt", i, fmt.Sprint(i), 1, 0))
		require.NoError(t, err)
	}

	var sizes []int
	err := repo.ForEach(ctx, 2, func(batch []*core.EmbeddedRecord) error {
		sizes = append(sizes, len(batch))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, sizes)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.db")
	ctx := context.Background()

	repo, err := Open(path)
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, newRecord("a.txt", 0, "blijft", 1, 0))
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	repo, err = Open(path)
	require.NoError(t, err)
	defer repo.Close()

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	dims, err := repo.Dimensions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, dims)
}
