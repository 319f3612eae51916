package query

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/poiesic/transcriptlens/ai/mock"
	"github.com/poiesic/transcriptlens/core"
	"github.com/poiesic/transcriptlens/storage"
	"github.com/poiesic/transcriptlens/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store     *badger.RecordRepository
	embedder  *mock.MockEmbedder
	generator *mock.MockGenerator
	pipeline  *Pipeline
}

func newFixture(t *testing.T, transcripts map[string]string, opts ...Option) *fixture {
	t.Helper()
	store, err := badger.NewMemoryRepository()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	embedder := mock.NewMockEmbedder()
	for name, content := range transcripts {
		vector, err := embedder.EmbedText(context.Background(), content)
		require.NoError(t, err)
		rec := core.NewEmbeddedRecord(core.Chunk{Content: content, SourceID: name}, vector,
			core.Metadata{core.MetaFilename: name, core.MetaChunkIndex: 0})
		_, err = store.Upsert(context.Background(), rec)
		require.NoError(t, err)
	}
	embedder.Reset()

	generator := mock.NewMockGenerator()
	provider := mock.NewMockProviderWithServices(embedder, generator)
	pipeline, err := NewPipeline(store, provider, opts...)
	require.NoError(t, err)

	return &fixture{store: store, embedder: embedder, generator: generator, pipeline: pipeline}
}

var deliveryCorpus = map[string]string{
	"gesprek1.txt": "Klant belt over late levering.",
	"gesprek2.txt": "Klant klaagt over een kapotte wasmachine.",
}

func TestNewPipeline(t *testing.T) {
	store, err := badger.NewMemoryRepository()
	require.NoError(t, err)
	defer store.Close()
	provider := mock.NewMockProvider()

	t.Run("valid configuration", func(t *testing.T) {
		p, err := NewPipeline(store, provider)
		require.NoError(t, err)
		assert.Equal(t, DefaultTopK, p.topK)
		assert.Equal(t, DefaultMaxAttempts, p.maxAttempts)
	})

	t.Run("with options", func(t *testing.T) {
		logger := slog.Default()
		filter := storage.Filter{core.MetaFilename: "a.txt"}
		p, err := NewPipeline(store, provider, WithTopK(3), WithMaxAttempts(4), WithFilter(filter), WithLogger(logger))
		require.NoError(t, err)
		assert.Equal(t, 3, p.topK)
		assert.Equal(t, 4, p.maxAttempts)
		assert.Equal(t, filter, p.filter)
		assert.Equal(t, logger, p.logger)
	})

	t.Run("invalid top k", func(t *testing.T) {
		_, err := NewPipeline(store, provider, WithTopK(0))
		assert.ErrorIs(t, err, core.ErrConfiguration)
	})

	t.Run("invalid attempts", func(t *testing.T) {
		_, err := NewPipeline(store, provider, WithMaxAttempts(0))
		assert.ErrorIs(t, err, core.ErrConfiguration)
	})

	t.Run("nil store", func(t *testing.T) {
		_, err := NewPipeline(nil, provider)
		assert.Equal(t, ErrStoreRequired, err)
	})

	t.Run("nil provider", func(t *testing.T) {
		_, err := NewPipeline(store, nil)
		assert.Equal(t, ErrAIProviderRequired, err)
	})
}

func TestAnalyze(t *testing.T) {
	f := newFixture(t, deliveryCorpus)

	result, err := f.pipeline.Analyze(context.Background(), "Wat zijn de klachten over levering?")
	require.NoError(t, err)

	assert.Equal(t, "Wat zijn de klachten over levering?", result.Question)
	require.Len(t, result.Complaints, 1)
	assert.Equal(t, "Late levering", result.Complaints[0].Name)
	assert.Equal(t, 1, result.Complaints[0].Frequency)

	require.NotEmpty(t, result.SourceSnippets)
	assert.Equal(t, "Klant belt over late levering.", result.SourceSnippets[0])

	prompts := f.generator.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "VRAAG:\nWat zijn de klachten over levering?")
	assert.Contains(t, prompts[0], "[Bron: gesprek1.txt #0]\nKlant belt over late levering.")
	assert.Contains(t, prompts[0], `"klachten"`)
}

func TestAnalyze_TopK(t *testing.T) {
	f := newFixture(t, deliveryCorpus, WithTopK(1))

	result, err := f.pipeline.Analyze(context.Background(), "late levering")
	require.NoError(t, err)
	assert.Equal(t, []string{"Klant belt over late levering."}, result.SourceSnippets)
}

func TestAnalyze_Filter(t *testing.T) {
	f := newFixture(t, deliveryCorpus, WithFilter(storage.Filter{core.MetaFilename: "gesprek2.txt"}))

	result, err := f.pipeline.Analyze(context.Background(), "late levering")
	require.NoError(t, err)
	assert.Equal(t, []string{"Klant klaagt over een kapotte wasmachine."}, result.SourceSnippets)
}

func TestAnalyze_EmptyQuestion(t *testing.T) {
	f := newFixture(t, deliveryCorpus)

	for _, question := range []string{"", "   ", "\n\t"} {
		_, err := f.pipeline.Analyze(context.Background(), question)
		assert.ErrorIs(t, err, core.ErrValidation)
		assert.ErrorIs(t, err, core.ErrEmptyQuestion)
	}
	assert.Zero(t, f.embedder.CallCount())
	assert.Zero(t, f.generator.CallCount())
}

func TestAnalyze_EmptyStore(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.pipeline.Analyze(context.Background(), "Wat zijn de klachten?")
	require.NoError(t, err)
	assert.NotNil(t, result.Complaints)
	assert.Empty(t, result.Complaints)
	assert.NotNil(t, result.SourceSnippets)
	assert.Empty(t, result.SourceSnippets)
	assert.Zero(t, f.generator.CallCount())
}

func TestAnalyze_RetriesMalformedOutput(t *testing.T) {
	f := newFixture(t, deliveryCorpus)
	f.generator.Responses = []string{
		"Sorry, ik kan hier geen JSON van maken.",
		"```json\n{\"klachten\": [{\"naam\": \"Vertraging\", \"frequentie\": 2, \"samenvatting\": \"Pakketten komen te laat.\"},]}\n```",
	}

	var attempts []*DecodeFailure
	monitor := &recordingMonitor{onAttempt: func(_ int, failure *DecodeFailure) {
		attempts = append(attempts, failure)
	}}

	result, err := f.pipeline.AnalyzeWithMonitor(context.Background(), "klachten over levering", monitor)
	require.NoError(t, err)
	require.Len(t, result.Complaints, 1)
	assert.Equal(t, "Vertraging", result.Complaints[0].Name)
	assert.Equal(t, 2, result.Complaints[0].Frequency)

	require.Len(t, attempts, 2)
	require.NotNil(t, attempts[0])
	assert.Equal(t, 1, attempts[0].Attempt)
	assert.ErrorIs(t, attempts[0], ErrNoJSONObject)
	assert.Nil(t, attempts[1])

	prompts := f.generator.Prompts()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], "Je vorige antwoord kon niet worden verwerkt")
	assert.True(t, strings.HasSuffix(prompts[1], "ANTWOORD:"))
}

func TestAnalyze_AllAttemptsMalformed(t *testing.T) {
	f := newFixture(t, deliveryCorpus, WithMaxAttempts(3))
	f.generator.Responses = []string{`{"klachten": [{"naam": "", "frequentie": 1}]}`}

	_, err := f.pipeline.Analyze(context.Background(), "klachten over levering")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrGeneration)
	assert.ErrorIs(t, err, ErrUngroundable)
	assert.ErrorIs(t, err, core.ErrEmptyComplaintName)
	assert.Equal(t, core.KindGeneration, core.KindOf(err))
	assert.Equal(t, 3, f.generator.CallCount())

	var failure *DecodeFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, 1, failure.Attempt)
}

func TestAnalyze_GeneratorFailure(t *testing.T) {
	f := newFixture(t, deliveryCorpus)
	f.generator.GenerateFunc = func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("connection refused")
	}

	_, err := f.pipeline.Analyze(context.Background(), "klachten over levering")
	assert.ErrorIs(t, err, core.ErrGeneration)
	assert.NotErrorIs(t, err, ErrUngroundable)
	assert.Equal(t, 1, f.generator.CallCount())
}

func TestAnalyze_EmbeddingFailure(t *testing.T) {
	f := newFixture(t, deliveryCorpus)
	f.embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("quota exceeded")
	}

	_, err := f.pipeline.Analyze(context.Background(), "klachten over levering")
	assert.ErrorIs(t, err, core.ErrEmbedding)
	assert.Equal(t, core.KindEmbedding, core.KindOf(err))
	assert.Zero(t, f.generator.CallCount())
}

func TestAnalyze_RetrievalFailure(t *testing.T) {
	f := newFixture(t, deliveryCorpus)
	require.NoError(t, f.store.Close())

	_, err := f.pipeline.Analyze(context.Background(), "klachten over levering")
	assert.ErrorIs(t, err, core.ErrRetrieval)
	assert.Zero(t, f.generator.CallCount())
}

func TestAnalyze_DimensionMismatch(t *testing.T) {
	f := newFixture(t, deliveryCorpus)
	f.embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1, 0, 0}, nil
	}

	_, err := f.pipeline.Analyze(context.Background(), "klachten over levering")
	assert.ErrorIs(t, err, core.ErrConfiguration)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
}

func TestAnalyze_Monitor(t *testing.T) {
	f := newFixture(t, deliveryCorpus)
	monitor := &recordingMonitor{}

	result, err := f.pipeline.AnalyzeWithMonitor(context.Background(), "late levering", monitor)
	require.NoError(t, err)

	assert.Equal(t, []string{"start", "embedding", "retrieval", "attempt", "finish"}, monitor.events)
	assert.Equal(t, "late levering", monitor.question)
	assert.Len(t, monitor.vector, mock.DefaultDimensions)
	assert.Len(t, monitor.records, 2)
	assert.Same(t, result, monitor.result)
}

type recordingMonitor struct {
	events    []string
	question  string
	vector    []float32
	records   []*core.RetrievedRecord
	result    *core.AnalysisResult
	onAttempt func(attempt int, failure *DecodeFailure)
}

func (m *recordingMonitor) Start(question string) {
	m.events = append(m.events, "start")
	m.question = question
}

func (m *recordingMonitor) AfterEmbedding(vector []float32) {
	m.events = append(m.events, "embedding")
	m.vector = vector
}

func (m *recordingMonitor) AfterRetrieval(records []*core.RetrievedRecord) {
	m.events = append(m.events, "retrieval")
	m.records = records
}

func (m *recordingMonitor) AfterAttempt(attempt int, failure *DecodeFailure) {
	m.events = append(m.events, "attempt")
	if m.onAttempt != nil {
		m.onAttempt(attempt, failure)
	}
}

func (m *recordingMonitor) Finish(result *core.AnalysisResult) {
	m.events = append(m.events, "finish")
	m.result = result
}
