package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/transcriptlens/ai"
	"github.com/poiesic/transcriptlens/core"
	"github.com/poiesic/transcriptlens/storage"
)

const (
	DefaultTopK        = 5
	DefaultMaxAttempts = 2
)

// Pipeline answers questions with complaints grounded in retrieved
// transcript chunks.
type Pipeline struct {
	searcher    storage.Searcher
	embedder    ai.Embedder
	generator   ai.Generator
	topK        int
	maxAttempts int
	filter      storage.Filter
	logger      *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithTopK sets how many chunks are retrieved per question.
func WithTopK(k int) Option {
	return func(p *Pipeline) error {
		if k < 1 {
			return fmt.Errorf("%w: top k must be positive, got %d", core.ErrConfiguration, k)
		}
		p.topK = k
		return nil
	}
}

// WithMaxAttempts sets how often generation is attempted when the model's
// output cannot be decoded.
func WithMaxAttempts(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			return fmt.Errorf("%w: max attempts must be positive, got %d", core.ErrConfiguration, n)
		}
		p.maxAttempts = n
		return nil
	}
}

// WithFilter restricts retrieval to records whose metadata matches filter.
func WithFilter(filter storage.Filter) Option {
	return func(p *Pipeline) error {
		p.filter = filter
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new query pipeline.
func NewPipeline(searcher storage.Searcher, provider ai.AIProvider, opts ...Option) (*Pipeline, error) {
	if searcher == nil {
		return nil, ErrStoreRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	p := &Pipeline{
		searcher:    searcher,
		embedder:    provider.Embedder(),
		generator:   provider.Generator(),
		topK:        DefaultTopK,
		maxAttempts: DefaultMaxAttempts,
		logger:      slog.Default().With("component", "query"),
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// Analyze answers question with the recurring complaints found in the most
// similar transcript chunks.
func (p *Pipeline) Analyze(ctx context.Context, question string) (*core.AnalysisResult, error) {
	return p.AnalyzeWithMonitor(ctx, question, nil)
}

// AnalyzeWithMonitor is Analyze with monitoring.
// The monitor receives callbacks at each stage of the analysis.
func (p *Pipeline) AnalyzeWithMonitor(ctx context.Context, question string, monitor Monitor) (*core.AnalysisResult, error) {
	if err := core.ValidateQuestion(question); err != nil {
		return nil, err
	}

	// Use noop monitor if none provided
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	monitor.Start(question)

	// 1. Embed the question
	vector, err := p.embedder.EmbedText(ctx, question)
	if err != nil {
		p.logger.Error("error generating embedding for question", "err", err)
		return nil, withKind(err, core.ErrEmbedding)
	}
	monitor.AfterEmbedding(vector)

	// 2. Retrieve the most similar chunks
	records, err := p.searcher.Search(ctx, vector, p.topK, p.filter)
	if err != nil {
		p.logger.Error("error retrieving similar records", "err", err)
		return nil, storage.Retrieval(err)
	}
	monitor.AfterRetrieval(records)

	result := &core.AnalysisResult{
		Question:       question,
		Complaints:     []core.Complaint{},
		SourceSnippets: make([]string, len(records)),
	}
	for i, record := range records {
		result.SourceSnippets[i] = record.Content
	}

	if len(records) == 0 {
		p.logger.Info("no records retrieved, skipping generation")
		monitor.Finish(result)
		return result, nil
	}

	// 3. Generate and decode, retrying on malformed output
	complaints, err := p.generate(ctx, question, BuildContext(records), monitor)
	if err != nil {
		return nil, err
	}
	result.Complaints = complaints

	monitor.Finish(result)
	return result, nil
}

func (p *Pipeline) generate(ctx context.Context, question, grounding string, monitor Monitor) ([]core.Complaint, error) {
	prompt := BuildPrompt(question, grounding)

	var failures []error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		raw, err := p.generator.Generate(ctx, prompt)
		if err != nil {
			p.logger.Error("error generating analysis", "attempt", attempt, "err", err)
			return nil, withKind(err, core.ErrGeneration)
		}

		complaints, err := DecodeAnalysis(raw)
		if err == nil {
			monitor.AfterAttempt(attempt, nil)
			return complaints, nil
		}

		failure := &DecodeFailure{Attempt: attempt, Raw: raw, Err: err}
		monitor.AfterAttempt(attempt, failure)
		p.logger.Warn("model output rejected", "attempt", attempt, "max_attempts", p.maxAttempts, "err", err)
		p.logger.Debug("rejected model output", "attempt", attempt, "raw", raw)

		failures = append(failures, failure)
		prompt = BuildRetryPrompt(question, grounding, failure)
	}

	return nil, fmt.Errorf("%w: %w after %d attempts: %w",
		core.ErrGeneration, ErrUngroundable, p.maxAttempts, errors.Join(failures...))
}

// withKind wraps err with kind unless it already carries an error kind or
// is a context error.
func withKind(err, kind error) error {
	if core.KindOf(err) != core.KindInternal {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
