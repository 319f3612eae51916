// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/transcriptlens/ai"
	"github.com/poiesic/transcriptlens/chunker"
	"github.com/poiesic/transcriptlens/core"
	"github.com/poiesic/transcriptlens/progress"
	"github.com/poiesic/transcriptlens/retry"
	"github.com/poiesic/transcriptlens/storage"
)

// Defaults match the settings the corpus was originally ingested with.
const (
	DefaultChunkSize      = 500
	DefaultChunkOverlap   = 50
	DefaultBatchSize      = 10
	DefaultRateLimitDelay = time.Second
	DefaultMaxAttempts    = 3
	DefaultRetryDelay     = time.Second
)

// Pipeline embeds transcripts and writes them to a record repository.
type Pipeline struct {
	store          storage.RecordRepository
	embedder       ai.Embedder
	chunker        *chunker.Chunker
	pool           *ants.Pool
	batchSize      int
	rateLimitDelay time.Duration
	maxAttempts    int
	retryDelay     time.Duration
	replaceSources bool
	progress       io.Writer
	logger         *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithChunking sets the chunk size and overlap in characters.
func WithChunking(size, overlap int) Option {
	return func(p *Pipeline) error {
		c, err := chunker.New(size, overlap)
		if err != nil {
			return err
		}
		p.chunker = c
		return nil
	}
}

// WithBatchSize sets how many chunks are embedded and written together.
func WithBatchSize(size int) Option {
	return func(p *Pipeline) error {
		if err := storage.ValidateBatchSize(size); err != nil {
			return err
		}
		p.batchSize = size
		return nil
	}
}

// WithRateLimitDelay sets the pause between batches. Zero disables it.
func WithRateLimitDelay(d time.Duration) Option {
	return func(p *Pipeline) error {
		if d < 0 {
			return fmt.Errorf("%w: rate limit delay cannot be negative", core.ErrConfiguration)
		}
		p.rateLimitDelay = d
		return nil
	}
}

// WithPoolSize sets the worker pool size used to read and chunk transcripts.
// Default is runtime.NumCPU(), with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		if p.pool != nil {
			p.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithRetry sets how often an embedding batch is attempted and the base
// delay of the exponential backoff between attempts.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(p *Pipeline) error {
		if maxAttempts < 1 {
			return fmt.Errorf("%w: %w", core.ErrConfiguration, retry.ErrInvalidMaxAttempts)
		}
		p.maxAttempts = maxAttempts
		p.retryDelay = baseDelay
		return nil
	}
}

// WithReplaceSources makes the pipeline delete every stored record of a
// transcript before writing its new chunks. Without it, chunks that no
// longer exist in an edited transcript stay in the store.
func WithReplaceSources(replace bool) Option {
	return func(p *Pipeline) error {
		p.replaceSources = replace
		return nil
	}
}

// WithProgress reports chunk progress to w, typically os.Stderr.
func WithProgress(w io.Writer) Option {
	return func(p *Pipeline) error {
		p.progress = w
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

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(store storage.RecordRepository, provider ai.AIProvider, opts ...Option) (*Pipeline, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	defaultChunker, err := chunker.New(DefaultChunkSize, DefaultChunkOverlap)
	if err != nil {
		return nil, err
	}

	pool, err := ants.NewPool(max(runtime.NumCPU(), 1))
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		store:          store,
		embedder:       provider.Embedder(),
		chunker:        defaultChunker,
		pool:           pool,
		batchSize:      DefaultBatchSize,
		rateLimitDelay: DefaultRateLimitDelay,
		maxAttempts:    DefaultMaxAttempts,
		retryDelay:     DefaultRetryDelay,
		logger:         slog.Default().With("component", "ingestion"),
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	return p, nil
}

// Release releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// IngestDirectory loads every transcript in dir and ingests it.
// Empty and unreadable files are skipped and counted in the summary.
func (p *Pipeline) IngestDirectory(ctx context.Context, dir string) (*Summary, error) {
	corpus, err := loadDirectory(ctx, dir, p.pool, p.logger)
	if err != nil {
		return nil, err
	}

	summary, err := p.IngestDocuments(ctx, corpus.Documents)
	if summary != nil {
		summary.SkippedDocuments = len(corpus.Skipped)
	}
	return summary, err
}

// pendingChunk is a chunk waiting to be embedded, with the document it came
// from and the number of chunks that document produced.
type pendingChunk struct {
	doc   *Document
	chunk core.Chunk
	total int
}

// IngestDocuments chunks, embeds and stores docs. The returned summary is
// always non-nil once chunking has started, also when an error aborts the run.
func (p *Pipeline) IngestDocuments(ctx context.Context, docs []Document) (*Summary, error) {
	start := time.Now()
	summary := &Summary{TotalDocuments: len(docs)}
	defer func() { summary.Elapsed = time.Since(start) }()

	pending, err := p.chunkDocuments(ctx, docs)
	if err != nil {
		return summary, err
	}
	summary.TotalChunks = len(pending)
	p.logger.Info("chunked transcripts",
		"documents", len(docs),
		"chunks", len(pending),
		"chunk_size", p.chunker.Size(),
		"chunk_overlap", p.chunker.Overlap())

	if p.replaceSources {
		for _, doc := range docs {
			removed, err := p.store.DeleteSource(ctx, doc.Filename)
			if err != nil {
				return summary, fmt.Errorf("replacing %s: %w", doc.Filename, err)
			}
			if removed > 0 {
				p.logger.Debug("removed previous records", "file", doc.Filename, "records", removed)
			}
		}
	}

	var tracker *progress.Tracker
	if p.progress != nil {
		tracker = progress.New(p.progress, len(pending), p.batchSize, "chunks")
		tracker.Start()
		defer tracker.Finish()
	}

	totalBatches := (len(pending) + p.batchSize - 1) / p.batchSize
	for batchStart := 0; batchStart < len(pending); batchStart += p.batchSize {
		if batchStart > 0 && p.rateLimitDelay > 0 {
			if err := sleep(ctx, p.rateLimitDelay); err != nil {
				return summary, err
			}
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		batch := pending[batchStart:min(batchStart+p.batchSize, len(pending))]
		batchNum := batchStart/p.batchSize + 1
		if err := p.processBatch(ctx, batch, summary); err != nil {
			return summary, err
		}
		p.logger.Debug("batch processed", "batch", batchNum, "of", totalBatches, "chunks", len(batch))

		if tracker != nil {
			tracker.Increment(len(batch))
		}
	}

	p.logger.Info("ingestion complete",
		"records_written", summary.RecordsWritten,
		"chunks_failed", summary.ChunksFailed,
		"records_failed", summary.RecordsFailed)
	return summary, nil
}

// chunkDocuments splits every document on the worker pool. The result keeps
// document order.
func (p *Pipeline) chunkDocuments(ctx context.Context, docs []Document) ([]pendingChunk, error) {
	perDoc := make([][]core.Chunk, len(docs))

	var wg sync.WaitGroup
	for i := range docs {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return nil, err
		}
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			perDoc[i] = p.chunker.Collect(docs[i].Content, docs[i].Filename)
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return nil, err
		}
	}
	wg.Wait()

	var pending []pendingChunk
	for i, chunks := range perDoc {
		for _, chunk := range chunks {
			pending = append(pending, pendingChunk{doc: &docs[i], chunk: chunk, total: len(chunks)})
		}
	}
	return pending, nil
}

// processBatch embeds and writes one batch. Only configuration errors are
// returned; every other failure is recorded in summary.
func (p *Pipeline) processBatch(ctx context.Context, batch []pendingChunk, summary *Summary) error {
	texts := make([]string, len(batch))
	for i, pc := range batch {
		texts[i] = pc.chunk.Content
	}

	vectors, failures, err := p.embedBatch(ctx, texts)
	if err != nil {
		return err
	}

	records := make([]*core.EmbeddedRecord, 0, len(batch))
	for i, pc := range batch {
		if failErr, failed := failures[i]; failed {
			summary.ChunksFailed++
			summary.Failures = append(summary.Failures, ChunkFailure{
				Filename:   pc.doc.Filename,
				SourceID:   pc.chunk.SourceID,
				ChunkIndex: pc.chunk.Index,
				Err:        failErr,
			})
			p.logger.Warn("skipping chunk", "file", pc.doc.Filename, "chunk", pc.chunk.Index, "error", failErr)
			continue
		}
		summary.ChunksEmbedded++
		records = append(records, core.NewEmbeddedRecord(pc.chunk, core.NormalizeVector(vectors[i]), core.Metadata{
			core.MetaFilename:    pc.doc.Filename,
			core.MetaSource:      pc.doc.Source,
			core.MetaChunkIndex:  pc.chunk.Index,
			core.MetaTotalChunks: pc.total,
		}))
	}
	if len(records) == 0 {
		return nil
	}

	result, err := p.store.Upsert(ctx, records...)
	if result != nil {
		summary.BatchesWritten += result.Batches
		summary.RecordsWritten += len(result.Written)
		summary.RecordsFailed += len(result.Failed)
	}
	if err != nil {
		if errors.Is(err, core.ErrConfiguration) {
			return err
		}
		if result == nil || len(result.Failed) == 0 {
			summary.RecordsFailed += len(records)
		}
		p.logger.Error("failed to write batch", "records", len(records), "error", err)
	}
	return nil
}

// embedBatch embeds texts, retrying the whole batch with backoff. If the
// batch keeps failing each text is embedded on its own so one bad chunk
// cannot sink its neighbours. failures maps batch positions to their error.
func (p *Pipeline) embedBatch(ctx context.Context, texts []string) (vectors [][]float32, failures map[int]error, err error) {
	failures = make(map[int]error)

	err = retry.WithBackoff(ctx, func() error {
		var embedErr error
		vectors, embedErr = p.embedder.EmbedTexts(ctx, texts)
		var batchErr *core.BatchEmbeddingError
		if errors.As(embedErr, &batchErr) {
			// The embedder already isolated the failing items.
			for _, f := range batchErr.Failures {
				failures[f.Index] = f
			}
			return nil
		}
		return embedErr
	}, p.maxAttempts, p.retryDelay)

	switch {
	case err == nil && len(vectors) != len(texts):
		err = fmt.Errorf("%w: %w: expected %d, received %d",
			core.ErrEmbedding, ErrEmbeddingCountMismatch, len(texts), len(vectors))
	case err != nil && (errors.Is(err, core.ErrConfiguration) || ctx.Err() != nil):
		return nil, nil, err
	}

	if err != nil {
		p.logger.Warn("batch embedding failed, embedding chunks individually", "chunks", len(texts), "error", err)
		vectors = make([][]float32, len(texts))
		clear(failures)
		for i, text := range texts {
			vector, itemErr := p.embedder.EmbedText(ctx, text)
			if itemErr != nil {
				if errors.Is(itemErr, core.ErrConfiguration) {
					return nil, nil, itemErr
				}
				failures[i] = &core.EmbeddingError{Index: i, Err: itemErr}
				continue
			}
			vectors[i] = vector
		}
	}

	for i, vector := range vectors {
		if _, failed := failures[i]; !failed && len(vector) == 0 {
			failures[i] = &core.EmbeddingError{Index: i, Err: core.ErrEmptyVector}
		}
	}
	return vectors, failures, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
