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


package reembed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/transcriptlens/ai"
	"github.com/poiesic/transcriptlens/core"
	"github.com/poiesic/transcriptlens/progress"
	"github.com/poiesic/transcriptlens/storage"
)

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of records to process in each batch
	BatchSize int

	// ReportInterval is how often to report progress (number of records)
	ReportInterval int

	// MaxRetries is the maximum number of retry attempts for failed operations
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      100,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Result summarizes a finished migration.
type Result struct {
	Records int
	Batches int
	Elapsed time.Duration
}

// Reembedder copies every record of a source store into a target store with
// vectors from a new embedder.
type Reembedder struct {
	source    storage.RecordRepository
	target    storage.RecordRepository
	config    *Config
	progress  io.Writer
	processor *BatchProcessor
	logger    *slog.Logger
}

// NewReembedder creates a new reembedder.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(source, target storage.RecordRepository, embedder ai.Embedder, config *Config, progress io.Writer) *Reembedder {
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}

	return &Reembedder{
		source:    source,
		target:    target,
		config:    config,
		progress:  progress,
		processor: NewBatchProcessor(target, embedder, config.MaxRetries, config.RetryDelay),
		logger:    slog.Default().With("component", "reembed"),
	}
}

// Run executes the migration. The target must be a different, empty store.
// Progress is reported to the configured writer.
func (r *Reembedder) Run(ctx context.Context) (*Result, error) {
	if r.source == r.target {
		return nil, ErrSameStore
	}
	if r.config.BatchSize < 1 {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", core.ErrConfiguration, r.config.BatchSize)
	}

	existing, err := r.target.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count target records: %w", err)
	}
	if existing > 0 {
		return nil, fmt.Errorf("%w (%d records)", ErrTargetNotEmpty, existing)
	}

	totalRecords, err := r.source.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count source records: %w", err)
	}

	result := &Result{}
	if totalRecords == 0 {
		fmt.Fprintf(r.progress, "No records found in store (0 records)\n")
		return result, nil
	}

	fmt.Fprintf(r.progress, "Starting reembedding of %d records (batch size: %d)\n",
		totalRecords, r.config.BatchSize)

	tracker := progress.New(r.progress, totalRecords, r.config.ReportInterval, "records")
	tracker.Start()

	err = r.source.ForEach(ctx, r.config.BatchSize, func(records []*core.EmbeddedRecord) error {
		written, err := r.processor.Process(ctx, records)
		if err != nil {
			return fmt.Errorf("failed to process batch %d: %w", result.Batches+1, err)
		}

		result.Records += written
		result.Batches++
		tracker.Update(result.Records)
		r.logger.Debug("batch reembedded", "batch", result.Batches, "records", written)

		return ctx.Err()
	})
	if err != nil {
		return result, err
	}

	tracker.Finish()

	result.Elapsed = tracker.Elapsed()
	fmt.Fprintf(r.progress, "Reembedding complete. Processed %d records in %v (%.1f records/sec)\n",
		result.Records, result.Elapsed.Round(time.Second), float64(result.Records)/result.Elapsed.Seconds())
	r.logger.Info("reembedding complete", "records", result.Records, "batches", result.Batches)

	return result, nil
}
