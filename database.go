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


// Package transcriptlens answers questions about customer service call
// transcripts with complaints grounded in the transcripts themselves.
//
// A Database ties a vector store to the AI services and hands out the
// ingestion and query pipelines:
//
//	db, err := transcriptlens.NewDatabase("data/transcripts.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	ingest, err := db.NewIngestionPipeline()
//	summary, err := ingest.IngestDirectory(ctx, "transcripts")
//
//	q, err := db.NewQueryPipeline()
//	result, err := q.Analyze(ctx, "Wat zijn de klachten over levering?")
package transcriptlens

import (
	"fmt"
	"log/slog"

	"github.com/poiesic/transcriptlens/ai"
	"github.com/poiesic/transcriptlens/ai/openai"
	"github.com/poiesic/transcriptlens/config"
	"github.com/poiesic/transcriptlens/core"
	"github.com/poiesic/transcriptlens/ingestion"
	"github.com/poiesic/transcriptlens/query"
	"github.com/poiesic/transcriptlens/storage"
	"github.com/poiesic/transcriptlens/storage/badger"
	"github.com/poiesic/transcriptlens/storage/sqlite"
)

type Database struct {
	store    storage.RecordRepository
	provider ai.AIProvider
	logger   *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	aiConfig *ai.Config
	provider ai.AIProvider
	store    StoreOptions
	inMemory bool
}

// StoreOptions selects and tunes the vector store backend.
type StoreOptions struct {
	Backend       string   // config.BackendBadger (default) or config.BackendSQLite
	BatchSize     int      // Records per write transaction, 0 keeps the backend default
	MinSimilarity *float32 // Similarity floor for search results, nil uses storage.DefaultMinSimilarity
}

// WithAIConfig sets the configuration of the OpenAI-compatible services.
func WithAIConfig(cfg *ai.Config) DatabaseOption {
	return func(o *databaseOptions) {
		o.aiConfig = cfg
	}
}

// WithProvider uses provider instead of creating an OpenAI-compatible one.
// The database takes ownership and closes it.
func WithProvider(provider ai.AIProvider) DatabaseOption {
	return func(o *databaseOptions) {
		o.provider = provider
	}
}

// WithStore sets the store backend and its tuning.
func WithStore(opts StoreOptions) DatabaseOption {
	return func(o *databaseOptions) {
		o.store = opts
	}
}

// WithInMemory keeps the store in memory. The path is ignored. Only the
// badger backend supports it.
func WithInMemory() DatabaseOption {
	return func(o *databaseOptions) {
		o.inMemory = true
	}
}

// NewDatabase opens the store at filePath and creates the AI provider.
func NewDatabase(filePath string, opts ...DatabaseOption) (*Database, error) {
	// Apply options
	options := &databaseOptions{
		aiConfig: ai.DefaultConfig(), // Default if not provided
	}
	for _, opt := range opts {
		opt(options)
	}

	// Open store
	var store storage.RecordRepository
	var err error
	if options.inMemory {
		if options.store.Backend != "" && options.store.Backend != config.BackendBadger {
			return nil, fmt.Errorf("%w: in-memory store requires the badger backend", core.ErrConfiguration)
		}
		store, err = badger.NewMemoryRepository(badgerOptions(options.store)...)
	} else {
		store, err = OpenStore(filePath, options.store)
	}
	if err != nil {
		return nil, err
	}

	// Create AI provider with configured settings
	provider := options.provider
	if provider == nil {
		provider, err = openai.NewProvider(options.aiConfig)
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	return &Database{
		store:    store,
		provider: provider,
		logger:   slog.Default().With("component", "database"),
	}, nil
}

// NewDatabaseFromConfig opens the database described by cfg.
func NewDatabaseFromConfig(cfg *config.Config, opts ...DatabaseOption) (*Database, error) {
	base := []DatabaseOption{
		WithAIConfig(cfg.AI()),
		WithStore(StoreOptionsFromConfig(cfg)),
	}
	return NewDatabase(cfg.Store.Path, append(base, opts...)...)
}

// StoreOptionsFromConfig returns the store options described by cfg.
func StoreOptionsFromConfig(cfg *config.Config) StoreOptions {
	return StoreOptions{
		Backend:       cfg.Store.Backend,
		BatchSize:     cfg.Store.BatchSize,
		MinSimilarity: cfg.Store.MinSimilarity,
	}
}

// OpenStore opens the record store at path with the selected backend.
func OpenStore(path string, opts StoreOptions) (storage.RecordRepository, error) {
	switch opts.Backend {
	case "", config.BackendBadger:
		return badger.OpenRecordRepository(path, badgerOptions(opts)...)
	case config.BackendSQLite:
		var sqliteOpts []sqlite.Option
		if opts.BatchSize > 0 {
			sqliteOpts = append(sqliteOpts, sqlite.WithBatchSize(opts.BatchSize))
		}
		sqliteOpts = append(sqliteOpts, sqlite.WithMinSimilarity(opts.minSimilarity()))
		return sqlite.Open(path, sqliteOpts...)
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", core.ErrConfiguration, opts.Backend)
	}
}

func badgerOptions(opts StoreOptions) []badger.Option {
	var out []badger.Option
	if opts.BatchSize > 0 {
		out = append(out, badger.WithBatchSize(opts.BatchSize))
	}
	return append(out, badger.WithMinSimilarity(opts.minSimilarity()))
}

func (o StoreOptions) minSimilarity() float32 {
	if o.MinSimilarity == nil {
		return storage.DefaultMinSimilarity
	}
	return *o.MinSimilarity
}

func (db *Database) Close() error {
	// Close AI provider first
	if err := db.provider.Close(); err != nil {
		db.logger.Error("error closing AI provider", "err", err)
	}

	if err := db.store.Close(); err != nil {
		db.logger.Error("error closing record store", "err", err)
		return err
	}
	return nil
}

func (db *Database) Store() storage.RecordRepository {
	return db.store
}

func (db *Database) Provider() ai.AIProvider {
	return db.provider
}

func (db *Database) NewIngestionPipeline(opts ...ingestion.Option) (*ingestion.Pipeline, error) {
	return ingestion.NewPipeline(db.store, db.provider, opts...)
}

func (db *Database) NewQueryPipeline(opts ...query.Option) (*query.Pipeline, error) {
	return query.NewPipeline(db.store, db.provider, opts...)
}
