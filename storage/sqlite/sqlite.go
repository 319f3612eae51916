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


// Package sqlite provides a SQLite implementation of storage.RecordRepository.
//
// Records live in a single transcript_vectors table. Vectors are stored as
// mus encoded blobs and metadata as JSON text, so similarity ranking happens
// in process exactly as it does for the BadgerDB backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/poiesic/transcriptlens/core"
	"github.com/poiesic/transcriptlens/storage"
)

const dimensionsMetaKey = "dimensions"

// Repository implements storage.RecordRepository using SQLite.
type Repository struct {
	db            *sql.DB
	batchSize     int
	minSimilarity float32
	logger        *slog.Logger

	writeMu sync.Mutex

	// beforeCommit is called with each batch right before its transaction
	// commits. Tests use it to inject failures.
	beforeCommit func(batch []*core.EmbeddedRecord) error
}

var _ storage.RecordRepository = (*Repository)(nil)

// Option configures a Repository.
type Option func(*Repository) error

// WithBatchSize sets how many records are written per transaction.
func WithBatchSize(n int) Option {
	return func(r *Repository) error {
		if err := storage.ValidateBatchSize(n); err != nil {
			return err
		}
		r.batchSize = n
		return nil
	}
}

// WithMinSimilarity sets the similarity floor applied to every search.
func WithMinSimilarity(min float32) Option {
	return func(r *Repository) error {
		if min < -1 || min > 1 {
			return fmt.Errorf("%w: min similarity %v not in [-1, 1]", core.ErrConfiguration, min)
		}
		r.minSimilarity = min
		return nil
	}
}

// Open opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func Open(dbPath string, opts ...Option) (*Repository, error) {
	r := &Repository{
		batchSize:     storage.DefaultBatchSize,
		minSimilarity: storage.NoSimilarityFloor,
		logger:        slog.Default().With("component", "sqlite-records"),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: failed to create database directory: %w", core.ErrRetrieval, err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", core.ErrRetrieval, err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: failed to enable WAL: %w", core.ErrRetrieval, err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: failed to initialize schema: %w", core.ErrRetrieval, err)
	}

	r.db = db
	return r, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS transcript_vectors (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		source_id TEXT NOT NULL,
		content TEXT NOT NULL,
		vector BLOB NOT NULL,
		metadata TEXT NOT NULL,
		inserted_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transcript_vectors_source ON transcript_vectors(source_id);

	CREATE TABLE IF NOT EXISTS store_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Upsert writes records in batches, one transaction per batch. Replacing a
// row gives it a fresh seq, which moves it to the end of the write order.
func (r *Repository) Upsert(ctx context.Context, records ...*core.EmbeddedRecord) (*storage.UpsertResult, error) {
	result := &storage.UpsertResult{}
	if len(records) == 0 {
		return result, nil
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	stored, err := r.dimensions(ctx)
	if err != nil {
		return result, storage.Retrieval(err)
	}
	dims, err := storage.CheckDimensions(records, stored)
	if err != nil {
		return result, err
	}

	var errs []error
	for start := 0; start < len(records); start += r.batchSize {
		end := min(start+r.batchSize, len(records))
		batch := records[start:end]

		if err := r.writeBatch(ctx, batch, dims, stored == 0); err != nil {
			r.logger.Warn("batch write failed", "batch_start", start, "batch_size", len(batch), "error", err)
			for _, rec := range batch {
				result.Failed = append(result.Failed, storage.RecordFailure{ID: rec.ID, Err: err})
			}
			errs = append(errs, err)
			continue
		}

		stored = dims
		result.Batches++
		for _, rec := range batch {
			result.Written = append(result.Written, rec.ID)
		}
	}

	if len(errs) > 0 {
		return result, storage.Retrieval(fmt.Errorf("%w: %d of %d records failed: %w",
			storage.ErrPartialWrite, len(result.Failed), len(records), errors.Join(errs...)))
	}
	return result, nil
}

func (r *Repository) writeBatch(ctx context.Context, batch []*core.EmbeddedRecord, dims int, fixDimensions bool) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if fixDimensions {
		if _, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO store_meta (key, value) VALUES (?, ?)`,
			dimensionsMetaKey, strconv.Itoa(dims)); err != nil {
			return err
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO transcript_vectors (id, source_id, content, vector, metadata, inserted_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	seqs := make([]uint64, len(batch))
	for i, record := range batch {
		var metadataJSON string
		metadataJSON, err = storage.MarshalMetadata(record.Metadata)
		if err != nil {
			return err
		}
		var res sql.Result
		res, err = stmt.ExecContext(ctx,
			record.ID.String(),
			record.Metadata.String(core.MetaSourceID),
			record.Content,
			storage.MarshalVector(record.Vector),
			metadataJSON,
			now,
		)
		if err != nil {
			return err
		}
		var seq int64
		seq, err = res.LastInsertId()
		if err != nil {
			return err
		}
		seqs[i] = uint64(seq)
	}

	if r.beforeCommit != nil {
		if err = r.beforeCommit(batch); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return err
	}

	for i, record := range batch {
		record.Seq = seqs[i]
		record.InsertedAt = now
	}
	return nil
}

// Search scans every row and ranks it against vector.
func (r *Repository) Search(ctx context.Context, vector []float32, k int, filter storage.Filter) ([]*core.RetrievedRecord, error) {
	if err := storage.ValidateK(k); err != nil {
		return nil, err
	}

	dims, err := r.dimensions(ctx)
	if err != nil {
		return nil, storage.Retrieval(err)
	}
	if dims == 0 {
		return []*core.RetrievedRecord{}, nil
	}
	if err := core.ValidateDimensions(vector, dims); err != nil {
		if errors.Is(err, core.ErrEmptyVector) {
			return nil, fmt.Errorf("%w: %w", core.ErrValidation, err)
		}
		return nil, err
	}

	query := `SELECT seq, id, content, vector, metadata, inserted_at FROM transcript_vectors`
	var args []any
	// source_id has its own column, so the most common filter runs in SQL.
	if sourceID, ok := filter[core.MetaSourceID].(string); ok {
		query += ` WHERE source_id = ?`
		args = append(args, sourceID)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Retrieval(err)
	}
	defer rows.Close()

	ranker := storage.NewRanker(vector, filter, r.minSimilarity)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, storage.Retrieval(err)
		}
		ranker.Offer(record)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Retrieval(err)
	}
	return ranker.Top(k), nil
}

// GetRecord returns a record by ID.
func (r *Repository) GetRecord(ctx context.Context, id uuid.UUID) (*core.EmbeddedRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT seq, id, content, vector, metadata, inserted_at
		 FROM transcript_vectors WHERE id = ?`, id.String())
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, storage.Retrieval(err)
	}
	return record, nil
}

// ForEach pages through the table in seq order. Each page's rows are closed
// before fn runs.
func (r *Repository) ForEach(ctx context.Context, batchSize int, fn func([]*core.EmbeddedRecord) error) error {
	if err := storage.ValidateBatchSize(batchSize); err != nil {
		return err
	}

	var after uint64
	for {
		page, err := r.page(ctx, after, batchSize)
		if err != nil {
			return storage.Retrieval(err)
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		after = page[len(page)-1].Seq
	}
}

func (r *Repository) page(ctx context.Context, after uint64, limit int) ([]*core.EmbeddedRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, id, content, vector, metadata, inserted_at
		 FROM transcript_vectors WHERE seq > ? ORDER BY seq LIMIT ?`,
		int64(after), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var page []*core.EmbeddedRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		page = append(page, record)
	}
	return page, rows.Err()
}

// DeleteSource removes every record of one source document.
func (r *Repository) DeleteSource(ctx context.Context, sourceID string) (int, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	res, err := r.db.ExecContext(ctx, `DELETE FROM transcript_vectors WHERE source_id = ?`, sourceID)
	if err != nil {
		return 0, storage.Retrieval(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storage.Retrieval(err)
	}
	return int(n), nil
}

// Count returns the number of stored records.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transcript_vectors`).Scan(&n); err != nil {
		return 0, storage.Retrieval(err)
	}
	return n, nil
}

// Dimensions returns the vector length fixed by the first write.
func (r *Repository) Dimensions(ctx context.Context) (int, error) {
	dims, err := r.dimensions(ctx)
	return dims, storage.Retrieval(err)
}

func (r *Repository) dimensions(ctx context.Context) (int, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM store_meta WHERE key = ?`, dimensionsMetaKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(value)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*core.EmbeddedRecord, error) {
	var (
		record       core.EmbeddedRecord
		seq          int64
		id           string
		vectorBlob   []byte
		metadataJSON string
	)
	if err := s.Scan(&seq, &id, &record.Content, &vectorBlob, &metadataJSON, &record.InsertedAt); err != nil {
		return nil, err
	}

	var err error
	if record.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	if record.Vector, err = storage.UnmarshalVector(vectorBlob); err != nil {
		return nil, err
	}
	if record.Metadata, err = storage.UnmarshalMetadata(metadataJSON); err != nil {
		return nil, err
	}
	record.Seq = uint64(seq)
	record.InsertedAt = record.InsertedAt.UTC()
	return &record, nil
}
