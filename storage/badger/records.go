package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/poiesic/transcriptlens/core"
	"github.com/poiesic/transcriptlens/storage"
)

// RecordRepository implements storage.RecordRepository for BadgerDB.
type RecordRepository struct {
	backend       *Backend
	ownsBackend   bool
	seq           *badger.Sequence
	batchSize     int
	minSimilarity float32
	logger        *slog.Logger
	closed        atomic.Bool

	// writeMu serializes upserts so the dimension check and the write order
	// sequence observe a consistent store.
	writeMu sync.Mutex

	// beforeCommit is called with each batch right before its transaction
	// commits. Tests use it to inject failures.
	beforeCommit func(batch []*core.EmbeddedRecord) error
}

var _ storage.RecordRepository = (*RecordRepository)(nil)

// Option configures a RecordRepository.
type Option func(*RecordRepository) error

// WithBatchSize sets how many records are written per transaction.
func WithBatchSize(n int) Option {
	return func(r *RecordRepository) error {
		if err := storage.ValidateBatchSize(n); err != nil {
			return err
		}
		r.batchSize = n
		return nil
	}
}

// WithMinSimilarity sets the similarity floor applied to every search.
func WithMinSimilarity(min float32) Option {
	return func(r *RecordRepository) error {
		if min < -1 || min > 1 {
			return fmt.Errorf("%w: min similarity %v not in [-1, 1]", core.ErrConfiguration, min)
		}
		r.minSimilarity = min
		return nil
	}
}

// WithLogger sets the logger used by the repository.
func WithLogger(logger *slog.Logger) Option {
	return func(r *RecordRepository) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		r.logger = logger
		return nil
	}
}

// NewRecordRepository creates a RecordRepository on an open backend.
// The backend stays owned by the caller.
func NewRecordRepository(backend *Backend, opts ...Option) (*RecordRepository, error) {
	r := &RecordRepository{
		backend:       backend,
		batchSize:     storage.DefaultBatchSize,
		minSimilarity: storage.NoSimilarityFloor,
		logger:        slog.Default().With("component", "badger-records"),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	seq, err := backend.GetSequence(recordSeqName)
	if err != nil {
		return nil, err
	}
	r.seq = seq
	return r, nil
}

// OpenRecordRepository opens a BadgerDB database at path and returns a
// repository that closes it together with itself.
func OpenRecordRepository(path string, opts ...Option) (*RecordRepository, error) {
	return openOwned(path, false, opts...)
}

func openOwned(path string, inMemory bool, opts ...Option) (*RecordRepository, error) {
	backend, err := OpenBackend(path, inMemory)
	if err != nil {
		return nil, fmt.Errorf("%w: opening badger store: %w", core.ErrRetrieval, err)
	}
	r, err := NewRecordRepository(backend, opts...)
	if err != nil {
		backend.Close()
		return nil, err
	}
	r.ownsBackend = true
	return r, nil
}

// Close releases the write order sequence, and the backend when the
// repository opened it. Closing twice is a no-op.
func (r *RecordRepository) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	err := r.seq.Release()
	if r.ownsBackend {
		err = errors.Join(err, r.backend.Close())
	}
	return err
}

// IsClosed reports whether Close has been called.
func (r *RecordRepository) IsClosed() bool {
	return r.closed.Load()
}

// Upsert writes records in batches, one transaction per batch.
func (r *RecordRepository) Upsert(ctx context.Context, records ...*core.EmbeddedRecord) (*storage.UpsertResult, error) {
	result := &storage.UpsertResult{}
	if len(records) == 0 {
		return result, nil
	}
	if r.backend.IsClosed() {
		return result, storage.Retrieval(storage.ErrStorageClosed)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	stored, err := r.dimensions()
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

		err := ctx.Err()
		if err == nil {
			err = r.writeBatch(batch, dims, stored == 0)
		}
		if err != nil {
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

func (r *RecordRepository) writeBatch(batch []*core.EmbeddedRecord, dims int, fixDimensions bool) error {
	now := time.Now().UTC()
	written := make([]core.EmbeddedRecord, len(batch))

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		if fixDimensions {
			if err := tx.Set([]byte(dimensionsMetaKey), encodeDimensions(dims)); err != nil {
				return err
			}
		}

		for i, record := range batch {
			key := makeRecordKey(record.ID)

			old, err := r.readRecord(tx, key)
			if err != nil {
				return err
			}
			if old != nil {
				if err := tx.Delete(makeRecordSeqKey(old.Seq)); err != nil {
					return err
				}
			}

			seq, err := r.nextSeq()
			if err != nil {
				return err
			}

			written[i] = *record
			written[i].Seq = seq
			written[i].InsertedAt = now

			value, err := storage.MarshalRecord(&written[i])
			if err != nil {
				return err
			}
			if err := tx.Set(key, value); err != nil {
				return err
			}
			if err := tx.Set(makeRecordSeqKey(seq), record.ID[:]); err != nil {
				return err
			}
		}

		if r.beforeCommit != nil {
			if err := r.beforeCommit(batch); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return err
	}

	for i, record := range batch {
		record.Seq = written[i].Seq
		record.InsertedAt = written[i].InsertedAt
	}
	return nil
}

func (r *RecordRepository) nextSeq() (uint64, error) {
	seq, err := r.seq.Next()
	if err != nil {
		return 0, err
	}
	// BadgerDB sequences can return 0 on first call, so we skip it
	if seq == 0 {
		return r.seq.Next()
	}
	return seq, nil
}

// Search ranks every stored record against vector.
func (r *RecordRepository) Search(ctx context.Context, vector []float32, k int, filter storage.Filter) ([]*core.RetrievedRecord, error) {
	if err := storage.ValidateK(k); err != nil {
		return nil, err
	}
	if r.backend.IsClosed() {
		return nil, storage.Retrieval(storage.ErrStorageClosed)
	}

	dims, err := r.dimensions()
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

	ranker := storage.NewRanker(vector, filter, r.minSimilarity)
	err = r.backend.WithTx(func(tx *badger.Txn) error {
		it := tx.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(recordPrefix)
		scanned := 0
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			scanned++
			if scanned%256 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			var record *core.EmbeddedRecord
			err := it.Item().Value(func(val []byte) error {
				var err error
				record, err = storage.UnmarshalRecord(val)
				return err
			})
			if err != nil {
				return err
			}
			ranker.Offer(record)
		}
		return nil
	}, false)
	if err != nil {
		return nil, storage.Retrieval(err)
	}

	return ranker.Top(k), nil
}

// GetRecord retrieves a single record by ID.
func (r *RecordRepository) GetRecord(ctx context.Context, id uuid.UUID) (*core.EmbeddedRecord, error) {
	var record *core.EmbeddedRecord
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		record, err = r.readRecord(tx, makeRecordKey(id))
		return err
	}, false)
	if err != nil {
		return nil, storage.Retrieval(err)
	}
	if record == nil {
		return nil, storage.ErrNotFound
	}
	return record, nil
}

// ForEach walks the write order index one page per read transaction, so fn
// may write to the store between pages.
func (r *RecordRepository) ForEach(ctx context.Context, batchSize int, fn func([]*core.EmbeddedRecord) error) error {
	if err := storage.ValidateBatchSize(batchSize); err != nil {
		return err
	}

	from := makeRecordSeqKey(0)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var page []*core.EmbeddedRecord
		var lastSeq uint64
		err := r.backend.WithTx(func(tx *badger.Txn) error {
			it := tx.NewIterator(badger.IteratorOptions{Prefix: []byte(recordSeqPrefix)})
			defer it.Close()

			for it.Seek(from); it.Valid() && len(page) < batchSize; it.Next() {
				item := it.Item()
				lastSeq = seqFromKey(item.Key())
				idBytes, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				id, err := uuid.FromBytes(idBytes)
				if err != nil {
					return fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
				}
				record, err := r.readRecord(tx, makeRecordKey(id))
				if err != nil {
					return err
				}
				if record != nil {
					page = append(page, record)
				}
			}
			return nil
		}, false)
		if err != nil {
			return storage.Retrieval(err)
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		from = makeRecordSeqKey(lastSeq + 1)
	}
}

// DeleteSource removes every record of one source document.
func (r *RecordRepository) DeleteSource(ctx context.Context, sourceID string) (int, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	deleted := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		it := tx.NewIterator(badger.DefaultIteratorOptions)
		prefix := []byte(recordPrefix)

		var doomed []*core.EmbeddedRecord
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var record *core.EmbeddedRecord
			err := it.Item().Value(func(val []byte) error {
				var err error
				record, err = storage.UnmarshalRecord(val)
				return err
			})
			if err != nil {
				it.Close()
				return err
			}
			if record.Metadata.String(core.MetaSourceID) == sourceID {
				doomed = append(doomed, record)
			}
		}
		it.Close()

		for _, record := range doomed {
			if err := tx.Delete(makeRecordKey(record.ID)); err != nil {
				return err
			}
			if err := tx.Delete(makeRecordSeqKey(record.Seq)); err != nil {
				return err
			}
		}
		deleted = len(doomed)
		return tx.Commit()
	}, true)
	if err != nil {
		return 0, storage.Retrieval(err)
	}
	return deleted, nil
}

// Count returns the number of stored records.
func (r *RecordRepository) Count(ctx context.Context) (int, error) {
	count := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(recordSeqPrefix)
		it := tx.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	}, false)
	if err != nil {
		return 0, storage.Retrieval(err)
	}
	return count, nil
}

// Dimensions returns the vector length fixed by the first write.
func (r *RecordRepository) Dimensions(ctx context.Context) (int, error) {
	dims, err := r.dimensions()
	return dims, storage.Retrieval(err)
}

func (r *RecordRepository) dimensions() (int, error) {
	dims := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte(dimensionsMetaKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			dims = decodeDimensions(val)
			return nil
		})
	}, false)
	return dims, err
}

// readRecord returns nil without error when key is absent.
func (r *RecordRepository) readRecord(tx *badger.Txn, key []byte) (*core.EmbeddedRecord, error) {
	item, err := tx.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var record *core.EmbeddedRecord
	err = item.Value(func(val []byte) error {
		var err error
		record, err = storage.UnmarshalRecord(bytes.Clone(val))
		return err
	})
	return record, err
}
