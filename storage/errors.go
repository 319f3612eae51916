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


package storage

import (
	"errors"
	"fmt"

	"github.com/poiesic/transcriptlens/core"
)

var (
	// ErrNotFound indicates that the requested record was not found.
	ErrNotFound = errors.New("record not found")

	// ErrStorageClosed indicates that the storage backend is closed.
	ErrStorageClosed = errors.New("storage is closed")

	// ErrInvalidQuery indicates invalid query parameters.
	ErrInvalidQuery = errors.New("invalid query parameters")

	// ErrSerializationFailed indicates a serialization/deserialization failure.
	ErrSerializationFailed = errors.New("serialization failed")

	// ErrPartialWrite indicates that some batches of an upsert failed.
	ErrPartialWrite = errors.New("partial write")

	// ErrInvalidBatchSize indicates a batch size outside [1, MaxBatchSize].
	ErrInvalidBatchSize = errors.New("invalid batch size")
)

// Batch size limits shared by all backends.
const (
	DefaultBatchSize = 10
	MaxBatchSize     = 1000
)

// Similarity floors for Search. Repositories built without a floor return
// every matching record; applications open stores with DefaultMinSimilarity
// so unrelated chunks do not pad the top k.
const (
	NoSimilarityFloor    float32 = -1
	DefaultMinSimilarity float32 = 0.2
)

// ValidateBatchSize checks that n is an acceptable write batch size.
func ValidateBatchSize(n int) error {
	if n < 1 || n > MaxBatchSize {
		return fmt.Errorf("%w: %w: %d not in [1, %d]", core.ErrConfiguration, ErrInvalidBatchSize, n, MaxBatchSize)
	}
	return nil
}

// ValidateK checks the result count requested from Search.
func ValidateK(k int) error {
	if k <= 0 {
		return fmt.Errorf("%w: %w: k must be positive, got %d", core.ErrValidation, ErrInvalidQuery, k)
	}
	return nil
}

// Retrieval wraps err as a retrieval failure unless it already carries a
// configuration or validation kind.
func Retrieval(err error) error {
	if err == nil || errors.Is(err, core.ErrConfiguration) || errors.Is(err, core.ErrValidation) || errors.Is(err, core.ErrRetrieval) {
		return err
	}
	return fmt.Errorf("%w: %w", core.ErrRetrieval, err)
}

// CheckDimensions verifies every record carries a vector of length want.
// A zero want adopts the length of the first record. Returns the effective
// dimensionality.
func CheckDimensions(records []*core.EmbeddedRecord, want int) (int, error) {
	for _, r := range records {
		if want == 0 {
			want = len(r.Vector)
		}
		if err := core.ValidateDimensions(r.Vector, want); err != nil {
			if errors.Is(err, core.ErrEmptyVector) {
				return 0, fmt.Errorf("%w: record %s: %w", core.ErrConfiguration, r.ID, err)
			}
			return 0, fmt.Errorf("record %s: %w", r.ID, err)
		}
	}
	return want, nil
}
