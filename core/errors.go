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


package core

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error leaving a pipeline wraps exactly one of these.
var (
	// ErrConfiguration indicates missing or inconsistent configuration.
	ErrConfiguration = errors.New("configuration error")

	// ErrEmbedding indicates the embedding service failed.
	ErrEmbedding = errors.New("embedding error")

	// ErrRetrieval indicates the vector store failed.
	ErrRetrieval = errors.New("retrieval error")

	// ErrGeneration indicates the generation service failed or never produced
	// output matching the result schema.
	ErrGeneration = errors.New("generation error")

	// ErrValidation indicates invalid caller input.
	ErrValidation = errors.New("validation error")
)

// Domain validation errors
var (
	// ErrEmptyQuestion indicates a blank question.
	ErrEmptyQuestion = errors.New("question cannot be empty")

	// ErrInvalidChunkParams indicates chunk size and overlap are inconsistent.
	ErrInvalidChunkParams = errors.New("invalid chunk parameters")

	// ErrDimensionMismatch indicates a vector whose length differs from the
	// dimensionality fixed for the store or model.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidComplaint indicates a Complaint failed validation.
	ErrInvalidComplaint = errors.New("invalid complaint")

	// ErrEmptyComplaintName indicates the complaint Name field is empty.
	ErrEmptyComplaintName = errors.New("complaint name cannot be empty")

	// ErrInvalidFrequency indicates a complaint frequency below one.
	ErrInvalidFrequency = errors.New("complaint frequency must be at least 1")

	// ErrEmptyVector indicates a record without an embedding.
	ErrEmptyVector = errors.New("vector cannot be empty")
)

// Kind names as reported at the service boundary.
const (
	KindConfiguration = "ConfigurationError"
	KindEmbedding     = "EmbeddingError"
	KindRetrieval     = "RetrievalError"
	KindGeneration    = "GenerationError"
	KindValidation    = "ValidationError"
	KindInternal      = "InternalError"
)

// KindOf reports the taxonomy name for err. Errors that carry no kind are
// reported as KindInternal.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrEmbedding):
		return KindEmbedding
	case errors.Is(err, ErrRetrieval):
		return KindRetrieval
	case errors.Is(err, ErrGeneration):
		return KindGeneration
	default:
		return KindInternal
	}
}

// EmbeddingError reports the failure to embed one item of a batch.
type EmbeddingError struct {
	Index int // Position of the offending text in the batch
	Err   error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding text %d: %v", e.Index, e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

func (e *EmbeddingError) Is(target error) bool {
	return target == ErrEmbedding
}

// BatchEmbeddingError aggregates per-item failures of a batch embedding call.
// Vectors for the items not listed were produced successfully.
type BatchEmbeddingError struct {
	Failures []*EmbeddingError
}

func (e *BatchEmbeddingError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("%d of batch failed to embed: %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *BatchEmbeddingError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Failed reports whether the item at index is among the failures.
func (e *BatchEmbeddingError) Failed(index int) bool {
	for _, f := range e.Failures {
		if f.Index == index {
			return true
		}
	}
	return false
}
