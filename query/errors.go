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


package query

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreRequired is returned when a searcher is not provided.
	ErrStoreRequired = errors.New("vector store required")

	// ErrAIProviderRequired is returned when an AI provider is not provided.
	ErrAIProviderRequired = errors.New("AI provider required")

	// ErrUngroundable is returned when no generation attempt produced output
	// matching the analysis schema.
	ErrUngroundable = errors.New("model output could not be decoded into an analysis")

	// ErrNoJSONObject indicates model output without a JSON object.
	ErrNoJSONObject = errors.New("no JSON object in model output")

	// ErrMissingComplaints indicates a JSON object without a klachten list.
	ErrMissingComplaints = errors.New("klachten field missing")
)

// DecodeFailure describes one generation attempt whose output did not match
// the analysis schema.
type DecodeFailure struct {
	Attempt int    // 1-based attempt number
	Raw     string // Unmodified model output
	Err     error
}

func (f *DecodeFailure) Error() string {
	return fmt.Sprintf("attempt %d: %v", f.Attempt, f.Err)
}

func (f *DecodeFailure) Unwrap() error {
	return f.Err
}
