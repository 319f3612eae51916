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
	"fmt"
	"strings"
)

// ValidateQuestion rejects blank questions before any backend is contacted.
func ValidateQuestion(question string) error {
	if strings.TrimSpace(question) == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyQuestion)
	}
	return nil
}

// ValidateChunkParams checks that size and overlap describe a window that
// always advances.
//
// Validation rules:
//   - size must be positive
//   - overlap must be positive and strictly smaller than size
func ValidateChunkParams(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: %w: size %d must be positive", ErrConfiguration, ErrInvalidChunkParams, size)
	}
	if overlap <= 0 || overlap >= size {
		return fmt.Errorf("%w: %w: overlap %d must be in (0, %d)", ErrConfiguration, ErrInvalidChunkParams, overlap, size)
	}
	return nil
}

// ValidateComplaint validates a Complaint decoded from model output.
//
// Validation rules:
//   - Name must not be blank
//   - Frequency must be at least 1
func ValidateComplaint(c *Complaint) error {
	if c == nil {
		return fmt.Errorf("%w: complaint is nil", ErrInvalidComplaint)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidComplaint, ErrEmptyComplaintName)
	}
	if c.Frequency < 1 {
		return fmt.Errorf("%w: %w: got %d", ErrInvalidComplaint, ErrInvalidFrequency, c.Frequency)
	}
	return nil
}

// ValidateDimensions checks that vector has exactly want components.
// A zero want accepts any non-empty vector.
func ValidateDimensions(vector []float32, want int) error {
	if len(vector) == 0 {
		return ErrEmptyVector
	}
	if want > 0 && len(vector) != want {
		return fmt.Errorf("%w: %w: expected %d, got %d", ErrConfiguration, ErrDimensionMismatch, want, len(vector))
	}
	return nil
}
