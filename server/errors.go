package server

import (
	"fmt"

	"github.com/poiesic/transcriptlens/core"
)

// ErrIncompleteFactory is returned when a service factory is missing.
var ErrIncompleteFactory = fmt.Errorf("%w: embedder, generator and store factories are required", core.ErrConfiguration)

// ErrInvalidBody is returned when the request body is not a JSON object with
// a question.
var ErrInvalidBody = fmt.Errorf("%w: invalid request body", core.ErrValidation)
