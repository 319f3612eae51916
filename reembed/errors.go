package reembed

import (
	"errors"
	"fmt"

	"github.com/poiesic/transcriptlens/core"
)

var (
	// ErrSameStore is returned when source and target are the same store.
	// Rewriting in place would mix vectors of different models.
	ErrSameStore = fmt.Errorf("%w: source and target store must differ", core.ErrConfiguration)

	// ErrTargetNotEmpty is returned when the target store already holds records.
	ErrTargetNotEmpty = fmt.Errorf("%w: target store is not empty", core.ErrConfiguration)

	// ErrEmbeddingCountMismatch is returned when the embedder returns a
	// different number of vectors than texts it was given.
	ErrEmbeddingCountMismatch = errors.New("embedding count mismatch")
)
