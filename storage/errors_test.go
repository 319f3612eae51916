package storage

import (
	"errors"
	"testing"

	"github.com/poiesic/transcriptlens/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBatchSize(t *testing.T) {
	assert.NoError(t, ValidateBatchSize(1))
	assert.NoError(t, ValidateBatchSize(MaxBatchSize))
	assert.ErrorIs(t, ValidateBatchSize(0), core.ErrConfiguration)
	assert.ErrorIs(t, ValidateBatchSize(MaxBatchSize+1), ErrInvalidBatchSize)
}

func TestValidateK(t *testing.T) {
	assert.NoError(t, ValidateK(5))
	assert.ErrorIs(t, ValidateK(0), core.ErrValidation)
	assert.ErrorIs(t, ValidateK(-1), ErrInvalidQuery)
}

func TestRetrieval(t *testing.T) {
	assert.Nil(t, Retrieval(nil))

	disk := errors.New("disk full")
	assert.ErrorIs(t, Retrieval(disk), core.ErrRetrieval)
	assert.ErrorIs(t, Retrieval(disk), disk)

	cfg := core.ValidateDimensions([]float32{1}, 2)
	assert.Equal(t, cfg, Retrieval(cfg))
}

func TestCheckDimensions(t *testing.T) {
	records := []*core.EmbeddedRecord{
		{Vector: []float32{1, 2}},
		{Vector: []float32{3, 4}},
	}

	dims, err := CheckDimensions(records, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, dims)

	_, err = CheckDimensions(records, 3)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)

	_, err = CheckDimensions(append(records, &core.EmbeddedRecord{Vector: []float32{1}}), 0)
	assert.ErrorIs(t, err, core.ErrConfiguration)

	_, err = CheckDimensions([]*core.EmbeddedRecord{{}}, 0)
	assert.ErrorIs(t, err, core.ErrEmptyVector)
}
