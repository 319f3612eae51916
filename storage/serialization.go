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
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/transcriptlens/core"
)

// recordFormat is written first so the layout can evolve.
const recordFormat = 1

// vectorMUS serializes a []float32 as a varint length followed by fixed
// width components.
var vectorMUS = vectorSer{}

type vectorSer struct{}

func (vectorSer) Size(v []float32) (size int) {
	size = varint.Int.Size(len(v))
	for _, f := range v {
		size += raw.Float32.Size(f)
	}
	return
}

func (vectorSer) Marshal(v []float32, bs []byte) (n int) {
	n = varint.Int.Marshal(len(v), bs)
	for _, f := range v {
		n += raw.Float32.Marshal(f, bs[n:])
	}
	return
}

func (vectorSer) Unmarshal(bs []byte) (v []float32, n int, err error) {
	length, n, err := varint.Int.Unmarshal(bs)
	if err != nil {
		return
	}
	if length < 0 || length > (len(bs)-n)/4 {
		return nil, n, fmt.Errorf("vector length %d exceeds data", length)
	}
	v = make([]float32, length)
	for i := range v {
		var m int
		v[i], m, err = raw.Float32.Unmarshal(bs[n:])
		n += m
		if err != nil {
			return
		}
	}
	return
}

// recordMUS serializes an EmbeddedRecord. Metadata travels as JSON text
// because its values are arbitrary JSON.
var recordMUS = recordSer{}

type recordSer struct{}

type encodedRecord struct {
	id       string
	metadata string
}

func encode(r *core.EmbeddedRecord) (encodedRecord, error) {
	meta := []byte("{}")
	if len(r.Metadata) > 0 {
		var err error
		meta, err = json.Marshal(r.Metadata)
		if err != nil {
			return encodedRecord{}, err
		}
	}
	return encodedRecord{id: r.ID.String(), metadata: string(meta)}, nil
}

func (recordSer) Size(r *core.EmbeddedRecord, e encodedRecord) int {
	return varint.Int.Size(recordFormat) +
		ord.String.Size(e.id) +
		ord.String.Size(r.Content) +
		varint.Uint64.Size(r.Seq) +
		varint.Int64.Size(r.InsertedAt.UnixMicro()) +
		vectorMUS.Size(r.Vector) +
		ord.String.Size(e.metadata)
}

func (recordSer) Marshal(r *core.EmbeddedRecord, e encodedRecord, bs []byte) (n int) {
	n = varint.Int.Marshal(recordFormat, bs)
	n += ord.String.Marshal(e.id, bs[n:])
	n += ord.String.Marshal(r.Content, bs[n:])
	n += varint.Uint64.Marshal(r.Seq, bs[n:])
	n += varint.Int64.Marshal(r.InsertedAt.UnixMicro(), bs[n:])
	n += vectorMUS.Marshal(r.Vector, bs[n:])
	n += ord.String.Marshal(e.metadata, bs[n:])
	return
}

func (recordSer) Unmarshal(bs []byte) (*core.EmbeddedRecord, error) {
	format, n, err := varint.Int.Unmarshal(bs)
	if err != nil {
		return nil, err
	}
	if format != recordFormat {
		return nil, fmt.Errorf("unknown record format %d", format)
	}

	var (
		m       int
		r       core.EmbeddedRecord
		id      string
		micros  int64
		rawMeta string
	)
	if id, m, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return nil, err
	}
	n += m
	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if r.Content, m, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return nil, err
	}
	n += m
	if r.Seq, m, err = varint.Uint64.Unmarshal(bs[n:]); err != nil {
		return nil, err
	}
	n += m
	if micros, m, err = varint.Int64.Unmarshal(bs[n:]); err != nil {
		return nil, err
	}
	n += m
	r.InsertedAt = time.UnixMicro(micros).UTC()
	if r.Vector, m, err = vectorMUS.Unmarshal(bs[n:]); err != nil {
		return nil, err
	}
	n += m
	if rawMeta, _, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return nil, err
	}
	if err = json.Unmarshal([]byte(rawMeta), &r.Metadata); err != nil {
		return nil, err
	}
	return &r, nil
}

// MarshalRecord serializes an EmbeddedRecord to bytes.
func MarshalRecord(record *core.EmbeddedRecord) ([]byte, error) {
	e, err := encode(record)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	buf := make([]byte, recordMUS.Size(record, e))
	recordMUS.Marshal(record, e, buf)
	return buf, nil
}

// UnmarshalRecord deserializes an EmbeddedRecord from bytes.
func UnmarshalRecord(data []byte) (*core.EmbeddedRecord, error) {
	record, err := recordMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return record, nil
}

// MarshalVector serializes a vector to bytes.
func MarshalVector(v []float32) []byte {
	buf := make([]byte, vectorMUS.Size(v))
	vectorMUS.Marshal(v, buf)
	return buf
}

// UnmarshalVector deserializes a vector from bytes.
func UnmarshalVector(data []byte) ([]float32, error) {
	v, _, err := vectorMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return v, nil
}

// MarshalMetadata renders metadata as JSON text.
func MarshalMetadata(m core.Metadata) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return string(data), nil
}

// UnmarshalMetadata parses metadata JSON text.
func UnmarshalMetadata(s string) (core.Metadata, error) {
	var m core.Metadata
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return m, nil
}
