package core

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"
)

// Metadata keys written by the ingestion pipeline.
const (
	MetaSourceID    = "source_id"
	MetaIndex       = "index"
	MetaFilename    = "filename"
	MetaSource      = "source"
	MetaChunkIndex  = "chunk_index"
	MetaTotalChunks = "total_chunks"
	MetaContentHash = "content_hash"
)

// recordNamespace scopes name-based record IDs so they never collide with
// UUIDs minted for other purposes.
var recordNamespace = uuid.MustParse("6f1c2a4e-93b5-5d0e-8a61-7c2f0e4b9d13")

// Chunk is a contiguous slice of a source document.
type Chunk struct {
	Content  string
	SourceID string
	Index    int
}

// Metadata is a JSON-compatible map attached to every stored record.
type Metadata map[string]any

// EmbeddedRecord is a chunk paired with its embedding as persisted by the store.
type EmbeddedRecord struct {
	ID         uuid.UUID
	Content    string
	Vector     []float32
	Metadata   Metadata
	Seq        uint64    // Store-assigned write sequence, higher is more recent
	InsertedAt time.Time // When the record was last written
}

// RetrievedRecord is a stored record annotated with its similarity to a query.
type RetrievedRecord struct {
	EmbeddedRecord
	Similarity float32
}

// Complaint is one recurring complaint category extracted by the model.
type Complaint struct {
	Name      string `json:"naam"`
	Frequency int    `json:"frequentie"`
	Summary   string `json:"samenvatting"`
}

// AnalysisResult is the outcome of a single query.
type AnalysisResult struct {
	Question       string
	Complaints     []Complaint
	SourceSnippets []string
}

// ContentHash returns a 64-bit BLAKE2b fingerprint of the content.
func ContentHash(content string) uint64 {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(content))
	return binary.LittleEndian.Uint64(h.Sum(nil))
}

// RecordID derives the stable identifier of a chunk from its source, position
// and content. Writing the same chunk twice yields the same ID.
func RecordID(sourceID string, index int, content string) uuid.UUID {
	name := sourceID + "|" + strconv.Itoa(index) + "|" + strconv.FormatUint(ContentHash(content), 16)
	return uuid.NewSHA1(recordNamespace, []byte(name))
}

// NewEmbeddedRecord builds a record for a chunk and its vector. The chunk's
// source and index are always recorded in the metadata.
func NewEmbeddedRecord(chunk Chunk, vector []float32, metadata Metadata) *EmbeddedRecord {
	meta := make(Metadata, len(metadata)+3)
	for k, v := range metadata {
		meta[k] = v
	}
	meta[MetaSourceID] = chunk.SourceID
	meta[MetaIndex] = chunk.Index
	meta[MetaContentHash] = strconv.FormatUint(ContentHash(chunk.Content), 16)

	return &EmbeddedRecord{
		ID:       RecordID(chunk.SourceID, chunk.Index, chunk.Content),
		Content:  chunk.Content,
		Vector:   vector,
		Metadata: meta,
	}
}

// String returns the metadata value for key as a string, or "" when absent.
func (m Metadata) String(key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the metadata value for key as an int. Values decoded from JSON
// arrive as float64 and are converted.
func (m Metadata) Int(key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
