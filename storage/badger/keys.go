package badger

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// Key prefixes for different data types
const (
	recordPrefix      = "txrec:"
	recordSeqPrefix   = "txseq:"
	recordSeqName     = "txrecseq"
	dimensionsMetaKey = "txmeta:dims"
)

// makeRecordKey generates a key for a record by ID.
// Format: prefix + 16 byte UUID
func makeRecordKey(id uuid.UUID) []byte {
	buf := make([]byte, len(recordPrefix)+len(id))
	offset := copy(buf, recordPrefix)
	copy(buf[offset:], id[:])
	return buf
}

// makeRecordSeqKey generates a key for the write order index.
// Format: prefix + 8 byte sequence. BigEndian keeps lexicographic order
// equal to numeric order.
func makeRecordSeqKey(seq uint64) []byte {
	buf := make([]byte, len(recordSeqPrefix)+8)
	offset := copy(buf, recordSeqPrefix)
	binary.BigEndian.PutUint64(buf[offset:], seq)
	return buf
}

// seqFromKey extracts the sequence from a write order index key.
func seqFromKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(recordSeqPrefix):])
}

func encodeDimensions(dims int) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(dims))
	return buf
}

func decodeDimensions(val []byte) int {
	if len(val) != 4 {
		return 0
	}
	return int(binary.BigEndian.Uint32(val))
}
