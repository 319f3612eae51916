package core

import (
	"testing"
)

func TestRecordID(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		index    int
		content  string
		wantSame bool
	}{
		{
			name:     "same chunk produces same ID",
			source:   "gesprek1.txt",
			index:    0,
			content:  "Klant belt over late levering.",
			wantSame: true,
		},
		{
			name:     "empty content",
			source:   "leeg.txt",
			index:    0,
			content:  "",
			wantSame: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id1 := RecordID(tt.source, tt.index, tt.content)
			id2 := RecordID(tt.source, tt.index, tt.content)

			if tt.wantSame && id1 != id2 {
				t.Errorf("RecordID() produced different IDs for same chunk: %s vs %s", id1, id2)
			}
		})
	}
}

func TestRecordID_Different(t *testing.T) {
	base := RecordID("a.txt", 0, "content")

	if base == RecordID("b.txt", 0, "content") {
		t.Errorf("RecordID() ignored the source")
	}
	if base == RecordID("a.txt", 1, "content") {
		t.Errorf("RecordID() ignored the index")
	}
	if base == RecordID("a.txt", 0, "other content") {
		t.Errorf("RecordID() ignored the content")
	}
}

func TestContentHash(t *testing.T) {
	if ContentHash("abc") != ContentHash("abc") {
		t.Errorf("ContentHash() is not deterministic")
	}
	if ContentHash("abc") == ContentHash("abd") {
		t.Errorf("ContentHash() collided on different content")
	}
}

func TestNewEmbeddedRecord(t *testing.T) {
	chunk := Chunk{Content: "hallo", SourceID: "a.txt", Index: 3}
	record := NewEmbeddedRecord(chunk, []float32{1, 0}, Metadata{MetaFilename: "a.txt", MetaIndex: 99})

	if record.ID != RecordID("a.txt", 3, "hallo") {
		t.Errorf("unexpected record ID %s", record.ID)
	}
	if got := record.Metadata.String(MetaSourceID); got != "a.txt" {
		t.Errorf("source_id = %q, want a.txt", got)
	}
	// The chunk position always wins over caller supplied metadata.
	if got, ok := record.Metadata.Int(MetaIndex); !ok || got != 3 {
		t.Errorf("index = %d, want 3", got)
	}
	if got := record.Metadata.String(MetaFilename); got != "a.txt" {
		t.Errorf("filename = %q, want a.txt", got)
	}
}

func TestMetadataAccessors(t *testing.T) {
	m := Metadata{"s": "x", "f": float64(4), "i": 5, "b": true}

	if m.String("s") != "x" || m.String("missing") != "" || m.String("b") != "true" {
		t.Errorf("unexpected String() results")
	}
	if v, ok := m.Int("f"); !ok || v != 4 {
		t.Errorf("Int(f) = %d, %v", v, ok)
	}
	if v, ok := m.Int("i"); !ok || v != 5 {
		t.Errorf("Int(i) = %d, %v", v, ok)
	}
	if _, ok := m.Int("s"); ok {
		t.Errorf("Int(s) should not convert a string")
	}
}
