package storage

import (
	"encoding/json"
	"reflect"

	"github.com/poiesic/transcriptlens/core"
)

// Filter restricts a search to records whose metadata contains every
// key/value pair. A nil or empty filter matches everything.
type Filter map[string]any

// Matches reports whether metadata satisfies the filter. Values are compared
// after a JSON round trip so that 3, int64(3) and float64(3) are equal.
func (f Filter) Matches(metadata core.Metadata) bool {
	for key, want := range f {
		got, ok := metadata[key]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(normalize(want), normalize(got)) {
			return false
		}
	}
	return true
}

func normalize(v any) any {
	switch v.(type) {
	case string, bool, float64, nil:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
