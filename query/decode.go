package query

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/poiesic/transcriptlens/core"
)

// analysisPayload mirrors the JSON object the model is asked to produce.
// Complaints is a pointer so a missing field can be told apart from an
// empty list.
type analysisPayload struct {
	Complaints *[]core.Complaint `json:"klachten"`
}

// DecodeAnalysis extracts and validates the complaints from raw model
// output. An empty klachten list is valid.
func DecodeAnalysis(raw string) ([]core.Complaint, error) {
	object, ok := extractObject(stripCodeFences(raw))
	if !ok {
		return nil, ErrNoJSONObject
	}

	var payload analysisPayload
	if err := json.Unmarshal([]byte(object), &payload); err != nil {
		payload = analysisPayload{}
		if repairErr := json.Unmarshal([]byte(repairJSON(object)), &payload); repairErr != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	}
	if payload.Complaints == nil {
		return nil, ErrMissingComplaints
	}

	complaints := *payload.Complaints
	for i := range complaints {
		complaints[i].Name = strings.TrimSpace(complaints[i].Name)
		complaints[i].Summary = strings.TrimSpace(complaints[i].Summary)
		if err := core.ValidateComplaint(&complaints[i]); err != nil {
			return nil, fmt.Errorf("klacht %d: %w", i+1, err)
		}
	}
	if complaints == nil {
		complaints = []core.Complaint{}
	}
	return complaints, nil
}

// stripCodeFences removes a surrounding markdown code fence such as
// ```json ... ``` if present.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop the info string, e.g. "json"
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

// extractObject returns the first balanced JSON object in s. Braces inside
// strings are ignored. An object that is never closed is returned up to the
// last closing brace, leaving the decoder to report the problem.
func extractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}

	end := strings.LastIndexByte(s, '}')
	if end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// repairJSON fixes the formatting mistakes language models commonly make:
// trailing commas before a closing bracket, keys without quotes, and keys
// missing only their opening quote (`{naam": "x"}`).
func repairJSON(s string) string {
	src := []rune(s)
	fixed := make([]rune, 0, len(src)+32)

	inString := false
	escaped := false
	for i := 0; i < len(src); i++ {
		ch := src[i]

		if inString {
			fixed = append(fixed, ch)
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
			fixed = append(fixed, ch)
		case ',':
			next := skipSpace(src, i+1)
			if next < len(src) && (src[next] == '}' || src[next] == ']') {
				// Trailing comma
				continue
			}
			fixed = append(fixed, ch)
			i, fixed = quoteKey(src, i, fixed)
		case '{':
			fixed = append(fixed, ch)
			i, fixed = quoteKey(src, i, fixed)
		default:
			fixed = append(fixed, ch)
		}
	}

	return string(fixed)
}

// quoteKey looks at what follows the '{' or ',' at src[i]. If it is a bare
// identifier used as a key, the quoted key is appended to fixed and the index
// of its last consumed rune is returned. Otherwise nothing is consumed.
func quoteKey(src []rune, i int, fixed []rune) (int, []rune) {
	keyStart := skipSpace(src, i+1)
	if keyStart >= len(src) || !isKeyStart(src[keyStart]) {
		return i, fixed
	}
	keyEnd := keyStart
	for keyEnd < len(src) && isKeyPart(src[keyEnd]) {
		keyEnd++
	}

	switch {
	case keyEnd+1 < len(src) && src[keyEnd] == '"' && src[keyEnd+1] == ':':
		// Missing opening quote only; consume the existing closing quote.
		fixed = append(fixed, src[i+1:keyStart]...)
		fixed = append(fixed, '"')
		fixed = append(fixed, src[keyStart:keyEnd]...)
		fixed = append(fixed, '"')
		return keyEnd, fixed
	default:
		colon := skipSpace(src, keyEnd)
		if colon >= len(src) || src[colon] != ':' {
			return i, fixed
		}
		fixed = append(fixed, src[i+1:keyStart]...)
		fixed = append(fixed, '"')
		fixed = append(fixed, src[keyStart:keyEnd]...)
		fixed = append(fixed, '"')
		return keyEnd - 1, fixed
	}
}

func skipSpace(src []rune, i int) int {
	for i < len(src) && unicode.IsSpace(src[i]) {
		i++
	}
	return i
}

func isKeyStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isKeyPart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
