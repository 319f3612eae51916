package chunker

import (
	"strings"
	"testing"

	"github.com/poiesic/transcriptlens/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reconstruct(chunks []core.Chunk, overlap int) string {
	var b strings.Builder
	for i, c := range chunks {
		if i == 0 {
			b.WriteString(c.Content)
			continue
		}
		b.WriteString(string([]rune(c.Content)[overlap:]))
	}
	return b.String()
}

func TestNew_InvalidParams(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
	}{
		{"zero size", 0, 0},
		{"zero overlap", 10, 0},
		{"overlap equals size", 5, 5},
		{"overlap exceeds size", 5, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.size, tt.overlap)
			require.Error(t, err)
			assert.Nil(t, c)
			assert.ErrorIs(t, err, core.ErrConfiguration)

			seq, err := Split("abc", "doc", tt.size, tt.overlap)
			require.Error(t, err)
			assert.Nil(t, seq)
		})
	}
}

func TestSplit_ShortDocument(t *testing.T) {
	c, err := New(500, 50)
	require.NoError(t, err)

	chunks := c.Collect("Klant belt over late levering.", "gesprek.txt")
	require.Len(t, chunks, 1)
	assert.Equal(t, "Klant belt over late levering.", chunks[0].Content)
	assert.Equal(t, "gesprek.txt", chunks[0].SourceID)
	assert.Equal(t, 0, chunks[0].Index)
}

func TestSplit_ExactWindow(t *testing.T) {
	c, err := New(4, 1)
	require.NoError(t, err)

	chunks := c.Collect("abcd", "doc")
	require.Len(t, chunks, 1)
	assert.Equal(t, "abcd", chunks[0].Content)
}

func TestSplit_Windows(t *testing.T) {
	c, err := New(4, 2)
	require.NoError(t, err)

	chunks := c.Collect("abcdefghi", "doc")
	contents := make([]string, len(chunks))
	for i, ch := range chunks {
		contents[i] = ch.Content
		assert.Equal(t, i, ch.Index)
	}
	// The final window is shorter and still emitted.
	assert.Equal(t, []string{"abcd", "cdef", "efgh", "ghi"}, contents)
}

func TestSplit_Reconstruction(t *testing.T) {
	documents := []string{
		strings.Repeat("Klant belt over late levering. ", 40),
		strings.Repeat("é☃ multibyte ", 17),
		"kort",
		"",
	}
	params := [][2]int{{500, 50}, {10, 3}, {7, 6}, {2, 1}}

	for _, doc := range documents {
		for _, p := range params {
			c, err := New(p[0], p[1])
			require.NoError(t, err)

			chunks := c.Collect(doc, "doc")
			require.NotEmpty(t, chunks)
			assert.Equal(t, doc, reconstruct(chunks, p[1]), "size=%d overlap=%d", p[0], p[1])

			for i, ch := range chunks {
				assert.LessOrEqual(t, len([]rune(ch.Content)), p[0])
				if i < len(chunks)-1 {
					assert.Len(t, []rune(ch.Content), p[0], "only the last window may be short")
				}
			}
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	doc := strings.Repeat("De monteur kwam niet opdagen. ", 30)
	seq, err := Split(doc, "a.txt", 50, 10)
	require.NoError(t, err)

	var first, second []core.Chunk
	for ch := range seq {
		first = append(first, ch)
	}
	for ch := range seq {
		second = append(second, ch)
	}
	assert.Equal(t, first, second)

	c, err := New(50, 10)
	require.NoError(t, err)
	assert.Equal(t, first, c.Collect(doc, "a.txt"))
}

func TestSplit_EarlyStop(t *testing.T) {
	c, err := New(3, 1)
	require.NoError(t, err)

	count := 0
	for range c.Split("abcdefghijklmnop", "doc") {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}
