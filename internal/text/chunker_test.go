package text

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunk(t *testing.T) {
	t.Run("Basic Prose", func(t *testing.T) {
		text := "This is a simple paragraph about movies."
		chunks := Chunk(text, 100, 0)
		assert.Len(t, chunks, 1)
		assert.Equal(t, text, chunks[0])
	})

	t.Run("Empty", func(t *testing.T) {
		assert.Empty(t, Chunk("   \n\n  ", 100, 0))
		assert.Empty(t, Chunk("something real here", 0, 0))
	})

	t.Run("Paragraphs Packed", func(t *testing.T) {
		p1 := "The Matrix is a 1999 science fiction film."
		p2 := "It was written and directed by the Wachowskis."
		chunks := Chunk(p1+"\n\n\n\n"+p2, 100, 0)
		assert.Equal(t, []string{p1 + "\n\n" + p2}, chunks)
	})

	t.Run("Paragraphs Split", func(t *testing.T) {
		p1 := strings.Repeat("alpha ", 10)
		p2 := strings.Repeat("beta ", 10)
		// 20 tokens = 80 chars: one paragraph per chunk
		chunks := Chunk(p1+"\n\n"+p2, 20, 0)
		assert.Len(t, chunks, 2)
		assert.Contains(t, chunks[0], "alpha")
		assert.NotContains(t, chunks[0], "beta")
		assert.Contains(t, chunks[1], "beta")
	})

	t.Run("Large Paragraph Split By Words", func(t *testing.T) {
		para := strings.Repeat("word ", 100)
		chunks := Chunk(para, 10, 0)
		assert.Greater(t, len(chunks), 1)
		for _, c := range chunks {
			assert.LessOrEqual(t, len(c), 40)
		}
	})

	t.Run("Overlong Word", func(t *testing.T) {
		chunks := Chunk(strings.Repeat("x", 110), 10, 0)
		assert.Len(t, chunks, 3)
		assert.Equal(t, strings.Repeat("x", 40), chunks[0])
	})

	t.Run("Overlap", func(t *testing.T) {
		p1 := "first paragraph carries trailing context forward"
		p2 := "second paragraph follows it closely enough here"
		chunks := Chunk(p1+"\n\n"+p2, 16, 4)
		assert.Len(t, chunks, 2)
		assert.True(t, strings.HasPrefix(chunks[1], "context forward\n\n"), chunks[1])
		assert.Contains(t, chunks[1], p2)
	})

	t.Run("Noise Filtered", func(t *testing.T) {
		text := "Home\n\n" + strings.Repeat("real content ", 10) + "\n\n© 2024 Movies Inc. All rights reserved."
		chunks := Chunk(text, 40, 0)
		assert.Len(t, chunks, 1)
		assert.Contains(t, chunks[0], "real content")
	})
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a b\n\nc", Normalize("  a \t  b\r\n\r\n\r\n\r\nc  "))
}

func TestIsNoiseChunk(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"empty", "   ", true},
		{"menu label", "Sign in", true},
		{"cookie banner", "We use cookies to improve your experience.", true},
		{"copyright", "Copyright © 2024", true},
		{"sentence", "Keanu Reeves starred as Neo in The Matrix.", false},
		{"long legal", strings.Repeat("privacy policy text ", 20), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNoiseChunk(tt.content))
		})
	}
}
