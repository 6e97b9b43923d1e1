// Package text splits extracted page text into embedding-sized chunks.
package text

import (
	"regexp"
	"strings"
)

// Approximate characters per token for budget estimates.
const charsPerToken = 4

var (
	blankLines = regexp.MustCompile(`\n{3,}`)
	spaceRuns  = regexp.MustCompile(`[ \t]+`)
)

// Normalize collapses runs of blanks so paragraph boundaries are exactly "\n\n".
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spaceRuns.ReplaceAllString(s, " ")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// IsNoiseChunk identifies chunks that are too low-value to embed.
// Borderline chunks are kept.
func IsNoiseChunk(content string) bool {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) == 0 {
		return true
	}

	// Menu labels such as "Home" or "Sign in"
	words := strings.Fields(trimmed)
	if len(trimmed) < 30 && len(words) <= 3 && !strings.Contains(trimmed, "\n") {
		return true
	}

	lower := strings.ToLower(trimmed)
	if len(trimmed) < 200 {
		for _, marker := range []string{"©", "all rights reserved", "terms of service", "privacy policy", "we use cookies", "accept cookies"} {
			if strings.Contains(lower, marker) {
				return true
			}
		}
	}

	return false
}

// Chunk splits text on paragraphs, then lines, then words so that no chunk
// exceeds maxTokens. Consecutive chunks share up to overlap tokens of
// trailing context. Noise chunks are dropped.
func Chunk(text string, maxTokens, overlap int) []string {
	text = Normalize(text)
	if text == "" || maxTokens <= 0 {
		return nil
	}
	maxChars := maxTokens * charsPerToken
	overlapChars := overlap * charsPerToken
	if overlapChars >= maxChars {
		overlapChars = maxChars / 2
	}

	var pieces []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		pieces = append(pieces, splitPiece(para, maxChars)...)
	}

	var (
		chunks  []string
		current strings.Builder
	)
	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, current.String())
		tail := overlapTail(current.String(), overlapChars)
		current.Reset()
		current.WriteString(tail)
	}

	for _, p := range pieces {
		if current.Len() > 0 && current.Len()+len(p)+2 > maxChars {
			flush()
			// The carried tail alone might not leave room.
			if current.Len()+len(p)+2 > maxChars {
				current.Reset()
			}
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}

	filtered := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if !IsNoiseChunk(c) {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

// splitPiece breaks a paragraph that is over budget into lines, then words.
func splitPiece(para string, maxChars int) []string {
	if len(para) <= maxChars {
		return []string{para}
	}

	var (
		out     []string
		current strings.Builder
	)
	emit := func() {
		if current.Len() > 0 {
			out = append(out, current.String())
			current.Reset()
		}
	}

	for _, line := range strings.Split(para, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if current.Len()+len(line)+1 <= maxChars {
			if current.Len() > 0 {
				current.WriteString("\n")
			}
			current.WriteString(line)
			continue
		}
		emit()
		if len(line) <= maxChars {
			current.WriteString(line)
			continue
		}
		for _, word := range strings.Fields(line) {
			if len(word) > maxChars {
				emit()
				for len(word) > maxChars {
					out = append(out, word[:maxChars])
					word = word[maxChars:]
				}
			}
			if current.Len()+len(word)+1 > maxChars {
				emit()
			}
			if current.Len() > 0 {
				current.WriteString(" ")
			}
			current.WriteString(word)
		}
	}
	emit()
	return out
}

// overlapTail returns at most n trailing characters of s, starting on a word
// boundary. A chunk no longer than n carries nothing forward.
func overlapTail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return ""
	}
	tail := s[len(s)-n:]
	if i := strings.IndexAny(tail, " \n"); i >= 0 {
		tail = tail[i+1:]
	}
	return strings.TrimSpace(tail)
}
