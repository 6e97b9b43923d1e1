package ontology

import (
	"context"
	"fmt"
	"strings"
)

// Completer returns a single JSON completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

const maxSampleChars = 12000

const detectPrompt = `You design knowledge graph ontologies.
Read the documents below and propose the entity types and relation types
needed to represent their facts. Use singular CamelCase labels for entities
and UPPER_SNAKE_CASE labels for relations. Every relation source and target
must be one of the entity labels.

Reply with JSON only, shaped as:
{"entities":[{"label":"...","description":"...","attributes":[{"name":"name","type":"string","unique":true,"required":true}]}],
 "relations":[{"label":"...","source":{"label":"..."},"target":{"label":"..."}}]}

Documents:
`

// Detect asks the model to propose an ontology from sample document text.
func Detect(ctx context.Context, c Completer, samples []string) (*Ontology, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples to detect from", ErrInvalid)
	}

	var b strings.Builder
	b.WriteString(detectPrompt)
	budget := maxSampleChars / len(samples)
	for i, s := range samples {
		if len(s) > budget {
			s = s[:budget]
		}
		fmt.Fprintf(&b, "\n--- document %d ---\n%s\n", i+1, s)
	}

	out, err := c.Complete(ctx, b.String())
	if err != nil {
		return nil, fmt.Errorf("detect ontology: %w", err)
	}
	return Parse([]byte(StripFences(out)))
}

// StripFences removes a surrounding markdown code fence, if any.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
