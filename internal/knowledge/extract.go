package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"kgrag/internal/ontology"
	"kgrag/internal/retrieval"
)

type extraction struct {
	Triples []retrieval.Triple `json:"triples"`
}

// extract asks the model for triples chunk by chunk. Chunks whose extraction
// fails are logged and skipped; the source keeps the facts that did parse.
func (s *Service) extract(ctx context.Context, url string, chunks []string) []retrieval.Triple {
	seen := make(map[string]bool)
	var out []retrieval.Triple

	for i, chunk := range chunks {
		raw, err := s.Completer.Complete(ctx, BuildExtractionPrompt(s.Ontology, chunk))
		if err != nil {
			s.Logger.WarnContext(ctx, "triple extraction failed", "url", url, "chunk", i, "error", err)
			continue
		}

		triples, err := ParseTriples(raw)
		if err != nil {
			s.Logger.WarnContext(ctx, "unparseable extraction", "url", url, "chunk", i, "error", err)
			continue
		}

		for _, t := range FilterTriples(s.Ontology, triples) {
			key := strings.ToLower(t.Text())
			if seen[key] {
				continue
			}
			seen[key] = true
			t.Graph = s.opts.Graph
			t.URL = url
			out = append(out, t)
		}
	}
	return out
}

// ParseTriples decodes the model's JSON reply.
func ParseTriples(raw string) ([]retrieval.Triple, error) {
	var ex extraction
	if err := json.Unmarshal([]byte(ontology.StripFences(raw)), &ex); err != nil {
		return nil, fmt.Errorf("decode triples: %w", err)
	}
	return ex.Triples, nil
}

// FilterTriples keeps complete triples whose labels and relation the
// ontology declares.
func FilterTriples(o *ontology.Ontology, triples []retrieval.Triple) []retrieval.Triple {
	kept := triples[:0:0]
	for _, t := range triples {
		t.Subject = strings.TrimSpace(t.Subject)
		t.Object = strings.TrimSpace(t.Object)
		if t.Subject == "" || t.Object == "" {
			continue
		}
		if !o.AllowsRelation(t.SubjectLabel, t.Relation, t.ObjectLabel) {
			continue
		}
		kept = append(kept, t)
	}
	return kept
}
