package knowledge

import (
	"fmt"
	"strings"

	"kgrag/internal/ontology"
	"kgrag/internal/retrieval"
)

// SystemPrompt is the standing instruction of the answering chat session.
func SystemPrompt(o *ontology.Ontology) string {
	var b strings.Builder
	b.WriteString("You answer questions about a knowledge graph built from ingested web sources.\n")
	b.WriteString("Answer only from the facts and passages given with each question and from earlier turns of this conversation.\n")
	b.WriteString("If they do not contain the answer, say that you do not know. Keep answers short and factual.\n\n")
	b.WriteString(o.Prompt())
	return b.String()
}

// BuildQuestionPrompt wraps a question with its retrieved context.
func BuildQuestionPrompt(question string, res *retrieval.Result) string {
	var b strings.Builder

	if res.Empty() {
		b.WriteString("No facts or passages were found for this question.\n\n")
	}

	if res != nil && len(res.Facts) > 0 {
		b.WriteString("Facts:\n")
		for _, f := range res.Facts {
			fmt.Fprintf(&b, "- %s\n", f.Text())
		}
		b.WriteString("\n")
	}

	if res != nil && len(res.Chunks) > 0 {
		b.WriteString("Passages:\n")
		for i, c := range res.Chunks {
			fmt.Fprintf(&b, "[%d]", i+1)
			if c.Title != "" {
				fmt.Fprintf(&b, " %s", c.Title)
			}
			if c.URL != "" {
				fmt.Fprintf(&b, " (%s)", c.URL)
			}
			fmt.Fprintf(&b, "\n%s\n\n", c.Content)
		}
	}

	fmt.Fprintf(&b, "Question: %s", question)
	return b.String()
}

const extractionInstructions = `Extract facts from the text as knowledge graph triples.
Use only these entity and relation types:

%s
Each triple must use a declared relation between its declared source and target entity types.
Use the entity's full name as subject and object. Skip facts that do not fit the types.

Reply with JSON only, shaped as:
{"triples":[{"subject":"...","subject_label":"...","relation":"...","object":"...","object_label":"..."}]}

Text:
%s`

func BuildExtractionPrompt(o *ontology.Ontology, chunk string) string {
	return fmt.Sprintf(extractionInstructions, o.Prompt(), chunk)
}
