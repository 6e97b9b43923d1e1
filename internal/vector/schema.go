// Package vector owns the Weaviate classes the knowledge store writes to.
package vector

import (
	"context"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

const (
	ChunkClass  = "SourceChunk"
	TripleClass = "GraphTriple"
)

// SchemaClient is the subset of the Weaviate schema API used at startup.
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// Classes returns the class definitions. Every class carries a graph
// property so several graphs can share one Weaviate.
func Classes() []*models.Class {
	return []*models.Class{
		{
			Class:       ChunkClass,
			Description: "A chunk of text extracted from an ingested source",
			Vectorizer:  "none",
			Properties: []*models.Property{
				{Name: "content", DataType: []string{"text"}},
				{Name: "graph", DataType: []string{"string"}},
				{Name: "url", DataType: []string{"string"}}, // exact match
				{Name: "title", DataType: []string{"text"}},
				{Name: "chunkIndex", DataType: []string{"int"}},
			},
		},
		{
			Class:       TripleClass,
			Description: "A subject-relation-object fact extracted under the graph ontology",
			Vectorizer:  "none",
			Properties: []*models.Property{
				{Name: "graph", DataType: []string{"string"}},
				{Name: "subject", DataType: []string{"text"}},
				{Name: "subjectLabel", DataType: []string{"string"}},
				{Name: "relation", DataType: []string{"string"}},
				{Name: "object", DataType: []string{"text"}},
				{Name: "objectLabel", DataType: []string{"string"}},
				{Name: "text", DataType: []string{"text"}},
				{Name: "url", DataType: []string{"string"}},
			},
		},
	}
}

// EnsureSchema creates missing classes and adds properties that older
// deployments lack.
func EnsureSchema(ctx context.Context, client SchemaClient) error {
	for _, class := range Classes() {
		if err := ensureClass(ctx, client, class); err != nil {
			return fmt.Errorf("ensure %s: %w", class.Class, err)
		}
	}
	return nil
}

func ensureClass(ctx context.Context, client SchemaClient, want *models.Class) error {
	exists, err := client.ClassExists(ctx, want.Class)
	if err != nil {
		return err
	}
	if !exists {
		return client.CreateClass(ctx, want)
	}

	have, err := client.GetClass(ctx, want.Class)
	if err != nil {
		return err
	}

	existing := make(map[string]bool, len(have.Properties))
	for _, p := range have.Properties {
		existing[p.Name] = true
	}
	for _, p := range want.Properties {
		if existing[p.Name] {
			continue
		}
		if err := client.AddProperty(ctx, want.Class, p); err != nil {
			return err
		}
	}
	return nil
}
