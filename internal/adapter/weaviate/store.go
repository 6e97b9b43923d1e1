package weaviate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"kgrag/internal/retrieval"
	"kgrag/internal/vector"
)

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, vector.NewSchemaAdapter(s.client))
}

func (s *Store) StoreChunk(ctx context.Context, chunk retrieval.Chunk) error {
	_, err := s.client.Data().Creator().
		WithClassName(vector.ChunkClass).
		WithProperties(map[string]interface{}{
			"content":    chunk.Content,
			"graph":      chunk.Graph,
			"url":        chunk.URL,
			"title":      chunk.Title,
			"chunkIndex": chunk.Index,
		}).
		WithVector(chunk.Vector).
		Do(ctx)
	return err
}

// StoreTriples writes all triples in one batch request.
func (s *Store) StoreTriples(ctx context.Context, triples []retrieval.Triple) error {
	if len(triples) == 0 {
		return nil
	}

	objects := make([]*models.Object, len(triples))
	for i, t := range triples {
		objects[i] = &models.Object{
			Class: vector.TripleClass,
			Properties: map[string]interface{}{
				"graph":        t.Graph,
				"subject":      t.Subject,
				"subjectLabel": t.SubjectLabel,
				"relation":     t.Relation,
				"object":       t.Object,
				"objectLabel":  t.ObjectLabel,
				"text":         t.Text(),
				"url":          t.URL,
			},
			Vector: t.Vector,
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, r := range resp {
		if r.Result == nil || r.Result.Errors == nil {
			continue
		}
		for _, e := range r.Result.Errors.Error {
			errs = append(errs, errors.New(e.Message))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("batch store triples: %w", errors.Join(errs...))
	}
	return nil
}

// DeleteBySourceURL removes every chunk and triple of one source so that a
// re-ingest starts clean.
func (s *Store) DeleteBySourceURL(ctx context.Context, graph, url string) error {
	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"graph"}).
				WithOperator(filters.Equal).
				WithValueString(graph),
			filters.Where().
				WithPath([]string{"url"}).
				WithOperator(filters.Equal).
				WithValueString(url),
		})

	for _, class := range []string{vector.ChunkClass, vector.TripleClass} {
		_, err := s.client.Batch().ObjectsBatchDeleter().
			WithClassName(class).
			WithOutput("minimal").
			WithWhere(where).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("delete %s for %s: %w", class, url, err)
		}
	}
	return nil
}

func (s *Store) SearchChunks(ctx context.Context, graph, query string, vec []float32, alpha float32, limit int) ([]retrieval.ChunkHit, error) {
	fields := []graphql.Field{
		{Name: "content"},
		{Name: "url"},
		{Name: "title"},
		{Name: "chunkIndex"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "score"}}},
	}

	objs, err := s.hybrid(ctx, vector.ChunkClass, graph, query, vec, alpha, limit, fields)
	if err != nil {
		return nil, err
	}

	hits := make([]retrieval.ChunkHit, 0, len(objs))
	for _, props := range objs {
		hit := retrieval.ChunkHit{Score: score(props)}
		hit.Content, _ = props["content"].(string)
		hit.URL, _ = props["url"].(string)
		hit.Title, _ = props["title"].(string)
		if idx, ok := props["chunkIndex"].(float64); ok {
			hit.Index = int(idx)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *Store) SearchTriples(ctx context.Context, graph, query string, vec []float32, alpha float32, limit int) ([]retrieval.TripleHit, error) {
	fields := []graphql.Field{
		{Name: "subject"},
		{Name: "subjectLabel"},
		{Name: "relation"},
		{Name: "object"},
		{Name: "objectLabel"},
		{Name: "url"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "score"}}},
	}

	objs, err := s.hybrid(ctx, vector.TripleClass, graph, query, vec, alpha, limit, fields)
	if err != nil {
		return nil, err
	}

	hits := make([]retrieval.TripleHit, 0, len(objs))
	for _, props := range objs {
		hit := retrieval.TripleHit{Score: score(props)}
		hit.Graph = graph
		hit.Subject, _ = props["subject"].(string)
		hit.SubjectLabel, _ = props["subjectLabel"].(string)
		hit.Relation, _ = props["relation"].(string)
		hit.Object, _ = props["object"].(string)
		hit.ObjectLabel, _ = props["objectLabel"].(string)
		hit.URL, _ = props["url"].(string)
		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *Store) hybrid(ctx context.Context, class, graph, query string, vec []float32, alpha float32, limit int, fields []graphql.Field) ([]map[string]interface{}, error) {
	hybrid := s.client.GraphQL().HybridArgumentBuilder().
		WithQuery(query).
		WithVector(vec).
		WithAlpha(alpha)

	where := filters.Where().
		WithPath([]string{"graph"}).
		WithOperator(filters.Equal).
		WithValueString(graph)

	res, err := s.client.GraphQL().Get().
		WithClassName(class).
		WithHybrid(hybrid).
		WithWhere(where).
		WithLimit(limit).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		msgs := make([]string, len(res.Errors))
		for i, e := range res.Errors {
			msgs[i] = e.Message
		}
		return nil, fmt.Errorf("graphql error: %s", strings.Join(msgs, "; "))
	}

	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	raw, ok := data[class].([]interface{})
	if !ok {
		return nil, nil
	}

	out := make([]map[string]interface{}, 0, len(raw))
	for _, r := range raw {
		if props, ok := r.(map[string]interface{}); ok {
			out = append(out, props)
		}
	}
	return out, nil
}

// score reads _additional.score, which Weaviate returns as a string.
func score(props map[string]interface{}) float32 {
	additional, ok := props["_additional"].(map[string]interface{})
	if !ok {
		return 0
	}
	switch v := additional["score"].(type) {
	case string:
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return 0
		}
		return float32(f)
	case float64:
		return float32(v)
	}
	return 0
}
