// Package retrieval finds the chunks and graph facts relevant to a question.
package retrieval

import (
	"context"
	"fmt"
	"time"
)

// Chunk is a slice of source text ready to be stored with its embedding.
type Chunk struct {
	Graph   string
	URL     string
	Title   string
	Index   int
	Content string
	Vector  []float32
}

// Triple is one ontology-conforming fact extracted from a source.
type Triple struct {
	Graph        string    `json:"-"`
	Subject      string    `json:"subject"`
	SubjectLabel string    `json:"subject_label"`
	Relation     string    `json:"relation"`
	Object       string    `json:"object"`
	ObjectLabel  string    `json:"object_label"`
	URL          string    `json:"-"`
	Vector       []float32 `json:"-"`
}

// Text renders the triple as a sentence-like line for embedding and prompts.
func (t Triple) Text() string {
	return fmt.Sprintf("(%s:%s)-[%s]->(%s:%s)", t.SubjectLabel, t.Subject, t.Relation, t.ObjectLabel, t.Object)
}

type ChunkHit struct {
	Content string  `json:"content"`
	URL     string  `json:"url,omitempty"`
	Title   string  `json:"title,omitempty"`
	Index   int     `json:"chunk_index"`
	Score   float32 `json:"score"`
}

type TripleHit struct {
	Triple
	Score float32 `json:"score"`
}

type Result struct {
	Chunks []ChunkHit
	Facts  []TripleHit
}

func (r *Result) Empty() bool {
	return r == nil || (len(r.Chunks) == 0 && len(r.Facts) == 0)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Store interface {
	SearchChunks(ctx context.Context, graph, query string, vector []float32, alpha float32, limit int) ([]ChunkHit, error)
	SearchTriples(ctx context.Context, graph, query string, vector []float32, alpha float32, limit int) ([]TripleHit, error)
}

type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string) ([]int, error)
}

type Options struct {
	Graph string
	Alpha float32
	Limit int
}

type Service struct {
	embedder Embedder
	store    Store
	reranker Reranker
	opts     Options
	logger   *QueryLogger
}

// NewService wires the search pipeline. reranker and logger may be nil.
func NewService(e Embedder, s Store, r Reranker, opts Options, l *QueryLogger) *Service {
	if opts.Limit <= 0 {
		opts.Limit = 8
	}
	return &Service{embedder: e, store: s, reranker: r, opts: opts, logger: l}
}

// Search embeds the question once and runs a hybrid search over both chunks
// and triples of the configured graph.
func (s *Service) Search(ctx context.Context, question string) (*Result, error) {
	start := time.Now()

	vec, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	chunks, err := s.store.SearchChunks(ctx, s.opts.Graph, question, vec, s.opts.Alpha, s.opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	facts, err := s.store.SearchTriples(ctx, s.opts.Graph, question, vec, s.opts.Alpha, s.opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("search facts: %w", err)
	}

	reranked := s.reranker != nil && len(chunks) > 0
	if reranked {
		contents := make([]string, len(chunks))
		for i, c := range chunks {
			contents[i] = c.Content
		}

		indices, err := s.reranker.Rerank(ctx, question, contents)
		if err != nil {
			return nil, fmt.Errorf("rerank: %w", err)
		}

		ordered := make([]ChunkHit, 0, len(indices))
		for _, idx := range indices {
			if idx >= 0 && idx < len(chunks) {
				ordered = append(ordered, chunks[idx])
			}
		}
		chunks = ordered
	}

	res := &Result{Chunks: chunks, Facts: facts}
	if s.logger != nil {
		s.logger.Log(ctx, QueryLogEntry{
			Query:     question,
			Graph:     s.opts.Graph,
			NumChunks: len(chunks),
			NumFacts:  len(facts),
			Reranked:  reranked,
			Sources:   sourceURLs(chunks, facts),
			Duration:  time.Since(start),
		})
	}
	return res, nil
}

// sourceURLs lists the distinct pages behind a result, chunks first.
func sourceURLs(chunks []ChunkHit, facts []TripleHit) []string {
	seen := make(map[string]bool)
	var urls []string
	add := func(u string) {
		if u != "" && !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}
	for _, c := range chunks {
		add(c.URL)
	}
	for _, f := range facts {
		add(f.URL)
	}
	return urls
}
