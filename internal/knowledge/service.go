// Package knowledge answers questions from, and ingests sources into, one
// ontology-constrained knowledge graph.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"kgrag/internal/fetch"
	"kgrag/internal/ledger"
	"kgrag/internal/ontology"
	"kgrag/internal/retrieval"
	"kgrag/internal/text"
	"kgrag/internal/worker"
)

// ErrTimeout is reported when a question is not answered in time. Its text
// is what the caller sees as the error message.
var ErrTimeout = errors.New("timeout")

type Searcher interface {
	Search(ctx context.Context, question string) (*retrieval.Result, error)
}

type Chat interface {
	Send(ctx context.Context, msg string) (string, error)
}

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Page, error)
}

type Store interface {
	StoreChunk(ctx context.Context, chunk retrieval.Chunk) error
	StoreTriples(ctx context.Context, triples []retrieval.Triple) error
	DeleteBySourceURL(ctx context.Context, graph, url string) error
}

// Deps are the collaborators of a Service. Ledger may be nil, in which case
// every item is processed.
type Deps struct {
	Ontology  *ontology.Ontology
	Searcher  Searcher
	Chat      Chat
	Completer ontology.Completer
	Embedder  Embedder
	Fetcher   Fetcher
	Store     Store
	Ledger    ledger.Repository
	Logger    *slog.Logger
}

type Options struct {
	Graph          string
	ChunkMaxTokens int
	ChunkOverlap   int
	QueryTimeout   time.Duration
}

type Service struct {
	Deps
	opts Options
}

func NewService(deps Deps, opts Options) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.ChunkMaxTokens <= 0 {
		opts.ChunkMaxTokens = 512
	}
	return &Service{Deps: deps, opts: opts}
}

// Answer retrieves graph facts and passages for the question and asks the
// shared chat session to answer from them.
func (s *Service) Answer(ctx context.Context, question string) (string, error) {
	if s.opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.QueryTimeout)
		defer cancel()
	}

	res, err := s.Searcher.Search(ctx, question)
	if err != nil {
		return "", timeoutOr(ctx, fmt.Errorf("retrieve: %w", err))
	}
	s.Logger.DebugContext(ctx, "retrieved context", "chunks", len(res.Chunks), "facts", len(res.Facts))

	answer, err := s.Chat.Send(ctx, BuildQuestionPrompt(question, res))
	if err != nil {
		return "", timeoutOr(ctx, fmt.Errorf("chat: %w", err))
	}
	return answer, nil
}

func timeoutOr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

// Ingest processes every item, in order, and joins the per-item failures.
// A failed item does not stop the rest.
func (s *Service) Ingest(ctx context.Context, items []worker.IngestItem) error {
	var errs []error
	for _, item := range items {
		if err := s.ingestOne(ctx, item.SourceURI); err != nil {
			s.Logger.ErrorContext(ctx, "source ingest failed", "url", item.SourceURI, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", item.SourceURI, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) ingestOne(ctx context.Context, url string) error {
	graph := s.opts.Graph

	if s.Ledger != nil {
		done, err := ledger.IsCompleted(ctx, s.Ledger, graph, url)
		if err != nil {
			return fmt.Errorf("check ledger: %w", err)
		}
		if done {
			s.Logger.InfoContext(ctx, "source already ingested, skipping", "url", url, "graph", graph)
			return nil
		}
		if err := s.Ledger.MarkProcessing(ctx, graph, url); err != nil {
			return fmt.Errorf("mark processing: %w", err)
		}
	}

	chunks, triples, err := s.build(ctx, url)
	if err != nil {
		if s.Ledger != nil {
			if lerr := s.Ledger.MarkFailed(ctx, graph, url, err.Error()); lerr != nil {
				s.Logger.WarnContext(ctx, "failed to record ingest failure", "url", url, "error", lerr)
			}
		}
		return err
	}

	if s.Ledger != nil {
		if err := s.Ledger.MarkCompleted(ctx, graph, url, chunks, triples); err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
	}
	s.Logger.InfoContext(ctx, "source ingested", "url", url, "graph", graph, "chunks", chunks, "triples", triples)
	return nil
}

// build fetches, chunks, embeds and stores one source, then extracts and
// stores its triples. It returns the stored counts.
func (s *Service) build(ctx context.Context, url string) (int, int, error) {
	page, err := s.Fetcher.Fetch(ctx, url)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch: %w", err)
	}

	pieces := text.Chunk(page.Text, s.opts.ChunkMaxTokens, s.opts.ChunkOverlap)
	if len(pieces) == 0 {
		return 0, 0, errors.New("no text extracted")
	}

	if err := s.Store.DeleteBySourceURL(ctx, s.opts.Graph, url); err != nil {
		return 0, 0, fmt.Errorf("clear previous: %w", err)
	}

	vecs, err := s.Embedder.EmbedBatch(ctx, pieces)
	if err != nil {
		return 0, 0, fmt.Errorf("embed chunks: %w", err)
	}
	for i, p := range pieces {
		chunk := retrieval.Chunk{
			Graph:   s.opts.Graph,
			URL:     url,
			Title:   page.Title,
			Index:   i,
			Content: p,
			Vector:  vecs[i],
		}
		if err := s.Store.StoreChunk(ctx, chunk); err != nil {
			return 0, 0, fmt.Errorf("store chunk %d: %w", i, err)
		}
	}

	triples := s.extract(ctx, url, pieces)
	if len(triples) == 0 {
		return len(pieces), 0, nil
	}

	texts := make([]string, len(triples))
	for i, t := range triples {
		texts[i] = t.Text()
	}
	tvecs, err := s.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, 0, fmt.Errorf("embed triples: %w", err)
	}
	for i := range triples {
		triples[i].Vector = tvecs[i]
	}
	if err := s.Store.StoreTriples(ctx, triples); err != nil {
		return 0, 0, fmt.Errorf("store triples: %w", err)
	}
	return len(pieces), len(triples), nil
}
