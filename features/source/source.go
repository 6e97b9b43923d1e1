// Package source lets operators enqueue sources and inspect their ingest
// status over HTTP.
package source

import (
	"context"
	"errors"
	"fmt"

	"kgrag/internal/ledger"
	"kgrag/internal/worker"
)

var ErrDuplicate = errors.New("source already ingested")

// Enqueuer puts a source on the work queue.
type Enqueuer interface {
	Send(ctx context.Context, queue string, body []byte) error
}

type Service struct {
	ledger ledger.Repository
	queue  Enqueuer
	graph  string
	name   string
}

// NewService serves sources of graph, enqueued on the queue called name.
func NewService(l ledger.Repository, q Enqueuer, graph, name string) *Service {
	return &Service{ledger: l, queue: q, graph: graph, name: name}
}

// Create validates rawURL and enqueues it, unless it is already ingested.
func (s *Service) Create(ctx context.Context, rawURL string) (string, error) {
	item, err := worker.DecodeIngestItem([]byte(rawURL))
	if err != nil {
		return "", err
	}

	done, err := ledger.IsCompleted(ctx, s.ledger, s.graph, item.SourceURI)
	if err != nil {
		return "", err
	}
	if done {
		return "", fmt.Errorf("%w: %s", ErrDuplicate, item.SourceURI)
	}

	if err := s.queue.Send(ctx, s.name, []byte(item.SourceURI)); err != nil {
		return "", err
	}
	return item.SourceURI, nil
}

// ReSync forces a known source to be ingested again.
func (s *Service) ReSync(ctx context.Context, rawURL string) error {
	src, err := s.ledger.Get(ctx, s.graph, rawURL)
	if err != nil {
		return err
	}
	if err := s.ledger.MarkFailed(ctx, s.graph, src.URL, "resync requested"); err != nil {
		return err
	}
	return s.queue.Send(ctx, s.name, []byte(src.URL))
}

func (s *Service) Get(ctx context.Context, rawURL string) (*ledger.Source, error) {
	return s.ledger.Get(ctx, s.graph, rawURL)
}

func (s *Service) List(ctx context.Context) ([]ledger.Source, error) {
	return s.ledger.List(ctx, s.graph)
}
