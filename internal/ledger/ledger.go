// Package ledger records which sources have been ingested into which graph,
// so re-delivered queue items are not processed twice.
package ledger

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("source not found")

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

type Source struct {
	Graph     string    `json:"graph"`
	URL       string    `json:"url"`
	Status    Status    `json:"status"`
	Chunks    int       `json:"chunks"`
	Triples   int       `json:"triples"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Repository interface {
	Get(ctx context.Context, graph, url string) (*Source, error)
	// MarkProcessing creates the entry or restarts it, counting the attempt.
	MarkProcessing(ctx context.Context, graph, url string) error
	MarkCompleted(ctx context.Context, graph, url string, chunks, triples int) error
	MarkFailed(ctx context.Context, graph, url, reason string) error
	List(ctx context.Context, graph string) ([]Source, error)
}

// IsCompleted reports whether url was already ingested into graph.
func IsCompleted(ctx context.Context, repo Repository, graph, url string) (bool, error) {
	src, err := repo.Get(ctx, graph, url)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return src.Status == StatusCompleted, nil
}
