package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo keeps the ledger in process. It forgets everything on restart.
type MemoryRepo struct {
	mu      sync.Mutex
	sources map[string]*Source
	now     func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{sources: make(map[string]*Source), now: time.Now}
}

func key(graph, url string) string { return graph + "\x00" + url }

func (r *MemoryRepo) Get(ctx context.Context, graph, url string) (*Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sources[key(graph, url)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryRepo) MarkProcessing(ctx context.Context, graph, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	s, ok := r.sources[key(graph, url)]
	if !ok {
		s = &Source{Graph: graph, URL: url, CreatedAt: now}
		r.sources[key(graph, url)] = s
	}
	s.Status = StatusProcessing
	s.Attempts++
	s.LastError = ""
	s.UpdatedAt = now
	return nil
}

func (r *MemoryRepo) MarkCompleted(ctx context.Context, graph, url string, chunks, triples int) error {
	return r.update(graph, url, func(s *Source) {
		s.Status = StatusCompleted
		s.Chunks = chunks
		s.Triples = triples
		s.LastError = ""
	})
}

func (r *MemoryRepo) MarkFailed(ctx context.Context, graph, url, reason string) error {
	return r.update(graph, url, func(s *Source) {
		s.Status = StatusFailed
		s.LastError = reason
	})
}

func (r *MemoryRepo) update(graph, url string, fn func(*Source)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sources[key(graph, url)]
	if !ok {
		return ErrNotFound
	}
	fn(s)
	s.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepo) List(ctx context.Context, graph string) ([]Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Source
	for _, s := range r.sources {
		if s.Graph == graph {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}
