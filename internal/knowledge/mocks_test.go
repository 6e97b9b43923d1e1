package knowledge_test

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"kgrag/internal/fetch"
	"kgrag/internal/retrieval"
)

type MockSearcher struct{ mock.Mock }

func (m *MockSearcher) Search(ctx context.Context, question string) (*retrieval.Result, error) {
	args := m.Called(ctx, question)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*retrieval.Result), args.Error(1)
}

type MockChat struct{ mock.Mock }

func (m *MockChat) Send(ctx context.Context, msg string) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

type MockCompleter struct{ mock.Mock }

func (m *MockCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

// fakeEmbedder returns a one-dimensional vector per text.
type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}

type fakeFetcher struct {
	pages map[string]*fetch.Page
	errs  map[string]error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*fetch.Page, error) {
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	return f.pages[url], nil
}

type fakeStore struct {
	mu      sync.Mutex
	chunks  []retrieval.Chunk
	triples []retrieval.Triple
	deleted []string
}

func (f *fakeStore) StoreChunk(ctx context.Context, chunk retrieval.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunk)
	return nil
}

func (f *fakeStore) StoreTriples(ctx context.Context, triples []retrieval.Triple) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triples = append(f.triples, triples...)
	return nil
}

func (f *fakeStore) DeleteBySourceURL(ctx context.Context, graph, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, graph+" "+url)
	return nil
}
