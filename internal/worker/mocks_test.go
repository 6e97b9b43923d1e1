package worker_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"kgrag/internal/messaging"
	"kgrag/internal/worker"
)

// Mocks

type MockAnswerer struct{ mock.Mock }

func (m *MockAnswerer) Answer(ctx context.Context, question string) (string, error) {
	args := m.Called(ctx, question)
	return args.String(0), args.Error(1)
}

type MockIngester struct{ mock.Mock }

func (m *MockIngester) Ingest(ctx context.Context, items []worker.IngestItem) error {
	args := m.Called(ctx, items)
	return args.Error(0)
}

// fakeQueryClient delivers requests pushed onto its channels and records
// every response sent back.
type fakeQueryClient struct {
	requests chan messaging.Request
	errs     chan error

	subscribeErr error
	respondErr   error

	mu        sync.Mutex
	responses []messaging.Response
}

func newFakeQueryClient() *fakeQueryClient {
	return &fakeQueryClient{
		requests: make(chan messaging.Request, 16),
		errs:     make(chan error, 4),
	}
}

func (f *fakeQueryClient) Subscribe(ctx context.Context, channel string, handle func(messaging.Request), onError func(error)) error {
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-f.requests:
			handle(req)
		case err := <-f.errs:
			onError(err)
		}
	}
}

func (f *fakeQueryClient) Respond(ctx context.Context, resp messaging.Response) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp)
	return f.respondErr
}

func (f *fakeQueryClient) Request(ctx context.Context, channel string, payload []byte, timeout time.Duration) ([]byte, error) {
	return nil, nil
}

func (f *fakeQueryClient) Close() error { return nil }

func (f *fakeQueryClient) Responses() []messaging.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]messaging.Response, len(f.responses))
	copy(out, f.responses)
	return out
}

type fakeMessage struct {
	body  []byte
	acked atomic.Bool
}

func newMessage(body string) *fakeMessage { return &fakeMessage{body: []byte(body)} }

func (m *fakeMessage) Body() []byte { return m.body }

func (m *fakeMessage) Ack(ctx context.Context) error {
	m.acked.Store(true)
	return nil
}

type pollResult struct {
	msgs []messaging.QueueMessage
	err  error
}

// fakeQueue replays scripted poll results, then behaves like an idle queue.
type fakeQueue struct {
	mu      sync.Mutex
	results []pollResult
	polls   int
	// afterScript, when set, is returned for every poll past the script.
	afterScript error
}

func (q *fakeQueue) Send(ctx context.Context, queue string, body []byte) error { return nil }

func (q *fakeQueue) Poll(ctx context.Context, queue string, max int, wait time.Duration) ([]messaging.QueueMessage, error) {
	q.mu.Lock()
	idx := q.polls
	q.polls++
	after := q.afterScript
	var r *pollResult
	if idx < len(q.results) {
		r = &q.results[idx]
	}
	q.mu.Unlock()

	if r != nil {
		return r.msgs, r.err
	}
	if after != nil {
		return nil, after
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(wait):
		return nil, nil
	}
}

func (q *fakeQueue) Close() error { return nil }

func (q *fakeQueue) Polls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.polls
}

func msgs(ms ...*fakeMessage) []messaging.QueueMessage {
	out := make([]messaging.QueueMessage, len(ms))
	for i, m := range ms {
		out[i] = m
	}
	return out
}
