package app_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgrag/internal/app"
	"kgrag/internal/config"
	"kgrag/internal/knowledge"
	"kgrag/internal/messaging"
	"kgrag/internal/worker"
)

type chanQueryClient struct {
	requests chan messaging.Request
	closed   countingCloser

	mu        sync.Mutex
	responses []messaging.Response
}

func newChanQueryClient() *chanQueryClient {
	return &chanQueryClient{requests: make(chan messaging.Request, 8)}
}

func (c *chanQueryClient) Subscribe(ctx context.Context, channel string, handle func(messaging.Request), onError func(error)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-c.requests:
			handle(req)
		}
	}
}

func (c *chanQueryClient) Respond(ctx context.Context, resp messaging.Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, resp)
	return nil
}

func (c *chanQueryClient) Request(ctx context.Context, channel string, payload []byte, timeout time.Duration) ([]byte, error) {
	return nil, nil
}

func (c *chanQueryClient) Close() error { return c.closed.Close() }

func (c *chanQueryClient) Responses() []messaging.Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]messaging.Response(nil), c.responses...)
}

type ackMessage struct{ body string }

func (m ackMessage) Body() []byte                  { return []byte(m.body) }
func (m ackMessage) Ack(ctx context.Context) error { return nil }

type chanQueue struct {
	batches chan []messaging.QueueMessage
	closed  countingCloser
}

func (q *chanQueue) Send(ctx context.Context, queue string, body []byte) error { return nil }

func (q *chanQueue) Poll(ctx context.Context, queue string, max int, wait time.Duration) ([]messaging.QueueMessage, error) {
	select {
	case b := <-q.batches:
		return b, nil
	case <-ctx.Done():
		return nil, nil
	case <-time.After(wait):
		return nil, nil
	}
}

func (q *chanQueue) Close() error { return q.closed.Close() }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		QueryChannel:     config.DefaultQueryChannel,
		SourceQueue:      config.DefaultSourceQueue,
		PollBatchSize:    10,
		PollWait:         20 * time.Millisecond,
		PollBackoffMax:   50 * time.Millisecond,
		QueryConcurrency: 1,
		ShutdownTimeout:  time.Second,
	}
}

func TestWire_EndToEnd(t *testing.T) {
	query := newChanQueryClient()
	queue := &chanQueue{batches: make(chan []messaging.QueueMessage, 1)}

	answerer := worker.AnswerFunc(func(ctx context.Context, q string) (string, error) {
		if strings.Contains(q, "slow") {
			return "", knowledge.ErrTimeout
		}
		return "The Matrix was directed by the Wachowskis.", nil
	})

	ingested := make(chan []worker.IngestItem, 1)
	ingester := worker.IngestFunc(func(ctx context.Context, items []worker.IngestItem) error {
		ingested <- items
		return nil
	})

	storage := &countingCloser{}
	a := app.Wire(testConfig(), query, queue, answerer, ingester, discardLogger(), app.WithCloser("database", storage))
	require.NoError(t, a.Coordinator.Start(context.Background()))

	query.requests <- messaging.Request{CorrelationID: "r1", Payload: []byte("Who directed The Matrix?")}
	query.requests <- messaging.Request{CorrelationID: "r2", Payload: []byte("slow question")}
	queue.batches <- []messaging.QueueMessage{ackMessage{"https://example.com/a"}, ackMessage{"https://example.com/b"}}

	require.Eventually(t, func() bool { return len(query.Responses()) == 2 }, 2*time.Second, 10*time.Millisecond)
	responses := query.Responses()
	assert.Equal(t, messaging.Response{CorrelationID: "r1", Success: true, Payload: []byte("The Matrix was directed by the Wachowskis.")}, responses[0])
	assert.Equal(t, messaging.Response{CorrelationID: "r2", Success: false, ErrorMessage: "timeout"}, responses[1])

	select {
	case items := <-ingested:
		assert.Equal(t, []worker.IngestItem{{SourceURI: "https://example.com/a"}, {SourceURI: "https://example.com/b"}}, items)
	case <-time.After(2 * time.Second):
		t.Fatal("batch was not ingested")
	}

	a.Coordinator.Shutdown()
	assert.Equal(t, app.StateStopped, a.Coordinator.State())
	assert.Equal(t, int32(1), query.closed.calls.Load())
	assert.Equal(t, int32(1), queue.closed.calls.Load())
	assert.Equal(t, int32(1), storage.calls.Load())
}

func TestWire_OpsHandler(t *testing.T) {
	query := newChanQueryClient()
	queue := &chanQueue{batches: make(chan []messaging.QueueMessage)}
	answerer := worker.AnswerFunc(func(ctx context.Context, q string) (string, error) { return "ok", nil })
	ingester := worker.IngestFunc(func(ctx context.Context, items []worker.IngestItem) error { return nil })

	a := app.Wire(testConfig(), query, queue, answerer, ingester, discardLogger())

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		a.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	w := get("/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"created"`)

	require.NoError(t, a.Coordinator.Start(context.Background()))
	defer a.Coordinator.Shutdown()

	w = get("/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","state":"running"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))

	query.requests <- messaging.Request{CorrelationID: "r1", Payload: []byte("hello")}
	require.Eventually(t, func() bool { return len(query.Responses()) == 1 }, 2*time.Second, 10*time.Millisecond)

	// The counter is recorded just after the response is sent.
	require.Eventually(t, func() bool {
		w := get("/metrics")
		return w.Code == http.StatusOK && strings.Contains(w.Body.String(), `kgrag_queries_total{outcome="success"} 1`)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestApp_RunStopsOnContextCancel(t *testing.T) {
	query := newChanQueryClient()
	queue := &chanQueue{batches: make(chan []messaging.QueueMessage)}
	answerer := worker.AnswerFunc(func(ctx context.Context, q string) (string, error) { return "ok", nil })
	ingester := worker.IngestFunc(func(ctx context.Context, items []worker.IngestItem) error { return nil })

	cfg := testConfig()
	cfg.OpsAddr = "127.0.0.1:0"
	a := app.Wire(cfg, query, queue, answerer, ingester, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return a.Coordinator.State() == app.StateRunning }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, app.StateStopped, a.Coordinator.State())
}

func TestApp_Handle(t *testing.T) {
	query := newChanQueryClient()
	queue := &chanQueue{batches: make(chan []messaging.QueueMessage)}
	answerer := worker.AnswerFunc(func(ctx context.Context, q string) (string, error) { return "ok", nil })
	ingester := worker.IngestFunc(func(ctx context.Context, items []worker.IngestItem) error { return nil })

	a := app.Wire(testConfig(), query, queue, answerer, ingester, discardLogger())
	a.Handle("GET /ping", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pong"))
	}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Correlation-ID", "abc")
	a.Handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
	assert.Equal(t, "abc", w.Header().Get("X-Correlation-ID"))
}
