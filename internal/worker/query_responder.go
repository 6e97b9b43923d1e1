package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kgrag/internal/messaging"
	"kgrag/internal/metrics"
	"kgrag/internal/middleware"
)

// QueryResponder answers chat questions arriving on a request channel.
type QueryResponder struct {
	client      messaging.QueryClient
	answerer    Answerer
	channel     string
	signal      *ShutdownSignal
	concurrency int
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

type ResponderOption func(*QueryResponder)

// WithConcurrency sets how many questions may be answered at once. With 1,
// requests are answered one at a time in delivery order.
func WithConcurrency(n int) ResponderOption {
	return func(r *QueryResponder) {
		if n < 1 {
			n = 1
		}
		r.concurrency = n
	}
}

func WithResponderMetrics(m *metrics.Metrics) ResponderOption {
	return func(r *QueryResponder) { r.metrics = m }
}

func WithResponderLogger(l *slog.Logger) ResponderOption {
	return func(r *QueryResponder) { r.logger = l }
}

func NewQueryResponder(c messaging.QueryClient, a Answerer, channel string, signal *ShutdownSignal, opts ...ResponderOption) *QueryResponder {
	r := &QueryResponder{
		client:      c,
		answerer:    a,
		channel:     channel,
		signal:      signal,
		concurrency: 1,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run blocks inside the subscription until ctx is cancelled, then waits for
// in-flight requests to be answered.
func (r *QueryResponder) Run(ctx context.Context) error {
	sem := make(chan struct{}, r.concurrency)
	var inflight sync.WaitGroup

	r.logger.Info("query responder started", "channel", r.channel, "concurrency", r.concurrency)

	err := r.client.Subscribe(ctx, r.channel, func(req messaging.Request) {
		sem <- struct{}{}
		inflight.Add(1)
		go func() {
			defer func() {
				<-sem
				inflight.Done()
			}()
			// Accepted requests are answered even while shutting down.
			r.Handle(context.WithoutCancel(ctx), req)
		}()
	}, r.onError)

	inflight.Wait()
	r.logger.Info("query responder stopped", "channel", r.channel)

	if err != nil && !r.signal.IsSet() {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	return nil
}

// Handle produces and sends exactly one response for req.
func (r *QueryResponder) Handle(ctx context.Context, req messaging.Request) {
	id := req.Metadata[messaging.HeaderCorrelationID]
	if id == "" {
		id = middleware.NewCorrelationID()
	}
	ctx = middleware.WithCorrelationID(ctx, id)

	start := time.Now()
	resp := r.respond(ctx, req)

	if err := r.client.Respond(ctx, resp); err != nil {
		r.logger.ErrorContext(ctx, "failed to send query response", "error", err, "error_kind", ErrorKind(err))
	}
	r.metrics.QueryAnswered(resp.Success, time.Since(start).Seconds())
}

func (r *QueryResponder) respond(ctx context.Context, req messaging.Request) messaging.Response {
	question, err := DecodeQuestion(req.Payload)
	if err != nil {
		r.metrics.DecodeError("responder")
		r.metrics.QueryFailed(ErrorKind(err))
		r.logger.WarnContext(ctx, "rejecting undecodable query", "error", err, "error_kind", ErrorKind(err))
		return messaging.Failure(req, err.Error())
	}

	r.logger.InfoContext(ctx, "received chat message", "question", question)

	answer, msg, err := r.answer(ctx, question)
	if err != nil {
		kind := ErrorKind(err)
		r.metrics.QueryFailed(kind)
		r.logger.ErrorContext(ctx, "error processing chat message", "error", err, "error_kind", kind)
		return messaging.Failure(req, msg)
	}

	r.logger.InfoContext(ctx, "chat response", "length", len(answer))
	return messaging.Success(req, []byte(answer))
}

// answer wraps failures with ErrAnswer. msg is the text sent back to the
// requester: the answerer's own message, so "timeout" stays "timeout".
func (r *QueryResponder) answer(ctx context.Context, question string) (answer, msg string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", ErrAnswer, p)
			msg = err.Error()
		}
	}()

	answer, err = r.answerer.Answer(ctx, question)
	if err == nil {
		return answer, "", nil
	}
	msg = err.Error()
	if !errors.Is(err, ErrAnswer) {
		err = fmt.Errorf("%w: %w", ErrAnswer, err)
	}
	return "", msg, err
}

func (r *QueryResponder) onError(err error) {
	if r.signal.IsSet() {
		return
	}
	r.logger.Warn("query subscription error", "error", err, "error_kind", ErrorKind(err), "channel", r.channel)
}
