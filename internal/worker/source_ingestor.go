package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"kgrag/internal/messaging"
	"kgrag/internal/metrics"
)

const (
	defaultBatchSize = 10
	defaultPollWait  = time.Second
)

// SourceIngestor drains the source queue into the knowledge graph.
type SourceIngestor struct {
	queue     messaging.QueueClient
	ingester  Ingester
	queueName string
	signal    *ShutdownSignal
	batchSize int
	wait      time.Duration
	backoff   backoff.BackOff
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type IngestorOption func(*SourceIngestor)

func WithBatchSize(n int) IngestorOption {
	return func(s *SourceIngestor) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithPollWait(d time.Duration) IngestorOption {
	return func(s *SourceIngestor) { s.wait = d }
}

// WithBackoff sets the delay policy applied between failed polls.
func WithBackoff(b backoff.BackOff) IngestorOption {
	return func(s *SourceIngestor) { s.backoff = b }
}

func WithIngestorMetrics(m *metrics.Metrics) IngestorOption {
	return func(s *SourceIngestor) { s.metrics = m }
}

func WithIngestorLogger(l *slog.Logger) IngestorOption {
	return func(s *SourceIngestor) { s.logger = l }
}

// PollBackoff is the default poll error policy: exponential from 100ms,
// capped at max, never giving up.
func PollBackoff(max time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = max
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func NewSourceIngestor(q messaging.QueueClient, i Ingester, queueName string, signal *ShutdownSignal, opts ...IngestorOption) *SourceIngestor {
	s := &SourceIngestor{
		queue:     q,
		ingester:  i,
		queueName: queueName,
		signal:    signal,
		batchSize: defaultBatchSize,
		wait:      defaultPollWait,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.backoff == nil {
		s.backoff = PollBackoff(5 * time.Second)
	}
	return s
}

// Run polls until the shutdown signal is set or ctx is done. Errors inside an
// iteration never end the loop.
func (s *SourceIngestor) Run(ctx context.Context) error {
	s.logger.Info("source ingestor started", "queue", s.queueName, "batch_size", s.batchSize, "wait", s.wait)
	defer s.logger.Info("source ingestor stopped", "queue", s.queueName)

	for !s.stopping(ctx) {
		msgs, err := s.queue.Poll(ctx, s.queueName, s.batchSize, s.wait)
		s.metrics.Polled(err, len(msgs))
		if err != nil {
			// Errors caused by shutdown are expected.
			if s.stopping(ctx) {
				return nil
			}
			delay := s.backoff.NextBackOff()
			if delay == backoff.Stop {
				delay = s.wait
			}
			s.logger.Error("error pulling message from queue", "error", err, "error_kind", ErrorKind(err), "retry_in", delay)
			if !s.sleep(ctx, delay) {
				return nil
			}
			continue
		}
		s.backoff.Reset()

		if len(msgs) == 0 {
			continue
		}
		// In-flight batches finish even after shutdown begins.
		s.Process(context.WithoutCancel(ctx), msgs)
	}
	return nil
}

// Process decodes one polled batch, hands the valid items to the ingester in
// dequeue order and acks every message.
func (s *SourceIngestor) Process(ctx context.Context, msgs []messaging.QueueMessage) {
	items := make([]IngestItem, 0, len(msgs))
	for _, m := range msgs {
		item, err := DecodeIngestItem(m.Body())
		if err != nil {
			s.metrics.DecodeError("ingestor")
			s.logger.WarnContext(ctx, "skipping undecodable source", "error", err, "error_kind", ErrorKind(err))
			continue
		}
		s.logger.InfoContext(ctx, "received source, adding to knowledge graph", "source", item.SourceURI)
		items = append(items, item)
	}

	if len(items) > 0 {
		if err := s.ingest(ctx, items); err != nil {
			s.metrics.IngestBatch(false)
			s.logger.ErrorContext(ctx, "error processing sources", "error", err, "error_kind", ErrorKind(err), "batch", len(items))
		} else {
			s.metrics.IngestBatch(true)
		}
	}

	for _, m := range msgs {
		if err := m.Ack(ctx); err != nil {
			s.logger.WarnContext(ctx, "failed to ack source message", "error", err)
		}
	}
}

func (s *SourceIngestor) ingest(ctx context.Context, items []IngestItem) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", ErrIngest, p)
		}
	}()
	if err := s.ingester.Ingest(ctx, items); err != nil {
		if errors.Is(err, ErrIngest) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrIngest, err)
	}
	return nil
}

func (s *SourceIngestor) stopping(ctx context.Context) bool {
	return s.signal.IsSet() || ctx.Err() != nil
}

func (s *SourceIngestor) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return !s.stopping(ctx)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return !s.stopping(ctx)
	case <-ctx.Done():
		return false
	case <-s.signal.Context().Done():
		return false
	}
}
