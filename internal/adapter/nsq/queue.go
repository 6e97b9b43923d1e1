// Package nsq implements the source work queue on NSQ. Topics are queues and
// the server reads them on one shared channel.
package nsq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nsqio/go-nsq"

	"kgrag/internal/messaging"
)

const defaultBuffer = 32

// Queue publishes through one producer and lazily starts a consumer per topic.
type Queue struct {
	producer *nsq.Producer
	nsqd     string
	lookupd  string
	channel  string
	buffer   int
	logger   *slog.Logger

	mu   sync.Mutex
	subs map[string]*subscription
}

type subscription struct {
	consumer *nsq.Consumer
	msgs     chan *nsq.Message
	stop     chan struct{}
}

type Option func(*Queue)

// WithLookupd discovers nsqd nodes through nsqlookupd instead of dialing nsqd.
func WithLookupd(addr string) Option {
	return func(q *Queue) { q.lookupd = addr }
}

// WithBuffer bounds the messages held in flight between polls.
func WithBuffer(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.buffer = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

func New(nsqd, channel string, opts ...Option) (*Queue, error) {
	q := &Queue{
		nsqd:    nsqd,
		channel: channel,
		buffer:  defaultBuffer,
		logger:  slog.Default(),
		subs:    make(map[string]*subscription),
	}
	for _, opt := range opts {
		opt(q)
	}

	producer, err := nsq.NewProducer(nsqd, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: nsq producer: %w", messaging.ErrSubstrate, err)
	}
	producer.SetLogger(q.nsqLogger(), nsq.LogLevelWarning)
	q.producer = producer
	return q, nil
}

func (q *Queue) nsqLogger() *slogWriter {
	return &slogWriter{logger: q.logger}
}

func (q *Queue) Send(_ context.Context, queue string, body []byte) error {
	if err := q.producer.Publish(queue, body); err != nil {
		return fmt.Errorf("%w: publish %s: %w", messaging.ErrSubstrate, queue, err)
	}
	return nil
}

func (q *Queue) subscribe(queue string) (*subscription, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if s, ok := q.subs[queue]; ok {
		return s, nil
	}

	cfg := nsq.NewConfig()
	cfg.MaxInFlight = q.buffer
	consumer, err := nsq.NewConsumer(queue, q.channel, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: nsq consumer %s: %w", messaging.ErrSubstrate, queue, err)
	}
	consumer.SetLogger(q.nsqLogger(), nsq.LogLevelWarning)

	s := &subscription{
		consumer: consumer,
		msgs:     make(chan *nsq.Message, q.buffer),
		stop:     make(chan struct{}),
	}
	consumer.AddHandler(s)

	if q.lookupd != "" {
		err = consumer.ConnectToNSQLookupd(q.lookupd)
	} else {
		err = consumer.ConnectToNSQD(q.nsqd)
	}
	if err != nil {
		consumer.Stop()
		return nil, fmt.Errorf("%w: connect consumer %s: %w", messaging.ErrSubstrate, queue, err)
	}

	q.subs[queue] = s
	return s, nil
}

// HandleMessage parks the message until a poll picks it up. Messages still
// parked at shutdown are never finished, so nsqd redelivers them.
func (s *subscription) HandleMessage(m *nsq.Message) error {
	m.DisableAutoResponse()
	select {
	case s.msgs <- m:
	case <-s.stop:
	}
	return nil
}

func (q *Queue) Poll(ctx context.Context, queue string, limit int, wait time.Duration) ([]messaging.QueueMessage, error) {
	s, err := q.subscribe(queue)
	if err != nil {
		return nil, err
	}
	return s.collect(ctx, max(1, limit), wait), nil
}

// collect waits up to wait for the first message, then takes whatever else is
// already buffered.
func (s *subscription) collect(ctx context.Context, limit int, wait time.Duration) []messaging.QueueMessage {
	timer := time.NewTimer(max(0, wait))
	defer timer.Stop()

	var out []messaging.QueueMessage
	select {
	case <-ctx.Done():
		return nil
	case <-timer.C:
		return nil
	case m := <-s.msgs:
		out = append(out, &message{msg: m})
	}

	for len(out) < limit {
		select {
		case m := <-s.msgs:
			out = append(out, &message{msg: m})
		default:
			return out
		}
	}
	return out
}

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for name, s := range q.subs {
		close(s.stop)
		if s.consumer != nil {
			s.consumer.Stop()
			<-s.consumer.StopChan
		}
		delete(q.subs, name)
	}
	if q.producer != nil {
		q.producer.Stop()
	}
	return nil
}

type message struct {
	msg *nsq.Message
}

func (m *message) Body() []byte { return m.msg.Body }

func (m *message) Ack(_ context.Context) error {
	m.msg.Finish()
	return nil
}

// slogWriter adapts go-nsq's Output logger to slog.
type slogWriter struct {
	logger *slog.Logger
}

func (w *slogWriter) Output(_ int, s string) error {
	w.logger.Warn("nsq", "message", s)
	return nil
}
