package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"kgrag/internal/messaging"
)

const defaultAckWait = 5 * time.Minute

// Queue is a work queue backed by a JetStream stream with one durable pull
// consumer per queue subject.
type Queue struct {
	js      jetstream.JetStream
	conn    *Conn
	stream  string
	durable string
	ackWait time.Duration

	mu        sync.Mutex
	consumers map[string]jetstream.Consumer
}

// NewQueue creates or updates stream so that it captures every queue subject.
// The queue owns conn: Close closes it, and Poll reports its async errors.
func NewQueue(ctx context.Context, conn *Conn, stream, durable string, queues ...string) (*Queue, error) {
	js, err := jetstream.New(conn.nc)
	if err != nil {
		return nil, fmt.Errorf("%w: jetstream: %w", messaging.ErrSubstrate, err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      stream,
		Subjects:  queues,
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create stream %s: %w", messaging.ErrSubstrate, stream, err)
	}

	return &Queue{
		js:        js,
		conn:      conn,
		stream:    stream,
		durable:   durable,
		ackWait:   defaultAckWait,
		consumers: make(map[string]jetstream.Consumer),
	}, nil
}

var consumerNameReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_")

func (q *Queue) consumer(ctx context.Context, queue string) (jetstream.Consumer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if c, ok := q.consumers[queue]; ok {
		return c, nil
	}

	c, err := q.js.CreateOrUpdateConsumer(ctx, q.stream, jetstream.ConsumerConfig{
		Durable:       q.durable + "_" + consumerNameReplacer.Replace(queue),
		FilterSubject: queue,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       q.ackWait,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create consumer for %s: %w", messaging.ErrSubstrate, queue, err)
	}
	q.consumers[queue] = c
	return c, nil
}

func (q *Queue) Send(ctx context.Context, queue string, body []byte) error {
	if _, err := q.js.Publish(ctx, queue, body); err != nil {
		return fmt.Errorf("%w: publish %s: %w", messaging.ErrSubstrate, queue, err)
	}
	return nil
}

func (q *Queue) Poll(ctx context.Context, queue string, limit int, wait time.Duration) ([]messaging.QueueMessage, error) {
	select {
	case err := <-q.conn.Errors():
		return nil, fmt.Errorf("%w: %s: %w", messaging.ErrSubstrate, queue, err)
	default:
	}

	c, err := q.consumer(ctx, queue)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 1
	}

	var batch jetstream.MessageBatch
	if wait <= 0 {
		batch, err = c.FetchNoWait(limit)
	} else {
		batch, err = c.Fetch(limit, jetstream.FetchMaxWait(wait))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %w", messaging.ErrSubstrate, queue, err)
	}

	var out []messaging.QueueMessage
	for {
		select {
		case <-ctx.Done():
			// Unacked messages are redelivered after the ack wait.
			return out, nil
		case m, ok := <-batch.Messages():
			if !ok {
				if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) && len(out) == 0 {
					return nil, fmt.Errorf("%w: fetch %s: %w", messaging.ErrSubstrate, queue, err)
				}
				return out, nil
			}
			out = append(out, &jsMessage{msg: m})
		}
	}
}

func (q *Queue) Close() error {
	return q.conn.Close()
}

type jsMessage struct {
	msg jetstream.Msg
}

func (m *jsMessage) Body() []byte { return m.msg.Data() }

func (m *jsMessage) Ack(_ context.Context) error {
	if err := m.msg.Ack(); err != nil {
		return fmt.Errorf("%w: ack: %w", messaging.ErrSubstrate, err)
	}
	return nil
}
