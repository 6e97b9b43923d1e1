// Package sqs implements the source work queue on Amazon SQS.
package sqs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"kgrag/internal/messaging"
)

// SQS limits for a single ReceiveMessage call.
const (
	maxMessages = 10
	maxWait     = 20 * time.Second
)

type sqsAPI interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Queue resolves queue names to URLs once and caches them.
type Queue struct {
	client sqsAPI

	mu   sync.Mutex
	urls map[string]string
}

func New(client sqsAPI) *Queue {
	return &Queue{client: client, urls: make(map[string]string)}
}

// NewFromRegion loads the default AWS credential chain. A non-empty endpoint
// points the client at a local emulator.
func NewFromRegion(ctx context.Context, region, endpoint string) (*Queue, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %w", messaging.ErrSubstrate, err)
	}
	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return New(client), nil
}

func (q *Queue) queueURL(ctx context.Context, queue string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if u, ok := q.urls[queue]; ok {
		return u, nil
	}
	out, err := q.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queue)})
	if err != nil {
		return "", fmt.Errorf("%w: resolve queue %s: %w", messaging.ErrSubstrate, queue, err)
	}
	u := aws.ToString(out.QueueUrl)
	q.urls[queue] = u
	return u, nil
}

func (q *Queue) Send(ctx context.Context, queue string, body []byte) error {
	u, err := q.queueURL(ctx, queue)
	if err != nil {
		return err
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(u),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("%w: send to %s: %w", messaging.ErrSubstrate, queue, err)
	}
	return nil
}

func (q *Queue) Poll(ctx context.Context, queue string, limit int, wait time.Duration) ([]messaging.QueueMessage, error) {
	u, err := q.queueURL(ctx, queue)
	if err != nil {
		return nil, err
	}

	limit = min(maxMessages, max(1, limit))
	wait = min(maxWait, max(0, wait))

	// SQS waits in whole seconds; a sub-second wait must not become a short poll.
	seconds := int32((wait + time.Second - 1) / time.Second)

	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(u),
		MaxNumberOfMessages: int32(limit),
		WaitTimeSeconds:     seconds,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: receive from %s: %w", messaging.ErrSubstrate, queue, err)
	}

	msgs := make([]messaging.QueueMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, &message{queue: q, url: u, msg: m})
	}
	return msgs, nil
}

// Close is a no-op; the SDK client holds no connections that need releasing.
func (q *Queue) Close() error { return nil }

type message struct {
	queue *Queue
	url   string
	msg   sqstypes.Message
}

func (m *message) Body() []byte { return []byte(aws.ToString(m.msg.Body)) }

func (m *message) Ack(ctx context.Context) error {
	_, err := m.queue.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(m.url),
		ReceiptHandle: m.msg.ReceiptHandle,
	})
	if err != nil {
		return fmt.Errorf("%w: delete message: %w", messaging.ErrSubstrate, err)
	}
	return nil
}
