// Package messaging defines the request/response and work-queue facades the
// server loops talk to. Concrete clients live under internal/adapter.
package messaging

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSubstrate marks connection and transport failures reported by a client.
	ErrSubstrate = errors.New("messaging substrate error")

	// ErrDecode marks a message whose body could not be decoded.
	ErrDecode = errors.New("message decode error")
)

// Header carrying the caller supplied correlation id, when present.
const HeaderCorrelationID = "X-Correlation-ID"

// Request is one inbound query. CorrelationID is the opaque token a Response
// must carry to reach the caller.
type Request struct {
	Channel       string
	CorrelationID string
	Payload       []byte
	Metadata      map[string]string
}

// Response answers exactly one Request. Payload is set iff Success,
// ErrorMessage iff not.
type Response struct {
	CorrelationID string
	Success       bool
	Payload       []byte
	ErrorMessage  string
}

// Success builds a successful response correlated to req.
func Success(req Request, payload []byte) Response {
	return Response{CorrelationID: req.CorrelationID, Success: true, Payload: payload}
}

// Failure builds an error response correlated to req.
func Failure(req Request, msg string) Response {
	return Response{CorrelationID: req.CorrelationID, Success: false, ErrorMessage: msg}
}

// QueryClient is the request/response side of the substrate.
type QueryClient interface {
	// Subscribe delivers requests on channel to handle until ctx is done.
	// Substrate level problems are reported to onError and do not end the
	// subscription. handle is never invoked after Subscribe returns.
	Subscribe(ctx context.Context, channel string, handle func(Request), onError func(error)) error
	Respond(ctx context.Context, resp Response) error
	Request(ctx context.Context, channel string, payload []byte, timeout time.Duration) ([]byte, error)
	Close() error
}

// QueueMessage is one dequeued work item.
type QueueMessage interface {
	Body() []byte
	Ack(ctx context.Context) error
}

// QueueClient is the work-queue side of the substrate.
type QueueClient interface {
	Send(ctx context.Context, queue string, body []byte) error
	// Poll returns up to max messages, waiting at most wait for the first one.
	// An empty slice with a nil error means the queue was idle.
	Poll(ctx context.Context, queue string, max int, wait time.Duration) ([]QueueMessage, error)
	Close() error
}

// RemoteError is returned by QueryClient.Request when the responder answered
// with a failure response.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}
