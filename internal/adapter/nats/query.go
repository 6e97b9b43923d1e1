package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"kgrag/internal/messaging"
	"kgrag/internal/middleware"
)

// Failure responses carry the error in headers, as NATS services do.
const (
	HeaderError     = "Nats-Service-Error"
	HeaderErrorCode = "Nats-Service-Error-Code"
)

const (
	subscriptionBuffer = 64
	drainTimeout       = 2 * time.Second
)

// QueryClient answers requests over NATS core request/reply. The reply inbox
// of a request is its correlation id.
type QueryClient struct {
	conn *Conn
}

func NewQueryClient(conn *Conn) *QueryClient {
	return &QueryClient{conn: conn}
}

func (q *QueryClient) Subscribe(ctx context.Context, channel string, handle func(messaging.Request), onError func(error)) error {
	msgs := make(chan *nats.Msg, subscriptionBuffer)
	sub, err := q.conn.nc.ChanSubscribe(channel, msgs)
	if err != nil {
		return fmt.Errorf("%w: subscribe %s: %w", messaging.ErrSubstrate, channel, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	report := func(err error) {
		if onError != nil {
			onError(fmt.Errorf("%w: %w", messaging.ErrSubstrate, err))
		}
	}

	dispatch := func(m *nats.Msg) {
		if m.Reply == "" {
			report(fmt.Errorf("request on %s has no reply subject", m.Subject))
			return
		}
		handle(toRequest(m))
	}

	for {
		select {
		case <-ctx.Done():
			q.drain(sub, msgs, dispatch, report)
			return nil
		case <-q.conn.Closed():
			return fmt.Errorf("%w: connection closed", messaging.ErrSubstrate)
		case err := <-q.conn.Errors():
			report(err)
		case m := <-msgs:
			dispatch(m)
		}
	}
}

// drain stops new deliveries and hands over every request the server sent
// before it saw the unsubscribe. The flush round trip orders those requests
// ahead of its PONG.
func (q *QueryClient) drain(sub *nats.Subscription, msgs <-chan *nats.Msg, dispatch func(*nats.Msg), report func(error)) {
	if err := sub.Drain(); err != nil {
		report(fmt.Errorf("drain %s: %w", sub.Subject, err))
	}

	flushed := make(chan error, 1)
	go func() { flushed <- q.conn.nc.FlushTimeout(drainTimeout) }()

	for {
		select {
		case m := <-msgs:
			dispatch(m)
		case err := <-flushed:
			if err != nil {
				report(fmt.Errorf("drain %s: %w", sub.Subject, err))
			}
			for {
				select {
				case m := <-msgs:
					dispatch(m)
				default:
					return
				}
			}
		}
	}
}

func toRequest(m *nats.Msg) messaging.Request {
	req := messaging.Request{
		Channel:       m.Subject,
		CorrelationID: m.Reply,
		Payload:       m.Data,
	}
	if len(m.Header) > 0 {
		req.Metadata = make(map[string]string, len(m.Header))
		for k := range m.Header {
			req.Metadata[k] = m.Header.Get(k)
		}
	}
	return req
}

func toMsg(resp messaging.Response) *nats.Msg {
	msg := nats.NewMsg(resp.CorrelationID)
	if resp.Success {
		msg.Data = resp.Payload
		return msg
	}
	msg.Header.Set(HeaderError, resp.ErrorMessage)
	msg.Header.Set(HeaderErrorCode, "500")
	return msg
}

func (q *QueryClient) Respond(_ context.Context, resp messaging.Response) error {
	if resp.CorrelationID == "" {
		return fmt.Errorf("%w: response without correlation id", messaging.ErrSubstrate)
	}
	if err := q.conn.nc.PublishMsg(toMsg(resp)); err != nil {
		return fmt.Errorf("%w: respond: %w", messaging.ErrSubstrate, err)
	}
	return nil
}

// Request sends payload and waits for the reply. A failure response comes
// back as *messaging.RemoteError.
func (q *QueryClient) Request(ctx context.Context, channel string, payload []byte, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg := nats.NewMsg(channel)
	msg.Data = payload
	if id := middleware.GetCorrelationID(ctx); id != "unknown" {
		msg.Header.Set(messaging.HeaderCorrelationID, id)
	}

	reply, err := q.conn.nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return nil, fmt.Errorf("%w: no responders on %s", messaging.ErrSubstrate, channel)
		}
		return nil, fmt.Errorf("%w: request %s: %w", messaging.ErrSubstrate, channel, err)
	}
	return fromReply(reply)
}

func fromReply(m *nats.Msg) ([]byte, error) {
	if m.Header != nil {
		if e := m.Header.Get(HeaderError); e != "" {
			return nil, &messaging.RemoteError{Message: e}
		}
	}
	return m.Data, nil
}

func (q *QueryClient) Close() error {
	return q.conn.Close()
}
