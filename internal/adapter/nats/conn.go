// Package nats connects the server loops to NATS: core request/reply for chat
// queries and a JetStream work queue for sources.
package nats

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"kgrag/internal/messaging"
)

// Conn is one NATS connection shared by the query and queue clients.
// Asynchronous connection errors are buffered for the active subscription.
type Conn struct {
	nc     *nats.Conn
	errs   chan error
	closed chan struct{}
	once   sync.Once
	logger *slog.Logger
}

type dialOptions struct {
	name          string
	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	logger        *slog.Logger
}

type Option func(*dialOptions)

func WithName(name string) Option {
	return func(o *dialOptions) { o.name = name }
}

// WithReconnect sets the reconnect budget. A negative attempts value retries forever.
func WithReconnect(attempts int, wait time.Duration) Option {
	return func(o *dialOptions) {
		o.maxReconnects = attempts
		o.reconnectWait = wait
	}
}

func WithTimeout(d time.Duration) Option {
	return func(o *dialOptions) { o.timeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *dialOptions) { o.logger = l }
}

// Dial opens the connection.
func Dial(url string, opts ...Option) (*Conn, error) {
	o := dialOptions{
		name:          "kgrag",
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		timeout:       5 * time.Second,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Conn{
		errs:   make(chan error, 16),
		closed: make(chan struct{}),
		logger: o.logger,
	}

	nc, err := nats.Connect(url,
		nats.Name(o.name),
		nats.MaxReconnects(o.maxReconnects),
		nats.ReconnectWait(o.reconnectWait),
		nats.Timeout(o.timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.report(fmt.Errorf("disconnected: %w", err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.once.Do(func() { close(c.closed) })
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil {
				err = fmt.Errorf("subscription %s: %w", sub.Subject, err)
			}
			c.report(err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %w", messaging.ErrSubstrate, url, err)
	}
	c.nc = nc
	return c, nil
}

// report never blocks the nats callback goroutine; overflow is logged.
func (c *Conn) report(err error) {
	select {
	case c.errs <- err:
	default:
		c.logger.Warn("nats error dropped", "error", err)
	}
}

// Errors yields asynchronous connection errors.
func (c *Conn) Errors() <-chan error { return c.errs }

// Closed is closed once the connection is permanently closed.
func (c *Conn) Closed() <-chan struct{} { return c.closed }

func (c *Conn) NATS() *nats.Conn { return c.nc }

// Close is safe to call more than once.
func (c *Conn) Close() error {
	c.nc.Close()
	return nil
}
