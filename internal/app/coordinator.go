package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"kgrag/internal/worker"
)

var ErrInvalidState = errors.New("invalid lifecycle state")

type State int32

const (
	StateCreated State = iota
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Runner is a loop that blocks until its context ends.
type Runner interface {
	Run(ctx context.Context) error
}

type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

type namedCloser struct {
	name   string
	closer io.Closer
}

type task struct {
	name string
	done chan struct{}
	err  error
}

// Coordinator owns the two server loops: it starts them, propagates the
// shutdown signal, joins them with a timeout and then releases the clients.
type Coordinator struct {
	signal      *worker.ShutdownSignal
	responder   Runner
	ingestor    Runner
	joinTimeout time.Duration
	closers     []namedCloser
	logger      *slog.Logger

	mu            sync.Mutex
	state         State
	cancelQueries context.CancelFunc
	tasks         []*task
}

type CoordinatorOption func(*Coordinator)

func WithJoinTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.joinTimeout = d }
}

// WithCloser registers a resource released after both loops have stopped.
func WithCloser(name string, cl io.Closer) CoordinatorOption {
	return func(c *Coordinator) { c.closers = append(c.closers, namedCloser{name: name, closer: cl}) }
}

func WithCoordinatorLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

func NewCoordinator(signal *worker.ShutdownSignal, responder, ingestor Runner, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		signal:      signal,
		responder:   responder,
		ingestor:    ingestor,
		joinTimeout: 5 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start launches both loops.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateCreated {
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidState, c.state)
	}

	// The subscription is cancelled only by Shutdown, never by the parent.
	qctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancelQueries = cancel

	c.tasks = []*task{
		c.spawn(qctx, "query-responder", c.responder),
		c.spawn(c.signal.Context(), "source-ingestor", c.ingestor),
	}
	c.state = StateRunning
	return nil
}

func (c *Coordinator) spawn(ctx context.Context, name string, r Runner) *task {
	t := &task{name: name, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		t.err = r.Run(ctx)
		if t.err != nil {
			c.logger.Error("loop exited with error", "task", name, "error", t.err, "error_kind", worker.ErrorKind(t.err))
		}
	}()
	return t
}

// Shutdown stops both loops and closes the clients. Only the first call has
// an effect.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	switch c.state {
	case StateShuttingDown, StateStopped:
		c.mu.Unlock()
		return
	}
	c.state = StateShuttingDown
	tasks := c.tasks
	cancel := c.cancelQueries
	c.mu.Unlock()

	c.logger.Info("initiating shutdown sequence")
	c.signal.Trigger()
	if cancel != nil {
		cancel()
	}

	for _, t := range tasks {
		c.join(t)
	}

	for _, nc := range c.closers {
		if err := nc.closer.Close(); err != nil {
			c.logger.Warn("failed to close client", "client", nc.name, "error", err)
		}
	}

	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()
	c.logger.Info("shutdown complete")
}

func (c *Coordinator) join(t *task) {
	timer := time.NewTimer(c.joinTimeout)
	defer timer.Stop()
	select {
	case <-t.done:
	case <-timer.C:
		c.logger.Warn("task did not shutdown cleanly", "task", t.name, "timeout", c.joinTimeout)
	}
}

// Run starts the loops, waits for ctx to end and shuts down.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	c.logger.Info("rag server started")

	<-ctx.Done()
	c.logger.Info("shutting down gracefully")
	c.Shutdown()
	return nil
}
