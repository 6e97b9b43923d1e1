package app_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgrag/internal/app"
	"kgrag/internal/worker"
)

type countingCloser struct {
	calls atomic.Int32
	err   error
}

func (c *countingCloser) Close() error {
	c.calls.Add(1)
	return c.err
}

// blockUntilDone mimics a loop that exits when its context ends.
func blockUntilDone(started chan<- struct{}) app.Runner {
	return app.RunnerFunc(func(ctx context.Context) error {
		if started != nil {
			started <- struct{}{}
		}
		<-ctx.Done()
		return nil
	})
}

// syncBuffer guards a bytes.Buffer so the logger can be written from loops.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestCoordinator_Lifecycle(t *testing.T) {
	signal := worker.NewShutdownSignal()
	started := make(chan struct{}, 2)
	query, queue := &countingCloser{}, &countingCloser{}

	c := app.NewCoordinator(signal, blockUntilDone(started), blockUntilDone(started),
		app.WithJoinTimeout(time.Second),
		app.WithCloser("query", query),
		app.WithCloser("queue", queue))

	assert.Equal(t, app.StateCreated, c.State())
	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, app.StateRunning, c.State())

	<-started
	<-started

	c.Shutdown()
	assert.Equal(t, app.StateStopped, c.State())
	assert.True(t, signal.IsSet())
	assert.Equal(t, int32(1), query.calls.Load())
	assert.Equal(t, int32(1), queue.calls.Load())
}

func TestCoordinator_ShutdownIsIdempotent(t *testing.T) {
	signal := worker.NewShutdownSignal()
	closer := &countingCloser{}
	c := app.NewCoordinator(signal, blockUntilDone(nil), blockUntilDone(nil),
		app.WithJoinTimeout(time.Second),
		app.WithCloser("query", closer))

	require.NoError(t, c.Start(context.Background()))
	c.Shutdown()
	assert.NotPanics(t, c.Shutdown)

	assert.Equal(t, app.StateStopped, c.State())
	assert.Equal(t, int32(1), closer.calls.Load())
}

func TestCoordinator_StartTwiceFails(t *testing.T) {
	c := app.NewCoordinator(worker.NewShutdownSignal(), blockUntilDone(nil), blockUntilDone(nil))
	require.NoError(t, c.Start(context.Background()))
	defer c.Shutdown()

	err := c.Start(context.Background())
	assert.ErrorIs(t, err, app.ErrInvalidState)
}

func TestCoordinator_NoRestartAfterStop(t *testing.T) {
	c := app.NewCoordinator(worker.NewShutdownSignal(), blockUntilDone(nil), blockUntilDone(nil))
	require.NoError(t, c.Start(context.Background()))
	c.Shutdown()

	assert.ErrorIs(t, c.Start(context.Background()), app.ErrInvalidState)
	assert.Equal(t, app.StateStopped, c.State())
}

func TestCoordinator_JoinTimeoutWarnsAndStillCloses(t *testing.T) {
	var logs syncBuffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	stuck := make(chan struct{})
	defer close(stuck)
	stubborn := app.RunnerFunc(func(ctx context.Context) error {
		<-stuck
		return nil
	})

	closer := &countingCloser{}
	c := app.NewCoordinator(worker.NewShutdownSignal(), stubborn, blockUntilDone(nil),
		app.WithJoinTimeout(20*time.Millisecond),
		app.WithCloser("query", closer),
		app.WithCoordinatorLogger(logger))

	require.NoError(t, c.Start(context.Background()))

	start := time.Now()
	c.Shutdown()
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, app.StateStopped, c.State())
	assert.Equal(t, int32(1), closer.calls.Load())
	assert.Contains(t, logs.String(), "task did not shutdown cleanly")
	assert.Contains(t, logs.String(), "query-responder")
}

func TestCoordinator_ParentCancelDoesNotCancelSubscription(t *testing.T) {
	var cancelled atomic.Bool
	responder := app.RunnerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		cancelled.Store(true)
		return nil
	})

	parent, cancel := context.WithCancel(context.Background())
	c := app.NewCoordinator(worker.NewShutdownSignal(), responder, blockUntilDone(nil))
	require.NoError(t, c.Start(parent))

	cancel()
	time.Sleep(20 * time.Millisecond)
	assert.False(t, cancelled.Load())

	c.Shutdown()
	assert.True(t, cancelled.Load())
}

func TestCoordinator_Run(t *testing.T) {
	closer := &countingCloser{err: errors.New("already closed")}
	c := app.NewCoordinator(worker.NewShutdownSignal(), blockUntilDone(nil), blockUntilDone(nil),
		app.WithCloser("queue", closer))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	assert.Eventually(t, func() bool { return c.State() == app.StateRunning }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, app.StateStopped, c.State())
	assert.Equal(t, int32(1), closer.calls.Load())
}

func TestCoordinator_LoopsObserveSignal(t *testing.T) {
	signal := worker.NewShutdownSignal()
	var ingestorStopped atomic.Bool
	ingestor := app.RunnerFunc(func(ctx context.Context) error {
		for !signal.IsSet() {
			time.Sleep(time.Millisecond)
		}
		ingestorStopped.Store(true)
		return nil
	})

	c := app.NewCoordinator(signal, blockUntilDone(nil), ingestor, app.WithJoinTimeout(time.Second))
	require.NoError(t, c.Start(context.Background()))
	c.Shutdown()
	assert.True(t, ingestorStopped.Load())
}
