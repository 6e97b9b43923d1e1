package worker

import (
	"context"
	"sync/atomic"
)

// ShutdownSignal is the process-wide stop flag. It is set at most once and
// never reset.
type ShutdownSignal struct {
	set    atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
}

func NewShutdownSignal() *ShutdownSignal {
	ctx, cancel := context.WithCancel(context.Background())
	return &ShutdownSignal{ctx: ctx, cancel: cancel}
}

// Trigger sets the flag. It reports whether this call was the one that set it.
func (s *ShutdownSignal) Trigger() bool {
	if !s.set.CompareAndSwap(false, true) {
		return false
	}
	s.cancel()
	return true
}

func (s *ShutdownSignal) IsSet() bool {
	return s.set.Load()
}

// Context is done once the signal has been triggered.
func (s *ShutdownSignal) Context() context.Context {
	return s.ctx
}
