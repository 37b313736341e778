package bridge

import (
	"context"
	"sync"
	"sync/atomic"
)

// RunFlag is the cancellation token shared by the two pumps of a call. It
// starts out running and can be stopped exactly once, by either pump or by an
// external caller. The first stop records why the call ended.
//
// Pumps check Running once per loop iteration. Stopping also cancels the
// flag's context so a pump parked in a blocking read or receive wakes up.
type RunFlag struct {
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	once   sync.Once
	mu     sync.Mutex
	reason string
}

// NewRunFlag returns a running flag whose context is derived from parent.
// Cancelling parent makes Running report false as well.
func NewRunFlag(parent context.Context) *RunFlag {
	ctx, cancel := context.WithCancel(parent)
	f := &RunFlag{ctx: ctx, cancel: cancel}
	f.running.Store(true)
	return f
}

// Running reports whether the call should keep going.
func (f *RunFlag) Running() bool {
	return f.running.Load() && f.ctx.Err() == nil
}

// Stop marks the call as finished with reason and cancels the flag's
// context. Only the first call has an effect; it reports whether this call
// was the one that stopped the flag.
func (f *RunFlag) Stop(reason string) bool {
	stopped := false
	f.once.Do(func() {
		f.mu.Lock()
		f.reason = reason
		f.mu.Unlock()
		f.running.Store(false)
		f.cancel()
		stopped = true
	})
	return stopped
}

// Reason returns the reason passed to the first Stop, or "" while running.
func (f *RunFlag) Reason() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reason
}

// Context returns a context that is cancelled when the flag stops or its
// parent is cancelled.
func (f *RunFlag) Context() context.Context { return f.ctx }

// Done is shorthand for Context().Done().
func (f *RunFlag) Done() <-chan struct{} { return f.ctx.Done() }
