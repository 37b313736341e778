package app

import (
	"context"
	"slices"
	"sync"

	"github.com/utsavkredmint/exotel-based-call/internal/bridge"
)

// CallRegistry tracks the calls currently being bridged. All methods are
// safe for concurrent use.
type CallRegistry struct {
	mu    sync.Mutex
	calls map[string]*bridge.Call

	// idle is closed while no call is registered.
	idle chan struct{}
}

// NewCallRegistry returns an empty registry.
func NewCallRegistry() *CallRegistry {
	idle := make(chan struct{})
	close(idle)
	return &CallRegistry{
		calls: make(map[string]*bridge.Call),
		idle:  idle,
	}
}

// Add registers c. It is wired as the bridge's start hook.
func (r *CallRegistry) Add(c *bridge.Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		r.idle = make(chan struct{})
	}
	r.calls[c.ID] = c
}

// Remove unregisters c. It is wired as the bridge's end hook.
func (r *CallRegistry) Remove(c *bridge.Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[c.ID]; !ok {
		return
	}
	delete(r.calls, c.ID)
	if len(r.calls) == 0 {
		close(r.idle)
	}
}

// Len returns the number of registered calls.
func (r *CallRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// List returns a snapshot of every registered call, oldest first.
func (r *CallRegistry) List() []bridge.Info {
	r.mu.Lock()
	calls := make([]*bridge.Call, 0, len(r.calls))
	for _, c := range r.calls {
		calls = append(calls, c)
	}
	r.mu.Unlock()

	infos := make([]bridge.Info, 0, len(calls))
	for _, c := range calls {
		infos = append(infos, c.Info())
	}
	slices.SortFunc(infos, func(a, b bridge.Info) int { return a.Started.Compare(b.Started) })
	return infos
}

// Stop signals the call with the given id to end. found is false for an
// unknown id; stopped is false when the call was already ending.
func (r *CallRegistry) Stop(id string) (found, stopped bool) {
	r.mu.Lock()
	c, ok := r.calls[id]
	r.mu.Unlock()
	if !ok {
		return false, false
	}
	return true, c.Stop()
}

// StopAll signals every registered call to end and returns how many were
// signalled.
func (r *CallRegistry) StopAll() int {
	r.mu.Lock()
	calls := make([]*bridge.Call, 0, len(r.calls))
	for _, c := range r.calls {
		calls = append(calls, c)
	}
	r.mu.Unlock()

	n := 0
	for _, c := range calls {
		if c.Stop() {
			n++
		}
	}
	return n
}

// Wait blocks until no call is registered or ctx is done.
func (r *CallRegistry) Wait(ctx context.Context) error {
	r.mu.Lock()
	idle := r.idle
	r.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
