// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out a scripted Session. Use
// Session to script the model's turns and inspect what was sent to it.
//
// Example:
//
//	sess := &mock.Session{
//	    Turns: [][]live.Event{
//	        {{Kind: live.EventAudio, Audio: pcm}, {Kind: live.EventTurnComplete}},
//	    },
//	}
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
package mock

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/utsavkredmint/exotel-based-call/pkg/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the Config passed to Connect.
	Cfg live.Config
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the Session returned by Connect. If nil, Connect returns a
	// new empty Session whose Receive blocks until cancelled.
	Session live.Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities live.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return &Session{}, nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() live.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// Calls returns a copy of the recorded Connect calls. Thread-safe.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectCall(nil), p.ConnectCalls...)
}

// Ensure Provider implements live.Provider at compile time.
var _ live.Provider = (*Provider)(nil)

// SendCall records a single invocation of Session.Send.
type SendCall struct {
	// Chunk is a copy of the bytes passed to Send.
	Chunk []byte
	// MIMEType is the MIME descriptor passed to Send.
	MIMEType string
}

// Session is a scripted implementation of live.Session.
//
// Each call to Receive consumes the next entry of Turns and yields its events
// in order. A script that does not end in an EventTurnComplete simulates a
// turn that ended without a boundary. Once Turns is exhausted Receive yields
// ReceiveErr if set; otherwise it blocks until its context is cancelled or the
// session is closed.
type Session struct {
	mu sync.Mutex

	// Turns is the scripted sequence of model turns.
	Turns [][]live.Event

	// ReceiveErr, if non-nil, is yielded by every Receive call after Turns is
	// exhausted.
	ReceiveErr error

	// SendErr, if non-nil, is returned by every Send call not listed in
	// SendErrs.
	SendErr error

	// SendErrs maps a zero-based Send call index to the error that call returns.
	SendErrs map[int]error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// SendCalls records every call to Send in order, including failed ones.
	SendCalls []SendCall

	// ReceiveCallCount is the number of times Receive was called.
	ReceiveCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	next   int
	done   chan struct{}
	closed bool
}

func (s *Session) doneCh() chan struct{} {
	if s.done == nil {
		s.done = make(chan struct{})
	}
	return s.done
}

// Send records the call and returns the configured error. After Close it
// returns live.ErrSessionClosed.
func (s *Session) Send(_ context.Context, chunk []byte, mimeType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.SendCalls)
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendCalls = append(s.SendCalls, SendCall{Chunk: cp, MIMEType: mimeType})
	if s.closed {
		return live.ErrSessionClosed
	}
	if err, ok := s.SendErrs[idx]; ok {
		return err
	}
	return s.SendErr
}

// Receive yields the next scripted turn.
func (s *Session) Receive(ctx context.Context) iter.Seq2[live.Event, error] {
	return func(yield func(live.Event, error) bool) {
		s.mu.Lock()
		s.ReceiveCallCount++
		done := s.doneCh()
		if s.closed {
			s.mu.Unlock()
			yield(live.Event{}, live.ErrSessionClosed)
			return
		}
		if s.next < len(s.Turns) {
			turn := s.Turns[s.next]
			s.next++
			s.mu.Unlock()
			for _, ev := range turn {
				if !yield(ev, nil) {
					return
				}
			}
			return
		}
		err := s.ReceiveErr
		s.mu.Unlock()

		if err != nil {
			yield(live.Event{}, err)
			return
		}
		select {
		case <-ctx.Done():
			yield(live.Event{}, ctx.Err())
		case <-done:
			yield(live.Event{}, live.ErrSessionClosed)
		}
	}
}

// Close records the call, unblocks pending Receive calls and returns
// CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if !s.closed {
		s.closed = true
		close(s.doneCh())
	}
	return s.CloseErr
}

// Sent returns a copy of the recorded Send calls. Thread-safe.
func (s *Session) Sent() []SendCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SendCall(nil), s.SendCalls...)
}

// ReceiveCount returns the number of Receive iterations started. Thread-safe.
func (s *Session) ReceiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ReceiveCallCount
}

// Closes returns the number of Close calls. Thread-safe.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// WaitForSends polls until at least n Send calls were recorded or timeout
// elapses. It reports whether the count was reached.
func (s *Session) WaitForSends(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if len(s.Sent()) >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

// Ensure Session implements live.Session at compile time.
var _ live.Session = (*Session)(nil)
