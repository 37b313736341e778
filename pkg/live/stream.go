package live

import (
	"context"
	"iter"
	"sync"
)

// Stream splits the flat event sequence produced by a provider's receive
// goroutine into per-turn iterators. Provider adapters use it to implement
// [Session.Receive].
//
// Exactly one goroutine (the producer) calls Push and End. Any number of
// consumers may call Receive, though the call bridge only ever has one.
type Stream struct {
	events chan Event

	mu      sync.Mutex
	err     error
	endOnce sync.Once
}

// NewStream returns a Stream whose internal queue holds up to buffer events
// before Push blocks.
func NewStream(buffer int) *Stream {
	return &Stream{events: make(chan Event, max(buffer, 0))}
}

// Push queues ev for the consumer. It blocks while the queue is full and
// returns false if ctx is cancelled first.
func (s *Stream) Push(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// End marks the stream as finished. Events already queued are still delivered;
// after them Receive yields err, or [ErrSessionClosed] if err is nil. Only the
// first call has any effect.
func (s *Stream) End(err error) {
	s.endOnce.Do(func() {
		if err == nil {
			err = ErrSessionClosed
		}
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.events)
	})
}

// Err returns the terminal error recorded by End, or nil while the stream is
// still open.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Receive implements [Session.Receive] over the queued events.
func (s *Stream) Receive(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			select {
			case <-ctx.Done():
				yield(Event{}, ctx.Err())
				return
			case ev, ok := <-s.events:
				if !ok {
					yield(Event{}, s.Err())
					return
				}
				if !yield(ev, nil) {
					return
				}
				if ev.Kind == EventTurnComplete {
					return
				}
			}
		}
	}
}
