// Package mock provides a scripted exotel.Channel for tests.
//
// Feed inbound messages through In; close In to end the stream. Everything
// the code under test writes is recorded in Written.
package mock

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/utsavkredmint/exotel-based-call/pkg/audio/exotel"
)

// ErrClosed is returned by Read and Write after Close.
var ErrClosed = errors.New("mock: channel closed")

// Channel is a mock implementation of exotel.Channel.
type Channel struct {
	mu sync.Mutex

	// In supplies the messages returned by Read, in order. When In is closed
	// Read returns ReadErr, or io.EOF if ReadErr is nil. A nil In blocks Read
	// until its context is cancelled or the channel is closed.
	In chan exotel.Message

	// ReadErr is returned by Read once In is closed.
	ReadErr error

	// WriteErr, if non-nil, is returned by every Write not listed in WriteErrs.
	WriteErr error

	// WriteErrs maps a zero-based Write call index to the error it returns.
	WriteErrs map[int]error

	// Written records every message passed to Write, including failed ones.
	Written []exotel.Message

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	done   chan struct{}
	closed bool
}

// NewChannel returns a Channel whose In is buffered for n messages.
func NewChannel(n int) *Channel {
	return &Channel{In: make(chan exotel.Message, n)}
}

func (c *Channel) doneCh() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		c.done = make(chan struct{})
	}
	return c.done
}

// Read returns the next message from In.
func (c *Channel) Read(ctx context.Context) (exotel.Message, error) {
	done := c.doneCh()
	select {
	case <-ctx.Done():
		return exotel.Message{}, ctx.Err()
	case <-done:
		return exotel.Message{}, ErrClosed
	case m, ok := <-c.In:
		if !ok {
			c.mu.Lock()
			err := c.ReadErr
			c.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return exotel.Message{}, err
		}
		return m, nil
	}
}

// Write records m and returns the configured error.
func (c *Channel) Write(_ context.Context, m exotel.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := len(c.Written)
	c.Written = append(c.Written, m)
	if c.closed {
		return ErrClosed
	}
	if err, ok := c.WriteErrs[idx]; ok {
		return err
	}
	return c.WriteErr
}

// Close records the call and unblocks pending reads.
func (c *Channel) Close() error {
	done := c.doneCh()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCallCount++
	if !c.closed {
		c.closed = true
		close(done)
	}
	return nil
}

// Writes returns a copy of the recorded writes. Thread-safe.
func (c *Channel) Writes() []exotel.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]exotel.Message(nil), c.Written...)
}

// Closes returns the number of Close calls. Thread-safe.
func (c *Channel) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CloseCallCount
}

// WaitForWrites polls until at least n writes were recorded or timeout
// elapses. It reports whether the count was reached.
func (c *Channel) WaitForWrites(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if len(c.Writes()) >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

// Ensure Channel implements exotel.Channel at compile time.
var _ exotel.Channel = (*Channel)(nil)
