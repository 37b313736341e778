package exotel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// readLimit bounds a single inbound frame. Exotel media frames are a few
// kilobytes; the default 32 KiB leaves no headroom for larger chunk sizes.
const readLimit = 1 << 20

// Channel is a bidirectional, message-level view of one telephony stream.
// Read is called by a single goroutine and Write by another; implementations
// must allow the two to run concurrently.
type Channel interface {
	// Read blocks until the next message arrives, ctx is cancelled or the
	// stream fails.
	Read(ctx context.Context) (Message, error)

	// Write sends one message to the caller's leg.
	Write(ctx context.Context, m Message) error

	// Close tears down the stream. It is safe to call more than once.
	Close() error
}

// Conn is a [Channel] over a coder/websocket connection.
type Conn struct {
	ws *websocket.Conn

	mu        sync.Mutex
	streamSID string

	closeOnce sync.Once
	closeErr  error
}

var _ Channel = (*Conn)(nil)

// Accept upgrades an HTTP request from the telephony provider to a websocket
// and wraps it.
func Accept(w http.ResponseWriter, r *http.Request, opts *websocket.AcceptOptions) (*Conn, error) {
	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		return nil, fmt.Errorf("exotel: accept: %w", err)
	}
	return NewConn(ws), nil
}

// NewConn wraps an established websocket connection.
func NewConn(ws *websocket.Conn) *Conn {
	ws.SetReadLimit(readLimit)
	return &Conn{ws: ws}
}

// Read decodes the next JSON text frame. The stream id of a "start" message is
// remembered and stamped onto outbound messages by Write.
func (c *Conn) Read(ctx context.Context) (Message, error) {
	var m Message
	if err := wsjson.Read(ctx, c.ws, &m); err != nil {
		return Message{}, fmt.Errorf("exotel: read: %w", err)
	}
	if sid := m.StreamID(); sid != "" {
		c.mu.Lock()
		if c.streamSID == "" {
			c.streamSID = sid
		}
		c.mu.Unlock()
	}
	return m, nil
}

// Write encodes m as a JSON text frame. If m has no stream id and one is
// known, it is filled in.
func (c *Conn) Write(ctx context.Context, m Message) error {
	if m.StreamSID == "" {
		m.StreamSID = c.StreamSID()
	}
	if err := wsjson.Write(ctx, c.ws, m); err != nil {
		return fmt.Errorf("exotel: write: %w", err)
	}
	return nil
}

// StreamSID returns the stream id learned from the "start" message, or "".
func (c *Conn) StreamSID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamSID
}

// Close performs the websocket closing handshake once. A connection the peer
// already closed is not an error.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		err := c.ws.Close(websocket.StatusNormalClosure, "call ended")
		if err != nil && !isClosed(err) {
			c.closeErr = fmt.Errorf("exotel: close: %w", err)
		}
	})
	return c.closeErr
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || IsNormalClosure(err)
}

// IsNormalClosure reports whether err is the peer ending the stream cleanly.
func IsNormalClosure(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
