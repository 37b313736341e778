package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// End reasons recorded on the [RunFlag] and reported in [Summary.Reason].
const (
	// ReasonHangup means the telephony side sent a "stop" event.
	ReasonHangup = "hangup"

	// ReasonTelephonyClosed means the telephony stream ended without a "stop"
	// event.
	ReasonTelephonyClosed = "telephony_closed"

	// ReasonTelephonyError means reading, decoding or writing telephony
	// messages failed.
	ReasonTelephonyError = "telephony_error"

	// ReasonLiveError means the live session failed while receiving.
	ReasonLiveError = "live_error"

	// ReasonConnectFailed means the live session could not be opened.
	ReasonConnectFailed = "connect_failed"

	// ReasonStopped means the call was stopped from outside (API or
	// shutdown).
	ReasonStopped = "stopped"

	// ReasonCancelled means the context passed to Serve was cancelled.
	ReasonCancelled = "cancelled"

	// ReasonCompleted means both pumps returned without recording a reason.
	ReasonCompleted = "completed"
)

// Counters are the per-call observability counters. Each field is written by
// one pump only: the inbound pump owns ChunksSent and SendErrors, the outbound
// pump owns the rest.
type Counters struct {
	// Turn is the number of the turn the outbound pump is currently in. It
	// starts at 1.
	Turn atomic.Int64

	// Responses counts events received from the live session.
	Responses atomic.Int64

	// ChunksSent counts flushed buffers delivered to the live session.
	ChunksSent atomic.Int64

	// SendErrors counts flushed buffers the live session rejected.
	SendErrors atomic.Int64

	// ChunksForwarded counts media messages written to the telephony side.
	ChunksForwarded atomic.Int64
}

// NewCounters returns counters positioned at turn 1.
func NewCounters() *Counters {
	c := &Counters{}
	c.Turn.Store(1)
	return c
}

// Stats is a point-in-time copy of [Counters].
type Stats struct {
	Turn            int64 `json:"turn"`
	Responses       int64 `json:"responses"`
	ChunksSent      int64 `json:"chunks_sent"`
	SendErrors      int64 `json:"send_errors"`
	ChunksForwarded int64 `json:"chunks_forwarded"`
}

// Snapshot copies the current counter values.
func (c *Counters) Snapshot() Stats {
	return Stats{
		Turn:            c.Turn.Load(),
		Responses:       c.Responses.Load(),
		ChunksSent:      c.ChunksSent.Load(),
		SendErrors:      c.SendErrors.Load(),
		ChunksForwarded: c.ChunksForwarded.Load(),
	}
}

// Call is one bridged telephone call. It is created by [Bridge.Serve] and
// lives until Serve returns.
type Call struct {
	ID      string
	Started time.Time
	Flag    *RunFlag

	counters *Counters

	mu        sync.Mutex
	streamSID string
	callSID   string
	from      string
	to        string
}

// NewCall returns a running call with a fresh identifier.
func NewCall(parent context.Context) *Call {
	return &Call{
		ID:       uuid.NewString(),
		Started:  time.Now(),
		Flag:     NewRunFlag(parent),
		counters: NewCounters(),
	}
}

// Counters returns the live counters of the call.
func (c *Call) Counters() *Counters { return c.counters }

// Stats returns a snapshot of the call's counters.
func (c *Call) Stats() Stats { return c.counters.Snapshot() }

// Stop ends the call from outside. It reports false if the call had already
// stopped.
func (c *Call) Stop() bool { return c.Flag.Stop(ReasonStopped) }

// Info describes a call for listings.
type Info struct {
	ID        string    `json:"id"`
	StreamSID string    `json:"stream_sid,omitempty"`
	CallSID   string    `json:"call_sid,omitempty"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Started   time.Time `json:"started"`
	Running   bool      `json:"running"`
	Stats     Stats     `json:"stats"`
}

// Info returns a snapshot of the call's identity and counters.
func (c *Call) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Info{
		ID:        c.ID,
		StreamSID: c.streamSID,
		CallSID:   c.callSID,
		From:      c.from,
		To:        c.to,
		Started:   c.Started,
		Running:   c.Flag.Running(),
		Stats:     c.Stats(),
	}
}

func (c *Call) setStream(streamSID, callSID, from, to string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamSID = streamSID
	c.callSID = callSID
	c.from = from
	c.to = to
}

// Summary describes a finished call. It is the only result of
// [Bridge.Serve].
type Summary struct {
	CallID    string
	StreamSID string
	Reason    string
	// Err is the first fatal error of the call, if any.
	Err      error
	Duration time.Duration
	Stats
}
