// Package live defines the Provider interface for real-time conversational AI
// backends that take streamed caller audio and answer with synthesised speech.
//
// A live provider keeps one stateful, bidirectional session per call. Audio is
// pushed with [Session.Send] as it arrives from the caller; the model's reply
// is consumed one turn at a time with [Session.Receive]. Providers translate
// their native message shapes into [Event] values once, at the edge, so the
// call bridge never sees a provider-specific type.
//
// All implementations must be safe for concurrent use: one goroutine sends
// while another receives.
package live

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"
)

// ErrSessionClosed is yielded by [Session.Receive] and returned by
// [Session.Send] once the session has been closed, either locally or by the
// remote end.
var ErrSessionClosed = errors.New("live: session closed")

// EventKind discriminates the variants of [Event].
type EventKind int

const (
	// EventText carries model text (a part of the reply or a transcription of
	// the spoken reply). It is informational only.
	EventText EventKind = iota + 1

	// EventAudio carries raw 16-bit PCM at the provider's output rate.
	EventAudio

	// EventTurnComplete marks the end of one model turn.
	EventTurnComplete
)

// String returns the event kind name used in logs.
func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventAudio:
		return "audio"
	case EventTurnComplete:
		return "turn_complete"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one item of a model turn. Exactly one payload field is meaningful
// for a given Kind: Text for EventText, Audio for EventAudio and neither for
// EventTurnComplete.
type Event struct {
	Kind  EventKind
	Text  string
	Audio []byte
}

// Modality selects the form of the model's reply.
type Modality string

const (
	// ModalityAudio asks the model to answer with speech. It is the default.
	ModalityAudio Modality = "AUDIO"

	// ModalityText asks the model to answer with text only.
	ModalityText Modality = "TEXT"
)

// Config is the configuration for a new live session.
type Config struct {
	// Model is the provider model identifier. Empty selects the provider's
	// default.
	Model string

	// Modality is the response modality. Empty means [ModalityAudio].
	Modality Modality

	// Voice is the provider's prebuilt voice name (e.g. "Aoede").
	Voice string

	// Instructions is the system instruction for the session. It is passed
	// through opaquely.
	Instructions string
}

// ResponseModality returns c.Modality, or [ModalityAudio] when unset.
func (c Config) ResponseModality() Modality {
	if c.Modality == "" {
		return ModalityAudio
	}
	return c.Modality
}

// Capabilities describes static properties of a provider.
type Capabilities struct {
	// OutputRate is the sample rate, in Hz, of audio carried by EventAudio.
	OutputRate int

	// MaxSessionDuration is the provider-imposed upper bound on one session.
	// Zero means no documented limit.
	MaxSessionDuration time.Duration

	// Voices lists the prebuilt voice names the provider accepts.
	Voices []string
}

// Session is an open live session. It is an interface so that test code can
// supply scripted implementations without a network connection.
//
// Callers must call Close when the session is no longer needed.
type Session interface {
	// Send delivers one chunk of raw PCM to the model. mimeType describes the
	// encoding, e.g. "audio/pcm;rate=8000". Chunks are sent as-is; callers may
	// call Send in rapid succession.
	Send(ctx context.Context, chunk []byte, mimeType string) error

	// Receive returns an iterator over the events of the next model turn. The
	// iterator stops after yielding an EventTurnComplete event, or after
	// yielding a non-nil error when the session fails or ctx is cancelled.
	// Call Receive again to consume the following turn.
	Receive(ctx context.Context) iter.Seq2[Event, error]

	// Close terminates the session and releases its network resources.
	// Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any live backend.
type Provider interface {
	// Connect opens a new session. The returned Session is ready to accept
	// audio immediately. The caller owns the Session and must Close it.
	Connect(ctx context.Context, cfg Config) (Session, error)

	// Capabilities returns static metadata about the provider. The result is
	// constant for the lifetime of the Provider.
	Capabilities() Capabilities
}
