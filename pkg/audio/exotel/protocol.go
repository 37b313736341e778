// Package exotel adapts an Exotel voice-streaming websocket into a
// message-level channel for the call bridge.
//
// Exotel streams the caller's audio as JSON text frames: a "start" frame
// carrying call metadata, a sequence of "media" frames whose payload is
// base64-encoded 8 kHz 16-bit mono PCM, and a final "stop" frame. Audio played
// back to the caller is written as "media" frames of the same shape.
package exotel

import (
	"encoding/base64"
	"fmt"

	"github.com/utsavkredmint/exotel-based-call/pkg/audio"
)

// Event names used in the "event" field of stream messages.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventClear     = "clear"
	EventDTMF      = "dtmf"
)

// Message is one JSON frame of the stream, in either direction. Fields that
// do not apply to an event are omitted when encoding.
type Message struct {
	Event          string `json:"event"`
	SequenceNumber string `json:"sequence_number,omitempty"`
	StreamSID      string `json:"stream_sid,omitempty"`

	Start *Start `json:"start,omitempty"`
	Media *Media `json:"media,omitempty"`
	Stop  *Stop  `json:"stop,omitempty"`
}

// Start is the payload of a "start" event.
type Start struct {
	StreamSID        string            `json:"stream_sid,omitempty"`
	CallSID          string            `json:"call_sid,omitempty"`
	AccountSID       string            `json:"account_sid,omitempty"`
	From             string            `json:"from,omitempty"`
	To               string            `json:"to,omitempty"`
	CustomParameters map[string]string `json:"custom_parameters,omitempty"`
	MediaFormat      *MediaFormat      `json:"media_format,omitempty"`
}

// MediaFormat describes the encoding announced in a "start" event.
type MediaFormat struct {
	Encoding   string `json:"encoding,omitempty"`
	SampleRate string `json:"sample_rate,omitempty"`
	BitRate    string `json:"bit_rate,omitempty"`
}

// Media is the payload of a "media" event.
type Media struct {
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// Stop is the payload of a "stop" event.
type Stop struct {
	CallSID    string `json:"call_sid,omitempty"`
	AccountSID string `json:"account_sid,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// StreamID returns the stream identifier of m, looking at the envelope first
// and the start block second. It returns "" when neither carries one.
func (m Message) StreamID() string {
	if m.StreamSID != "" {
		return m.StreamSID
	}
	if m.Start != nil {
		return m.Start.StreamSID
	}
	return ""
}

// Frame decodes the payload of a "media" message into a telephony frame.
// A message without a media block decodes to an empty frame.
func (m Message) Frame() (audio.Frame, error) {
	f := audio.Frame{SampleRate: audio.TelephonyRate, Origin: audio.OriginTelephony}
	if m.Media == nil || m.Media.Payload == "" {
		return f, nil
	}
	pcm, err := base64.StdEncoding.DecodeString(m.Media.Payload)
	if err != nil {
		return f, fmt.Errorf("exotel: decode media payload: %w", err)
	}
	f.Data = pcm
	return f, nil
}

// NewMediaMessage builds an outbound "media" message carrying pcm, which must
// already be at the telephony rate.
func NewMediaMessage(pcm []byte) Message {
	return Message{
		Event: EventMedia,
		Media: &Media{Payload: base64.StdEncoding.EncodeToString(pcm)},
	}
}
