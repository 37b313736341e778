// Package audio holds the PCM primitives shared by both legs of a call:
// frames, the flush buffer, sample-rate conversion and the RMS activity
// heuristic.
//
// All PCM in this package is 16-bit signed little-endian mono.
package audio

import "fmt"

// Common sample rates on either side of the bridge.
const (
	// TelephonyRate is the rate of the caller's media stream.
	TelephonyRate = 8000

	// ModelRate is the rate at which the live model synthesises speech.
	ModelRate = 24000
)

// Origin tags which side of the bridge produced a frame.
type Origin int

const (
	// OriginTelephony marks caller audio received from the telephony stream.
	OriginTelephony Origin = iota + 1

	// OriginModel marks synthesised audio received from the live session.
	OriginModel
)

// String returns the human-readable origin name used in logs and metrics.
func (o Origin) String() string {
	switch o {
	case OriginTelephony:
		return "telephony"
	case OriginModel:
		return "model"
	default:
		return fmt.Sprintf("origin(%d)", int(o))
	}
}

// Frame is one chunk of PCM audio. Frames are not mutated after they are
// produced; functions in this package always return new backing arrays.
type Frame struct {
	// Data is raw s16le mono PCM.
	Data []byte

	// SampleRate in Hz (8000 for telephony, 24000 for model output).
	SampleRate int

	// Origin records which side produced the frame.
	Origin Origin
}

// Samples returns the number of whole 16-bit samples in f.
func (f Frame) Samples() int { return len(f.Data) / 2 }

// PCMMime returns the MIME descriptor for raw 16-bit PCM at rate, in the form
// the live session expects ("audio/pcm;rate=8000").
func PCMMime(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}
