package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DefaultActivityThreshold is the RMS level, on the int16 scale, above which a
// chunk counts as speech. It is low enough to pick up speech over line noise.
const DefaultActivityThreshold = 500

// RMS returns the root-mean-square amplitude of 16-bit PCM. Squares are
// accumulated in float64 so loud chunks cannot overflow. Empty input has an
// RMS of zero.
func RMS(pcm []byte) (float64, error) {
	if len(pcm)%2 != 0 {
		return 0, fmt.Errorf("%w: %d bytes", ErrOddLength, len(pcm))
	}
	n := len(pcm) / 2
	if n == 0 {
		return 0, nil
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n)), nil
}

// IsActive reports whether pcm carries voice activity, i.e. whether its RMS
// exceeds threshold. When the RMS cannot be computed it reports true: a missed
// activity event only costs a log line, never audio.
func IsActive(pcm []byte, threshold float64) bool {
	level, err := RMS(pcm)
	if err != nil {
		return true
	}
	return level > threshold
}

// Transition describes a change in voice activity between two chunks.
type Transition int

const (
	// NoTransition means the activity state did not change.
	NoTransition Transition = iota

	// SpeechStarted means the stream went from silent to active.
	SpeechStarted

	// SilenceStarted means the stream went from active to silent.
	SilenceStarted
)

// String returns the transition name used in logs and metric attributes.
func (t Transition) String() string {
	switch t {
	case SpeechStarted:
		return "speech"
	case SilenceStarted:
		return "silence"
	default:
		return "none"
	}
}

// ActivityTracker keeps the two-valued active/silent state of one inbound
// stream. It is owned by a single pump and is not safe for concurrent use.
type ActivityTracker struct {
	threshold float64
	active    bool
}

// NewActivityTracker returns a tracker that starts silent. A non-positive
// threshold selects [DefaultActivityThreshold].
func NewActivityTracker(threshold float64) *ActivityTracker {
	if threshold <= 0 {
		threshold = DefaultActivityThreshold
	}
	return &ActivityTracker{threshold: threshold}
}

// Observe classifies pcm and returns the resulting state change, if any.
func (t *ActivityTracker) Observe(pcm []byte) Transition {
	active := IsActive(pcm, t.threshold)
	switch {
	case active && !t.active:
		t.active = true
		return SpeechStarted
	case !active && t.active:
		t.active = false
		return SilenceStarted
	}
	return NoTransition
}

// Active reports the current state.
func (t *ActivityTracker) Active() bool { return t.active }
