package audio

import (
	"errors"
	"fmt"
)

// ErrFrameMismatch is returned by [Buffer.Append] when a frame's origin or
// sample rate differs from the frames already buffered.
var ErrFrameMismatch = errors.New("audio: frame does not match buffered frames")

// Buffer accumulates contiguous frames until a flush threshold is reached.
// All frames in a buffer share one origin and sample rate.
//
// A Buffer has a single writer (the pump that owns it) and no locking.
type Buffer struct {
	threshold int
	frames    []Frame
}

// NewBuffer returns a buffer that is ready to flush once it holds threshold
// frames. A threshold below 1 is treated as 1, which forwards every frame
// as soon as it arrives.
func NewBuffer(threshold int) *Buffer {
	if threshold < 1 {
		threshold = 1
	}
	return &Buffer{
		threshold: threshold,
		frames:    make([]Frame, 0, threshold),
	}
}

// Append adds f to the buffer. It rejects frames whose origin or rate
// differ from the first buffered frame.
func (b *Buffer) Append(f Frame) error {
	if len(b.frames) > 0 {
		head := b.frames[0]
		if f.Origin != head.Origin || f.SampleRate != head.SampleRate {
			return fmt.Errorf("%w: have %s@%dHz, got %s@%dHz", ErrFrameMismatch,
				head.Origin, head.SampleRate, f.Origin, f.SampleRate)
		}
	}
	b.frames = append(b.frames, f)
	return nil
}

// Ready reports whether the buffer has reached its flush threshold.
func (b *Buffer) Ready() bool { return len(b.frames) >= b.threshold }

// Len returns the number of buffered frames.
func (b *Buffer) Len() int { return len(b.frames) }

// Threshold returns the flush threshold.
func (b *Buffer) Threshold() int { return b.threshold }

// Flush concatenates the buffered frames in arrival order into one frame and
// clears the buffer. It returns false, and no frame, when the buffer is empty.
func (b *Buffer) Flush() (Frame, bool) {
	if len(b.frames) == 0 {
		return Frame{}, false
	}

	size := 0
	for _, f := range b.frames {
		size += len(f.Data)
	}
	data := make([]byte, 0, size)
	for _, f := range b.frames {
		data = append(data, f.Data...)
	}

	out := Frame{
		Data:       data,
		SampleRate: b.frames[0].SampleRate,
		Origin:     b.frames[0].Origin,
	}
	clear(b.frames)
	b.frames = b.frames[:0]
	return out, true
}
