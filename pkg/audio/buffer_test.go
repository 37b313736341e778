package audio_test

import (
	"errors"
	"testing"

	"github.com/utsavkredmint/exotel-based-call/pkg/audio"
)

func telFrame(b ...byte) audio.Frame {
	return audio.Frame{Data: b, SampleRate: audio.TelephonyRate, Origin: audio.OriginTelephony}
}

func TestBuffer_FlushEmpty(t *testing.T) {
	t.Parallel()
	b := audio.NewBuffer(3)
	if _, ok := b.Flush(); ok {
		t.Fatal("Flush on empty buffer reported a frame")
	}
}

func TestBuffer_FlushConcatenatesInArrivalOrder(t *testing.T) {
	t.Parallel()

	b := audio.NewBuffer(3)
	for _, f := range []audio.Frame{telFrame(1, 2), telFrame(3, 4), telFrame(5, 6)} {
		if b.Ready() {
			t.Fatal("buffer ready before threshold")
		}
		if err := b.Append(f); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if !b.Ready() {
		t.Fatal("buffer not ready at threshold")
	}

	out, ok := b.Flush()
	if !ok {
		t.Fatal("Flush reported no frame")
	}
	if want := []byte{1, 2, 3, 4, 5, 6}; string(out.Data) != string(want) {
		t.Errorf("Data = %v, want %v", out.Data, want)
	}
	if out.SampleRate != audio.TelephonyRate || out.Origin != audio.OriginTelephony {
		t.Errorf("flushed frame = %d/%v, want 8000/telephony", out.SampleRate, out.Origin)
	}
	if b.Len() != 0 {
		t.Errorf("Len after flush = %d, want 0", b.Len())
	}
	if _, ok := b.Flush(); ok {
		t.Error("second Flush reported a frame")
	}
}

func TestBuffer_RejectsMismatchedFrames(t *testing.T) {
	t.Parallel()

	b := audio.NewBuffer(4)
	if err := b.Append(telFrame(1, 2)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	err := b.Append(audio.Frame{Data: []byte{3, 4}, SampleRate: audio.ModelRate, Origin: audio.OriginModel})
	if !errors.Is(err, audio.ErrFrameMismatch) {
		t.Fatalf("err = %v, want ErrFrameMismatch", err)
	}
	if b.Len() != 1 {
		t.Errorf("Len = %d, want 1", b.Len())
	}
}

func TestNewBuffer_MinimumThreshold(t *testing.T) {
	t.Parallel()
	b := audio.NewBuffer(0)
	if b.Threshold() != 1 {
		t.Fatalf("Threshold = %d, want 1", b.Threshold())
	}
	_ = b.Append(telFrame(9, 9))
	if !b.Ready() {
		t.Error("single frame should be ready with threshold 1")
	}
}

func TestPCMMime(t *testing.T) {
	t.Parallel()
	if got := audio.PCMMime(8000); got != "audio/pcm;rate=8000" {
		t.Errorf("PCMMime = %q", got)
	}
}
