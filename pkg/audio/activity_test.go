package audio_test

import (
	"math"
	"testing"

	"github.com/utsavkredmint/exotel-based-call/pkg/audio"
)

func TestRMS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		samples []int16
		want    float64
	}{
		{"empty", nil, 0},
		{"constant", []int16{1000, 1000, 1000}, 1000},
		{"mixed sign", []int16{300, -400}, math.Sqrt(125000)},
		{"full scale", []int16{math.MinInt16, math.MaxInt16}, math.Sqrt((32768.0*32768.0 + 32767.0*32767.0) / 2)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := audio.RMS(samplesToBytes(tc.samples))
			if err != nil {
				t.Fatalf("RMS: %v", err)
			}
			if math.Abs(got-tc.want) > 1e-6 {
				t.Errorf("RMS = %f, want %f", got, tc.want)
			}
		})
	}
}

func TestIsActive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		pcm  []byte
		want bool
	}{
		{"silence", samplesToBytes([]int16{0, 0, 0, 0}), false},
		{"quiet line noise", samplesToBytes([]int16{120, -90, 60, -150}), false},
		{"speech", samplesToBytes([]int16{2000, -1800, 2500, -2200}), true},
		{"exactly threshold", samplesToBytes([]int16{500, -500}), false},
		{"empty", nil, false},
		{"odd length fails open", []byte{1, 2, 3}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := audio.IsActive(tc.pcm, audio.DefaultActivityThreshold); got != tc.want {
				t.Errorf("IsActive = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsActive_ScalingNeverSilencesActiveAudio(t *testing.T) {
	t.Parallel()

	waveforms := [][]int16{
		sine(160, 8000, 300, 400),
		sine(160, 8000, 300, 800),
		sine(160, 8000, 1200, 20000),
		{600, -600, 600, -600},
		{32000, -32000, 100},
	}
	factors := []float64{1.01, 1.5, 2, 10, 100}

	for wi, w := range waveforms {
		base := audio.IsActive(samplesToBytes(w), audio.DefaultActivityThreshold)
		for _, f := range factors {
			scaled := make([]int16, len(w))
			for i, s := range w {
				v := math.Max(math.MinInt16, math.Min(math.MaxInt16, float64(s)*f))
				scaled[i] = int16(v)
			}
			got := audio.IsActive(samplesToBytes(scaled), audio.DefaultActivityThreshold)
			if base && !got {
				t.Errorf("waveform %d scaled by %.2f turned active into silent", wi, f)
			}
		}
	}
}

func TestActivityTracker_Transitions(t *testing.T) {
	t.Parallel()

	loud := samplesToBytes([]int16{3000, -3000, 3000, -3000})
	quiet := samplesToBytes([]int16{10, -10, 10, -10})

	tr := audio.NewActivityTracker(0)
	steps := []struct {
		pcm  []byte
		want audio.Transition
	}{
		{quiet, audio.NoTransition},
		{loud, audio.SpeechStarted},
		{loud, audio.NoTransition},
		{quiet, audio.SilenceStarted},
		{quiet, audio.NoTransition},
		{loud, audio.SpeechStarted},
	}
	for i, s := range steps {
		if got := tr.Observe(s.pcm); got != s.want {
			t.Errorf("step %d: got %v, want %v", i, got, s.want)
		}
	}
	if !tr.Active() {
		t.Error("tracker should end active")
	}
}
