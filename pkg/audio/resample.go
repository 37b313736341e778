package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
)

var (
	// ErrInvalidRate is returned by [ConvertRate] when either sample rate is
	// not positive.
	ErrInvalidRate = errors.New("audio: sample rate must be positive")

	// ErrOddLength is returned when 16-bit PCM data has an odd byte count.
	ErrOddLength = errors.New("audio: odd byte count in 16-bit PCM")
)

// sincZeroCrossings is the number of zero crossings of the interpolation
// kernel kept on each side of the centre tap, measured at the output cutoff.
const sincZeroCrossings = 16

// ResampledLength returns the number of samples produced when n samples are
// converted from srcRate to dstRate: floor(n * dstRate / srcRate).
func ResampledLength(n, srcRate, dstRate int) int {
	if n <= 0 || srcRate <= 0 || dstRate <= 0 {
		return 0
	}
	return int(int64(n) * int64(dstRate) / int64(srcRate))
}

// Resample converts f to targetRate. If the conversion fails the original
// frame is returned unchanged and a warning is logged: a call keeps playing
// unconverted audio rather than dropping it.
func Resample(f Frame, targetRate int) Frame {
	out, err := ConvertRate(f, targetRate)
	if err != nil {
		slog.Warn("resample failed, passing audio through unconverted",
			"from", f.SampleRate,
			"to", targetRate,
			"bytes", len(f.Data),
			"err", err,
		)
		return f
	}
	return out
}

// ConvertRate converts f to targetRate using band-limited interpolation.
// It supports arbitrary rate pairs, not only integer ratios. Zero-length
// input yields zero-length output.
func ConvertRate(f Frame, targetRate int) (Frame, error) {
	if f.SampleRate <= 0 || targetRate <= 0 {
		return Frame{}, fmt.Errorf("%w: %d -> %d", ErrInvalidRate, f.SampleRate, targetRate)
	}
	if len(f.Data)%2 != 0 {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrOddLength, len(f.Data))
	}
	out := Frame{
		Data:       f.Data,
		SampleRate: targetRate,
		Origin:     f.Origin,
	}
	if f.SampleRate != targetRate {
		out.Data = ResampleMono16(f.Data, f.SampleRate, targetRate)
	}
	return out, nil
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate with a
// Blackman-windowed sinc kernel. When downsampling the kernel cutoff is
// lowered to the target Nyquist frequency so that content above it is
// filtered instead of aliased. Kernel taps that fall outside the input are
// dropped and the remaining weights renormalised.
//
// If either rate is not positive or the rates are equal, pcm is returned
// unchanged. A trailing odd byte is ignored.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return pcm
	}

	n := len(pcm) / 2
	outLen := ResampledLength(n, srcRate, dstRate)
	out := make([]byte, outLen*2)
	if outLen == 0 {
		return out
	}

	in := make([]float64, n)
	for i := range n {
		in[i] = float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	step := float64(srcRate) / float64(dstRate)
	cutoff := min(1.0, float64(dstRate)/float64(srcRate))
	halfWidth := float64(sincZeroCrossings) / cutoff

	for i := range outLen {
		t := float64(i) * step
		lo := max(int(math.Ceil(t-halfWidth)), 0)
		hi := min(int(math.Floor(t+halfWidth)), n-1)

		var acc, weights float64
		for k := lo; k <= hi; k++ {
			d := t - float64(k)
			w := cutoff * sinc(cutoff*d) * blackman(d/halfWidth)
			acc += w * in[k]
			weights += w
		}
		if math.Abs(weights) > 1e-9 {
			acc /= weights
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clamp16(acc)))
	}
	return out
}

// sinc is the normalised sinc function sin(πx)/(πx).
func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// blackman evaluates a Blackman window stretched over [-1, 1].
func blackman(x float64) float64 {
	if x <= -1 || x >= 1 {
		return 0
	}
	return 0.42 + 0.5*math.Cos(math.Pi*x) + 0.08*math.Cos(2*math.Pi*x)
}

// clamp16 rounds v to the nearest integer and clamps it to the int16 range.
func clamp16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
