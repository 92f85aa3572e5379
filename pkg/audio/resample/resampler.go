// ABOUTME: Streaming linear resampler used for drift correction
// ABOUTME: Keeps interpolation history across calls so chunk boundaries stay continuous
package resample

import (
	"errors"
	"fmt"
	"math"

	"github.com/Resonate-Protocol/resonate-playout/pkg/audio"
)

// DefaultMaxRatioStep bounds how far the ratio moves between two calls
const DefaultMaxRatioStep = 5e-5

// ErrShortInput is returned when Convert receives fewer frames than InputFrames asked for
var ErrShortInput = errors.New("not enough input frames")

// Converter turns input frames into a requested number of output frames at an
// adjustable ratio (input frames consumed per output frame).
type Converter interface {
	// Active reports whether the converter can change the ratio at all
	Active() bool
	// SetRatio sets the target ratio
	SetRatio(ratio float64)
	// Ratio returns the ratio currently applied
	Ratio() float64
	// InputFrames stages the ratio for the next Convert call and returns how many
	// input frames that call needs to produce outFrames
	InputFrames(outFrames int) int
	// Convert consumes in and fills out completely
	Convert(in, out []byte) error
	// Latency returns the input frames consumed but not yet emitted
	Latency() float64
	// Reset drops history and returns to the base ratio
	Reset()
}

// Linear performs linear interpolation between neighbouring input frames.
// A ratio of exactly 1 reproduces the input verbatim.
type Linear struct {
	format   audio.Format
	channels int
	base     float64
	target   float64
	ratio    float64
	maxStep  float64
	position float64 // fractional read position into history
	history  []int32 // buffered input frames, interleaved
}

// NewLinear creates a resampler from in's rate to out's rate. Both formats must
// share channel count and bit depth.
func NewLinear(in, out audio.Format) (*Linear, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if !in.SameLayout(out) || out.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: cannot resample %s to %s", audio.ErrUnsupportedFormat, in, out)
	}
	base := float64(in.SampleRate) / float64(out.SampleRate)
	return &Linear{
		format:   in,
		channels: in.Channels,
		base:     base,
		target:   base,
		ratio:    base,
		maxStep:  DefaultMaxRatioStep,
	}, nil
}

// SetMaxRatioStep changes the per-call ratio slew limit
func (r *Linear) SetMaxRatioStep(step float64) {
	if step > 0 {
		r.maxStep = step
	}
}

// Active implements Converter
func (r *Linear) Active() bool { return true }

// BaseRatio returns the nominal ratio of the two sample rates
func (r *Linear) BaseRatio() float64 { return r.base }

// SetRatio implements Converter
func (r *Linear) SetRatio(ratio float64) {
	if ratio > 0 {
		r.target = ratio
	}
}

// Ratio implements Converter
func (r *Linear) Ratio() float64 { return r.ratio }

// InputFrames implements Converter
func (r *Linear) InputFrames(outFrames int) int {
	if outFrames <= 0 {
		return 0
	}
	delta := r.target - r.ratio
	if math.Abs(delta) > r.maxStep {
		delta = math.Copysign(r.maxStep, delta)
	}
	r.ratio += delta

	last := r.position + float64(outFrames-1)*r.ratio
	needed := int(last) + 1
	if last != math.Floor(last) {
		needed++
	}
	needed -= r.buffered()
	if needed < 0 {
		return 0
	}
	return needed
}

// Convert implements Converter
func (r *Linear) Convert(in, out []byte) error {
	frameSize := r.format.FrameSize()
	if len(in)%frameSize != 0 || len(out)%frameSize != 0 {
		return fmt.Errorf("%w: buffer is not a whole number of frames", audio.ErrFormatMismatch)
	}
	bps := r.format.BytesPerSample()
	for off := 0; off < len(in); off += bps {
		r.history = append(r.history, audio.ReadSample(in, off, r.format.BitDepth))
	}

	outFrames := len(out) / frameSize
	available := r.buffered()
	for j := 0; j < outFrames; j++ {
		p := r.position + float64(j)*r.ratio
		i := int(p)
		frac := p - float64(i)
		if i >= available || (frac > 0 && i+1 >= available) {
			return fmt.Errorf("%w: need frame %d, have %d", ErrShortInput, i+1, available)
		}
		for ch := 0; ch < r.channels; ch++ {
			s1 := r.history[i*r.channels+ch]
			v := int64(s1)
			if frac > 0 {
				s2 := r.history[(i+1)*r.channels+ch]
				v = int64(math.Round(float64(s1)*(1.0-frac) + float64(s2)*frac))
			}
			audio.WriteSample(out, (j*r.channels+ch)*bps, r.format.BitDepth, v)
		}
	}

	next := r.position + float64(outFrames)*r.ratio
	drop := int(next)
	if drop > available {
		drop = available
	}
	r.history = r.history[:copy(r.history, r.history[drop*r.channels:])]
	r.position = next - float64(drop)
	return nil
}

// Latency implements Converter
func (r *Linear) Latency() float64 {
	return float64(r.buffered()) - r.position
}

// Reset implements Converter
func (r *Linear) Reset() {
	r.position = 0.0
	r.history = r.history[:0]
	r.ratio = r.base
	r.target = r.base
}

func (r *Linear) buffered() int {
	return len(r.history) / r.channels
}
