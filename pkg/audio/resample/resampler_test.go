// ABOUTME: Tests for the streaming resampler and passthrough converter
// ABOUTME: Covers identity, continuity across calls, ratio slew and input accounting
package resample

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/Resonate-Protocol/resonate-playout/pkg/audio"
)

var mono16 = audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 1, BitDepth: 16}

// ramp produces consecutive mono 16-bit frames with value 10*index
type ramp struct{ next int }

func (g *ramp) read(frames int) []byte {
	out := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		audio.WriteSample(out, i*2, 16, int64(g.next*10))
		g.next++
	}
	return out
}

func TestLinearIdentity(t *testing.T) {
	r, err := NewLinear(mono16, mono16)
	if err != nil {
		t.Fatalf("NewLinear: %v", err)
	}
	g := &ramp{}

	for call := 0; call < 5; call++ {
		need := r.InputFrames(480)
		if need != 480 {
			t.Fatalf("call %d: expected 480 input frames, got %d", call, need)
		}
		in := g.read(need)
		out := make([]byte, len(in))
		if err := r.Convert(in, out); err != nil {
			t.Fatalf("Convert: %v", err)
		}
		if !bytes.Equal(in, out) {
			t.Fatalf("call %d: ratio 1 must reproduce input", call)
		}
	}
	if r.Latency() != 0 {
		t.Errorf("expected no buffered frames, got %f", r.Latency())
	}
}

func TestLinearContinuousAcrossCalls(t *testing.T) {
	r, _ := NewLinear(mono16, mono16)
	r.SetMaxRatioStep(1)
	r.SetRatio(1.001)
	g := &ramp{}

	var prev int32 = -1
	for call := 0; call < 10; call++ {
		need := r.InputFrames(100)
		out := make([]byte, 200)
		if err := r.Convert(g.read(need), out); err != nil {
			t.Fatalf("Convert: %v", err)
		}
		for i := 0; i < 100; i++ {
			v := audio.ReadSample(out, i*2, 16)
			if prev >= 0 {
				if d := v - prev; d < 10 || d > 11 {
					t.Fatalf("call %d frame %d: step %d breaks the ramp", call, i, d)
				}
			}
			prev = v
		}
	}
	// 1000 outputs at 1.001 consume about 1001 input frames
	consumed := float64(g.next) - r.Latency()
	if consumed < 1000.9 || consumed > 1001.1 {
		t.Errorf("expected ~1001 frames consumed, got %f", consumed)
	}
}

func TestLinearRatioSlew(t *testing.T) {
	r, _ := NewLinear(mono16, mono16)
	r.SetRatio(1.01)

	r.InputFrames(10)
	if got := r.Ratio() - 1; math.Abs(got-DefaultMaxRatioStep) > 1e-12 {
		t.Errorf("expected one slew step, got ratio change %g", got)
	}
}

func TestLinearDownsample(t *testing.T) {
	in := mono16
	in.SampleRate = 96000
	r, err := NewLinear(in, mono16)
	if err != nil {
		t.Fatalf("NewLinear: %v", err)
	}
	if r.BaseRatio() != 2 {
		t.Fatalf("expected base ratio 2, got %f", r.BaseRatio())
	}
	g := &ramp{}
	need := r.InputFrames(4)
	if need != 7 {
		t.Fatalf("expected 7 input frames, got %d", need)
	}
	out := make([]byte, 8)
	if err := r.Convert(g.read(need), out); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	for i, want := range []int32{0, 20, 40, 60} {
		if got := audio.ReadSample(out, i*2, 16); got != want {
			t.Errorf("frame %d: expected %d, got %d", i, want, got)
		}
	}
}

func TestLinearShortInput(t *testing.T) {
	r, _ := NewLinear(mono16, mono16)
	r.InputFrames(10)
	err := r.Convert(make([]byte, 10), make([]byte, 20))
	if !errors.Is(err, ErrShortInput) {
		t.Errorf("expected ErrShortInput, got %v", err)
	}
}

func TestLinearRejectsLayoutChange(t *testing.T) {
	out := mono16
	out.Channels = 2
	if _, err := NewLinear(mono16, out); err == nil {
		t.Error("expected error for differing channel counts")
	}
}

func TestPassthrough(t *testing.T) {
	var p Converter = Passthrough{}
	if p.Active() {
		t.Error("passthrough must not be active")
	}
	if p.InputFrames(123) != 123 {
		t.Error("passthrough needs exactly as many frames as it emits")
	}
	in := []byte{1, 2, 3, 4}
	out := make([]byte, 4)
	if err := p.Convert(in, out); err != nil || !bytes.Equal(in, out) {
		t.Errorf("expected copy, got %v (err %v)", out, err)
	}
}
