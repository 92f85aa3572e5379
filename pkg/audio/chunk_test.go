// ABOUTME: Tests for PCM chunks, sample access and silence generation
// ABOUTME: Covers frame validation, timing and byte-exact silence output
package audio

import (
	"errors"
	"testing"
)

var cd48 = Format{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16}

func TestNewPcmChunk(t *testing.T) {
	c, err := NewPcmChunk(1_000_000, make([]byte, 480*4), cd48)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Frames() != 480 {
		t.Errorf("expected 480 frames, got %d", c.Frames())
	}
	if c.Duration() != 10000 {
		t.Errorf("expected 10000us duration, got %d", c.Duration())
	}
	if c.End() != 1_010_000 {
		t.Errorf("expected end 1010000, got %d", c.End())
	}
	if c.TimeAt(48) != 1_001_000 {
		t.Errorf("expected frame 48 at 1001000, got %d", c.TimeAt(48))
	}
}

func TestNewPcmChunkPartialFrame(t *testing.T) {
	_, err := NewPcmChunk(0, make([]byte, 7), cd48)
	if !errors.Is(err, ErrFormatMismatch) {
		t.Fatalf("expected ErrFormatMismatch, got %v", err)
	}
}

func TestSilence(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		fill   byte
	}{
		{"16bit", cd48, 0x00},
		{"8bit unsigned", Format{SampleRate: 8000, Channels: 1, BitDepth: 8}, 0x80},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames := 10
			n := frames * tt.format.FrameSize()
			buf := make([]byte, n+4)
			for i := range buf {
				buf[i] = 0xAB
			}

			Silence(buf, frames, tt.format)

			for i := 0; i < n; i++ {
				if buf[i] != tt.fill {
					t.Fatalf("byte %d: expected %#x, got %#x", i, tt.fill, buf[i])
				}
			}
			for i := n; i < len(buf); i++ {
				if buf[i] != 0xAB {
					t.Fatalf("byte %d beyond the requested frames was overwritten", i)
				}
			}
		})
	}
}

func TestSampleReadWrite(t *testing.T) {
	tests := []struct {
		name     string
		bitDepth int
		value    int64
		expected int32
	}{
		{"8bit", 8, -5, -5},
		{"8bit clamp", 8, 1000, 127},
		{"16bit", 16, -1234, -1234},
		{"16bit clamp", 16, -40000, -32768},
		{"24bit", 24, 0x123456, 0x123456},
		{"24bit negative", 24, -256, -256},
		{"32bit", 32, -100000000, -100000000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, 8)
			WriteSample(buf, 2, tt.bitDepth, tt.value)
			if got := ReadSample(buf, 2, tt.bitDepth); got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestConvertDepth(t *testing.T) {
	tests := []struct {
		name     string
		from, to int
		in       int64
		want     int32
	}{
		{"24 to 16", 24, 16, 0x123456, 0x1234},
		{"16 to 24", 16, 24, -2, -512},
		{"16 to 8", 16, 8, 0x7f00, 0x7f},
		{"32 to 16", 32, 16, -65536, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := make([]byte, tt.from/8)
			WriteSample(in, 0, tt.from, tt.in)
			out := ConvertDepth(in, tt.from, tt.to)
			if len(out) != tt.to/8 {
				t.Fatalf("expected %d bytes, got %d", tt.to/8, len(out))
			}
			if got := ReadSample(out, 0, tt.to); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}
