// ABOUTME: Audio type definitions
// ABOUTME: Defines sample formats, frame arithmetic and sample conversions
package audio

import (
	"errors"
	"fmt"
)

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23

	// MaxChannels bounds the channel count of a supported format
	MaxChannels = 8
)

var (
	// ErrUnsupportedFormat is returned for formats the playout path cannot handle
	ErrUnsupportedFormat = errors.New("unsupported sample format")
	// ErrFormatMismatch is returned when a payload is not a whole number of frames
	// or its format differs from the stream format
	ErrFormatMismatch = errors.New("format mismatch")
)

// Format describes audio stream format
type Format struct {
	Codec       string
	SampleRate  int
	Channels    int
	BitDepth    int
	CodecHeader []byte // For FLAC, Opus, etc.
}

// BytesPerSample returns the storage size of one sample on one channel
func (f Format) BytesPerSample() int {
	return (f.BitDepth + 7) / 8
}

// FrameSize returns the size in bytes of one frame (one sample on every channel)
func (f Format) FrameSize() int {
	return f.Channels * f.BytesPerSample()
}

// Validate reports whether the format can be carried as interleaved PCM
func (f Format) Validate() error {
	switch f.BitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("%w: bit depth %d", ErrUnsupportedFormat, f.BitDepth)
	}
	if f.Channels < 1 || f.Channels > MaxChannels {
		return fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, f.Channels)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrUnsupportedFormat, f.SampleRate)
	}
	return nil
}

// SameLayout reports whether two formats differ at most in sample rate
func (f Format) SameLayout(o Format) bool {
	return f.Channels == o.Channels && f.BitDepth == o.BitDepth
}

// FramesToMicros converts a frame count to microseconds at this format's rate
func (f Format) FramesToMicros(frames int) int64 {
	return int64(frames) * 1_000_000 / int64(f.SampleRate)
}

// MicrosToFrames converts microseconds to a frame count, rounding toward zero
func (f Format) MicrosToFrames(us int64) int {
	return int(us * int64(f.SampleRate) / 1_000_000)
}

// String renders the format the way it is logged
func (f Format) String() string {
	codec := f.Codec
	if codec == "" {
		codec = "pcm"
	}
	return fmt.Sprintf("%s %dHz/%dbit/%dch", codec, f.SampleRate, f.BitDepth, f.Channels)
}

// SampleToInt16 converts int32 sample to int16 (for 16-bit playback)
func SampleToInt16(sample int32) int16 {
	// Right-shift to convert 24-bit (or 16-bit) to 16-bit range
	return int16(sample >> 8)
}

// SampleFromInt16 converts int16 sample to int32 (left-justified in 24-bit)
func SampleFromInt16(sample int16) int32 {
	return int32(sample) << 8
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// Sign extend from 24-bit to 32-bit
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}
