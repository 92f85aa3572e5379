// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, PcmChunk, silence generation and sample conversions
// Package audio provides the PCM types shared by the playout engine and its
// collaborators.
//
//   - Format: sample rate, channel count and bit depth, with frame arithmetic
//   - PcmChunk: interleaved frames stamped with the shared-clock time of the first frame
//   - Silence: format-correct silent frames
//
// Samples are little-endian and interleaved. 8-bit PCM is unsigned.
//
// Example:
//
//	format := audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16}
//	chunk, err := audio.NewPcmChunk(ts, data, format)
package audio
