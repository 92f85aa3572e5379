// ABOUTME: Audio decoder package
// ABOUTME: Turns chunk payloads into PCM for the playout engine
// Package decode provides audio decoders for the codecs a player accepts.
//
// Supports: PCM (8, 16, 24 and 32-bit) and Opus. Every decoder produces
// interleaved little-endian PCM described by its Format.
//
// Example:
//
//	decoder, err := decode.New(format)
//	pcm, err := decoder.Decode(chunk.Data)
package decode
