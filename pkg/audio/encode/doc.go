// ABOUTME: Audio encoder package for encoding PCM to wire formats
// ABOUTME: Provides Encoder interface and implementations for PCM and Opus
// Package encode provides the server side audio encoders.
//
// Supports: PCM (passthrough) and Opus (16-bit input, 2.5 to 60ms frames).
//
// Example:
//
//	encoder, err := encode.New(format)
//	payload, err := encoder.Encode(pcm)
package encode
