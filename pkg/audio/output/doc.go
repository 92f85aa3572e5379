// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides pull-mode Output backends and a WAV sink
// Package output plays audio pulled from a timed Source.
//
// The oto backend asks the source for the audio due when each buffer will be
// heard. The WAV sink renders the same pulls into a file for offline checks.
//
// Example:
//
//	out := output.NewOto()
//	err := out.Start(stream, clock)
package output
