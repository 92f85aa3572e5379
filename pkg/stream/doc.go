// ABOUTME: Synchronized playout engine package
// ABOUTME: Chunk queue, drift measurement and correction feeding an audio callback
// Package stream implements the client side playout engine.
//
// A producer goroutine adds timestamped PCM chunks. The audio device callback
// asks for a number of frames that will become audible at a given shared-clock
// time. The engine measures how far the audio it is about to play is from where
// it should be, smooths that error through three median windows, and corrects it
// either softly (resampling, or inserting and dropping single frames) or, when the
// error is too large, by resynchronizing the read position outright.
//
// Example:
//
//	s, err := stream.New(format, format, stream.DefaultConfig())
//	go func() { s.AddChunk(chunk) }()
//	ok := s.GetPlayerChunk(buf, clock.ServerNow()+deviceLatency, frames)
package stream
