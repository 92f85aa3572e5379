// ABOUTME: Timestamped PCM chunk
// ABOUTME: A block of interleaved frames stamped with its first frame's shared-clock time
package audio

import "fmt"

// PcmChunk is a block of interleaved PCM frames. Timestamp is the shared-clock time
// in microseconds at which the first frame is meant to be audible.
type PcmChunk struct {
	Timestamp int64
	Data      []byte
	Format    Format
}

// NewPcmChunk validates that data holds a whole number of frames of format
func NewPcmChunk(timestamp int64, data []byte, format Format) (*PcmChunk, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if len(data)%format.FrameSize() != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of frame size %d",
			ErrFormatMismatch, len(data), format.FrameSize())
	}
	return &PcmChunk{Timestamp: timestamp, Data: data, Format: format}, nil
}

// Frames returns the number of frames in the chunk
func (c *PcmChunk) Frames() int {
	return len(c.Data) / c.Format.FrameSize()
}

// Duration returns the chunk's length in microseconds
func (c *PcmChunk) Duration() int64 {
	return c.Format.FramesToMicros(c.Frames())
}

// TimeAt returns the shared-clock time of the given frame index
func (c *PcmChunk) TimeAt(frame int) int64 {
	return c.Timestamp + c.Format.FramesToMicros(frame)
}

// End returns the shared-clock time just past the last frame
func (c *PcmChunk) End() int64 {
	return c.TimeAt(c.Frames())
}
