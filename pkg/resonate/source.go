// ABOUTME: Output source that follows the active playout stream
// ABOUTME: Lets the device keep running across stream/start and stream/end
package resonate

import (
	"sync/atomic"

	"github.com/Resonate-Protocol/resonate-playout/pkg/audio"
	"github.com/Resonate-Protocol/resonate-playout/pkg/stream"
)

// switchSource feeds the output device from whichever stream is current.
// The device format is fixed when the output starts.
type switchSource struct {
	format audio.Format
	active atomic.Pointer[stream.Stream]
}

func (s *switchSource) OutputFormat() audio.Format {
	return s.format
}

func (s *switchSource) GetPlayerChunk(out []byte, target int64, frames int) bool {
	if st := s.active.Load(); st != nil {
		return st.GetPlayerChunk(out, target, frames)
	}
	fs := s.format.FrameSize()
	if fs == 0 {
		return false
	}
	if limit := len(out) / fs; frames > limit {
		frames = limit
	}
	audio.Silence(out, frames, s.format)
	return false
}

func (s *switchSource) current() *stream.Stream {
	return s.active.Load()
}

func (s *switchSource) swap(st *stream.Stream) *stream.Stream {
	return s.active.Swap(st)
}
