// ABOUTME: Oto-based audio output implementation
// ABOUTME: Pulls timed PCM from a Source with software volume control using oto library
package output

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/resonate-playout/pkg/audio"
	"github.com/ebitengine/oto/v3"
)

// DefaultOtoBuffer is the player buffer requested from oto
const DefaultOtoBuffer = 40 * time.Millisecond

// Oto output implementation using oto library
type Oto struct {
	// DeviceLatency is added to the oto buffer when computing the play
	// time of the bytes being read
	DeviceLatency time.Duration

	mu      sync.Mutex
	otoCtx  *oto.Context
	player  *oto.Player
	format  audio.Format
	volume  atomic.Int32
	muted   atomic.Bool
	started bool
}

// NewOto creates a new Oto output
func NewOto() *Oto {
	o := &Oto{}
	o.volume.Store(100)
	return o
}

// Start creates the oto context and a player that reads from src
func (o *Oto) Start(src Source, clock Clock) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return fmt.Errorf("output already started")
	}

	format := src.OutputFormat()
	// oto only supports 16-bit output
	if format.BitDepth != 16 {
		return fmt.Errorf("%w: oto needs 16-bit output, got %d", audio.ErrUnsupportedFormat, format.BitDepth)
	}

	op := &oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   DefaultOtoBuffer,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("failed to create oto context: %w", err)
	}
	<-readyChan

	r := &pullReader{src: src, clock: clock, out: o, format: format}
	o.otoCtx = ctx
	o.format = format
	o.player = ctx.NewPlayer(r)
	r.player = o.player
	o.player.Play()
	o.started = true

	log.Printf("Audio output initialized: %dHz, %d channels", format.SampleRate, format.Channels)
	return nil
}

// Close releases output resources
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.player != nil {
		o.player.Close()
		o.player = nil
	}
	if o.otoCtx != nil {
		if err := o.otoCtx.Suspend(); err != nil {
			return fmt.Errorf("failed to suspend oto context: %w", err)
		}
	}
	o.started = false
	return nil
}

// SetVolume sets the volume (0-100)
func (o *Oto) SetVolume(volume int) {
	volume = clampVolume(volume)
	o.volume.Store(int32(volume))
	log.Printf("Volume set to %d", volume)
}

// SetMuted sets mute state
func (o *Oto) SetMuted(muted bool) {
	o.muted.Store(muted)
	log.Printf("Muted: %v", muted)
}

// GetVolume returns current volume
func (o *Oto) GetVolume() int {
	return int(o.volume.Load())
}

// IsMuted returns mute state
func (o *Oto) IsMuted() bool {
	return o.muted.Load()
}

// pullReader is the io.Reader oto drains. Each Read asks the source for the
// audio due when the bytes leave the speaker.
type pullReader struct {
	src    Source
	clock  Clock
	out    *Oto
	player *oto.Player
	format audio.Format
}

func (r *pullReader) Read(p []byte) (int, error) {
	frameSize := r.format.FrameSize()
	frames := len(p) / frameSize
	if frames == 0 {
		return 0, nil
	}
	buf := p[:frames*frameSize]

	target := r.clock.ServerNow() + r.latency()
	r.src.GetPlayerChunk(buf, target, frames)
	applyVolume(buf, r.format.BitDepth, r.out.GetVolume(), r.out.IsMuted())
	return len(buf), nil
}

// latency is the time in microseconds until the next byte read is audible
func (r *pullReader) latency() int64 {
	us := r.out.DeviceLatency.Microseconds() + DefaultOtoBuffer.Microseconds()
	if r.player != nil {
		us += r.format.FramesToMicros(r.player.BufferedSize() / r.format.FrameSize())
	}
	return us
}
