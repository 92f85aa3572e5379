// ABOUTME: Synchronized playout engine
// ABOUTME: Turns timestamped PCM chunks into device buffers aligned to the shared clock
package stream

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/resonate-playout/pkg/audio"
	"github.com/Resonate-Protocol/resonate-playout/pkg/audio/resample"
	timesync "github.com/Resonate-Protocol/resonate-playout/pkg/sync"
)

// ErrIncompatibleFormats is returned when the input cannot be played in the output format
var ErrIncompatibleFormats = errors.New("incompatible stream formats")

// Stream is the client side playout engine. One goroutine adds chunks, the audio
// callback pulls frames; the two never block each other.
type Stream struct {
	in        audio.Format
	out       audio.Format
	cfg       Config
	queue     *chunkQueue
	conv      resample.Converter
	baseRatio float64

	bufferUs atomic.Int64
	lastAge  atomic.Int64
	stats    atomic.Pointer[Stats]

	// Everything below belongs to the consumer
	current      *audio.PcmChunk
	cursor       int
	generation   uint64
	hardSync     bool
	playing      bool
	starved      bool
	veryShort    *timesync.MedianWindow[int64]
	short        *timesync.MedianWindow[int64]
	long         *timesync.MedianWindow[int64]
	playedFrames int
	correction   float64
	readBuf      []byte
	lastFrame    []byte
	counters     Stats
	lastPublish  int64
	published    bool
}

// New creates a stream that accepts chunks in format in and renders format out.
// The formats may differ only in sample rate, and only when an active converter is
// selected through cfg.Converter or cfg.Resample.
func New(in, out audio.Format, cfg Config) (*Stream, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	if !in.SameLayout(out) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIncompatibleFormats, in, out)
	}
	cfg = cfg.withDefaults()

	var conv resample.Converter = resample.Passthrough{}
	if cfg.Converter != nil {
		conv = cfg.Converter
	} else if cfg.Resample {
		lin, err := resample.NewLinear(in, out)
		if err != nil {
			return nil, err
		}
		lin.SetMaxRatioStep(cfg.MaxRatioStep)
		conv = lin
	}
	if !conv.Active() && in.SampleRate != out.SampleRate {
		return nil, fmt.Errorf("%w: %dHz -> %dHz requires resampling",
			ErrIncompatibleFormats, in.SampleRate, out.SampleRate)
	}

	s := &Stream{
		in:        in,
		out:       out,
		cfg:       cfg,
		queue:     newChunkQueue(),
		conv:      conv,
		baseRatio: float64(in.SampleRate) / float64(out.SampleRate),
		hardSync:  true,
		veryShort: timesync.NewMedianWindow[int64](cfg.VeryShortWindow),
		short:     timesync.NewMedianWindow[int64](cfg.ShortWindow),
		long:      timesync.NewMedianWindow[int64](cfg.LongWindow),
		lastFrame: make([]byte, out.FrameSize()),
	}
	s.bufferUs.Store(int64(cfg.BufferMs) * 1000)
	s.stats.Store(&Stats{HardSync: true, BufferMs: cfg.BufferMs, Ratio: s.baseRatio})
	return s, nil
}

// AddChunk queues a chunk for playout. Chunks must arrive in timestamp order.
func (s *Stream) AddChunk(c *audio.PcmChunk) error {
	if c == nil {
		return fmt.Errorf("%w: nil chunk", audio.ErrFormatMismatch)
	}
	if c.Format.SampleRate != s.in.SampleRate || !c.Format.SameLayout(s.in) {
		return fmt.Errorf("%w: chunk is %s, stream is %s", audio.ErrFormatMismatch, c.Format, s.in)
	}
	if len(c.Data)%s.in.FrameSize() != 0 {
		return fmt.Errorf("%w: %d bytes is not a whole number of frames", audio.ErrFormatMismatch, len(c.Data))
	}
	if len(c.Data) == 0 {
		return nil
	}
	s.queue.Push(c)
	return nil
}

// ClearChunks drops all queued audio. The consumer also abandons its current chunk
// and resynchronizes on the next call.
func (s *Stream) ClearChunks() {
	s.queue.Clear()
}

// WaitForChunk blocks until a chunk is queued or timeout elapses
func (s *Stream) WaitForChunk(timeout time.Duration) bool {
	return s.queue.Wait(timeout)
}

// SetBufferLen changes the end-to-end latency budget. It takes effect on the next
// measurement; a large change is absorbed by a resync. The budget never drops
// below 1ms.
func (s *Stream) SetBufferLen(ms int) {
	if ms < 1 {
		ms = 1
	}
	s.bufferUs.Store(int64(ms) * 1000)
}

// BufferLen returns the current latency budget in milliseconds
func (s *Stream) BufferLen() int {
	return int(s.bufferUs.Load() / 1000)
}

// Format returns the format chunks must be added in
func (s *Stream) Format() audio.Format {
	return s.in
}

// OutputFormat returns the format GetPlayerChunk renders
func (s *Stream) OutputFormat() audio.Format {
	return s.out
}

// LastAge returns the most recent playout error in microseconds. Positive means the
// audio is being played later than its timestamp demands.
func (s *Stream) LastAge() int64 {
	return s.lastAge.Load()
}

// Stats returns the latest published snapshot
func (s *Stream) Stats() Stats {
	return *s.stats.Load()
}

// GetPlayerChunk fills out with frames frames that should start being audible at
// target (shared clock, microseconds). It reports whether any real audio was
// written; silence fills whatever is not. Bytes beyond frames frames are untouched.
func (s *Stream) GetPlayerChunk(out []byte, target int64, frames int) bool {
	fs := s.out.FrameSize()
	if limit := len(out) / fs; frames > limit {
		frames = limit
	}
	if frames <= 0 {
		return false
	}
	buf := out[:frames*fs]
	s.starved = false
	s.counters.FramesPlayed += uint64(frames)

	if g := s.queue.Generation(); g != s.generation {
		s.current = nil
		s.restart(g)
	}

	if !s.nextChunk() {
		s.silence(buf, frames)
		if s.playing {
			s.playing = false
			s.counters.Underruns++
			logLimited(s.counters.Underruns, "Playout underrun #%d: no audio queued", s.counters.Underruns)
		}
		if !s.hardSync {
			s.enterHardSync()
		}
		s.publish(target)
		return false
	}

	age := target - s.playPosition() - s.bufferUs.Load()
	s.lastAge.Store(age)

	if !s.hardSync {
		s.veryShort.Add(age, target)
		s.short.Add(age, target)
		s.long.Add(age, target)
		if reason := s.exceeded(target); reason != "" {
			s.counters.HardSyncs++
			logLimited(s.counters.HardSyncs, "Hard sync #%d: %s (age=%dμs)", s.counters.HardSyncs, reason, age)
			s.enterHardSync()
		}
	}

	ok := true
	if s.hardSync {
		ok = s.resync(buf, frames, target)
	} else {
		s.play(buf, frames)
	}
	if ok {
		copy(s.lastFrame, buf[len(buf)-fs:])
	}
	s.playing = ok && !s.starved
	s.publish(target)
	return ok
}

// nextChunk makes sure there is a current chunk with frames left
func (s *Stream) nextChunk() bool {
	for s.current == nil || s.cursor >= s.current.Frames() {
		c, gen, ok := s.queue.Pop()
		if !ok {
			s.current = nil
			return false
		}
		if gen != s.generation {
			s.restart(gen)
		}
		s.current, s.cursor = c, 0
	}
	return true
}

// restart follows a ClearChunks: the next audio is realigned by a resync, but the
// timing filters keep their history
func (s *Stream) restart(gen uint64) {
	s.generation = gen
	s.hardSync = true
	s.conv.Reset()
	s.playedFrames = 0
	s.correction = 0
}

// playPosition is the shared-clock time of the next frame that will be emitted
func (s *Stream) playPosition() int64 {
	pending := s.conv.Latency() * 1e6 / float64(s.in.SampleRate)
	return s.current.TimeAt(s.cursor) - int64(math.Round(pending))
}

func (s *Stream) enterHardSync() {
	s.hardSync = true
	s.veryShort.Reset()
	s.short.Reset()
	s.long.Reset()
	s.conv.Reset()
	s.playedFrames = 0
	s.correction = 0
}

// exceeded names the first full filter whose median is beyond its threshold
func (s *Stream) exceeded(now int64) string {
	check := func(name string, f *timesync.MedianWindow[int64], limit time.Duration) string {
		if !f.Full(now) {
			return ""
		}
		if m, ok := f.Median(); ok && abs(m) > limit.Microseconds() {
			return fmt.Sprintf("%s median %dμs beyond %v", name, m, limit)
		}
		return ""
	}
	if r := check("very short", s.veryShort, s.cfg.VeryShortThreshold); r != "" {
		return r
	}
	if r := check("short", s.short, s.cfg.ShortThreshold); r != "" {
		return r
	}
	return check("long", s.long, s.cfg.LongThreshold)
}

// resync realigns the read position with target. It returns false while the next
// audio is still entirely in the future.
func (s *Stream) resync(buf []byte, frames int, target int64) bool {
	want := target - s.bufferUs.Load()

	for s.current.End() <= want {
		s.counters.ChunksDropped++
		s.current = nil
		if !s.nextChunk() {
			s.silence(buf, frames)
			return false
		}
	}

	if pos := s.current.TimeAt(s.cursor); want >= pos {
		s.cursor += usToFrames(want-pos, s.in.SampleRate)
	} else {
		gap := usToFrames(pos-want, s.out.SampleRate)
		if gap >= frames {
			s.silence(buf, frames)
			return false
		}
		s.silence(buf, gap)
		buf = buf[gap*s.out.FrameSize():]
		frames -= gap
	}

	s.hardSync = false
	s.convert(buf, frames)
	return true
}

// play renders frames in NORMAL state with drift correction applied
func (s *Stream) play(buf []byte, frames int) {
	s.correction = s.rateCorrection()
	if s.conv.Active() {
		s.conv.SetRatio(s.baseRatio * (1 + s.correction))
		s.convert(buf, frames)
		return
	}

	need := frames + s.frameCorrection(frames)
	if need == 0 {
		// A one-frame call cannot be stretched: repeat the last frame instead
		copy(buf, s.lastFrame)
		return
	}
	in := s.read(need)
	if need == frames {
		copy(buf, in)
		return
	}
	fitFrames(in, need, buf, frames, s.out.FrameSize())
}

func (s *Stream) convert(buf []byte, frames int) {
	need := s.conv.InputFrames(frames)
	in := s.read(need)
	if err := s.conv.Convert(in, buf); err != nil {
		s.counters.ConverterErrors++
		logLimited(s.counters.ConverterErrors, "Rate converter failed, falling back to frame fitting: %v", err)
		s.conv.Reset()
		fitFrames(in, need, buf, frames, s.out.FrameSize())
	}
}

// rateCorrection maps the long median error onto a relative rate change
func (s *Stream) rateCorrection() float64 {
	m, ok := s.long.Median()
	if !ok || abs(m) < s.cfg.SoftDeadband.Microseconds() {
		return 0
	}
	c := float64(m) / 1e6 * s.cfg.Gain
	return math.Max(-s.cfg.MaxRateCorrection, math.Min(s.cfg.MaxRateCorrection, c))
}

// frameCorrection returns +1 to drop a frame, -1 to insert one, 0 otherwise.
// At most one frame is corrected per call, every round(1/|c|) played frames.
func (s *Stream) frameCorrection(frames int) int {
	if s.correction == 0 {
		s.playedFrames = 0
		return 0
	}
	every := int(math.Round(1 / math.Abs(s.correction)))
	s.playedFrames += frames
	if s.playedFrames < every {
		return 0
	}
	s.playedFrames -= every
	if s.playedFrames > every {
		s.playedFrames = every
	}
	if s.correction > 0 {
		s.counters.FramesDropped++
		return 1
	}
	s.counters.FramesInserted++
	return -1
}

// read copies need input frames from the queue, padding with silence when it runs dry
func (s *Stream) read(need int) []byte {
	fs := s.in.FrameSize()
	if cap(s.readBuf) < need*fs {
		s.readBuf = make([]byte, need*fs)
	}
	dst := s.readBuf[:need*fs]

	got := 0
	for got < need {
		if !s.nextChunk() {
			audio.Silence(dst[got*fs:], need-got, s.in)
			s.counters.SilenceFrames += uint64(need - got)
			s.counters.Underruns++
			s.starved = true
			logLimited(s.counters.Underruns, "Playout underrun #%d: queue ran dry, padded %d frames",
				s.counters.Underruns, need-got)
			break
		}
		n := min(need-got, s.current.Frames()-s.cursor)
		copy(dst[got*fs:], s.current.Data[s.cursor*fs:(s.cursor+n)*fs])
		got += n
		s.cursor += n
	}
	return dst
}

func (s *Stream) silence(buf []byte, frames int) {
	audio.Silence(buf, frames, s.out)
	s.counters.SilenceFrames += uint64(frames)
}

func (s *Stream) publish(target int64) {
	if s.published {
		if d := target - s.lastPublish; d >= 0 && d < s.cfg.StatsInterval.Microseconds() {
			return
		}
	}
	s.published = true
	s.lastPublish = target

	snap := s.counters
	snap.HardSync = s.hardSync
	snap.BufferMs = s.BufferLen()
	snap.QueuedChunks = s.queue.Len()
	snap.Age = s.lastAge.Load()
	snap.MedianVeryShort, _ = s.veryShort.Median()
	snap.MedianShort, _ = s.short.Median()
	snap.MedianLong, _ = s.long.Median()
	snap.Ratio = s.conv.Ratio()
	snap.Correction = s.correction
	snap.UpdatedAt = target
	s.stats.Store(&snap)

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.observe(snap)
	}
}

// fitFrames stretches or squeezes src onto dst by nearest-frame mapping, so a
// single inserted or dropped frame lands in the middle of the buffer
func fitFrames(src []byte, srcFrames int, dst []byte, dstFrames, frameSize int) {
	if srcFrames <= 0 {
		clear(dst[:dstFrames*frameSize])
		return
	}
	for i := 0; i < dstFrames; i++ {
		j := (2*i + 1) * srcFrames / (2 * dstFrames)
		copy(dst[i*frameSize:(i+1)*frameSize], src[j*frameSize:(j+1)*frameSize])
	}
}

func usToFrames(us int64, rate int) int {
	return int((us*int64(rate) + 500_000) / 1_000_000)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// logLimited logs the first few occurrences of an event and then every 100th
func logLimited(count uint64, format string, args ...any) {
	if count <= 5 || count%100 == 0 {
		log.Printf(format, args...)
	}
}
