// ABOUTME: Tests for the playout engine
// ABOUTME: Simulates an audio callback against a stream of 10ms chunks on a virtual clock
package stream

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/resonate-playout/pkg/audio"
)

var testFormat = audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16}

const (
	chunkFrames = 480 // 10ms at 48kHz
	t0          = int64(1_000_000_000)
)

func frameValue(frame, ch int) int64 {
	return int64((frame*7 + ch*13) % 30000)
}

// expected returns the source audio for frames [from, from+n)
func expected(from, n int) []byte {
	out := make([]byte, n*testFormat.FrameSize())
	for f := 0; f < n; f++ {
		for ch := 0; ch < testFormat.Channels; ch++ {
			audio.WriteSample(out, (f*testFormat.Channels+ch)*2, 16, frameValue(from+f, ch))
		}
	}
	return out
}

func chunkTime(index int) int64 {
	return t0 + int64(index)*10_000
}

type harness struct {
	t    *testing.T
	s    *Stream
	next int
}

func newHarness(t *testing.T, cfg Config) *harness {
	s, err := New(testFormat, testFormat, cfg)
	require.NoError(t, err)
	return &harness{t: t, s: s}
}

func (h *harness) bufferUs() int64 {
	return int64(h.s.BufferLen()) * 1000
}

// feed queues chunks until audio stamped up to upTo is available
func (h *harness) feed(upTo int64) {
	for chunkTime(h.next) <= upTo {
		c, err := audio.NewPcmChunk(chunkTime(h.next), expected(h.next*chunkFrames, chunkFrames), testFormat)
		require.NoError(h.t, err)
		require.NoError(h.t, h.s.AddChunk(c))
		h.next++
	}
}

// pull keeps 100ms of audio queued ahead of target and asks for frames
func (h *harness) pull(target int64, frames int) ([]byte, bool) {
	h.feed(target - h.bufferUs() + 100_000)
	out := make([]byte, frames*testFormat.FrameSize())
	ok := h.s.GetPlayerChunk(out, target, frames)
	return out, ok
}

// alignedTarget is the target at which source frame index should be audible
func (h *harness) alignedTarget(frame int) int64 {
	return t0 + h.bufferUs() + testFormat.FramesToMicros(frame)
}

func TestExactChunkPlaysVerbatim(t *testing.T) {
	s, err := New(testFormat, testFormat, Config{BufferMs: 500})
	require.NoError(t, err)

	payload := expected(0, chunkFrames)
	c, err := audio.NewPcmChunk(t0, payload, testFormat)
	require.NoError(t, err)
	require.NoError(t, s.AddChunk(c))

	out := make([]byte, len(payload))
	ok := s.GetPlayerChunk(out, t0+500_000, chunkFrames)

	assert.True(t, ok)
	assert.Equal(t, payload, out)
}

func TestEmptyStreamReturnsSilence(t *testing.T) {
	s, err := New(testFormat, testFormat, DefaultConfig())
	require.NoError(t, err)

	out := bytes.Repeat([]byte{0xFF}, 3840)
	ok := s.GetPlayerChunk(out, t0, 960)

	assert.False(t, ok)
	assert.Equal(t, make([]byte, 3840), out)
}

func TestIdentityPlayback(t *testing.T) {
	tests := []struct {
		name     string
		resample bool
		frames   int
	}{
		{"frame mode 10ms calls", false, 480},
		{"frame mode single frames", false, 1},
		{"resampler 10ms calls", true, 480},
		{"resampler single frames", true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{BufferMs: 100, Resample: tt.resample})
			total := 4800

			var played []byte
			for pos := 0; pos < total; pos += tt.frames {
				out, ok := h.pull(h.alignedTarget(pos), tt.frames)
				require.True(t, ok, "frame %d", pos)
				played = append(played, out...)
			}

			assert.True(t, bytes.Equal(expected(0, total), played), "output differs from input")
			assert.Zero(t, h.s.Stats().HardSyncs)
			assert.Zero(t, h.s.LastAge())
		})
	}
}

func TestVariableCallSizesConserveFrames(t *testing.T) {
	h := newHarness(t, Config{BufferMs: 100})
	sizes := []int{100, 480, 1, 333, 960, 7}
	const sentinel = 0xEE
	fs := testFormat.FrameSize()

	pos := 0
	for i := 0; i < 60; i++ {
		frames := sizes[i%len(sizes)]
		h.feed(h.alignedTarget(pos) - h.bufferUs() + 100_000)

		out := bytes.Repeat([]byte{sentinel}, (frames+4)*fs)
		ok := h.s.GetPlayerChunk(out, h.alignedTarget(pos), frames)
		require.True(t, ok)

		assert.Equal(t, expected(pos, frames), out[:frames*fs], "call %d", i)
		for j := frames * fs; j < len(out); j++ {
			require.Equal(t, byte(sentinel), out[j], "call %d wrote past the requested frames", i)
		}
		pos += frames
	}
}

func TestRequestLargerThanBufferIsClamped(t *testing.T) {
	h := newHarness(t, Config{BufferMs: 100})
	h.feed(t0 + 100_000)
	fs := testFormat.FrameSize()

	backing := bytes.Repeat([]byte{0xEE}, 200*fs)
	ok := h.s.GetPlayerChunk(backing[:100*fs], h.alignedTarget(0), 150)

	require.True(t, ok)
	assert.Equal(t, expected(0, 100), backing[:100*fs])
	assert.Equal(t, bytes.Repeat([]byte{0xEE}, 100*fs), backing[100*fs:])
}

func TestSilenceUntilAudioIsDue(t *testing.T) {
	s, err := New(testFormat, testFormat, Config{BufferMs: 100})
	require.NoError(t, err)
	c, err := audio.NewPcmChunk(t0, expected(0, chunkFrames), testFormat)
	require.NoError(t, err)
	require.NoError(t, s.AddChunk(c))

	// Whole request lies 20ms before the chunk
	out := make([]byte, chunkFrames*4)
	ok := s.GetPlayerChunk(out, t0+100_000-20_000, chunkFrames)
	assert.False(t, ok)
	assert.Equal(t, make([]byte, len(out)), out)

	// Request starts 5ms before the chunk: 240 silent frames, then audio
	ok = s.GetPlayerChunk(out, t0+100_000-5_000, chunkFrames)
	require.True(t, ok)
	assert.Equal(t, make([]byte, 240*4), out[:240*4])
	assert.Equal(t, expected(0, 240), out[240*4:])
}

func TestLateAudioIsSkipped(t *testing.T) {
	h := newHarness(t, Config{BufferMs: 100})

	// First request arrives 25ms after chunk 0 was due
	out, ok := h.pull(h.alignedTarget(1200), chunkFrames)

	require.True(t, ok)
	assert.Equal(t, expected(1200, chunkFrames), out)
	assert.Equal(t, uint64(2), h.s.Stats().ChunksDropped)
}

func TestUnderrunPadsSilence(t *testing.T) {
	s, err := New(testFormat, testFormat, Config{BufferMs: 100})
	require.NoError(t, err)
	c, err := audio.NewPcmChunk(t0, expected(0, chunkFrames), testFormat)
	require.NoError(t, err)
	require.NoError(t, s.AddChunk(c))

	out := make([]byte, 960*4)
	ok := s.GetPlayerChunk(out, t0+100_000, 960)

	require.True(t, ok, "partial audio still counts as audio")
	assert.Equal(t, expected(0, chunkFrames), out[:chunkFrames*4])
	assert.Equal(t, make([]byte, chunkFrames*4), out[chunkFrames*4:])
	assert.Equal(t, uint64(1), s.Stats().Underruns)

	ok = s.GetPlayerChunk(out, t0+120_000, 960)
	assert.False(t, ok)
}

func TestSetBufferLenShiftsAge(t *testing.T) {
	h := newHarness(t, Config{BufferMs: 100})

	pos := 0
	for ; pos < 50*chunkFrames; pos += chunkFrames {
		_, ok := h.pull(h.alignedTarget(pos), chunkFrames)
		require.True(t, ok)
	}
	require.Zero(t, h.s.LastAge())

	target := h.alignedTarget(pos)
	h.s.SetBufferLen(120)
	assert.Equal(t, 120, h.s.BufferLen())

	h.pull(target, chunkFrames)
	assert.Equal(t, int64(-20_000), h.s.LastAge())
}

func TestDriftConvergence(t *testing.T) {
	// Single-frame callbacks use short windows and a stronger gain so the run stays small
	fast := Config{
		VeryShortWindow: 20 * time.Millisecond,
		ShortWindow:     50 * time.Millisecond,
		LongWindow:      100 * time.Millisecond,
		Gain:            5,
	}

	tests := []struct {
		name     string
		resample bool
		frames   int
		shift    int64 // μs the device runs late; negative runs early
		tuning   Config
		warmup   time.Duration
		run      time.Duration
	}{
		{"frame correction drops", false, chunkFrames, 1500, Config{}, 3 * time.Second, 40 * time.Second},
		{"frame correction inserts", false, chunkFrames, -1500, Config{}, 3 * time.Second, 40 * time.Second},
		{"resampler speeds up", true, chunkFrames, 1500, Config{}, 3 * time.Second, 40 * time.Second},
		{"resampler slows down", true, chunkFrames, -1500, Config{}, 3 * time.Second, 40 * time.Second},
		{"single frame drops", false, 1, 1500, fast, 300 * time.Millisecond, 2 * time.Second},
		{"single frame inserts", false, 1, -1500, fast, 300 * time.Millisecond, 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.tuning
			cfg.BufferMs = 100
			cfg.Resample = tt.resample
			cfg.StatsInterval = 10 * time.Millisecond
			h := newHarness(t, cfg)

			perSecond := testFormat.SampleRate
			warmupFrames := int(tt.warmup.Seconds() * float64(perSecond))
			runFrames := int(tt.run.Seconds() * float64(perSecond))

			pos := 0
			for ; pos < warmupFrames; pos += tt.frames {
				_, ok := h.pull(h.alignedTarget(pos), tt.frames)
				require.True(t, ok)
			}
			require.Zero(t, h.s.Stats().HardSyncs)

			// Track the error in the direction of the shift so both signs read the same
			sign := int64(1)
			if tt.shift < 0 {
				sign = -1
			}
			peak := int64(0)
			prev := int64(0)
			passedPeak := false
			for end := pos + runFrames; pos < end; pos += tt.frames {
				_, ok := h.pull(h.alignedTarget(pos)+tt.shift, tt.frames)
				require.True(t, ok)

				m := sign * h.s.Stats().MedianLong
				if m > peak {
					peak = m
				}
				if m < peak {
					passedPeak = true
				}
				if passedPeak {
					require.LessOrEqual(t, m, prev+25, "long median grew after its peak at frame %d", pos)
				}
				prev = m
			}

			stats := h.s.Stats()
			assert.True(t, passedPeak)
			assert.LessOrEqual(t, peak, sign*tt.shift+25)
			assert.Zero(t, stats.HardSyncs, "soft correction must not resync")
			assert.Less(t, abs(stats.MedianShort), int64(150))
			if !tt.resample {
				if tt.shift > 0 {
					assert.NotZero(t, stats.FramesDropped)
					assert.Zero(t, stats.FramesInserted)
				} else {
					assert.NotZero(t, stats.FramesInserted)
					assert.Zero(t, stats.FramesDropped)
				}
			}
		})
	}
}

func TestHardSyncOnJump(t *testing.T) {
	h := newHarness(t, Config{BufferMs: 100, StatsInterval: 10 * time.Millisecond})

	call := 0
	for ; call < 300; call++ {
		_, ok := h.pull(t0+100_000+int64(call)*10_000, chunkFrames)
		require.True(t, ok)
	}
	require.Zero(t, h.s.Stats().HardSyncs)

	// The shared clock jumps 100ms forward
	const jump = 100_000
	synced := false
	for i := 0; i < 30 && !synced; i++ {
		h.pull(t0+100_000+int64(call)*10_000+jump, chunkFrames)
		call++
		synced = h.s.Stats().HardSyncs == 1
	}
	require.True(t, synced, "expected a hard sync within 30 calls")

	h.pull(t0+100_000+int64(call)*10_000+jump, chunkFrames)
	call++
	assert.LessOrEqual(t, abs(h.s.LastAge()), testFormat.FramesToMicros(1))

	for i := 0; i < 50; i++ {
		h.pull(t0+100_000+int64(call)*10_000+jump, chunkFrames)
		call++
	}
	assert.Equal(t, uint64(1), h.s.Stats().HardSyncs)
}

func TestClearChunks(t *testing.T) {
	h := newHarness(t, Config{BufferMs: 100})
	for pos := 0; pos < 10*chunkFrames; pos += chunkFrames {
		_, ok := h.pull(h.alignedTarget(pos), chunkFrames)
		require.True(t, ok)
	}

	h.s.ClearChunks()
	out := make([]byte, chunkFrames*4)
	ok := h.s.GetPlayerChunk(out, h.alignedTarget(10*chunkFrames), chunkFrames)
	assert.False(t, ok)
	assert.Equal(t, make([]byte, len(out)), out)

	// Audio resumes on a later part of the timeline
	h.next = 20
	out, ok = h.pull(h.alignedTarget(20*chunkFrames), chunkFrames)
	require.True(t, ok)
	assert.Equal(t, expected(20*chunkFrames, chunkFrames), out)
}

func TestClearChunksKeepsFilterHistory(t *testing.T) {
	h := newHarness(t, Config{BufferMs: 100})
	pos := 0
	for ; pos < 300*chunkFrames; pos += chunkFrames {
		_, ok := h.pull(h.alignedTarget(pos), chunkFrames)
		require.True(t, ok)
	}
	samples := h.s.long.Len()
	require.NotZero(t, samples)

	// The producer refills the same timeline straight after clearing
	h.s.ClearChunks()
	h.next = pos / chunkFrames
	out, ok := h.pull(h.alignedTarget(pos), chunkFrames)
	require.True(t, ok)
	assert.Equal(t, expected(pos, chunkFrames), out)
	assert.Equal(t, samples, h.s.long.Len(), "clearing must not empty the timing filters")
	m, ok := h.s.long.Median()
	require.True(t, ok)
	assert.Zero(t, m)

	pos += chunkFrames
	_, ok = h.pull(h.alignedTarget(pos), chunkFrames)
	require.True(t, ok)
	assert.InDelta(t, samples, h.s.long.Len(), 2)
	assert.Zero(t, h.s.Stats().HardSyncs)
	assert.Zero(t, h.s.LastAge())
}

func TestClearBetweenGenerationCheckAndPop(t *testing.T) {
	h := newHarness(t, Config{BufferMs: 100})
	pos := 0
	for ; pos < 10*chunkFrames; pos += chunkFrames {
		_, ok := h.pull(h.alignedTarget(pos), chunkFrames)
		require.True(t, ok)
	}

	h.s.ClearChunks()
	h.next = 10
	h.feed(h.alignedTarget(pos) - h.bufferUs() + 100_000)

	// The consumer pops the refilled audio before it has seen the clear
	require.True(t, h.s.nextChunk())
	require.Equal(t, chunkTime(10), h.s.current.Timestamp)
	assert.Equal(t, h.s.queue.Generation(), h.s.generation)
	assert.True(t, h.s.hardSync)

	out, ok := h.pull(h.alignedTarget(pos), chunkFrames)
	require.True(t, ok, "the popped chunk must not be discarded as stale")
	assert.Equal(t, expected(pos, chunkFrames), out)
}

func TestSetBufferLenStaysPositive(t *testing.T) {
	s, err := New(testFormat, testFormat, DefaultConfig())
	require.NoError(t, err)

	for _, ms := range []int{0, -20} {
		s.SetBufferLen(ms)
		assert.Equal(t, 1, s.BufferLen(), "SetBufferLen(%d)", ms)
	}
}

// flakyConverter copies input to output and fails when told to
type flakyConverter struct {
	failNext bool
	calls    int
	resets   int
}

func (c *flakyConverter) Active() bool            { return true }
func (c *flakyConverter) SetRatio(float64)        {}
func (c *flakyConverter) Ratio() float64          { return 1 }
func (c *flakyConverter) InputFrames(out int) int { return out }
func (c *flakyConverter) Latency() float64        { return 0 }
func (c *flakyConverter) Reset()                  { c.resets++ }

func (c *flakyConverter) Convert(in, out []byte) error {
	c.calls++
	if c.failNext {
		c.failNext = false
		return errors.New("converter stalled")
	}
	copy(out, in)
	return nil
}

func TestConverterFailureFallsBack(t *testing.T) {
	conv := &flakyConverter{}
	h := newHarness(t, Config{BufferMs: 100, Converter: conv, StatsInterval: time.Microsecond})
	fs := testFormat.FrameSize()

	pos := 0
	for ; pos < 10*chunkFrames; pos += chunkFrames {
		out, ok := h.pull(h.alignedTarget(pos), chunkFrames)
		require.True(t, ok)
		require.Equal(t, expected(pos, chunkFrames), out)
	}
	calls := conv.calls
	require.NotZero(t, calls)

	conv.failNext = true
	h.feed(h.alignedTarget(pos) - h.bufferUs() + 100_000)
	out := bytes.Repeat([]byte{0xEE}, (chunkFrames+1)*fs)
	ok := h.s.GetPlayerChunk(out, h.alignedTarget(pos), chunkFrames)

	require.True(t, ok)
	assert.Equal(t, expected(pos, chunkFrames), out[:chunkFrames*fs])
	assert.Equal(t, bytes.Repeat([]byte{0xEE}, fs), out[chunkFrames*fs:], "fallback wrote past the requested frames")
	assert.Equal(t, uint64(1), h.s.Stats().ConverterErrors)
	assert.Equal(t, calls+1, conv.calls)

	// The converter is used again on the next call
	pos += chunkFrames
	next, ok := h.pull(h.alignedTarget(pos), chunkFrames)
	require.True(t, ok)
	assert.Equal(t, expected(pos, chunkFrames), next)
	assert.Equal(t, calls+2, conv.calls)
	assert.Equal(t, uint64(1), h.s.Stats().ConverterErrors)
	assert.Zero(t, h.s.Stats().HardSyncs)
}

func TestAddChunkRejectsMismatch(t *testing.T) {
	s, err := New(testFormat, testFormat, DefaultConfig())
	require.NoError(t, err)

	other := testFormat
	other.SampleRate = 44100
	err = s.AddChunk(&audio.PcmChunk{Timestamp: t0, Data: make([]byte, 16), Format: other})
	assert.ErrorIs(t, err, audio.ErrFormatMismatch)

	err = s.AddChunk(&audio.PcmChunk{Timestamp: t0, Data: make([]byte, 6), Format: testFormat})
	assert.ErrorIs(t, err, audio.ErrFormatMismatch)
}

func TestNewRateChangeNeedsResampler(t *testing.T) {
	in := testFormat
	in.SampleRate = 44100

	_, err := New(in, testFormat, Config{})
	assert.ErrorIs(t, err, ErrIncompatibleFormats)

	s, err := New(in, testFormat, Config{Resample: true})
	require.NoError(t, err)
	assert.Equal(t, in, s.Format())
	assert.Equal(t, testFormat, s.OutputFormat())

	mono := testFormat
	mono.Channels = 1
	_, err = New(mono, testFormat, Config{Resample: true})
	assert.ErrorIs(t, err, ErrIncompatibleFormats)
}

func TestWaitForChunk(t *testing.T) {
	s, err := New(testFormat, testFormat, DefaultConfig())
	require.NoError(t, err)

	assert.False(t, s.WaitForChunk(10*time.Millisecond))

	go func() {
		time.Sleep(20 * time.Millisecond)
		c, _ := audio.NewPcmChunk(t0, expected(0, chunkFrames), testFormat)
		s.AddChunk(c)
	}()
	assert.True(t, s.WaitForChunk(time.Second))
}

func TestFitFrames(t *testing.T) {
	fs := testFormat.FrameSize()

	t.Run("drop middle frame", func(t *testing.T) {
		src := expected(0, 481)
		dst := make([]byte, 480*fs)
		fitFrames(src, 481, dst, 480, fs)

		want := append(append([]byte{}, src[:240*fs]...), src[241*fs:]...)
		assert.Equal(t, want, dst)
	})

	t.Run("insert middle frame", func(t *testing.T) {
		src := expected(0, 479)
		dst := make([]byte, 480*fs)
		fitFrames(src, 479, dst, 480, fs)

		want := append(append([]byte{}, src[:240*fs]...), src[239*fs:]...)
		assert.Equal(t, want, dst)
	})
}
