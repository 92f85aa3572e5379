// ABOUTME: Offline synchronization test for the playout engine
// ABOUTME: Simulates two endpoints with drifting clocks and jittery sync, writes their output to WAV
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/Resonate-Protocol/resonate-playout/internal/server"
	"github.com/Resonate-Protocol/resonate-playout/pkg/audio"
	"github.com/Resonate-Protocol/resonate-playout/pkg/audio/output"
	"github.com/Resonate-Protocol/resonate-playout/pkg/stream"
	timesync "github.com/Resonate-Protocol/resonate-playout/pkg/sync"
)

var (
	duration  = flag.Duration("duration", 30*time.Second, "Simulated playback time")
	driftA    = flag.Float64("drift-a", 0, "Endpoint A device and clock drift in ppm")
	driftB    = flag.Float64("drift-b", 150, "Endpoint B device and clock drift in ppm")
	offsetB   = flag.Duration("offset-b", 3*time.Second, "Endpoint B local clock offset from the server")
	jitter    = flag.Duration("jitter", 500*time.Microsecond, "Spread of the one-way network delay of a sync exchange")
	bufferMs  = flag.Int("buffer-ms", 500, "Playout buffer in milliseconds")
	period    = flag.Int("period", 480, "Device callback size in frames")
	chunkMs   = flag.Int("chunk-ms", 20, "Source chunk length in milliseconds")
	resample  = flag.Bool("resample", false, "Correct drift with the interpolating resampler instead of frame insert/drop")
	outDir    = flag.String("out", ".", "Directory for endpoint-a.wav and endpoint-b.wav")
	seed      = flag.Int64("seed", 1, "Random seed for network jitter")
	tolerance = flag.Duration("tolerance", time.Millisecond, "Playout error counted as converged")
	verbose   = flag.Bool("v", false, "Show engine and clock logs")
)

// syncInterval is the simulated time between clock exchanges once synced
const syncInterval = time.Second

type sample struct {
	at       time.Duration
	age      int64
	clockErr int64
	stats    stream.Stats
}

// endpoint is one simulated player: its own local clock, device clock, clock
// sync estimate and playout stream, fed from its own copy of the source.
type endpoint struct {
	name   string
	drift  float64 // ppm, applies to the local clock and the device crystal
	offset int64

	clock  *timesync.ClockSync
	stream *stream.Stream
	source server.AudioSource
	format audio.Format
	rng    *rand.Rand

	serverNow int64 // server time of the current callback
	nextChunk int64
	nextSync  int64
	samples   []sample
}

func newEndpoint(name string, drift float64, offset time.Duration, rng *rand.Rand) (*endpoint, error) {
	e := &endpoint{
		name:   name,
		drift:  drift,
		offset: offset.Microseconds(),
		source: server.NewToneSource(server.DefaultToneFrequency),
		rng:    rng,
	}
	e.format = e.source.Format()
	e.clock = timesync.NewClockSyncWithClock(func() int64 { return e.local(e.serverNow) })

	cfg := stream.DefaultConfig()
	cfg.BufferMs = *bufferMs
	cfg.Resample = *resample
	s, err := stream.New(e.format, e.format, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream for %s: %w", name, err)
	}
	e.stream = s
	return e, nil
}

// local maps server time onto this endpoint's local clock
func (e *endpoint) local(serverUs int64) int64 {
	return int64(float64(serverUs)*(1+e.drift*1e-6)) + e.offset
}

// exchange runs one client/time, server/time round trip with random delays
func (e *endpoint) exchange() {
	up := e.delay()
	down := e.delay()
	t1 := e.local(e.serverNow)
	t2 := e.serverNow + up
	t3 := t2 + 50
	t4 := e.local(t3 + down)
	e.clock.ProcessSyncResponse(t1, t2, t3, t4)
}

func (e *endpoint) delay() int64 {
	spread := jitter.Microseconds()
	if spread <= 0 {
		return 100
	}
	return 100 + e.rng.Int63n(spread)
}

// feed queues every source chunk whose timestamp has been reached
func (e *endpoint) feed() error {
	chunkUs := int64(*chunkMs) * 1000
	frames := e.format.MicrosToFrames(chunkUs)
	for e.nextChunk <= e.serverNow {
		buf := make([]byte, frames*e.format.FrameSize())
		n, err := e.source.Read(buf)
		if err != nil {
			return err
		}
		chunk, err := audio.NewPcmChunk(e.nextChunk, buf[:n], e.format)
		if err != nil {
			return err
		}
		if err := e.stream.AddChunk(chunk); err != nil {
			return err
		}
		e.nextChunk += chunkUs
	}
	return nil
}

// tick advances the simulation to the device callback after written frames and
// returns the engine target: the endpoint's estimate of the server time.
func (e *endpoint) tick(written int) int64 {
	// The device crystal runs at the same rate error as the local clock
	deviceUs := float64(written) * 1e6 / float64(e.format.SampleRate)
	e.serverNow = int64(deviceUs / (1 + e.drift*1e-6))

	for e.serverNow >= e.nextSync {
		e.exchange()
		e.nextSync += syncInterval.Microseconds()
	}
	if err := e.feed(); err != nil {
		log.Fatalf("%s: feeding stream: %v", e.name, err)
	}

	target := e.clock.LocalToServer(e.local(e.serverNow))

	at := time.Duration(e.serverNow) * time.Microsecond
	if len(e.samples) == 0 || at-e.samples[len(e.samples)-1].at >= time.Second {
		e.samples = append(e.samples, sample{
			at:       at,
			age:      e.stream.LastAge(),
			clockErr: target - e.serverNow,
			stats:    e.stream.Stats(),
		})
	}
	return target
}

// run renders the whole simulation into a WAV file
func (e *endpoint) run(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := output.NewWAV(f, e.format)
	if err != nil {
		return err
	}
	total := int(duration.Seconds() * float64(e.format.SampleRate))
	if err := output.Render(w, e.stream, *period, total, e.tick); err != nil {
		return err
	}
	return w.Close()
}

// trueError is the playout error against the real server clock: the engine
// measures age against its estimate, which is off by clockErr.
func (s sample) trueError() int64 {
	return s.age - s.clockErr
}

// converged returns when the true error last entered the tolerance band and
// stayed there, or -1
func (e *endpoint) converged() time.Duration {
	limit := tolerance.Microseconds()
	at := time.Duration(-1)
	for _, s := range e.samples {
		if s.stats.HardSync || abs(s.trueError()) > limit {
			at = -1
			continue
		}
		if at < 0 {
			at = s.at
		}
	}
	return at
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func main() {
	flag.Parse()
	if !*verbose {
		log.SetOutput(io.Discard)
	}

	rng := rand.New(rand.NewSource(*seed))
	a, err := newEndpoint("endpoint-a", *driftA, 0, rng)
	if err != nil {
		fatal(err)
	}
	b, err := newEndpoint("endpoint-b", *driftB, *offsetB, rng)
	if err != nil {
		fatal(err)
	}

	fmt.Println("=== Playout Sync Simulation ===")
	fmt.Printf("duration %v, buffer %dms, period %d frames, jitter %v, correction: %s\n",
		*duration, *bufferMs, *period, *jitter, correctionName())
	fmt.Printf("A: drift %+.1fppm   B: drift %+.1fppm offset %v\n\n", *driftA, *driftB, *offsetB)

	for _, e := range []*endpoint{a, b} {
		path := filepath.Join(*outDir, e.name+".wav")
		if err := e.run(path); err != nil {
			fatal(fmt.Errorf("%s: %w", e.name, err))
		}
		fmt.Printf("wrote %s\n", path)
	}

	fmt.Printf("\n%6s  %12s %12s  %12s %12s  %10s\n", "time", "A error", "A clock", "B error", "B clock", "A-B skew")
	for i := 0; i < len(a.samples) && i < len(b.samples); i++ {
		sa, sb := a.samples[i], b.samples[i]
		fmt.Printf("%6s  %10dus %10dus  %10dus %10dus  %8dus\n",
			sa.at.Round(time.Second), sa.trueError(), sa.clockErr, sb.trueError(), sb.clockErr, sa.trueError()-sb.trueError())
	}

	fmt.Println()
	ok := true
	for _, e := range []*endpoint{a, b} {
		st := e.stream.Stats()
		fmt.Printf("%s: %s\n", e.name, st)
		fmt.Printf("  inserted %d, dropped %d frames, ratio %.6f, clock drift estimate %.1fppm\n",
			st.FramesInserted, st.FramesDropped, st.Ratio, e.clock.Drift()*1e6)
		if at := e.converged(); at >= 0 {
			fmt.Printf("  converged within %v after %v\n", *tolerance, at.Round(time.Millisecond))
		} else {
			fmt.Printf("  did not converge within %v\n", *tolerance)
			ok = false
		}
	}

	last := len(a.samples) - 1
	if last >= 0 && last < len(b.samples) {
		skew := a.samples[last].trueError() - b.samples[last].trueError()
		fmt.Printf("\nfinal skew between endpoints: %dus (%.2f samples)\n",
			skew, math.Abs(float64(skew))*float64(a.format.SampleRate)/1e6)
	}

	if !ok {
		os.Exit(1)
	}
}

func correctionName() string {
	if *resample {
		return "resample"
	}
	return "frame insert/drop"
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "test-sync: %v\n", err)
	os.Exit(1)
}
