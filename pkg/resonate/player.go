// ABOUTME: High-level Player API for Resonate streaming
// ABOUTME: Connects to a server, keeps the clock in sync and feeds the playout stream
package resonate

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Resonate-Protocol/resonate-playout/pkg/audio"
	"github.com/Resonate-Protocol/resonate-playout/pkg/audio/decode"
	"github.com/Resonate-Protocol/resonate-playout/pkg/audio/output"
	"github.com/Resonate-Protocol/resonate-playout/pkg/protocol"
	"github.com/Resonate-Protocol/resonate-playout/pkg/stream"
	timesync "github.com/Resonate-Protocol/resonate-playout/pkg/sync"
)

// PlayerConfig holds player configuration
type PlayerConfig struct {
	// ServerAddr is the server address (host:port)
	ServerAddr string

	// PlayerName is the display name for this player
	PlayerName string

	// ClientID identifies the player to the server (default: random UUID)
	ClientID string

	// Volume is the initial volume (0-100)
	Volume int

	// BufferMs is the playback buffer used until the server sends one (default: 500)
	BufferMs int

	// DeviceLatency is the output latency beyond the device buffer
	DeviceLatency time.Duration

	// OutputSampleRate fixes the device rate; zero uses the first stream's rate
	OutputSampleRate int

	// OutputBitDepth is the device sample depth (default: 16)
	OutputBitDepth int

	// Engine tunes the playout stream; its BufferMs is ignored
	Engine stream.Config

	// SyncRounds is the number of clock exchanges before playback (default: 5)
	SyncRounds int

	// StateInterval is how often client/state is reported (default: 1s)
	StateInterval time.Duration

	// Output is the playback device (default: oto)
	Output output.Output

	// Registry receives player metrics (default: a private registry)
	Registry *prometheus.Registry

	// DeviceInfo provides device identification
	DeviceInfo DeviceInfo

	// OnStateChange is called when playback state changes
	OnStateChange func(PlayerState)

	// OnError is called when errors occur
	OnError func(error)
}

// DeviceInfo describes the player device
type DeviceInfo struct {
	ProductName     string
	Manufacturer    string
	SoftwareVersion string
}

// PlayerState describes the current state
type PlayerState struct {
	State      string // one of the State* lifecycle states
	Volume     int
	Muted      bool
	BufferMs   int
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
	Connected  bool
}

// PlayerStats contains playback statistics
type PlayerStats struct {
	Playout        stream.Stats
	ChunksReceived uint64
	DecodeErrors   uint64
	SyncOffset     int64
	SyncRTT        int64
	SyncQuality    timesync.Quality
}

// Player provides synchronized audio playback from Resonate servers
type Player struct {
	config PlayerConfig

	// Components
	client    *protocol.Client
	clockSync *timesync.ClockSync
	lifecycle *fsm.FSM
	output    output.Output
	source    *switchSource
	registry  *prometheus.Registry
	metrics   *stream.Metrics

	// Owned by the stream loop
	decoder       decode.Decoder
	inFormat      audio.Format
	outputStarted bool

	chunks       atomic.Uint64
	decodeErrors atomic.Uint64

	mu    sync.Mutex
	state PlayerState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPlayer creates a new player with the given configuration
func NewPlayer(config PlayerConfig) (*Player, error) {
	// Set defaults
	if config.Volume == 0 {
		config.Volume = 100
	}
	if config.BufferMs == 0 {
		config.BufferMs = 500
	}
	if config.OutputBitDepth == 0 {
		config.OutputBitDepth = 16
	}
	if config.SyncRounds == 0 {
		config.SyncRounds = 5
	}
	if config.StateInterval == 0 {
		config.StateInterval = time.Second
	}
	if config.ClientID == "" {
		config.ClientID = uuid.New().String()
	}
	if config.DeviceInfo.ProductName == "" {
		config.DeviceInfo.ProductName = "Resonate Player"
	}
	if config.DeviceInfo.Manufacturer == "" {
		config.DeviceInfo.Manufacturer = "Resonate"
	}
	if config.DeviceInfo.SoftwareVersion == "" {
		config.DeviceInfo.SoftwareVersion = "1.0.0"
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}

	out := config.Output
	if out == nil {
		oto := output.NewOto()
		oto.DeviceLatency = config.DeviceLatency
		out = oto
	}
	out.SetVolume(config.Volume)

	ctx, cancel := context.WithCancel(context.Background())

	p := &Player{
		config:    config,
		clockSync: timesync.NewClockSync(),
		output:    out,
		source:    &switchSource{},
		registry:  config.Registry,
		metrics:   stream.NewMetrics(config.Registry),
		ctx:       ctx,
		cancel:    cancel,
		state: PlayerState{
			Volume:   config.Volume,
			BufferMs: config.BufferMs,
		},
	}
	p.lifecycle = newLifecycle(func(from, to string) {
		log.Printf("Player state: %s -> %s", from, to)
		p.notifyStateChange()
	})
	p.registerClockMetrics()

	return p, nil
}

func (p *Player) registerClockMetrics() {
	factory := promauto.With(p.registry)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "resonate",
		Subsystem: "clock",
		Name:      "offset_microseconds",
		Help:      "Estimated server minus local clock offset",
	}, func() float64 { return float64(p.clockSync.GetOffset()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "resonate",
		Subsystem: "clock",
		Name:      "drift_ratio",
		Help:      "Estimated server clock drift against the local clock",
	}, p.clockSync.Drift)
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "resonate",
		Subsystem: "player",
		Name:      "chunks_received_total",
		Help:      "Audio chunks received from the server",
	}, func() float64 { return float64(p.chunks.Load()) })
}

// MetricsHandler serves the player's Prometheus metrics
func (p *Player) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Connect establishes connection to the server and performs initial setup
func (p *Player) Connect(ctx context.Context) error {
	if err := fire(p.lifecycle, evConnect); err != nil {
		return fmt.Errorf("cannot connect: %w", err)
	}

	p.client = protocol.NewClient(protocol.Config{
		ServerAddr: p.config.ServerAddr,
		ClientID:   p.config.ClientID,
		Name:       p.config.PlayerName,
		DeviceInfo: protocol.DeviceInfo{
			ProductName:     p.config.DeviceInfo.ProductName,
			Manufacturer:    p.config.DeviceInfo.Manufacturer,
			SoftwareVersion: p.config.DeviceInfo.SoftwareVersion,
		},
		PlayerSupport: protocol.PlayerSupport{
			SupportFormats: []protocol.AudioFormat{
				{Codec: "pcm", Channels: 2, SampleRate: 96000, BitDepth: 24},
				{Codec: "pcm", Channels: 2, SampleRate: 48000, BitDepth: 16},
				{Codec: "pcm", Channels: 2, SampleRate: 44100, BitDepth: 16},
				{Codec: "opus", Channels: 2, SampleRate: 48000, BitDepth: 16},
			},
			BufferCapacity: 1048576,
			SupportedCommands: []string{
				protocol.CommandVolume, protocol.CommandMute, protocol.CommandLatency,
			},
		},
	})

	if err := p.client.Connect(); err != nil {
		fire(p.lifecycle, evDisconnect)
		return fmt.Errorf("connection failed: %w", err)
	}

	log.Printf("Connected to server: %s", p.config.ServerAddr)
	p.mu.Lock()
	p.state.Connected = true
	p.mu.Unlock()
	fire(p.lifecycle, evHandshake)

	p.performInitialSync(ctx)
	fire(p.lifecycle, evSynced)

	// Start component goroutines
	p.spawn(p.streamLoop)
	p.spawn(p.commandLoop)
	p.spawn(p.clockSyncLoop)
	p.spawn(p.stateLoop)
	p.spawn(p.watchConnection)

	return nil
}

func (p *Player) spawn(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

// performInitialSync does multiple sync rounds before audio starts
func (p *Player) performInitialSync(ctx context.Context) {
	log.Printf("Performing initial clock synchronization...")

	for i := 0; i < p.config.SyncRounds; i++ {
		if err := p.client.SendTimeSync(timesync.ClientMicros()); err != nil {
			log.Printf("Initial sync round %d failed: %v", i+1, err)
			return
		}

		select {
		case resp := <-p.client.TimeSyncResp:
			p.clockSync.ProcessSyncResponse(resp.ClientTransmitted, resp.ServerReceived,
				resp.ServerTransmitted, timesync.ClientMicros())
		case <-time.After(500 * time.Millisecond):
			log.Printf("Initial sync round %d timeout", i+1)
		case <-ctx.Done():
			return
		}
	}

	offset, rtt, quality := p.clockSync.GetStats()
	log.Printf("Initial clock sync complete: offset=%dμs, rtt=%dμs, quality=%v", offset, rtt, quality)
}

// clockSyncLoop continuously syncs clock
func (p *Player) clockSyncLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.drainStaleSync()
			if err := p.client.SendTimeSync(timesync.ClientMicros()); err != nil {
				log.Printf("Time sync request failed: %v", err)
			}
			if p.clockSync.CheckQuality() == timesync.QualityLost {
				log.Printf("Clock sync lost")
			}

		case resp := <-p.client.TimeSyncResp:
			p.clockSync.ProcessSyncResponse(resp.ClientTransmitted, resp.ServerReceived,
				resp.ServerTransmitted, timesync.ClientMicros())

		case <-p.ctx.Done():
			return
		}
	}
}

// drainStaleSync drops responses to requests from earlier ticks
func (p *Player) drainStaleSync() {
	for {
		select {
		case <-p.client.TimeSyncResp:
			log.Printf("Discarded stale time sync response")
		default:
			return
		}
	}
}

// streamLoop applies stream events in the order the server sent them
func (p *Player) streamLoop() {
	defer p.closeDecoder()

	for {
		select {
		case ev := <-p.client.Stream:
			switch {
			case ev.Start != nil:
				if err := p.startStream(*ev.Start); err != nil {
					p.notifyError(err)
				}
			case ev.Clear:
				p.clearStream()
			case ev.End:
				p.endStream()
			case ev.Chunk != nil:
				p.handleChunk(*ev.Chunk)
			}

		case <-p.ctx.Done():
			return
		}
	}
}

// startStream sets up the decoder and a playout stream for the announced format.
// The output device starts with the first stream and keeps its format afterwards.
func (p *Player) startStream(start protocol.StreamStart) error {
	log.Printf("Stream starting: %s %dHz %dch %dbit",
		start.Codec, start.SampleRate, start.Channels, start.BitDepth)

	decoder, err := decode.New(audio.Format{
		Codec:       start.Codec,
		SampleRate:  start.SampleRate,
		Channels:    start.Channels,
		BitDepth:    start.BitDepth,
		CodecHeader: start.CodecHeader,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	decoded := decoder.Format()

	if !p.outputStarted {
		rate := p.config.OutputSampleRate
		if rate == 0 {
			rate = decoded.SampleRate
		}
		p.source.format = audio.Format{
			Codec:      "pcm",
			SampleRate: rate,
			Channels:   decoded.Channels,
			BitDepth:   p.config.OutputBitDepth,
		}
	}
	device := p.source.format

	in := audio.Format{
		Codec:      "pcm",
		SampleRate: decoded.SampleRate,
		Channels:   decoded.Channels,
		BitDepth:   device.BitDepth,
	}

	p.mu.Lock()
	if start.BufferMs > 0 {
		p.state.BufferMs = start.BufferMs
	}
	bufferMs := p.state.BufferMs
	p.mu.Unlock()

	cfg := p.config.Engine
	cfg.BufferMs = bufferMs
	cfg.Metrics = p.metrics
	if in.SampleRate != device.SampleRate {
		cfg.Resample = true
	}
	st, err := stream.New(in, device, cfg)
	if err != nil {
		decoder.Close()
		return fmt.Errorf("failed to create playout stream: %w", err)
	}

	p.closeDecoder()
	p.decoder = decoder
	p.inFormat = in
	if old := p.source.swap(st); old != nil {
		old.ClearChunks()
	}

	if !p.outputStarted {
		if err := p.output.Start(p.source, p.clockSync); err != nil {
			return fmt.Errorf("failed to initialize output: %w", err)
		}
		p.outputStarted = true
	}

	p.mu.Lock()
	p.state.Codec = start.Codec
	p.state.SampleRate = start.SampleRate
	p.state.Channels = start.Channels
	p.state.BitDepth = start.BitDepth
	p.mu.Unlock()

	fire(p.lifecycle, evStreamStart)
	return nil
}

func (p *Player) clearStream() {
	if st := p.source.current(); st != nil {
		st.ClearChunks()
		log.Printf("Stream cleared")
	}
}

// endStream stops playback; the device keeps running on silence
func (p *Player) endStream() {
	if old := p.source.swap(nil); old != nil {
		old.ClearChunks()
	}
	p.closeDecoder()
	fire(p.lifecycle, evStreamEnd)
	log.Printf("Stream ended")
}

func (p *Player) closeDecoder() {
	if p.decoder != nil {
		p.decoder.Close()
		p.decoder = nil
	}
}

// handleChunk decodes one chunk and queues it on the playout stream
func (p *Player) handleChunk(chunk protocol.AudioChunk) {
	n := p.chunks.Add(1)
	st := p.source.current()
	if p.decoder == nil || st == nil {
		if n <= 5 || n%100 == 0 {
			log.Printf("Dropping audio chunk before stream/start (ts=%d)", chunk.Timestamp)
		}
		return
	}

	pcm, err := p.decoder.Decode(chunk.Data)
	if err != nil {
		p.decodeErrors.Add(1)
		p.notifyError(fmt.Errorf("decode error: %w", err))
		return
	}
	pcm = audio.ConvertDepth(pcm, p.decoder.Format().BitDepth, p.inFormat.BitDepth)

	c, err := audio.NewPcmChunk(chunk.Timestamp, pcm, p.inFormat)
	if err == nil {
		err = st.AddChunk(c)
	}
	if err != nil {
		p.notifyError(fmt.Errorf("queue error: %w", err))
	}
}

// commandLoop processes server commands
func (p *Player) commandLoop() {
	for {
		select {
		case cmd := <-p.client.Commands:
			p.handleCommand(cmd)
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Player) handleCommand(cmd protocol.ServerCommand) {
	switch cmd.Command {
	case protocol.CommandVolume:
		p.SetVolume(cmd.Volume)
	case protocol.CommandMute:
		p.Mute(cmd.Mute)
	case protocol.CommandLatency:
		p.SetBufferLen(cmd.BufferMs)
	default:
		log.Printf("Unknown server command: %s", cmd.Command)
	}
}

// stateLoop reports playout health to the server
func (p *Player) stateLoop() {
	ticker := time.NewTicker(p.config.StateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sendState()
		case <-p.ctx.Done():
			return
		}
	}
}

// clientState summarizes the player for client/state
func (p *Player) clientState() protocol.ClientState {
	p.mu.Lock()
	cs := protocol.ClientState{
		State:    "buffering",
		Volume:   p.state.Volume,
		Muted:    p.state.Muted,
		BufferMs: p.state.BufferMs,
	}
	p.mu.Unlock()

	if st := p.source.current(); st != nil {
		stats := st.Stats()
		if !stats.HardSync {
			cs.State = "synchronized"
		}
		cs.SyncErrorUs = stats.MedianShort
		cs.Underruns = stats.Underruns
		cs.HardSyncs = stats.HardSyncs
	}
	if p.clockSync.CheckQuality() == timesync.QualityLost && p.clockSync.Synced() {
		cs.State = "error"
	}
	return cs
}

func (p *Player) sendState() {
	if p.client == nil || !p.client.IsConnected() {
		return
	}
	if err := p.client.SendState(p.clientState()); err != nil {
		log.Printf("Failed to send state: %v", err)
	}
}

// watchConnection moves the lifecycle back to idle when the server goes away
func (p *Player) watchConnection() {
	select {
	case <-p.client.Done():
		p.mu.Lock()
		p.state.Connected = false
		p.mu.Unlock()
		if old := p.source.swap(nil); old != nil {
			old.ClearChunks()
		}
		if p.lifecycle.Current() != StateClosed {
			fire(p.lifecycle, evDisconnect)
			p.notifyError(fmt.Errorf("disconnected from %s", p.config.ServerAddr))
		}
	case <-p.ctx.Done():
	}
}

// SetVolume sets the volume (0-100)
func (p *Player) SetVolume(volume int) error {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}

	p.mu.Lock()
	p.state.Volume = volume
	p.mu.Unlock()

	p.output.SetVolume(volume)
	p.sendState()
	p.notifyStateChange()
	return nil
}

// Mute sets the mute state
func (p *Player) Mute(muted bool) error {
	p.mu.Lock()
	p.state.Muted = muted
	p.mu.Unlock()

	p.output.SetMuted(muted)
	p.sendState()
	p.notifyStateChange()
	return nil
}

// SetBufferLen changes the end-to-end latency of the running and future streams
func (p *Player) SetBufferLen(ms int) {
	if ms < 1 {
		ms = 1
	}
	p.mu.Lock()
	p.state.BufferMs = ms
	p.mu.Unlock()

	if st := p.source.current(); st != nil {
		st.SetBufferLen(ms)
	}
	log.Printf("Buffer set to %dms", ms)
	p.sendState()
	p.notifyStateChange()
}

// Status returns the current player state
func (p *Player) Status() PlayerState {
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()
	state.State = p.lifecycle.Current()
	return state
}

// Stats returns playback statistics
func (p *Player) Stats() PlayerStats {
	stats := PlayerStats{
		ChunksReceived: p.chunks.Load(),
		DecodeErrors:   p.decodeErrors.Load(),
	}
	if st := p.source.current(); st != nil {
		stats.Playout = st.Stats()
	}
	stats.SyncOffset, stats.SyncRTT, stats.SyncQuality = p.clockSync.GetStats()
	return stats
}

// Close closes the player and releases all resources
func (p *Player) Close() error {
	if p.client != nil && p.client.IsConnected() {
		p.client.SendGoodbye("shutdown")
	}
	fire(p.lifecycle, evClose)
	p.cancel()

	if p.client != nil {
		p.client.Close()
	}
	p.wg.Wait()

	if old := p.source.swap(nil); old != nil {
		old.ClearChunks()
	}
	p.closeDecoder()

	p.mu.Lock()
	p.state.Connected = false
	p.mu.Unlock()

	return p.output.Close()
}

// notifyStateChange calls the OnStateChange callback if set
func (p *Player) notifyStateChange() {
	if p.config.OnStateChange != nil {
		p.config.OnStateChange(p.Status())
	}
}

// notifyError calls the OnError callback if set
func (p *Player) notifyError(err error) {
	if p.config.OnError != nil {
		p.config.OnError(err)
	} else {
		log.Printf("Player error: %v", err)
	}
}
