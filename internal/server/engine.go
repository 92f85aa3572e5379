// ABOUTME: Audio streaming engine for the Resonate server
// ABOUTME: Reads the source on a sample-accurate timeline and fans chunks out to players
package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonate-playout/pkg/audio"
	"github.com/Resonate-Protocol/resonate-playout/pkg/audio/encode"
	"github.com/Resonate-Protocol/resonate-playout/pkg/protocol"
)

// maxBehindUs is how far the timeline may lag the clock (stall, suspend) before
// it restarts at the current time
const maxBehindUs = 1_000_000

// opusFrameMs are the chunk durations an Opus packet can hold
var opusFrameMs = map[int]bool{10: true, 20: true, 40: true, 60: true}

// AudioEngine produces timestamped chunks and sends them to every player
type AudioEngine struct {
	server *Server
	source AudioSource
	format audio.Format

	chunkFrames int
	leadUs      int64

	clients   map[string]*streamClient
	clientsMu sync.Mutex

	// Timeline: chunk n plays at anchor + FramesToMicros(frames before n)
	anchor int64
	frames int
	ended  bool

	stopChan chan struct{}
	stopOnce sync.Once
}

// streamClient holds per-player encoding state
type streamClient struct {
	client  *Client
	codec   string
	encoder encode.Encoder
}

// NewAudioEngine opens the configured source
func NewAudioEngine(server *Server) (*AudioEngine, error) {
	if server.config.Source != nil {
		if err := server.config.Source.Format().Validate(); err != nil {
			return nil, fmt.Errorf("invalid audio source: %w", err)
		}
		return newAudioEngine(server, server.config.Source), nil
	}
	source, err := NewAudioSource(server.config.AudioFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio source: %w", err)
	}
	return newAudioEngine(server, source), nil
}

func newAudioEngine(server *Server, source AudioSource) *AudioEngine {
	format := source.Format()
	return &AudioEngine{
		server:      server,
		source:      source,
		format:      format,
		chunkFrames: format.SampleRate * server.config.ChunkMs / 1000,
		leadUs:      int64(server.config.LeadMs) * 1000,
		clients:     make(map[string]*streamClient),
		stopChan:    make(chan struct{}),
	}
}

// Start runs the streaming loop until Stop
func (e *AudioEngine) Start() {
	title, artist, _ := e.source.Metadata()
	log.Printf("Audio engine started: %s - %s (%s, %dms chunks)", title, artist, e.format, e.server.config.ChunkMs)

	ticker := time.NewTicker(time.Duration(e.server.config.ChunkMs) * time.Millisecond)
	defer ticker.Stop()

	e.clientsMu.Lock()
	e.reanchor()
	e.clientsMu.Unlock()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.produce()
		}
	}
}

// Stop stops the engine and closes the source
func (e *AudioEngine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopChan)
		e.clientsMu.Lock()
		for _, sc := range e.clients {
			sc.encoder.Close()
		}
		e.clients = make(map[string]*streamClient)
		e.clientsMu.Unlock()
		e.source.Close()
	})
}

// reanchor restarts the timeline at the current time. Caller holds clientsMu.
func (e *AudioEngine) reanchor() {
	e.anchor = e.server.getClockMicros()
	e.frames = 0
}

func (e *AudioEngine) nextTimestamp() int64 {
	return e.anchor + e.format.FramesToMicros(e.frames)
}

// produce sends every chunk whose timestamp is at most the lead time ahead
func (e *AudioEngine) produce() {
	e.clientsMu.Lock()
	defer e.clientsMu.Unlock()

	if e.ended {
		return
	}

	now := e.server.getClockMicros()
	if behind := now - e.nextTimestamp(); behind > maxBehindUs {
		log.Printf("Audio engine behind by %dus, re-anchoring", behind)
		e.reanchor()
	}

	for e.nextTimestamp() <= now+e.leadUs {
		buf := make([]byte, e.chunkFrames*e.format.FrameSize())
		n, err := e.source.Read(buf)
		if n > 0 {
			e.broadcastChunk(e.nextTimestamp(), buf[:n])
			e.frames += n / e.format.FrameSize()
		}
		if errors.Is(err, io.EOF) {
			log.Printf("Audio source ended")
			e.ended = true
			for _, sc := range e.clients {
				e.server.sendMessage(sc.client, protocol.TypeStreamEnd, protocol.StreamEnd{})
			}
			return
		}
		if err != nil {
			log.Printf("Error reading audio: %v", err)
			return
		}
		if n == 0 {
			return
		}
	}
}

// broadcastChunk encodes data for each player. Caller holds clientsMu.
func (e *AudioEngine) broadcastChunk(timestamp int64, data []byte) {
	for _, sc := range e.clients {
		// A partial last chunk cannot be an Opus frame
		if sc.codec == "opus" && len(data) != e.chunkFrames*e.format.FrameSize() {
			continue
		}
		encoded, err := sc.encoder.Encode(data)
		if err != nil {
			log.Printf("Error encoding chunk for %s: %v", sc.client.Name, err)
			continue
		}
		if err := e.server.sendBinary(sc.client, protocol.EncodeAudioChunk(timestamp, encoded)); err != nil && e.server.config.Debug {
			log.Printf("[DEBUG] Dropped chunk for %s: %v", sc.client.Name, err)
		}
	}
}

// AddClient negotiates a codec and sends stream/start. Audio follows with the next chunk.
func (e *AudioEngine) AddClient(client *Client) error {
	codec := negotiateCodec(client.Capabilities, e.server.config.Codec, e.format, e.server.config.ChunkMs)
	format := e.format
	format.Codec = codec

	encoder, err := encode.New(format)
	if err != nil {
		return fmt.Errorf("failed to create %s encoder: %w", codec, err)
	}

	client.mu.Lock()
	client.Codec = codec
	client.mu.Unlock()

	e.clientsMu.Lock()
	defer e.clientsMu.Unlock()

	if old, ok := e.clients[client.ID]; ok {
		old.encoder.Close()
	}
	e.clients[client.ID] = &streamClient{client: client, codec: codec, encoder: encoder}

	log.Printf("Streaming to %s as %s", client.Name, format)
	return e.server.sendMessage(client, protocol.TypeStreamStart, protocol.StreamStart{
		Codec:      codec,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		BitDepth:   format.BitDepth,
		BufferMs:   e.server.config.BufferMs,
	})
}

// RemoveClient stops streaming to a player
func (e *AudioEngine) RemoveClient(client *Client) {
	e.clientsMu.Lock()
	defer e.clientsMu.Unlock()

	if sc, ok := e.clients[client.ID]; ok && sc.client == client {
		sc.encoder.Close()
		delete(e.clients, client.ID)
	}
}

// Clear restarts the timeline and tells players to drop queued audio
func (e *AudioEngine) Clear() {
	e.clientsMu.Lock()
	defer e.clientsMu.Unlock()

	e.reanchor()
	for _, sc := range e.clients {
		if err := e.server.sendMessage(sc.client, protocol.TypeStreamClear, protocol.StreamClear{}); err != nil {
			log.Printf("Error sending stream/clear to %s: %v", sc.client.Name, err)
		}
	}
}

// Format is the source format
func (e *AudioEngine) Format() audio.Format {
	return e.format
}

// Title returns the source title
func (e *AudioEngine) Title() string {
	title, _, _ := e.source.Metadata()
	return title
}

// negotiateCodec picks opus only when it was asked for, the player decodes it
// and the source can be encoded as-is; everything else is pcm.
func negotiateCodec(support *protocol.PlayerSupport, preferred string, format audio.Format, chunkMs int) string {
	if preferred != "opus" || support == nil {
		return "pcm"
	}
	if format.SampleRate != 48000 || format.BitDepth != 16 || !opusFrameMs[chunkMs] {
		return "pcm"
	}
	for _, f := range support.SupportFormats {
		if f.Codec == "opus" && f.SampleRate == format.SampleRate && f.Channels == format.Channels {
			return "opus"
		}
	}
	return "pcm"
}
