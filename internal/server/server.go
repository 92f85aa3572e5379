// ABOUTME: Main server implementation for the Resonate protocol
// ABOUTME: Manages WebSocket players, time sync replies, state reports and the control plane
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Resonate-Protocol/resonate-playout/internal/discovery"
	"github.com/Resonate-Protocol/resonate-playout/pkg/protocol"
)

// Defaults
const (
	DefaultPort     = 8927
	DefaultName     = "Resonate Server"
	DefaultChunkMs  = 20
	DefaultBufferMs = 500
)

// ErrClientGone is returned when sending to a disconnected player
var ErrClientGone = errors.New("client disconnected")

// Config holds server configuration
type Config struct {
	Port       int
	Name       string
	EnableMDNS bool
	Debug      bool
	UseTUI     bool
	AudioFile  string      // MP3 or FLAC file, or an MP3 HTTP URL. Empty = test tone
	Source     AudioSource // Overrides AudioFile
	Codec      string      // Preferred codec: "pcm" or "opus"
	BufferMs   int         // Playout buffer announced in stream/start
	ChunkMs    int         // Audio per chunk
	LeadMs     int         // How far ahead of its timestamp a chunk is sent
}

// Server represents the Resonate server
type Server struct {
	config   Config
	serverID string

	upgrader websocket.Upgrader

	httpServer *http.Server
	mux        *http.ServeMux

	clients   map[string]*Client
	clientsMu sync.RWMutex

	// Server clock (monotonic microseconds)
	clockStart time.Time

	audioEngine *AudioEngine
	control     *Control

	mdnsManager *discovery.Manager

	tui       *ServerTUI
	startTime time.Time

	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// Client represents a connected player
type Client struct {
	ID           string
	Name         string
	Conn         *websocket.Conn
	Roles        []string
	Capabilities *protocol.PlayerSupport
	DeviceInfo   *protocol.DeviceInfo
	ConnectedAt  time.Time

	// Last reported by client/state, or set by a command
	State       string
	Volume      int
	Muted       bool
	BufferMs    int
	SyncErrorUs int64
	Underruns   uint64
	HardSyncs   uint64

	// Negotiated codec: "pcm" or "opus"
	Codec string

	sendChan chan interface{}
	done     chan struct{}

	mu sync.RWMutex
}

// ClientStatus is a snapshot of a player for the TUI and the control plane
type ClientStatus struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Codec       string `json:"codec"`
	State       string `json:"state"`
	Volume      int    `json:"volume"`
	Muted       bool   `json:"muted"`
	BufferMs    int    `json:"buffer_ms"`
	SyncErrorUs int64  `json:"sync_error_us"`
	Underruns   uint64 `json:"underruns"`
	HardSyncs   uint64 `json:"hard_syncs"`
	ConnectedS  int64  `json:"connected_s"`
}

func (c *Client) status() ClientStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ClientStatus{
		ID:          c.ID,
		Name:        c.Name,
		Codec:       c.Codec,
		State:       c.State,
		Volume:      c.Volume,
		Muted:       c.Muted,
		BufferMs:    c.BufferMs,
		SyncErrorUs: c.SyncErrorUs,
		Underruns:   c.Underruns,
		HardSyncs:   c.HardSyncs,
		ConnectedS:  int64(time.Since(c.ConnectedAt).Seconds()),
	}
}

// New creates a server and opens its audio source
func New(config Config) (*Server, error) {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.Name == "" {
		config.Name = DefaultName
	}
	if config.Codec == "" {
		config.Codec = "pcm"
	}
	if config.Codec != "pcm" && config.Codec != "opus" {
		return nil, fmt.Errorf("unsupported codec: %s", config.Codec)
	}
	if config.BufferMs <= 0 {
		config.BufferMs = DefaultBufferMs
	}
	if config.ChunkMs <= 0 {
		config.ChunkMs = DefaultChunkMs
	}
	if config.LeadMs < 0 {
		config.LeadMs = 0
	}

	s := &Server{
		config:   config,
		serverID: uuid.New().String(),
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			// Local network deployments only; browsers on any origin may connect
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:    make(map[string]*Client),
		clockStart: time.Now(),
		startTime:  time.Now(),
		stopChan:   make(chan struct{}),
	}

	engine, err := NewAudioEngine(s)
	if err != nil {
		return nil, err
	}
	s.audioEngine = engine
	s.control = newControl(s)

	s.mux.HandleFunc(protocol.Path, s.handleWebSocket)
	s.mux.Handle("/jsonrpc", s.control)
	return s, nil
}

// Handler returns the HTTP handler serving players and the control plane
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start runs the server until Stop, a TUI quit or an HTTP error
func (s *Server) Start() error {
	if s.config.UseTUI {
		s.tui = NewServerTUI(s.config.Name, s.config.Port)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.tui.Start()
		}()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.tuiLoop()
		}()
	}

	log.Printf("Server starting: %s (ID: %s)", s.config.Name, s.serverID)

	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
			ServerMode:  true,
			TXT: map[string]string{
				"path":    protocol.Path,
				"jsonrpc": "/jsonrpc",
			},
		})

		if err := s.mdnsManager.Advertise(); err != nil {
			log.Printf("Failed to start mDNS advertisement: %v", err)
		} else {
			log.Printf("mDNS advertisement started")
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.audioEngine.Start()
	}()

	addr := fmt.Sprintf(":%d", s.config.Port)
	log.Printf("WebSocket server listening on %s", addr)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	var serverErr error
	var tuiQuitChan <-chan struct{}
	if s.tui != nil {
		tuiQuitChan = s.tui.QuitChan()
	}

	select {
	case <-s.stopChan:
		log.Printf("Server shutting down...")
	case <-tuiQuitChan:
		log.Printf("TUI quit requested, shutting down...")
		s.Stop()
	case err := <-errChan:
		log.Printf("HTTP server error: %v", err)
		serverErr = err
		s.Stop()
	}

	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	if s.tui != nil {
		s.tui.Stop()
	}

	s.audioEngine.Stop()

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	s.control.closeSubscribers()
	s.closeClients()

	s.wg.Wait()
	log.Printf("Server stopped cleanly")

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// Stop stops the server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	shutdown := s.isShutdown
	s.shutdownMu.RUnlock()
	if shutdown {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	log.Printf("New WebSocket connection from %s", r.RemoteAddr)
	s.handleConnection(conn)
}

// handleConnection runs the handshake, then reads until the player leaves
func (s *Server) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	if s.config.Debug {
		log.Printf("[DEBUG] New connection, waiting for handshake")
	}

	var env protocol.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		log.Printf("Error reading hello: %v", err)
		return
	}
	if env.Type != protocol.TypeClientHello {
		log.Printf("Expected %s, got %s", protocol.TypeClientHello, env.Type)
		return
	}

	var hello protocol.ClientHello
	if err := env.Decode(&hello); err != nil {
		log.Printf("Error unmarshaling client hello: %v", err)
		return
	}
	if hello.ClientID == "" || hello.Name == "" {
		log.Printf("Client hello missing ClientID or Name")
		return
	}

	log.Printf("Client hello: %s (ID: %s, Roles: %v)", hello.Name, hello.ClientID, hello.SupportedRoles)

	client := &Client{
		ID:           hello.ClientID,
		Name:         hello.Name,
		Conn:         conn,
		Roles:        hello.SupportedRoles,
		Capabilities: hello.PlayerSupport,
		DeviceInfo:   hello.DeviceInfo,
		ConnectedAt:  time.Now(),
		State:        "idle",
		Volume:       100,
		BufferMs:     s.config.BufferMs,
		sendChan:     make(chan interface{}, 100),
		done:         make(chan struct{}),
	}

	s.clientsMu.Lock()
	if existing, exists := s.clients[hello.ClientID]; exists {
		s.clientsMu.Unlock()
		log.Printf("Client ID %s already connected (name: %s), rejecting duplicate", hello.ClientID, existing.Name)
		conn.WriteJSON(protocol.Message{
			Type: "server/error",
			Payload: map[string]string{
				"error":   "duplicate_client_id",
				"message": "Client ID already connected",
			},
		})
		return
	}
	s.clients[client.ID] = client
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, client.ID)
		s.clientsMu.Unlock()
		close(client.done)
		log.Printf("Client disconnected: %s", client.Name)
		s.control.notify("Client.OnDisconnect", map[string]string{"id": client.ID})
	}()

	roles := []string{}
	if hasRole(client, "player") {
		roles = append(roles, "player")
	}
	if err := s.sendMessage(client, protocol.TypeServerHello, protocol.ServerHello{
		ServerID:    s.serverID,
		Name:        s.config.Name,
		Version:     protocol.ProtocolVersion,
		ActiveRoles: roles,
	}); err != nil {
		log.Printf("Error sending server hello: %v", err)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.clientWriter(client)
	}()

	if hasRole(client, "player") {
		if err := s.audioEngine.AddClient(client); err != nil {
			log.Printf("Cannot stream to %s: %v", client.Name, err)
			return
		}
		defer s.audioEngine.RemoveClient(client)
	}
	s.control.notify("Client.OnConnect", client.status())

	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
		if !s.handleClientMessage(client, env) {
			return
		}
	}
}

// clientWriter sends queued messages. server/time gets its transmit stamp
// right before the write so queueing delay does not skew the client's offset.
func (s *Server) clientWriter(client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	const writeDeadline = 10 * time.Second

	for {
		select {
		case <-client.done:
			return

		case msg := <-client.sendChan:
			client.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			switch v := msg.(type) {
			case []byte:
				if err := client.Conn.WriteMessage(websocket.BinaryMessage, v); err != nil {
					log.Printf("Error writing binary message: %v", err)
					return
				}
			case protocol.Message:
				if st, ok := v.Payload.(protocol.ServerTime); ok {
					st.ServerTransmitted = s.getClockMicros()
					v.Payload = st
				}
				data, err := json.Marshal(v)
				if err != nil {
					log.Printf("Error marshaling message: %v", err)
					continue
				}
				if err := client.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
					log.Printf("Error writing text message: %v", err)
					return
				}
			}

		case <-ticker.C:
			if err := client.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

// handleClientMessage processes one message; false ends the connection
func (s *Server) handleClientMessage(client *Client, env protocol.Envelope) bool {
	switch env.Type {
	case protocol.TypeClientTime:
		s.handleTimeSync(client, env)
	case protocol.TypeClientState:
		s.handleClientState(client, env)
	case protocol.TypeClientGoodbye:
		var bye protocol.ClientGoodbye
		env.Decode(&bye)
		log.Printf("Client %s said goodbye: %s", client.Name, bye.Reason)
		return false
	default:
		log.Printf("Unknown message type: %s", env.Type)
	}
	return true
}

func (s *Server) handleTimeSync(client *Client, env protocol.Envelope) {
	// Capture receive time as early as possible
	serverRecv := s.getClockMicros()

	var clientTime protocol.ClientTime
	if err := env.Decode(&clientTime); err != nil {
		log.Printf("Error unmarshaling client time: %v", err)
		return
	}

	if s.config.Debug {
		log.Printf("[DEBUG] Time sync for %s: t1=%d, t2=%d", client.Name, clientTime.ClientTransmitted, serverRecv)
	}

	if err := s.sendMessage(client, protocol.TypeServerTime, protocol.ServerTime{
		ClientTransmitted: clientTime.ClientTransmitted,
		ServerReceived:    serverRecv,
		ServerTransmitted: serverRecv,
	}); err != nil {
		log.Printf("Error sending server time: %v", err)
	}
}

func (s *Server) handleClientState(client *Client, env protocol.Envelope) {
	var state protocol.ClientState
	if err := env.Decode(&state); err != nil {
		log.Printf("Error unmarshaling client state: %v", err)
		return
	}

	client.mu.Lock()
	client.State = state.State
	client.Volume = state.Volume
	client.Muted = state.Muted
	if state.BufferMs > 0 {
		client.BufferMs = state.BufferMs
	}
	client.SyncErrorUs = state.SyncErrorUs
	client.Underruns = state.Underruns
	client.HardSyncs = state.HardSyncs
	client.mu.Unlock()

	if s.config.Debug {
		log.Printf("[DEBUG] Client %s state: %s (vol: %d, muted: %v, sync error: %dus)",
			client.Name, state.State, state.Volume, state.Muted, state.SyncErrorUs)
	}
}

// SendCommand sends a server/command to a player and records its effect
func (s *Server) SendCommand(clientID string, cmd protocol.ServerCommand) error {
	client := s.client(clientID)
	if client == nil {
		return fmt.Errorf("%w: %s", ErrClientGone, clientID)
	}

	if err := s.sendMessage(client, protocol.TypeServerCommand, cmd); err != nil {
		return err
	}

	client.mu.Lock()
	switch cmd.Command {
	case protocol.CommandVolume:
		client.Volume = cmd.Volume
	case protocol.CommandMute:
		client.Muted = cmd.Mute
	case protocol.CommandLatency:
		client.BufferMs = cmd.BufferMs
	}
	client.mu.Unlock()
	return nil
}

// closeClients drops every player connection; hijacked connections outlive http.Server.Shutdown
func (s *Server) closeClients() {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, c := range s.clients {
		c.Conn.Close()
	}
}

func (s *Server) client(id string) *Client {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return s.clients[id]
}

// Clients returns a snapshot of connected players sorted by name
func (s *Server) Clients() []ClientStatus {
	s.clientsMu.RLock()
	out := make([]ClientStatus, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c.status())
	}
	s.clientsMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ClearStream makes every player drop queued audio and restarts the timeline
func (s *Server) ClearStream() {
	s.audioEngine.Clear()
}

func (s *Server) sendMessage(client *Client, msgType string, payload interface{}) error {
	return s.enqueue(client, protocol.Message{Type: msgType, Payload: payload})
}

func (s *Server) sendBinary(client *Client, data []byte) error {
	return s.enqueue(client, data)
}

func (s *Server) enqueue(client *Client, msg interface{}) error {
	select {
	case <-client.done:
		return ErrClientGone
	default:
	}
	select {
	case client.sendChan <- msg:
		return nil
	default:
		return fmt.Errorf("client send buffer full")
	}
}

// getClockMicros returns the server clock in microseconds
func (s *Server) getClockMicros() int64 {
	return time.Since(s.clockStart).Microseconds()
}

func hasRole(client *Client, role string) bool {
	for _, r := range client.Roles {
		if r == role {
			return true
		}
	}
	return false
}
