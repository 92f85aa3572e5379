// ABOUTME: WebSocket client for the Resonate protocol
// ABOUTME: Handles connection, handshake and routing of audio and control messages
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ProtocolVersion is the protocol revision spoken by this package
const ProtocolVersion = 1

// Path is the websocket endpoint served by Resonate servers
const Path = "/resonate"

// ErrNotConnected is returned when sending on a closed client
var ErrNotConnected = errors.New("not connected")

// Config holds client configuration
type Config struct {
	ServerAddr       string
	ClientID         string
	Name             string
	DeviceInfo       DeviceInfo
	PlayerSupport    PlayerSupport
	HandshakeTimeout time.Duration
}

// StreamEvent is one item of the ordered stream feed. Exactly one of the
// fields is set, in the order the server sent them.
type StreamEvent struct {
	Start *StreamStart
	Clear bool
	End   bool
	Chunk *AudioChunk
}

// Client is the player side of a server connection
type Client struct {
	config Config
	conn   *websocket.Conn
	mu     sync.RWMutex
	sendMu sync.Mutex

	// Message channels. Stream keeps audio ordered against stream/start and
	// stream/clear.
	Stream       chan StreamEvent
	Commands     chan ServerCommand
	TimeSyncResp chan ServerTime

	server    ServerHello
	connected bool
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewClient creates a new WebSocket client
func NewClient(config Config) *Client {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		config:       config,
		Stream:       make(chan StreamEvent, 100),
		Commands:     make(chan ServerCommand, 10),
		TimeSyncResp: make(chan ServerTime, 10),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and performs the handshake
func (c *Client) Connect() error {
	u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: Path}
	log.Printf("Connecting to %s", u.String())

	conn, _, err := websocket.DefaultDialer.DialContext(c.ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	if err := c.handshake(); err != nil {
		c.Close()
		return fmt.Errorf("handshake failed: %w", err)
	}

	go c.readMessages()
	return nil
}

func (c *Client) handshake() error {
	hello := ClientHello{
		ClientID:       c.config.ClientID,
		Name:           c.config.Name,
		Version:        ProtocolVersion,
		SupportedRoles: []string{"player"},
		DeviceInfo:     &c.config.DeviceInfo,
		PlayerSupport:  &c.config.PlayerSupport,
	}
	if err := c.sendJSON(Message{Type: TypeClientHello, Payload: hello}); err != nil {
		return fmt.Errorf("failed to send client/hello: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(c.config.HandshakeTimeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read server/hello: %w", err)
	}
	c.conn.SetReadDeadline(time.Time{})

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to parse server/hello: %w", err)
	}
	if env.Type != TypeServerHello {
		return fmt.Errorf("expected server/hello, got %s", env.Type)
	}
	var server ServerHello
	if err := env.Decode(&server); err != nil {
		return fmt.Errorf("failed to parse server/hello: %w", err)
	}

	c.mu.Lock()
	c.server = server
	c.mu.Unlock()
	log.Printf("Handshake complete with server %s (%s)", server.Name, server.ServerID)

	return c.SendState(ClientState{State: "buffering", Volume: 100})
}

// Server returns the hello received from the server
func (c *Client) Server() ServerHello {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.server
}

func (c *Client) sendJSON(msg Message) error {
	c.mu.RLock()
	conn, connected := c.conn, c.connected
	c.mu.RUnlock()

	if !connected {
		return ErrNotConnected
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return conn.WriteJSON(msg)
}

func (c *Client) readMessages() {
	defer close(c.done)
	defer c.Close()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				log.Printf("Read error: %v", err)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			c.handleBinaryMessage(data)
		case websocket.TextMessage:
			c.handleJSONMessage(data)
		default:
			log.Printf("Unknown WebSocket message type: %d", messageType)
		}
	}
}

func (c *Client) handleBinaryMessage(data []byte) {
	chunk, err := DecodeAudioChunk(data)
	if err != nil {
		log.Printf("Dropping binary message: %v", err)
		return
	}
	deliver(c.ctx, c.Stream, StreamEvent{Chunk: &chunk})
}

func (c *Client) handleJSONMessage(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("Failed to parse JSON message: %v", err)
		return
	}

	switch env.Type {
	case TypeServerCommand:
		var cmd ServerCommand
		if err := env.Decode(&cmd); err != nil {
			log.Printf("Failed to parse server/command: %v", err)
			return
		}
		deliver(c.ctx, c.Commands, cmd)

	case TypeServerTime:
		var resp ServerTime
		if err := env.Decode(&resp); err != nil {
			log.Printf("Failed to parse server/time: %v", err)
			return
		}
		deliver(c.ctx, c.TimeSyncResp, resp)

	case TypeStreamStart:
		var start StreamStart
		if err := env.Decode(&start); err != nil {
			log.Printf("Failed to parse stream/start: %v", err)
			return
		}
		deliver(c.ctx, c.Stream, StreamEvent{Start: &start})

	case TypeStreamClear:
		deliver(c.ctx, c.Stream, StreamEvent{Clear: true})

	case TypeStreamEnd:
		deliver(c.ctx, c.Stream, StreamEvent{End: true})

	default:
		log.Printf("Unknown message type: %s", env.Type)
	}
}

func deliver[T any](ctx context.Context, ch chan T, v T) {
	select {
	case ch <- v:
	case <-ctx.Done():
	}
}

// SendState sends a client/state message
func (c *Client) SendState(state ClientState) error {
	return c.sendJSON(Message{Type: TypeClientState, Payload: state})
}

// SendGoodbye sends a client/goodbye message before disconnecting
func (c *Client) SendGoodbye(reason string) error {
	return c.sendJSON(Message{Type: TypeClientGoodbye, Payload: ClientGoodbye{Reason: reason}})
}

// SendTimeSync sends a client/time message
func (c *Client) SendTimeSync(t1 int64) error {
	return c.sendJSON(Message{Type: TypeClientTime, Payload: ClientTime{ClientTransmitted: t1}})
}

// Done is closed once the read loop has exited
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancel()
	if c.connected {
		c.connected = false
		c.conn.Close()
		log.Printf("Connection closed")
	}
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
