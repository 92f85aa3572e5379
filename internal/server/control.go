// ABOUTME: JSON-RPC control plane for the Resonate server
// ABOUTME: Serves status and player commands over HTTP POST and WebSocket with notifications
package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Resonate-Protocol/resonate-playout/pkg/jsonrpc"
	"github.com/Resonate-Protocol/resonate-playout/pkg/protocol"
)

// maxLatencyMs bounds Client.SetLatency
const maxLatencyMs = 10000

const maxRequestBytes = 1 << 20

// Control dispatches JSON-RPC requests and pushes notifications to
// WebSocket subscribers
type Control struct {
	server   *Server
	router   *jsonrpc.Router
	upgrader websocket.Upgrader

	subs   map[*controlConn]struct{}
	subsMu sync.Mutex
}

type controlConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *controlConn) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func newControl(s *Server) *Control {
	c := &Control{
		server:   s,
		router:   jsonrpc.NewRouter(),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		subs:     make(map[*controlConn]struct{}),
	}

	c.router.Register("Server.GetStatus", c.getStatus)
	c.router.Register("Client.SetLatency", c.setLatency)
	c.router.Register("Client.SetVolume", c.setVolume)
	c.router.Register("Client.SetMute", c.setMute)
	c.router.Register("Stream.Clear", c.clearStream)
	return c
}

// ServeHTTP answers POSTed requests and upgrades WebSocket subscribers
func (c *Control) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		c.serveWebSocket(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		http.Error(w, "failed to read request", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(c.router.Handle(r.Context(), body))
}

func (c *Control) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Control WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	sub := &controlConn{conn: conn}
	c.subsMu.Lock()
	c.subs[sub] = struct{}{}
	c.subsMu.Unlock()

	defer func() {
		c.subsMu.Lock()
		delete(c.subs, sub)
		c.subsMu.Unlock()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := sub.write(c.router.Handle(r.Context(), data)); err != nil {
			return
		}
	}
}

// notify sends a notification to every WebSocket subscriber
func (c *Control) notify(method string, params interface{}) {
	data, err := json.Marshal(jsonrpc.NewNotification(method, params))
	if err != nil {
		log.Printf("Failed to encode %s notification: %v", method, err)
		return
	}

	c.subsMu.Lock()
	subs := make([]*controlConn, 0, len(c.subs))
	for sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subsMu.Unlock()

	for _, sub := range subs {
		if err := sub.write(data); err != nil {
			sub.conn.Close()
		}
	}
}

func (c *Control) closeSubscribers() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for sub := range c.subs {
		sub.conn.Close()
	}
}

func (c *Control) getStatus(ctx context.Context, req *jsonrpc.Request) (interface{}, error) {
	return c.server.Status(), nil
}

// clientID reads the "id" parameter and checks the player is connected
func (c *Control) clientID(req *jsonrpc.Request) (string, error) {
	var id string
	if err := req.Param("id", &id); err != nil {
		return "", err
	}
	if c.server.client(id) == nil {
		return "", jsonrpc.InvalidParams("unknown client: "+id, req.ID)
	}
	return id, nil
}

func (c *Control) setLatency(ctx context.Context, req *jsonrpc.Request) (interface{}, error) {
	id, err := c.clientID(req)
	if err != nil {
		return nil, err
	}
	var latency int
	if err := req.Param("latency", &latency); err != nil {
		return nil, err
	}
	if latency < 0 || latency > maxLatencyMs {
		return nil, jsonrpc.InvalidParams("latency out of range", req.ID)
	}

	if err := c.server.SendCommand(id, protocol.ServerCommand{Command: protocol.CommandLatency, BufferMs: latency}); err != nil {
		return nil, err
	}

	result := map[string]interface{}{"id": id, "latency": latency}
	c.notify("Client.OnLatencyChanged", result)
	return result, nil
}

func (c *Control) setVolume(ctx context.Context, req *jsonrpc.Request) (interface{}, error) {
	id, err := c.clientID(req)
	if err != nil {
		return nil, err
	}
	var volume int
	if err := req.Param("volume", &volume); err != nil {
		return nil, err
	}
	if volume < 0 || volume > 100 {
		return nil, jsonrpc.InvalidParams("volume out of range", req.ID)
	}

	if err := c.server.SendCommand(id, protocol.ServerCommand{Command: protocol.CommandVolume, Volume: volume}); err != nil {
		return nil, err
	}
	return map[string]interface{}{"id": id, "volume": volume}, nil
}

func (c *Control) setMute(ctx context.Context, req *jsonrpc.Request) (interface{}, error) {
	id, err := c.clientID(req)
	if err != nil {
		return nil, err
	}
	var muted bool
	if err := req.Param("muted", &muted); err != nil {
		return nil, err
	}

	if err := c.server.SendCommand(id, protocol.ServerCommand{Command: protocol.CommandMute, Mute: muted}); err != nil {
		return nil, err
	}
	return map[string]interface{}{"id": id, "muted": muted}, nil
}

func (c *Control) clearStream(ctx context.Context, req *jsonrpc.Request) (interface{}, error) {
	c.server.ClearStream()
	return "ok", nil
}
