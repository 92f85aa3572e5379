// ABOUTME: Tests for the JSON-RPC control plane
// ABOUTME: Covers HTTP requests, parameter validation and WebSocket notifications
package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/resonate-playout/pkg/jsonrpc"
	"github.com/Resonate-Protocol/resonate-playout/pkg/protocol"
)

type rpcReply struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *jsonrpc.Error  `json:"error"`
}

type rpcNotification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func call(t *testing.T, addr, body string) rpcReply {
	t.Helper()
	resp, err := http.Post("http://"+addr+"/jsonrpc", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reply rpcReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	return reply
}

func subscribe(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/jsonrpc", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// A reply means the server has registered the subscriber
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":0,"method":"Server.GetStatus"}`)))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply rpcReply
	require.NoError(t, conn.ReadJSON(&reply))
	require.Nil(t, reply.Error)
	return conn
}

// waitNotification skips replies until a notification for method arrives
func waitNotification(t *testing.T, conn *websocket.Conn, method string) rpcNotification {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var n rpcNotification
		require.NoError(t, conn.ReadJSON(&n))
		if n.Method == method {
			return n
		}
	}
}

func TestControlGetStatus(t *testing.T) {
	_, addr := newTestServer(t, Config{Name: "Kitchen", BufferMs: 400})
	connectPlayer(t, addr, "p1")

	reply := call(t, addr, `{"jsonrpc":"2.0","id":1,"method":"Server.GetStatus"}`)
	require.Nil(t, reply.Error)
	assert.JSONEq(t, "1", string(reply.ID))

	var status ServerStatus
	require.NoError(t, json.Unmarshal(reply.Result, &status))
	assert.Equal(t, "Kitchen", status.Name)
	assert.Equal(t, 400, status.BufferMs)
	assert.Equal(t, "pcm", status.Codec)
	assert.Contains(t, status.Source, "Test Tone")
	require.Len(t, status.Clients, 1)
	assert.Equal(t, "p1", status.Clients[0].ID)
}

func TestControlErrors(t *testing.T) {
	_, addr := newTestServer(t, Config{})
	connectPlayer(t, addr, "p1")

	tests := []struct {
		name string
		body string
		code int
	}{
		{"parse error", `{"jsonrpc":`, jsonrpc.CodeParseError},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"Group.SetMute"}`, jsonrpc.CodeMethodNotFound},
		{"missing id param", `{"jsonrpc":"2.0","id":1,"method":"Client.SetVolume","params":{"volume":10}}`, jsonrpc.CodeInvalidParams},
		{"unknown client", `{"jsonrpc":"2.0","id":1,"method":"Client.SetVolume","params":{"id":"nope","volume":10}}`, jsonrpc.CodeInvalidParams},
		{"volume out of range", `{"jsonrpc":"2.0","id":1,"method":"Client.SetVolume","params":{"id":"p1","volume":101}}`, jsonrpc.CodeInvalidParams},
		{"latency out of range", `{"jsonrpc":"2.0","id":1,"method":"Client.SetLatency","params":{"id":"p1","latency":-5}}`, jsonrpc.CodeInvalidParams},
		{"wrong param type", `{"jsonrpc":"2.0","id":1,"method":"Client.SetMute","params":{"id":"p1","muted":"yes"}}`, jsonrpc.CodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := call(t, addr, tt.body)
			require.NotNil(t, reply.Error)
			assert.Equal(t, tt.code, reply.Error.Code)
		})
	}
}

func TestControlRejectsGet(t *testing.T) {
	_, addr := newTestServer(t, Config{})
	resp, err := http.Get("http://" + addr + "/jsonrpc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestControlSetLatency(t *testing.T) {
	srv, addr := newTestServer(t, Config{})
	sub := subscribe(t, addr)
	player := connectPlayer(t, addr, "p1")
	waitNotification(t, sub, "Client.OnConnect")

	reply := call(t, addr, `{"jsonrpc":"2.0","id":"a","method":"Client.SetLatency","params":{"id":"p1","latency":800}}`)
	require.Nil(t, reply.Error)
	assert.JSONEq(t, `{"id":"p1","latency":800}`, string(reply.Result))

	select {
	case cmd := <-player.Commands:
		assert.Equal(t, protocol.ServerCommand{Command: protocol.CommandLatency, BufferMs: 800}, cmd)
	case <-time.After(2 * time.Second):
		t.Fatal("player did not receive latency command")
	}
	assert.Equal(t, 800, srv.Clients()[0].BufferMs)

	n := waitNotification(t, sub, "Client.OnLatencyChanged")
	assert.JSONEq(t, `{"id":"p1","latency":800}`, string(n.Params))
}

func TestControlVolumeAndMute(t *testing.T) {
	srv, addr := newTestServer(t, Config{})
	player := connectPlayer(t, addr, "p1")

	reply := call(t, addr, `{"jsonrpc":"2.0","id":2,"method":"Client.SetVolume","params":{"id":"p1","volume":25}}`)
	require.Nil(t, reply.Error)
	reply = call(t, addr, `{"jsonrpc":"2.0","id":3,"method":"Client.SetMute","params":{"id":"p1","muted":true}}`)
	require.Nil(t, reply.Error)

	var cmds []protocol.ServerCommand
	for len(cmds) < 2 {
		select {
		case cmd := <-player.Commands:
			cmds = append(cmds, cmd)
		case <-time.After(2 * time.Second):
			t.Fatal("player did not receive commands")
		}
	}
	assert.Equal(t, protocol.ServerCommand{Command: protocol.CommandVolume, Volume: 25}, cmds[0])
	assert.Equal(t, protocol.ServerCommand{Command: protocol.CommandMute, Mute: true}, cmds[1])

	c := srv.Clients()[0]
	assert.Equal(t, 25, c.Volume)
	assert.True(t, c.Muted)
}

func TestControlStreamClear(t *testing.T) {
	_, addr := newTestServer(t, Config{})
	player := connectPlayer(t, addr, "p1")

	reply := call(t, addr, `{"jsonrpc":"2.0","id":4,"method":"Stream.Clear"}`)
	require.Nil(t, reply.Error)
	assert.JSONEq(t, `"ok"`, string(reply.Result))

	for {
		ev := nextEvent(t, player)
		if ev.Clear {
			return
		}
	}
}

func TestControlWebSocketRequestsAndDisconnect(t *testing.T) {
	_, addr := newTestServer(t, Config{})
	sub := subscribe(t, addr)

	require.NoError(t, sub.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":7,"method":"Server.GetStatus"}`)))
	sub.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply rpcReply
	require.NoError(t, sub.ReadJSON(&reply))
	require.Nil(t, reply.Error)
	assert.JSONEq(t, "7", string(reply.ID))

	player := connectPlayer(t, addr, "p9")
	n := waitNotification(t, sub, "Client.OnConnect")
	var status ClientStatus
	require.NoError(t, json.Unmarshal(n.Params, &status))
	assert.Equal(t, "p9", status.ID)

	require.NoError(t, player.SendGoodbye("bye"))
	n = waitNotification(t, sub, "Client.OnDisconnect")
	assert.JSONEq(t, `{"id":"p9"}`, string(n.Params))
}
