// ABOUTME: Resonate protocol message type definitions
// ABOUTME: JSON control messages exchanged between players and the server
package protocol

import "encoding/json"

// Message types
const (
	TypeClientHello   = "client/hello"
	TypeServerHello   = "server/hello"
	TypeClientState   = "client/state"
	TypeClientTime    = "client/time"
	TypeServerTime    = "server/time"
	TypeClientGoodbye = "client/goodbye"
	TypeServerCommand = "server/command"
	TypeStreamStart   = "stream/start"
	TypeStreamClear   = "stream/clear"
	TypeStreamEnd     = "stream/end"
)

// Player commands
const (
	CommandVolume  = "volume"
	CommandMute    = "mute"
	CommandLatency = "latency"
)

// Message is the top-level wrapper for all protocol messages
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Envelope is a received message whose payload is decoded once its type is known
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into v
func (e Envelope) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// ClientHello is sent by players to initiate the handshake
type ClientHello struct {
	ClientID       string         `json:"client_id"`
	Name           string         `json:"name"`
	Version        int            `json:"version"`
	SupportedRoles []string       `json:"supported_roles"`
	DeviceInfo     *DeviceInfo    `json:"device_info,omitempty"`
	PlayerSupport  *PlayerSupport `json:"player_support,omitempty"`
}

// DeviceInfo contains device identification
type DeviceInfo struct {
	ProductName     string `json:"product_name"`
	Manufacturer    string `json:"manufacturer"`
	SoftwareVersion string `json:"software_version"`
}

// PlayerSupport describes what a player can decode and control
type PlayerSupport struct {
	SupportFormats    []AudioFormat `json:"support_formats"`
	BufferCapacity    int           `json:"buffer_capacity"`
	SupportedCommands []string      `json:"supported_commands"`
}

// AudioFormat describes a supported audio format
type AudioFormat struct {
	Codec      string `json:"codec"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sample_rate"`
	BitDepth   int    `json:"bit_depth"`
}

// ServerHello is the server's response to client/hello
type ServerHello struct {
	ServerID    string   `json:"server_id"`
	Name        string   `json:"name"`
	Version     int      `json:"version"`
	ActiveRoles []string `json:"active_roles"`
}

// ClientState reports the player's playout state
type ClientState struct {
	State       string `json:"state"` // "synchronized", "buffering" or "error"
	Volume      int    `json:"volume"`
	Muted       bool   `json:"muted"`
	BufferMs    int    `json:"buffer_ms,omitempty"`
	SyncErrorUs int64  `json:"sync_error_us"`
	Underruns   uint64 `json:"underruns,omitempty"`
	HardSyncs   uint64 `json:"hard_syncs,omitempty"`
}

// ServerCommand is a control command for the player
type ServerCommand struct {
	Command  string `json:"command"` // "volume", "mute" or "latency"
	Volume   int    `json:"volume,omitempty"`
	Mute     bool   `json:"mute,omitempty"`
	BufferMs int    `json:"buffer_ms,omitempty"`
}

// StreamStart announces the format of the chunks that follow
type StreamStart struct {
	Codec       string `json:"codec"`
	SampleRate  int    `json:"sample_rate"`
	Channels    int    `json:"channels"`
	BitDepth    int    `json:"bit_depth"`
	CodecHeader string `json:"codec_header,omitempty"` // Base64-encoded
	BufferMs    int    `json:"buffer_ms,omitempty"`
}

// StreamClear instructs players to drop queued audio (seek, track change)
type StreamClear struct{}

// StreamEnd ends the stream
type StreamEnd struct{}

// ClientGoodbye is sent before graceful disconnect
type ClientGoodbye struct {
	Reason string `json:"reason"`
}

// ClientTime is sent for clock synchronization
type ClientTime struct {
	ClientTransmitted int64 `json:"client_transmitted"` // Client timestamp in microseconds
}

// ServerTime is the response to client/time
type ServerTime struct {
	ClientTransmitted int64 `json:"client_transmitted"` // Echoed client timestamp
	ServerReceived    int64 `json:"server_received"`    // Server receive timestamp
	ServerTransmitted int64 `json:"server_transmitted"` // Server send timestamp
}
