// ABOUTME: Tests for Resonate protocol message types
// ABOUTME: Verifies envelopes decode into the expected payloads
package protocol

import (
	"encoding/json"
	"testing"
)

func TestClientHelloMarshaling(t *testing.T) {
	hello := ClientHello{
		ClientID:       "test-id",
		Name:           "Test Player",
		Version:        ProtocolVersion,
		SupportedRoles: []string{"player"},
		DeviceInfo: &DeviceInfo{
			ProductName:     "Test Product",
			Manufacturer:    "Test Mfg",
			SoftwareVersion: "0.1.0",
		},
		PlayerSupport: &PlayerSupport{
			SupportFormats: []AudioFormat{
				{Codec: "opus", Channels: 2, SampleRate: 48000, BitDepth: 16},
				{Codec: "pcm", Channels: 2, SampleRate: 48000, BitDepth: 16},
			},
			BufferCapacity:    1048576,
			SupportedCommands: []string{CommandVolume, CommandMute, CommandLatency},
		},
	}

	data, err := json.Marshal(Message{Type: TypeClientHello, Payload: hello})
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if env.Type != TypeClientHello {
		t.Errorf("expected type client/hello, got %s", env.Type)
	}

	var decoded ClientHello
	if err := env.Decode(&decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if decoded.PlayerSupport == nil || len(decoded.PlayerSupport.SupportFormats) != 2 {
		t.Fatalf("player support lost in transit: %+v", decoded.PlayerSupport)
	}
	if decoded.PlayerSupport.SupportedCommands[2] != CommandLatency {
		t.Errorf("expected latency command, got %v", decoded.PlayerSupport.SupportedCommands)
	}
}

func TestServerCommandDecoding(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected ServerCommand
	}{
		{"volume", `{"type":"server/command","payload":{"command":"volume","volume":40}}`, ServerCommand{Command: CommandVolume, Volume: 40}},
		{"mute", `{"type":"server/command","payload":{"command":"mute","mute":true}}`, ServerCommand{Command: CommandMute, Mute: true}},
		{"latency", `{"type":"server/command","payload":{"command":"latency","buffer_ms":750}}`, ServerCommand{Command: CommandLatency, BufferMs: 750}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var env Envelope
			if err := json.Unmarshal([]byte(tt.raw), &env); err != nil {
				t.Fatalf("failed to unmarshal: %v", err)
			}
			var cmd ServerCommand
			if err := env.Decode(&cmd); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if cmd != tt.expected {
				t.Errorf("expected %+v, got %+v", tt.expected, cmd)
			}
		})
	}
}

func TestServerTimeFieldNames(t *testing.T) {
	data, err := json.Marshal(ServerTime{ClientTransmitted: 1, ServerReceived: 2, ServerTransmitted: 3})
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	want := `{"client_transmitted":1,"server_received":2,"server_transmitted":3}`
	if string(data) != want {
		t.Errorf("expected %s, got %s", want, data)
	}
}
