// ABOUTME: Resonate wire protocol package
// ABOUTME: Defines protocol messages, chunk framing and the player WebSocket client
// Package protocol implements the Resonate wire protocol.
//
// Control messages are JSON objects {"type": ..., "payload": ...}. Audio travels
// as binary messages: a type byte (4), the big-endian timestamp in microseconds
// of the chunk's first frame on the server clock, then the encoded audio.
//
// Example:
//
//	client := protocol.NewClient(protocol.Config{ServerAddr: "localhost:8927", Name: "Kitchen"})
//	err := client.Connect()
//	for ev := range client.Stream { ... }
package protocol
