// ABOUTME: Binary audio chunk framing
// ABOUTME: One type byte, an 8-byte big-endian timestamp, then the encoded audio
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// BinaryMessageHeaderSize is the size of binary message header (type byte + timestamp)
	BinaryMessageHeaderSize = 1 + 8

	// AudioChunkMessageType is the binary message type ID for audio chunks
	AudioChunkMessageType = 4
)

// ErrInvalidChunk is returned for binary messages that are not audio chunks
var ErrInvalidChunk = errors.New("invalid audio chunk")

// AudioChunk represents a timestamped block of encoded audio
type AudioChunk struct {
	Timestamp int64  // Microseconds, server clock
	Data      []byte // Encoded audio
}

// EncodeAudioChunk frames an audio chunk for the wire
func EncodeAudioChunk(timestamp int64, data []byte) []byte {
	msg := make([]byte, BinaryMessageHeaderSize+len(data))
	msg[0] = AudioChunkMessageType
	binary.BigEndian.PutUint64(msg[1:BinaryMessageHeaderSize], uint64(timestamp))
	copy(msg[BinaryMessageHeaderSize:], data)
	return msg
}

// DecodeAudioChunk parses a binary websocket message
func DecodeAudioChunk(msg []byte) (AudioChunk, error) {
	if len(msg) < BinaryMessageHeaderSize {
		return AudioChunk{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrInvalidChunk, len(msg))
	}
	if msg[0] != AudioChunkMessageType {
		return AudioChunk{}, fmt.Errorf("%w: message type %d", ErrInvalidChunk, msg[0])
	}
	return AudioChunk{
		Timestamp: int64(binary.BigEndian.Uint64(msg[1:BinaryMessageHeaderSize])),
		Data:      msg[BinaryMessageHeaderSize:],
	}, nil
}
