// ABOUTME: Opus audio encoder
// ABOUTME: Encodes 16-bit PCM chunks to Opus packets
package encode

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-playout/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// maxOpusPacket is the largest packet the encoder is allowed to produce
const maxOpusPacket = 4000

// OpusEncoder encodes Opus audio
type OpusEncoder struct {
	encoder  *opus.Encoder
	channels int
	out      []byte
}

// NewOpus creates a new Opus encoder. Input PCM must be 16-bit.
func NewOpus(format audio.Format) (Encoder, error) {
	if format.Codec != "opus" {
		return nil, fmt.Errorf("invalid codec for Opus encoder: %s", format.Codec)
	}
	if format.BitDepth != 16 {
		return nil, fmt.Errorf("%w: opus input must be 16-bit, got %d", audio.ErrUnsupportedFormat, format.BitDepth)
	}

	encoder, err := opus.NewEncoder(format.SampleRate, format.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	return &OpusEncoder{
		encoder:  encoder,
		channels: format.Channels,
		out:      make([]byte, maxOpusPacket),
	}, nil
}

// Encode converts one frame of 16-bit PCM (2.5 to 60ms) to an Opus packet
func (e *OpusEncoder) Encode(pcm []byte) ([]byte, error) {
	n, err := e.encoder.Encode(audio.BytesToInt16(pcm), e.out)
	if err != nil {
		return nil, fmt.Errorf("opus encode error: %w", err)
	}
	packet := make([]byte, n)
	copy(packet, e.out[:n])
	return packet, nil
}

// Close releases resources
func (e *OpusEncoder) Close() error {
	return nil
}
