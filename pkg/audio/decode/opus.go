// ABOUTME: Opus audio decoder
// ABOUTME: Decodes Opus packets to 16-bit PCM
package decode

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-playout/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// maxOpusFrame is the largest Opus frame (120ms at 48kHz)
const maxOpusFrame = 5760

// OpusDecoder decodes Opus audio
type OpusDecoder struct {
	decoder *opus.Decoder
	format  audio.Format
	pcm     []int16
}

// NewOpus creates a new Opus decoder
func NewOpus(format audio.Format) (Decoder, error) {
	if format.Codec != "opus" {
		return nil, fmt.Errorf("invalid codec for Opus decoder: %s", format.Codec)
	}

	dec, err := opus.NewDecoder(format.SampleRate, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &OpusDecoder{
		decoder: dec,
		format:  audio.Format{Codec: "pcm", SampleRate: format.SampleRate, Channels: format.Channels, BitDepth: 16},
		pcm:     make([]int16, maxOpusFrame*format.Channels),
	}, nil
}

// Decode converts one Opus packet to 16-bit PCM bytes
func (d *OpusDecoder) Decode(data []byte) ([]byte, error) {
	n, err := d.decoder.Decode(data, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}
	return audio.Int16ToBytes(d.pcm[:n*d.format.Channels]), nil
}

// Format implements Decoder
func (d *OpusDecoder) Format() audio.Format {
	return d.format
}

// Close releases decoder resources
func (d *OpusDecoder) Close() error {
	return nil
}
