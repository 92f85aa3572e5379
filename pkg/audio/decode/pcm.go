// ABOUTME: PCM audio decoder
// ABOUTME: Validates raw PCM payloads and passes them through
package decode

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-playout/pkg/audio"
)

// PCMDecoder decodes PCM audio
type PCMDecoder struct {
	format audio.Format
}

// NewPCM creates a new PCM decoder
func NewPCM(format audio.Format) (Decoder, error) {
	if format.Codec != "pcm" && format.Codec != "" {
		return nil, fmt.Errorf("invalid codec for PCM decoder: %s", format.Codec)
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}
	format.Codec = "pcm"
	return &PCMDecoder{format: format}, nil
}

// Decode checks that data is a whole number of frames and returns it unchanged
func (d *PCMDecoder) Decode(data []byte) ([]byte, error) {
	if len(data)%d.format.FrameSize() != 0 {
		return nil, fmt.Errorf("%w: %d bytes of %s", audio.ErrFormatMismatch, len(data), d.format)
	}
	return data, nil
}

// Format implements Decoder
func (d *PCMDecoder) Format() audio.Format {
	return d.format
}

// Close releases resources
func (d *PCMDecoder) Close() error {
	return nil
}
