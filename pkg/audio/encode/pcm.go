// ABOUTME: PCM audio encoder
// ABOUTME: Sends PCM chunks unchanged after checking frame alignment
package encode

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-playout/pkg/audio"
)

// PCMEncoder encodes PCM audio
type PCMEncoder struct {
	format audio.Format
}

// NewPCM creates a new PCM encoder
func NewPCM(format audio.Format) (Encoder, error) {
	if format.Codec != "pcm" {
		return nil, fmt.Errorf("invalid codec for PCM encoder: %s", format.Codec)
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}
	return &PCMEncoder{format: format}, nil
}

// Encode returns pcm unchanged
func (e *PCMEncoder) Encode(pcm []byte) ([]byte, error) {
	if len(pcm)%e.format.FrameSize() != 0 {
		return nil, fmt.Errorf("%w: %d bytes of %s", audio.ErrFormatMismatch, len(pcm), e.format)
	}
	return pcm, nil
}

// Close releases resources
func (e *PCMEncoder) Close() error {
	return nil
}
