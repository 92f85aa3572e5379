// ABOUTME: Encoder interface definition
// ABOUTME: Common interface for all audio encoders and the codec factory
package encode

import (
	"errors"
	"fmt"

	"github.com/Resonate-Protocol/resonate-playout/pkg/audio"
)

// ErrUnsupportedCodec is returned for codecs without an encoder
var ErrUnsupportedCodec = errors.New("unsupported codec")

// Encoder encodes interleaved PCM chunks into wire payloads
type Encoder interface {
	// Encode converts one chunk of PCM bytes to encoded audio data
	Encode(pcm []byte) ([]byte, error)

	// Close releases encoder resources
	Close() error
}

// New creates the encoder for format.Codec
func New(format audio.Format) (Encoder, error) {
	switch format.Codec {
	case "pcm":
		return NewPCM(format)
	case "opus":
		return NewOpus(format)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, format.Codec)
	}
}
