// ABOUTME: Decoder interface definition
// ABOUTME: Common interface for all audio decoders and the codec factory
package decode

import (
	"errors"
	"fmt"

	"github.com/Resonate-Protocol/resonate-playout/pkg/audio"
)

// ErrUnsupportedCodec is returned for codecs without a decoder
var ErrUnsupportedCodec = errors.New("unsupported codec")

// Decoder turns encoded chunk payloads into interleaved PCM
type Decoder interface {
	// Decode converts one encoded payload to PCM bytes in Format()
	Decode(data []byte) ([]byte, error)

	// Format describes the PCM produced by Decode
	Format() audio.Format

	// Close releases decoder resources
	Close() error
}

// New creates the decoder for format.Codec
func New(format audio.Format) (Decoder, error) {
	switch format.Codec {
	case "pcm", "":
		return NewPCM(format)
	case "opus":
		return NewOpus(format)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, format.Codec)
	}
}
