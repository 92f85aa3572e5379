// ABOUTME: WAV file output sink
// ABOUTME: Renders a Source into a WAV file on a simulated or real clock
package output

import (
	"io"

	"github.com/Resonate-Protocol/resonate-playout/pkg/audio"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/pkg/errors"
)

// wavFormatPCM is the WAVE_FORMAT_PCM audio format tag
const wavFormatPCM = 1

// WAV writes PCM to a WAV container
type WAV struct {
	enc    *wav.Encoder
	format audio.Format
	buf    *goaudio.IntBuffer
	frames int
}

// NewWAV creates a WAV writer for format on w
func NewWAV(w io.WriteSeeker, format audio.Format) (*WAV, error) {
	if err := format.Validate(); err != nil {
		return nil, errors.Wrap(err, "wav format")
	}
	return &WAV{
		enc:    wav.NewEncoder(w, format.SampleRate, format.BitDepth, format.Channels, wavFormatPCM),
		format: format,
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
			SourceBitDepth: format.BitDepth,
		},
	}, nil
}

// Write appends interleaved PCM bytes
func (w *WAV) Write(pcm []byte) error {
	if len(pcm)%w.format.FrameSize() != 0 {
		return errors.Wrapf(audio.ErrFormatMismatch, "wav write of %d bytes", len(pcm))
	}

	bps := w.format.BytesPerSample()
	n := len(pcm) / bps
	if cap(w.buf.Data) < n {
		w.buf.Data = make([]int, n)
	}
	w.buf.Data = w.buf.Data[:n]
	for i := 0; i < n; i++ {
		sample := int(audio.ReadSample(pcm, i*bps, w.format.BitDepth))
		if w.format.BitDepth == 8 {
			// WAV stores 8-bit unsigned; the encoder writes the value as is
			sample += 128
		}
		w.buf.Data[i] = sample
	}

	if err := w.enc.Write(w.buf); err != nil {
		return errors.Wrap(err, "wav encode")
	}
	w.frames += len(pcm) / w.format.FrameSize()
	return nil
}

// Frames returns the number of frames written
func (w *WAV) Frames() int {
	return w.frames
}

// Close finalizes the WAV header
func (w *WAV) Close() error {
	return errors.Wrap(w.enc.Close(), "wav close")
}

// Render pulls period-sized blocks from src and writes them until total
// frames have been written. tick is called before each pull and returns the
// target server time for that block.
func Render(w *WAV, src Source, period, total int, tick func(written int) int64) error {
	format := src.OutputFormat()
	if !format.SameLayout(w.format) || format.SampleRate != w.format.SampleRate {
		return errors.Wrapf(audio.ErrFormatMismatch, "render %s into %s", format, w.format)
	}

	buf := make([]byte, period*format.FrameSize())
	for written := 0; written < total; {
		frames := period
		if total-written < frames {
			frames = total - written
		}
		block := buf[:frames*format.FrameSize()]
		src.GetPlayerChunk(block, tick(written), frames)
		if err := w.Write(block); err != nil {
			return err
		}
		written += frames
	}
	return nil
}
