// ABOUTME: Audio source abstraction for streaming from files or generating test tones
// ABOUTME: Supports MP3 and FLAC files, MP3 over HTTP and a sine test tone
package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"

	"github.com/Resonate-Protocol/resonate-playout/pkg/audio"
)

// AudioSource provides interleaved PCM in a fixed format
type AudioSource interface {
	// Format is the layout of the bytes returned by Read
	Format() audio.Format
	// Read fills buf with whole frames and returns the number of bytes written.
	// Sources that loop never return io.EOF.
	Read(buf []byte) (int, error)
	// Metadata returns title, artist, album
	Metadata() (title, artist, album string)
	// Close closes the audio source
	Close() error
}

// NewAudioSource creates an audio source from a file path or HTTP URL.
// An empty path gives the test tone.
func NewAudioSource(pathOrURL string) (AudioSource, error) {
	if pathOrURL == "" {
		return NewToneSource(DefaultToneFrequency), nil
	}

	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		log.Printf("Streaming from HTTP URL: %s", pathOrURL)
		return NewHTTPMP3Source(pathOrURL)
	}

	if _, err := os.Stat(pathOrURL); os.IsNotExist(err) {
		return nil, fmt.Errorf("audio file not found: %s", pathOrURL)
	}

	switch ext := strings.ToLower(filepath.Ext(pathOrURL)); ext {
	case ".mp3":
		return NewMP3Source(pathOrURL)
	case ".flac":
		return NewFLACSource(pathOrURL)
	default:
		return nil, fmt.Errorf("unsupported audio format: %s (supported: .mp3, .flac)", ext)
	}
}

func titleFromPath(path string) string {
	filename := filepath.Base(path)
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}

// wholeFrames trims n down to a multiple of the frame size
func wholeFrames(n int, format audio.Format) int {
	return n - n%format.FrameSize()
}

// DefaultToneFrequency is the A4 reference pitch
const DefaultToneFrequency = 440.0

// ToneSource generates a sine test tone at 48kHz/16-bit stereo
type ToneSource struct {
	format    audio.Format
	frequency float64
	frame     uint64
}

// NewToneSource creates a new test tone generator
func NewToneSource(frequency float64) *ToneSource {
	return &ToneSource{
		format:    audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16},
		frequency: frequency,
	}
}

func (s *ToneSource) Format() audio.Format { return s.format }

func (s *ToneSource) Read(buf []byte) (int, error) {
	frames := len(buf) / s.format.FrameSize()
	for i := 0; i < frames; i++ {
		t := float64(s.frame+uint64(i)) / float64(s.format.SampleRate)
		// 50% volume
		v := int64(math.Sin(2*math.Pi*s.frequency*t) * 32767.0 * 0.5)
		for ch := 0; ch < s.format.Channels; ch++ {
			audio.WriteSample(buf, (i*s.format.Channels+ch)*2, 16, v)
		}
	}
	s.frame += uint64(frames)
	return frames * s.format.FrameSize(), nil
}

func (s *ToneSource) Metadata() (string, string, string) {
	return fmt.Sprintf("Test Tone (%.0fHz)", s.frequency), "Resonate Server", ""
}

func (s *ToneSource) Close() error { return nil }

// MP3Source decodes MP3 to 16-bit stereo PCM. File sources loop.
type MP3Source struct {
	r       io.ReadCloser
	decoder *mp3.Decoder
	format  audio.Format
	title   string
	loop    bool
}

// NewMP3Source opens an MP3 file
func NewMP3Source(filePath string) (*MP3Source, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}
	s, err := newMP3Source(f, titleFromPath(filePath), true)
	if err != nil {
		f.Close()
		return nil, err
	}
	log.Printf("Loaded MP3: %s (sample rate: %d Hz)", s.title, s.format.SampleRate)
	return s, nil
}

// NewHTTPMP3Source streams MP3 from an HTTP URL without looping
func NewHTTPMP3Source(url string) (*MP3Source, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch HTTP stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP error: %s", resp.Status)
	}
	s, err := newMP3Source(resp.Body, "HTTP Stream", false)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	return s, nil
}

func newMP3Source(r io.ReadCloser, title string, loop bool) (*MP3Source, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}
	return &MP3Source{
		r:       r,
		decoder: decoder,
		// go-mp3 always produces 16-bit stereo
		format: audio.Format{Codec: "pcm", SampleRate: decoder.SampleRate(), Channels: 2, BitDepth: 16},
		title:  title,
		loop:   loop,
	}, nil
}

func (s *MP3Source) Format() audio.Format { return s.format }

func (s *MP3Source) Read(buf []byte) (int, error) {
	buf = buf[:wholeFrames(len(buf), s.format)]
	total := 0
	for total < len(buf) {
		n, err := s.decoder.Read(buf[total:])
		total += n
		if errors.Is(err, io.EOF) {
			if !s.loop {
				return wholeFrames(total, s.format), io.EOF
			}
			if err := s.rewind(); err != nil {
				return wholeFrames(total, s.format), err
			}
			continue
		}
		if err != nil {
			return wholeFrames(total, s.format), err
		}
	}
	return total, nil
}

func (s *MP3Source) rewind() error {
	seeker, ok := s.r.(io.Seeker)
	if !ok {
		return io.EOF
	}
	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to start: %w", err)
	}
	decoder, err := mp3.NewDecoder(s.r)
	if err != nil {
		return fmt.Errorf("failed to create new decoder: %w", err)
	}
	s.decoder = decoder
	return nil
}

func (s *MP3Source) Metadata() (string, string, string) {
	return s.title, "Unknown Artist", "Unknown Album"
}

func (s *MP3Source) Close() error {
	return s.r.Close()
}

// FLACSource decodes FLAC at its native rate and depth and loops the file.
// Odd depths (12, 20 bit) are widened to the next supported depth.
type FLACSource struct {
	file    *os.File
	stream  *flac.Stream
	format  audio.Format
	shift   int
	title   string
	pending []byte
}

// NewFLACSource opens a FLAC file
func NewFLACSource(filePath string) (*FLACSource, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open FLAC file: %w", err)
	}

	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	info := stream.Info
	native := int(info.BitsPerSample)
	depth := outputDepth(native)
	format := audio.Format{
		Codec:      "pcm",
		SampleRate: int(info.SampleRate),
		Channels:   int(info.NChannels),
		BitDepth:   depth,
	}
	if err := format.Validate(); err != nil {
		f.Close()
		return nil, fmt.Errorf("unsupported FLAC stream: %w", err)
	}

	title := titleFromPath(filePath)
	log.Printf("Loaded FLAC: %s (sample rate: %d Hz, channels: %d, bit depth: %d)",
		title, format.SampleRate, format.Channels, native)

	return &FLACSource{
		file:   f,
		stream: stream,
		format: format,
		shift:  depth - native,
		title:  title,
	}, nil
}

// outputDepth maps a FLAC sample size to the smallest PCM depth holding it
func outputDepth(bits int) int {
	switch {
	case bits <= 8:
		return 8
	case bits <= 16:
		return 16
	case bits <= 24:
		return 24
	default:
		return 32
	}
}

func (s *FLACSource) Format() audio.Format { return s.format }

// Read returns decoded frames; samples of a FLAC frame that do not fit in buf
// are kept for the next call.
func (s *FLACSource) Read(buf []byte) (int, error) {
	buf = buf[:wholeFrames(len(buf), s.format)]
	total := copy(buf, s.pending)
	s.pending = s.pending[total:]

	for total < len(buf) {
		if err := s.decodeFrame(); err != nil {
			return total, err
		}
		n := copy(buf[total:], s.pending)
		s.pending = s.pending[n:]
		total += n
	}
	return total, nil
}

// decodeFrame appends the next FLAC frame to pending, looping at end of file
func (s *FLACSource) decodeFrame() error {
	frame, err := s.stream.ParseNext()
	if errors.Is(err, io.EOF) {
		if _, err := s.file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to seek to start: %w", err)
		}
		stream, err := flac.New(s.file)
		if err != nil {
			return fmt.Errorf("failed to create new stream: %w", err)
		}
		s.stream = stream
		return nil
	}
	if err != nil {
		return err
	}

	bps := s.format.BytesPerSample()
	block := int(frame.BlockSize)
	out := make([]byte, block*s.format.FrameSize())
	for i := 0; i < block; i++ {
		for ch := 0; ch < s.format.Channels; ch++ {
			v := int64(frame.Subframes[ch].Samples[i]) << uint(s.shift)
			audio.WriteSample(out, (i*s.format.Channels+ch)*bps, s.format.BitDepth, v)
		}
	}
	s.pending = append(s.pending, out...)
	return nil
}

func (s *FLACSource) Metadata() (string, string, string) {
	return s.title, "Unknown Artist", "Unknown Album"
}

func (s *FLACSource) Close() error {
	return s.file.Close()
}
