// ABOUTME: Tests for audio sources
// ABOUTME: Covers the test tone generator and source selection by path
package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/resonate-playout/pkg/audio"
)

func TestToneSourceRead(t *testing.T) {
	src := NewToneSource(DefaultToneFrequency)
	assert.Equal(t, audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16}, src.Format())

	// A trailing partial frame is not filled
	buf := make([]byte, 480*4+3)
	n, err := src.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 480*4, n)

	assert.Equal(t, int32(0), audio.ReadSample(buf, 0, 16), "sine starts at zero")
	peak := int32(0)
	for f := 0; f < 480; f++ {
		l := audio.ReadSample(buf, f*4, 16)
		r := audio.ReadSample(buf, f*4+2, 16)
		assert.Equal(t, l, r, "frame %d", f)
		if l > peak {
			peak = l
		}
	}
	// 10ms holds 4.4 periods at half scale
	assert.InDelta(t, 16383, peak, 50)

	// The phase carries over between reads
	next := make([]byte, 4)
	_, err = src.Read(next)
	require.NoError(t, err)
	fresh := NewToneSource(DefaultToneFrequency)
	whole := make([]byte, 481*4)
	_, err = fresh.Read(whole)
	require.NoError(t, err)
	assert.Equal(t, whole[480*4:], next)
}

func TestNewAudioSource(t *testing.T) {
	src, err := NewAudioSource("")
	require.NoError(t, err)
	assert.IsType(t, &ToneSource{}, src)
	title, _, _ := src.Metadata()
	assert.Equal(t, "Test Tone (440Hz)", title)

	_, err = NewAudioSource(filepath.Join(t.TempDir(), "missing.flac"))
	assert.ErrorContains(t, err, "not found")

	wav := filepath.Join(t.TempDir(), "song.wav")
	require.NoError(t, os.WriteFile(wav, []byte("RIFF"), 0o644))
	_, err = NewAudioSource(wav)
	assert.ErrorContains(t, err, "unsupported audio format")

	bad := filepath.Join(t.TempDir(), "broken.flac")
	require.NoError(t, os.WriteFile(bad, []byte("not a flac file"), 0o644))
	_, err = NewAudioSource(bad)
	assert.Error(t, err)
}

func TestOutputDepth(t *testing.T) {
	tests := []struct {
		bits, want int
	}{
		{8, 8},
		{12, 16},
		{16, 16},
		{20, 24},
		{24, 24},
		{32, 32},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, outputDepth(tt.bits), "bits %d", tt.bits)
	}
}

func TestTitleFromPath(t *testing.T) {
	assert.Equal(t, "My Song", titleFromPath("/music/My Song.flac"))
	assert.Equal(t, "track", titleFromPath("track.mp3"))
}
