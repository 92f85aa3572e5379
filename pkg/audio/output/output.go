// ABOUTME: Audio output interface definition
// ABOUTME: Pull-mode playback backends that ask a Source for timed audio
package output

import (
	"github.com/Resonate-Protocol/resonate-playout/pkg/audio"
)

// Source produces the audio due at a given server time. It is satisfied by
// *stream.Stream.
type Source interface {
	// GetPlayerChunk fills out with frames of audio due at target (server
	// microseconds). It returns false when out holds silence only.
	GetPlayerChunk(out []byte, target int64, frames int) bool

	// OutputFormat is the PCM layout written into out
	OutputFormat() audio.Format
}

// Clock reports the current server time in microseconds
type Clock interface {
	ServerNow() int64
}

// Output represents an audio output device
type Output interface {
	// Start begins pulling audio from src
	Start(src Source, clock Clock) error

	// SetVolume sets the volume (0-100)
	SetVolume(volume int)

	// SetMuted sets mute state
	SetMuted(muted bool)

	// Close releases output resources
	Close() error
}

// applyVolume scales PCM samples in place with clipping protection
func applyVolume(data []byte, bitDepth, volume int, muted bool) {
	multiplier := getVolumeMultiplier(volume, muted)
	if multiplier == 1.0 {
		return
	}

	bps := bitDepth / 8
	for off := 0; off+bps <= len(data); off += bps {
		sample := audio.ReadSample(data, off, bitDepth)
		audio.WriteSample(data, off, bitDepth, int64(float64(sample)*multiplier))
	}
}

// getVolumeMultiplier calculates volume multiplier
func getVolumeMultiplier(volume int, muted bool) float64 {
	if muted {
		return 0.0
	}
	return float64(volume) / 100.0
}

func clampVolume(volume int) int {
	if volume < 0 {
		return 0
	}
	if volume > 100 {
		return 100
	}
	return volume
}
