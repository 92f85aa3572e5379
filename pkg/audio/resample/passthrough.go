// ABOUTME: No-op rate converter
// ABOUTME: Copies frames unchanged and reports itself inactive
package resample

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-playout/pkg/audio"
)

// Passthrough is the converter used when no resampler is configured. Drift is then
// corrected by inserting or dropping whole frames.
type Passthrough struct{}

// Active implements Converter
func (Passthrough) Active() bool { return false }

// SetRatio implements Converter
func (Passthrough) SetRatio(float64) {}

// Ratio implements Converter
func (Passthrough) Ratio() float64 { return 1 }

// InputFrames implements Converter
func (Passthrough) InputFrames(outFrames int) int { return outFrames }

// Convert implements Converter
func (Passthrough) Convert(in, out []byte) error {
	if len(in) != len(out) {
		return fmt.Errorf("%w: passthrough of %d bytes into %d", audio.ErrFormatMismatch, len(in), len(out))
	}
	copy(out, in)
	return nil
}

// Latency implements Converter
func (Passthrough) Latency() float64 { return 0 }

// Reset implements Converter
func (Passthrough) Reset() {}
