// ABOUTME: Playout engine configuration
// ABOUTME: Buffer length, median windows, resync thresholds and correction tuning
package stream

import (
	"time"

	"github.com/Resonate-Protocol/resonate-playout/pkg/audio/resample"
)

// Config tunes the playout engine. Zero fields are replaced by DefaultConfig values.
type Config struct {
	// BufferMs is the end-to-end latency budget between chunk timestamp and playout
	BufferMs int

	// Median filter windows
	VeryShortWindow time.Duration
	ShortWindow     time.Duration
	LongWindow      time.Duration

	// A full filter whose median exceeds its threshold forces a hard resync
	VeryShortThreshold time.Duration
	ShortThreshold     time.Duration
	LongThreshold      time.Duration

	// Errors below SoftDeadband are not corrected
	SoftDeadband time.Duration
	// Gain converts the long median error (seconds) into a rate correction per second
	Gain float64
	// MaxRateCorrection caps the relative rate correction
	MaxRateCorrection float64
	// MaxRatioStep caps the resampler ratio change per call
	MaxRatioStep float64

	// Resample selects the interpolating converter; without it drift is corrected by
	// inserting or dropping single frames
	Resample bool

	// Converter overrides Resample with a caller supplied strategy. It must convert
	// between the stream's input and output rates.
	Converter resample.Converter

	// StatsInterval is the shared-clock period between Stats snapshots
	StatsInterval time.Duration

	// Metrics receives engine measurements; nil disables export
	Metrics *Metrics
}

// DefaultConfig returns the standard tuning
func DefaultConfig() Config {
	return Config{
		BufferMs:           1000,
		VeryShortWindow:    250 * time.Millisecond,
		ShortWindow:        time.Second,
		LongWindow:         2 * time.Second,
		VeryShortThreshold: 50 * time.Millisecond,
		ShortThreshold:     5 * time.Millisecond,
		LongThreshold:      2 * time.Millisecond,
		SoftDeadband:       100 * time.Microsecond,
		Gain:               0.2,
		MaxRateCorrection:  0.005,
		MaxRatioStep:       5e-5,
		StatsInterval:      time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BufferMs <= 0 {
		c.BufferMs = d.BufferMs
	}
	if c.VeryShortWindow <= 0 {
		c.VeryShortWindow = d.VeryShortWindow
	}
	if c.ShortWindow <= 0 {
		c.ShortWindow = d.ShortWindow
	}
	if c.LongWindow <= 0 {
		c.LongWindow = d.LongWindow
	}
	if c.VeryShortThreshold <= 0 {
		c.VeryShortThreshold = d.VeryShortThreshold
	}
	if c.ShortThreshold <= 0 {
		c.ShortThreshold = d.ShortThreshold
	}
	if c.LongThreshold <= 0 {
		c.LongThreshold = d.LongThreshold
	}
	if c.SoftDeadband <= 0 {
		c.SoftDeadband = d.SoftDeadband
	}
	if c.Gain <= 0 {
		c.Gain = d.Gain
	}
	if c.MaxRateCorrection <= 0 {
		c.MaxRateCorrection = d.MaxRateCorrection
	}
	if c.MaxRatioStep <= 0 {
		c.MaxRatioStep = d.MaxRatioStep
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = d.StatsInterval
	}
	return c
}
