// ABOUTME: Playout statistics snapshot
// ABOUTME: Published by the audio callback and read lock-free by everyone else
package stream

import "fmt"

// Stats is a point-in-time view of the engine
type Stats struct {
	HardSync     bool
	BufferMs     int
	QueuedChunks int

	// Playout error in microseconds, last sample and window medians
	Age             int64
	MedianVeryShort int64
	MedianShort     int64
	MedianLong      int64

	Ratio      float64
	Correction float64

	FramesPlayed    uint64
	SilenceFrames   uint64
	FramesInserted  uint64
	FramesDropped   uint64
	Underruns       uint64
	HardSyncs       uint64
	ChunksDropped   uint64
	ConverterErrors uint64

	// Shared-clock time of the snapshot
	UpdatedAt int64
}

// State names the engine state
func (s Stats) State() string {
	if s.HardSync {
		return "hard_sync"
	}
	return "normal"
}

func (s Stats) String() string {
	return fmt.Sprintf("state=%s buffer=%dms queued=%d age=%dμs median(short/long)=%d/%dμs ratio=%.6f underruns=%d hardsyncs=%d",
		s.State(), s.BufferMs, s.QueuedChunks, s.Age, s.MedianShort, s.MedianLong, s.Ratio, s.Underruns, s.HardSyncs)
}
