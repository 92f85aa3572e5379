// ABOUTME: Prometheus collectors for the playout engine
// ABOUTME: Exposes sync error, buffer state and correction counters
package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports engine Stats snapshots to Prometheus
type Metrics struct {
	age          prometheus.Gauge
	medianShort  prometheus.Gauge
	medianLong   prometheus.Gauge
	bufferMs     prometheus.Gauge
	queuedChunks prometheus.Gauge
	ratio        prometheus.Gauge
	hardSync     prometheus.Gauge
	syncError    prometheus.Histogram

	underruns      prometheus.Counter
	hardSyncs      prometheus.Counter
	framesInserted prometheus.Counter
	framesDropped  prometheus.Counter
	chunksDropped  prometheus.Counter
	silenceFrames  prometheus.Counter

	last Stats
}

// NewMetrics registers the playout collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	gauge := func(name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Namespace: "resonate", Subsystem: "playout", Name: name, Help: help})
	}
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{Namespace: "resonate", Subsystem: "playout", Name: name, Help: help})
	}

	return &Metrics{
		age:          gauge("age_microseconds", "Last measured playout error"),
		medianShort:  gauge("median_short_microseconds", "Short window median playout error"),
		medianLong:   gauge("median_long_microseconds", "Long window median playout error"),
		bufferMs:     gauge("buffer_milliseconds", "Configured end-to-end buffer"),
		queuedChunks: gauge("queued_chunks", "Chunks waiting in the queue"),
		ratio:        gauge("rate_ratio", "Applied input/output rate ratio"),
		hardSync:     gauge("hard_sync", "1 while the engine is resynchronizing"),
		syncError: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "resonate",
			Subsystem: "playout",
			Name:      "sync_error_seconds",
			Help:      "Short window median playout error",
			Buckets:   []float64{-0.005, -0.002, -0.0005, -0.0001, 0, 0.0001, 0.0005, 0.002, 0.005},
		}),
		underruns:      counter("underruns_total", "Callbacks that ran out of audio"),
		hardSyncs:      counter("hard_syncs_total", "Resyncs forced by a median threshold"),
		framesInserted: counter("frames_inserted_total", "Frames duplicated for drift correction"),
		framesDropped:  counter("frames_dropped_total", "Frames skipped for drift correction"),
		chunksDropped:  counter("chunks_dropped_total", "Chunks discarded as too late during resync"),
		silenceFrames:  counter("silence_frames_total", "Silent frames emitted"),
	}
}

// observe is called by the consumer for each published snapshot
func (m *Metrics) observe(s Stats) {
	m.age.Set(float64(s.Age))
	m.medianShort.Set(float64(s.MedianShort))
	m.medianLong.Set(float64(s.MedianLong))
	m.bufferMs.Set(float64(s.BufferMs))
	m.queuedChunks.Set(float64(s.QueuedChunks))
	m.ratio.Set(s.Ratio)
	if s.HardSync {
		m.hardSync.Set(1)
	} else {
		m.hardSync.Set(0)
	}
	m.syncError.Observe(float64(s.MedianShort) / 1e6)

	m.underruns.Add(delta(s.Underruns, m.last.Underruns))
	m.hardSyncs.Add(delta(s.HardSyncs, m.last.HardSyncs))
	m.framesInserted.Add(delta(s.FramesInserted, m.last.FramesInserted))
	m.framesDropped.Add(delta(s.FramesDropped, m.last.FramesDropped))
	m.chunksDropped.Add(delta(s.ChunksDropped, m.last.ChunksDropped))
	m.silenceFrames.Add(delta(s.SilenceFrames, m.last.SilenceFrames))
	m.last = s
}

// delta treats a counter that went backwards as a fresh stream starting at zero
func delta(cur, last uint64) float64 {
	if cur < last {
		return float64(cur)
	}
	return float64(cur - last)
}
