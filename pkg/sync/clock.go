// ABOUTME: Clock synchronization with drift compensation
// ABOUTME: Tracks offset and drift against the server clock to provide the shared time base
package sync

import (
	"log"
	"sync"
	"time"
)

const (
	maxSyncRTT      = 100000 // 100ms
	maxSyncResidual = 50000  // 50ms
	goodSyncRTT     = 50000
	lostAfter       = 5 * time.Second
)

// ClockSync maps the local clock onto the server's shared clock
type ClockSync struct {
	mu             sync.RWMutex
	offset         int64   // Current offset in microseconds (server - client)
	drift          float64 // Clock drift rate (μs/μs)
	rawOffset      int64
	rtt            int64
	quality        Quality
	lastSync       time.Time
	lastSyncMicros int64 // Client time (μs) when offset/drift were last updated
	sampleCount    int
	smoothingRate  float64

	now func() int64
}

// Quality represents sync quality
type Quality int

const (
	QualityGood Quality = iota
	QualityDegraded
	QualityLost
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityDegraded:
		return "degraded"
	default:
		return "lost"
	}
}

// NewClockSync creates a new clock synchronizer reading the local wall clock
func NewClockSync() *ClockSync {
	return NewClockSyncWithClock(ClientMicros)
}

// NewClockSyncWithClock creates a synchronizer reading local time from now
func NewClockSyncWithClock(now func() int64) *ClockSync {
	return &ClockSync{
		smoothingRate: 0.1, // 10% weight to new samples
		quality:       QualityLost,
		now:           now,
	}
}

// ProcessSyncResponse folds one client/time, server/time exchange into the estimate.
// t1 and t4 are client send/receive times, t2 and t3 server receive/send times.
func (cs *ClockSync) ProcessSyncResponse(t1, t2, t3, t4 int64) {
	rtt, measuredOffset := calculateOffset(t1, t2, t3, t4)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.rtt = rtt
	cs.rawOffset = measuredOffset
	cs.lastSync = time.Now()

	if rtt > maxSyncRTT {
		log.Printf("Discarding sync sample: high RTT %dμs", rtt)
		return
	}

	switch cs.sampleCount {
	case 0:
		cs.offset = measuredOffset
		log.Printf("Initial sync: offset=%dμs, rtt=%dμs", cs.offset, rtt)
	case 1:
		if dt := float64(t4 - cs.lastSyncMicros); dt > 0 {
			cs.drift = float64(measuredOffset-cs.offset) / dt
		}
		cs.offset = measuredOffset
		log.Printf("Second sync: offset=%dμs, drift=%.9f, rtt=%dμs", cs.offset, cs.drift, rtt)
	default:
		dt := float64(t4 - cs.lastSyncMicros)
		if dt <= 0 {
			log.Printf("Discarding sync sample: non-monotonic time")
			return
		}
		predicted := cs.offset + int64(cs.drift*dt)
		residual := measuredOffset - predicted
		if residual > maxSyncResidual || residual < -maxSyncResidual {
			log.Printf("Discarding sync sample: large residual %dμs (possible clock jump)", residual)
			return
		}
		// Fixed-gain Kalman style update of offset and drift
		cs.offset = predicted + int64(cs.smoothingRate*float64(residual))
		cs.drift += cs.smoothingRate * float64(residual) / dt

		if cs.sampleCount < 10 {
			log.Printf("Sync #%d: offset=%dμs, drift=%.9f, residual=%dμs, rtt=%dμs",
				cs.sampleCount, cs.offset, cs.drift, residual, rtt)
		}
	}

	cs.lastSyncMicros = t4
	cs.sampleCount++
	if rtt < goodSyncRTT {
		cs.quality = QualityGood
	} else {
		cs.quality = QualityDegraded
	}
}

// calculateOffset computes RTT and clock offset (positive = server ahead of client)
func calculateOffset(t1, t2, t3, t4 int64) (rtt, offset int64) {
	rtt = (t4 - t1) - (t3 - t2)
	offset = ((t2 - t1) + (t3 - t4)) / 2
	return
}

// Synced reports whether at least one exchange has been accepted
func (cs *ClockSync) Synced() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.sampleCount > 0
}

// GetOffset returns the current offset
func (cs *ClockSync) GetOffset() int64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.offset
}

// GetStats returns sync statistics
func (cs *ClockSync) GetStats() (offset, rtt int64, quality Quality) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.offset, cs.rtt, cs.quality
}

// Drift returns the estimated drift of the server clock against the local clock
func (cs *ClockSync) Drift() float64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.drift
}

// CheckQuality marks the sync as lost when no exchange arrived recently
func (cs *ClockSync) CheckQuality() Quality {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if time.Since(cs.lastSync) > lostAfter {
		cs.quality = QualityLost
	}
	return cs.quality
}

// LocalToServer converts a local timestamp (μs) to the shared clock
func (cs *ClockSync) LocalToServer(clientMicros int64) int64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	if cs.sampleCount == 0 {
		return clientMicros
	}
	// server_time = client_time + offset + drift * (client_time - last_sync)
	dt := clientMicros - cs.lastSyncMicros
	return clientMicros + cs.offset + int64(cs.drift*float64(dt))
}

// ServerToLocal converts a shared-clock timestamp (μs) to local microseconds
func (cs *ClockSync) ServerToLocal(serverMicros int64) int64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	if cs.sampleCount == 0 {
		return serverMicros
	}
	numerator := float64(serverMicros) - float64(cs.offset) + cs.drift*float64(cs.lastSyncMicros)
	return int64(numerator / (1.0 + cs.drift))
}

// ServerToLocalTime converts a shared-clock timestamp to local wall clock time
func (cs *ClockSync) ServerToLocalTime(serverMicros int64) time.Time {
	return time.UnixMicro(cs.ServerToLocal(serverMicros))
}

// ServerNow returns the current shared-clock time in microseconds
func (cs *ClockSync) ServerNow() int64 {
	return cs.LocalToServer(cs.now())
}

// ClientMicros returns raw client Unix epoch time in microseconds
func ClientMicros() int64 {
	return time.Now().UnixMicro()
}
