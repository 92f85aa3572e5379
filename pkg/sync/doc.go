// ABOUTME: Clock synchronization and measurement filtering package
// ABOUTME: Provides the shared time base and the windowed median filters
// Package sync provides the time base used for synchronized playout.
//
// ClockSync tracks offset and drift of the server clock from NTP-style
// four-timestamp exchanges. MedianWindow keeps a time-bounded window of
// measurements and reports their median; the playout engine uses three of them.
//
// Example:
//
//	clock := sync.NewClockSync()
//	clock.ProcessSyncResponse(t1, t2, t3, t4)
//	target := clock.ServerNow() + outputLatency
package sync
