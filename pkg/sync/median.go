// ABOUTME: Time-windowed median filter
// ABOUTME: Keeps the samples of the last window and reports their median
package sync

import (
	"cmp"
	"slices"
	"time"
)

type timedSample[T cmp.Ordered] struct {
	value T
	at    int64
}

// MedianWindow holds the samples recorded during the last Window of time and
// reports their median. It is not safe for concurrent use.
type MedianWindow[T cmp.Ordered] struct {
	window  int64 // microseconds
	fifo    []timedSample[T]
	sorted  []T
	started int64
	empty   bool
}

// NewMedianWindow creates a filter spanning window
func NewMedianWindow[T cmp.Ordered](window time.Duration) *MedianWindow[T] {
	return &MedianWindow[T]{
		window: window.Microseconds(),
		empty:  true,
	}
}

// Add records a sample taken at timestamp at (microseconds) and evicts samples that
// have fallen out of the window
func (m *MedianWindow[T]) Add(value T, at int64) {
	if m.empty {
		m.started = at
		m.empty = false
	}
	m.fifo = append(m.fifo, timedSample[T]{value: value, at: at})
	i, _ := slices.BinarySearch(m.sorted, value)
	m.sorted = slices.Insert(m.sorted, i, value)
	m.evict(at)
}

func (m *MedianWindow[T]) evict(now int64) {
	cut := 0
	for cut < len(m.fifo)-1 && now-m.fifo[cut].at > m.window {
		i, _ := slices.BinarySearch(m.sorted, m.fifo[cut].value)
		m.sorted = slices.Delete(m.sorted, i, i+1)
		cut++
	}
	if cut > 0 {
		m.fifo = slices.Delete(m.fifo, 0, cut)
	}
}

// Median returns the middle element of the sorted window (the upper one for an
// even count). ok is false while the window is empty.
func (m *MedianWindow[T]) Median() (median T, ok bool) {
	if len(m.sorted) == 0 {
		return median, false
	}
	return m.sorted[len(m.sorted)/2], true
}

// Full reports whether samples have been collected for at least a whole window
// since the last reset, measured at now
func (m *MedianWindow[T]) Full(now int64) bool {
	return !m.empty && now-m.started >= m.window
}

// Len returns the number of samples in the window
func (m *MedianWindow[T]) Len() int {
	return len(m.sorted)
}

// Window returns the span of the filter
func (m *MedianWindow[T]) Window() time.Duration {
	return time.Duration(m.window) * time.Microsecond
}

// Reset discards every sample and restarts the fullness clock
func (m *MedianWindow[T]) Reset() {
	m.fifo = m.fifo[:0]
	m.sorted = m.sorted[:0]
	m.empty = true
}
