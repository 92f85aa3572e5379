// ABOUTME: Chunk queue between the network producer and the audio consumer
// ABOUTME: FIFO with a wake-up signal and a generation counter bumped on clear
package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/resonate-playout/pkg/audio"
)

type chunkQueue struct {
	mu     sync.Mutex
	chunks []*audio.PcmChunk
	signal chan struct{}
	gen    atomic.Uint64
}

func newChunkQueue() *chunkQueue {
	return &chunkQueue{signal: make(chan struct{}, 1)}
}

// Push appends c and wakes a waiting consumer
func (q *chunkQueue) Push(c *audio.PcmChunk) {
	q.mu.Lock()
	q.chunks = append(q.chunks, c)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Front returns the oldest chunk without removing it
func (q *chunkQueue) Front() (*audio.PcmChunk, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.chunks) == 0 {
		return nil, false
	}
	return q.chunks[0], true
}

// Pop removes and returns the oldest chunk together with the generation it was
// queued in. Both are read under the same lock, so a concurrent Clear cannot make
// them disagree.
func (q *chunkQueue) Pop() (*audio.PcmChunk, uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	gen := q.gen.Load()
	if len(q.chunks) == 0 {
		return nil, gen, false
	}
	c := q.chunks[0]
	q.chunks[0] = nil
	q.chunks = q.chunks[1:]
	return c, gen, true
}

// Len returns the number of queued chunks
func (q *chunkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}

// Clear drops every queued chunk and starts a new generation
func (q *chunkQueue) Clear() {
	q.mu.Lock()
	q.chunks = nil
	q.gen.Add(1)
	q.mu.Unlock()
}

// Generation changes every time the queue is cleared
func (q *chunkQueue) Generation() uint64 {
	return q.gen.Load()
}

// Wait blocks until a chunk is queued or timeout elapses
func (q *chunkQueue) Wait(timeout time.Duration) bool {
	if q.Len() > 0 {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-q.signal:
			if q.Len() > 0 {
				return true
			}
		case <-timer.C:
			return q.Len() > 0
		}
	}
}
