package device

import (
	"sync"
	"time"

	"github.com/dkeye/daudio/internal/domain"
	"github.com/dkeye/daudio/internal/metrics"
)

const DefaultJitterCapacity = 10

// JitterQueue buffers inbound frames between the network and the render
// loop. Push never blocks; a full queue evicts its oldest frame.
type JitterQueue struct {
	dhID     string
	metrics  *metrics.Collector
	capacity int

	mu     sync.Mutex
	frames []*domain.AudioFrame
	notify chan struct{}
}

func NewJitterQueue(capacity int, dhID string, m *metrics.Collector) *JitterQueue {
	if capacity <= 0 {
		capacity = DefaultJitterCapacity
	}
	return &JitterQueue{
		dhID:     dhID,
		metrics:  m,
		capacity: capacity,
		frames:   make([]*domain.AudioFrame, 0, capacity),
		notify:   make(chan struct{}, 1),
	}
}

// Push reports whether an older frame was evicted to make room.
func (q *JitterQueue) Push(f *domain.AudioFrame) (dropped bool) {
	if f == nil {
		return false
	}
	q.mu.Lock()
	if len(q.frames) >= q.capacity {
		q.frames[0] = nil
		q.frames = q.frames[1:]
		dropped = true
	}
	q.frames = append(q.frames, f)
	q.mu.Unlock()

	if dropped {
		q.metrics.JitterDropped(q.dhID)
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return dropped
}

// Pop waits at most wait for a frame.
func (q *JitterQueue) Pop(wait time.Duration) (*domain.AudioFrame, bool) {
	if f, ok := q.tryPop(); ok {
		return f, true
	}
	if wait <= 0 {
		return nil, false
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-q.notify:
			if f, ok := q.tryPop(); ok {
				return f, true
			}
		case <-timer.C:
			return q.tryPop()
		}
	}
}

func (q *JitterQueue) tryPop() (*domain.AudioFrame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return nil, false
	}
	f := q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	return f, true
}

// Prefill queues n silent frames of frameSize bytes, bounded by capacity.
func (q *JitterQueue) Prefill(n, frameSize int) {
	for i := 0; i < n && q.Len() < q.capacity; i++ {
		q.Push(domain.NewAudioFrame(frameSize))
	}
}

func (q *JitterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

func (q *JitterQueue) Cap() int { return q.capacity }

func (q *JitterQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	clear(q.frames)
	q.frames = q.frames[:0]
}
