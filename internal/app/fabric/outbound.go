package fabric

import (
	"sync"

	"github.com/dkeye/daudio/internal/core"
)

type OutboundFrame struct {
	SessionID core.SessionID
	Payload   []byte
}

// OutboundQueue is a bounded FIFO that evicts its oldest frame to admit a new
// one when full: a late audio frame is worth less than a fresh one.
type OutboundQueue struct {
	mu       sync.Mutex
	frames   []OutboundFrame
	capacity int
	notify   chan struct{}
}

func NewOutboundQueue(capacity int) *OutboundQueue {
	if capacity <= 0 {
		capacity = DefaultOutboundQueueSize
	}
	return &OutboundQueue{
		frames:   make([]OutboundFrame, 0, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Push never blocks. It reports whether an older frame was evicted.
func (q *OutboundQueue) Push(f OutboundFrame) (evicted bool) {
	q.mu.Lock()
	if len(q.frames) >= q.capacity {
		copy(q.frames, q.frames[1:])
		q.frames[len(q.frames)-1] = f
		evicted = true
	} else {
		q.frames = append(q.frames, f)
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return evicted
}

func (q *OutboundQueue) Pop() (OutboundFrame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return OutboundFrame{}, false
	}
	f := q.frames[0]
	copy(q.frames, q.frames[1:])
	q.frames[len(q.frames)-1] = OutboundFrame{}
	q.frames = q.frames[:len(q.frames)-1]
	return f, true
}

func (q *OutboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

func (q *OutboundQueue) Cap() int { return q.capacity }

// Clear drops everything and returns how many frames were discarded.
func (q *OutboundQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.frames)
	clear(q.frames)
	q.frames = q.frames[:0]
	return n
}

func (q *OutboundQueue) snapshot() []OutboundFrame {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]OutboundFrame(nil), q.frames...)
}
