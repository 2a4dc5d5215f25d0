// Package taskqueue runs callback-driven work on one worker goroutine so
// network receive paths never execute long handlers inline.
package taskqueue

import (
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/daudio/internal/domain"
	"github.com/dkeye/daudio/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxSize = 20
	waitTimeout    = 100 * time.Millisecond
)

type Task interface {
	Name() string
	Run()
}

type funcTask struct {
	name string
	fn   func()
}

func (t funcTask) Name() string { return t.name }
func (t funcTask) Run()         { t.fn() }

// NewTask wraps fn as a Task.
func NewTask(name string, fn func()) Task {
	return funcTask{name: name, fn: fn}
}

type poisonTask struct{}

func (poisonTask) Name() string { return "poison" }
func (poisonTask) Run()         {}

// Queue is a bounded FIFO executed by exactly one worker. Tasks never run
// concurrently and run in submission order.
type Queue struct {
	maxSize int
	metrics *metrics.Collector

	mu      sync.Mutex
	tasks   []Task
	started bool
	stopped bool

	wake chan struct{}
	wg   sync.WaitGroup
}

func New(maxSize int, m *metrics.Collector) *Queue {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Queue{
		maxSize: maxSize,
		metrics: m,
		tasks:   make([]Task, 0, maxSize),
		wake:    make(chan struct{}, 1),
	}
}

// Produce enqueues t without blocking. A full queue is reported as
// domain.ErrQueueFull so the caller can decide what to drop.
func (q *Queue) Produce(t Task) error {
	if t == nil {
		return fmt.Errorf("%w: nil task", domain.ErrInvalidParam)
	}
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return fmt.Errorf("%w: task queue stopped", domain.ErrStatus)
	}
	if len(q.tasks) >= q.maxSize {
		q.mu.Unlock()
		q.metrics.TaskRejected()
		return fmt.Errorf("%w: %d tasks pending", domain.ErrQueueFull, q.maxSize)
	}
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
	q.signal()
	return nil
}

// Start spawns the worker. Calling it again is a no-op.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.stopped {
		return
	}
	q.started = true
	q.wg.Add(1)
	go q.loop()
	log.Debug().Str("module", "taskqueue").Int("max_size", q.maxSize).Msg("worker started")
}

// Stop discards pending tasks, wakes the worker with a poison task and joins it.
// It is safe before Start and idempotent.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	dropped := len(q.tasks)
	q.tasks = append(q.tasks[:0], poisonTask{})
	q.mu.Unlock()

	q.signal()
	q.wg.Wait()
	log.Debug().Str("module", "taskqueue").Int("dropped", dropped).Msg("worker stopped")
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) pop() (Task, bool, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, false, q.stopped
	}
	t := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return t, true, q.stopped
}

func (q *Queue) loop() {
	defer q.wg.Done()
	timer := time.NewTimer(waitTimeout)
	defer timer.Stop()

	for {
		t, ok, stopped := q.pop()
		if !ok {
			if stopped {
				return
			}
			timer.Reset(waitTimeout)
			select {
			case <-q.wake:
			case <-timer.C:
			}
			continue
		}
		if _, poison := t.(poisonTask); poison {
			return
		}
		q.run(t)
	}
}

func (q *Queue) run(t Task) {
	defer func() {
		if r := recover(); r != nil {
			q.metrics.TaskPanicked()
			log.Error().Str("module", "taskqueue").Str("task", t.Name()).Interface("panic", r).Msg("task panicked")
		}
	}()
	t.Run()
}
