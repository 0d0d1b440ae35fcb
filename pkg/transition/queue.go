// Package transition defers state writes into two priority lanes and keeps
// only the latest write per slot.
//
// Urgent writes are applied as soon as the worker sees them. Transition
// writes wait for a short batch window, so a burst of writes to the same slot
// collapses into the last one, and they always run after pending urgent
// writes.
package transition

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/pagequery/pkg/logging"
)

// ErrClosed is returned when scheduling on a stopped queue.
var ErrClosed = errors.New("transition queue closed")

// DefaultBatchWindow is how long transition writes wait before they are applied.
const DefaultBatchWindow = 16 * time.Millisecond

var (
	tasksApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagequery_transition_tasks_applied_total",
		Help: "Total number of deferred state writes applied",
	}, []string{"priority"})

	tasksCoalesced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagequery_transition_tasks_coalesced_total",
		Help: "Total number of deferred state writes replaced by a later write",
	}, []string{"priority"})
)

// Priority selects the lane of a task.
type Priority int

const (
	// Urgent tasks run first and without delay.
	Urgent Priority = iota
	// Transition tasks run after the batch window, once no urgent task is pending.
	Transition
)

// String returns the metric label of p.
func (p Priority) String() string {
	if p == Urgent {
		return "urgent"
	}
	return "transition"
}

// Config holds queue configuration.
type Config struct {
	// BatchWindow delays transition tasks (default: 16ms).
	BatchWindow time.Duration
}

type lane struct {
	tasks map[string]func()
	order []string
}

func newLane() *lane {
	return &lane{tasks: make(map[string]func())}
}

func (l *lane) put(slot string, fn func()) bool {
	_, replaced := l.tasks[slot]
	if !replaced {
		l.order = append(l.order, slot)
	}
	l.tasks[slot] = fn
	return replaced
}

func (l *lane) drop(slot string) bool {
	if _, ok := l.tasks[slot]; !ok {
		return false
	}
	delete(l.tasks, slot)
	for i, s := range l.order {
		if s == slot {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return true
}

func (l *lane) take() []func() {
	fns := make([]func(), 0, len(l.order))
	for _, slot := range l.order {
		fns = append(fns, l.tasks[slot])
	}
	l.tasks = make(map[string]func())
	l.order = nil
	return fns
}

// Queue holds pending state writes.
type Queue struct {
	window time.Duration
	logger zerolog.Logger

	mu         sync.Mutex
	urgent     *lane
	transition *lane
	closed     bool
	cancel     context.CancelFunc
	done       chan struct{}

	// applyMu serializes Flush and the worker.
	applyMu sync.Mutex
	wake    chan struct{}
}

// New creates a queue. Tasks wait until Flush is called or a worker runs (see Start).
func New(cfg Config) *Queue {
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = DefaultBatchWindow
	}
	return &Queue{
		window:     cfg.BatchWindow,
		logger:     logging.NewLogger("transition"),
		urgent:     newLane(),
		transition: newLane(),
		wake:       make(chan struct{}, 1),
	}
}

// Schedule queues fn in slot. A later task for the same slot replaces an
// earlier one; an urgent task also drops a pending transition task for its slot.
func (q *Queue) Schedule(slot string, priority Priority, fn func()) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}

	var replaced bool
	if priority == Urgent {
		if q.transition.drop(slot) {
			tasksCoalesced.WithLabelValues(Transition.String()).Inc()
		}
		replaced = q.urgent.put(slot, fn)
	} else {
		replaced = q.transition.put(slot, fn)
	}
	q.mu.Unlock()

	if replaced {
		tasksCoalesced.WithLabelValues(priority.String()).Inc()
	}

	q.logger.Debug().
		Str("slot", slot).
		Str("priority", priority.String()).
		Bool("replaced", replaced).
		Msg("State write scheduled")

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Flush applies every pending task now, urgent ones first, and returns how many ran.
func (q *Queue) Flush() int {
	q.applyMu.Lock()
	defer q.applyMu.Unlock()

	n := q.applyLocked(Urgent)
	n += q.applyLocked(Transition)
	return n
}

// Pending returns the number of queued tasks.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.urgent.order) + len(q.transition.order)
}

// Start runs a worker that applies tasks until ctx ends or Stop is called.
// Calling Start on a running or stopped queue does nothing.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.closed || q.cancel != nil {
		q.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})
	q.mu.Unlock()

	go q.run(ctx)
}

// Stop halts the worker and rejects further tasks. Pending tasks are discarded.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	cancel, done := q.cancel, q.done
	dropped := len(q.urgent.take()) + len(q.transition.take())
	q.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	if dropped > 0 {
		q.logger.Debug().Int("dropped", dropped).Msg("Transition queue stopped with pending writes")
	}
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case <-q.wake:
			q.applyMu.Lock()
			q.applyLocked(Urgent)
			q.applyMu.Unlock()

			if timerC == nil && q.hasTransition() {
				timer = time.NewTimer(q.window)
				timerC = timer.C
			}

		case <-timerC:
			timerC = nil
			q.applyMu.Lock()
			q.applyLocked(Urgent)
			q.applyLocked(Transition)
			q.applyMu.Unlock()
		}
	}
}

func (q *Queue) hasTransition() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.transition.order) > 0
}

// applyLocked runs the tasks of one lane. Callers hold applyMu.
func (q *Queue) applyLocked(priority Priority) int {
	q.mu.Lock()
	var fns []func()
	if priority == Urgent {
		fns = q.urgent.take()
	} else {
		fns = q.transition.take()
	}
	q.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	if len(fns) > 0 {
		tasksApplied.WithLabelValues(priority.String()).Add(float64(len(fns)))
	}
	return len(fns)
}
