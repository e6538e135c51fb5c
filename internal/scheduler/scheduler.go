// Package scheduler implements the background task scheduler: a fixed
// worker pool draining a priority queue (High > Normal > Low, FIFO
// within a priority). The engine submits its WAL-only compaction passes
// to it. Standard-mode WAL fsync runs on the WAL writer's own timer
// goroutine, snapshots are written synchronously by Checkpoint, and no
// retention sweep is submitted here.
package scheduler

import (
	"errors"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/strata-db/strata/internal/logger"
	"github.com/strata-db/strata/internal/metrics"
)

// Priority selects which of the three FIFO lanes a task is queued on.
type Priority int

const (
	Low Priority = iota
	Normal
	High
)

// ErrBackpressure is returned by Submit when the target priority's
// queue is already at capacity.
var ErrBackpressure = errors.New("scheduler: queue is full")

// ErrShutdown is returned by Submit once Shutdown has been called.
var ErrShutdown = errors.New("scheduler: scheduler is shut down")

// Config bundles a Scheduler's fixed tuning parameters.
type Config struct {
	Workers       int // ants pool size; 0 uses a small sane default
	QueueCapacity int // per-priority channel capacity
	Logger        *logger.Logger
}

// Scheduler drains three priority lanes through a bounded ants.Pool.
// Submissions never block the caller: a full lane fails fast with
// ErrBackpressure rather than queuing unboundedly.
type Scheduler struct {
	high, normal, low chan func()

	pool   *ants.Pool
	logger *logger.Logger

	inFlight sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	stopCh  chan struct{}
	started bool
}

// New builds a Scheduler. Call Start before submitting work.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	log := cfg.Logger.With("scheduler")

	s := &Scheduler{
		high:   make(chan func(), cfg.QueueCapacity),
		normal: make(chan func(), cfg.QueueCapacity),
		low:    make(chan func(), cfg.QueueCapacity),
		logger: log,
		stopCh: make(chan struct{}),
	}

	pool, err := ants.NewPool(cfg.Workers, ants.WithPanicHandler(func(v interface{}) {
		log.Error("task panicked: %v", v)
	}))
	if err != nil {
		return nil, err
	}
	s.pool = pool

	return s, nil
}

// Start launches the dispatcher goroutine that drains the priority
// lanes into the worker pool. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	go s.dispatch()
}

// Submit enqueues fn at the given priority. It never blocks: if that
// priority's lane is full, ErrBackpressure is returned immediately.
func (s *Scheduler) Submit(p Priority, fn func()) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrShutdown
	}

	lane := s.laneFor(p)

	s.inFlight.Add(1)
	select {
	case lane <- fn:
		metrics.SchedulerQueueDepth.WithLabelValues(labelFor(p)).Set(float64(len(lane)))
		return nil
	default:
		s.inFlight.Done()
		metrics.SchedulerTasksDroppedTotal.Inc()
		return ErrBackpressure
	}
}

func (s *Scheduler) laneFor(p Priority) chan func() {
	switch p {
	case High:
		return s.high
	case Normal:
		return s.normal
	default:
		return s.low
	}
}

func labelFor(p Priority) string {
	switch p {
	case High:
		return "high"
	case Normal:
		return "normal"
	default:
		return "low"
	}
}

// dispatch pops tasks in strict priority order and hands each to the
// ants pool. It takes a task off its lane only once a worker slot is
// free, so a task waiting for a worker stays in its lane: it keeps
// counting toward that lane's capacity in Submit, and a higher-priority
// task submitted meanwhile is still picked ahead of it.
func (s *Scheduler) dispatch() {
	slots := make(chan struct{}, s.pool.Cap())
	for {
		select {
		case slots <- struct{}{}:
		case <-s.stopCh:
			return
		}
		fn, ok := s.pick()
		if !ok {
			return
		}
		task := fn
		_ = s.pool.Submit(func() {
			defer func() { <-slots }()
			defer s.inFlight.Done()
			runGuarded(task, s.logger)
		})
	}
}

// runGuarded executes task, recovering any panic so one bad task never
// kills the worker goroutine. ants' own panic handler is a backstop for
// anything that escapes this recover, but the RAII inFlight decrement
// in dispatch's defer fires regardless of which one catches it.
func runGuarded(task func(), log *logger.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("scheduler task panic recovered: %v", r)
		}
	}()
	task()
}

func (s *Scheduler) pick() (func(), bool) {
	fn, ok := s.pickRaw()
	if ok {
		metrics.SchedulerQueueDepth.WithLabelValues("high").Set(float64(len(s.high)))
		metrics.SchedulerQueueDepth.WithLabelValues("normal").Set(float64(len(s.normal)))
		metrics.SchedulerQueueDepth.WithLabelValues("low").Set(float64(len(s.low)))
	}
	return fn, ok
}

func (s *Scheduler) pickRaw() (func(), bool) {
	select {
	case fn := <-s.high:
		return fn, true
	default:
	}
	select {
	case fn := <-s.high:
		return fn, true
	case fn := <-s.normal:
		return fn, true
	default:
	}
	select {
	case fn := <-s.high:
		return fn, true
	case fn := <-s.normal:
		return fn, true
	case fn := <-s.low:
		return fn, true
	case <-s.stopCh:
		return nil, false
	}
}

// Drain blocks until every submitted task has completed and no lane
// holds unpicked work. Callers typically stop submitting before
// calling Drain.
func (s *Scheduler) Drain() {
	s.inFlight.Wait()
}

// Shutdown stops accepting new submissions, drains in-flight and
// queued work, then releases the worker pool. It is safe to call more
// than once.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.Drain()

	close(s.stopCh)
	_ = s.pool.ReleaseTimeout(0)
}

// QueueDepths reports the approximate pending count per lane, for
// observability only (not synchronized with Submit/dispatch).
func (s *Scheduler) QueueDepths() (high, normal, low int) {
	return len(s.high), len(s.normal), len(s.low)
}
