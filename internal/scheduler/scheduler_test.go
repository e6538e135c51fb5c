package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, workers, capacity int) *Scheduler {
	t.Helper()
	s, err := New(Config{Workers: workers, QueueCapacity: capacity})
	require.NoError(t, err)
	s.Start()
	return s
}

func TestSubmitRunsTask(t *testing.T) {
	s := newTestScheduler(t, 2, 8)
	defer s.Shutdown()

	done := make(chan struct{})
	require.NoError(t, s.Submit(Normal, func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}

func TestHighPriorityRunsBeforeLowUnderSingleWorker(t *testing.T) {
	s := newTestScheduler(t, 1, 16)
	defer s.Shutdown()

	// Block the single worker so both priorities queue up before either runs.
	blocker := make(chan struct{})
	require.NoError(t, s.Submit(Low, func() { <-blocker }))
	time.Sleep(20 * time.Millisecond) // let the dispatcher pick up the blocker

	var order []string
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)

	require.NoError(t, s.Submit(Low, func() {
		mu.Lock()
		order = append(order, "low")
		mu.Unlock()
		wg.Done()
	}))
	require.NoError(t, s.Submit(High, func() {
		mu.Lock()
		order = append(order, "high")
		mu.Unlock()
		wg.Done()
	}))

	close(blocker)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"high", "low"}, order)
}

func TestSubmitReturnsBackpressureWhenLaneFull(t *testing.T) {
	s := newTestScheduler(t, 1, 1)
	defer s.Shutdown()

	blocker := make(chan struct{})
	require.NoError(t, s.Submit(Normal, func() { <-blocker }))
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, s.Submit(Normal, func() {}))
	err := s.Submit(Normal, func() {})
	require.ErrorIs(t, err, ErrBackpressure)

	close(blocker)
}

func TestPanickingTaskDoesNotWedgeScheduler(t *testing.T) {
	s := newTestScheduler(t, 2, 8)
	defer s.Shutdown()

	require.NoError(t, s.Submit(Normal, func() { panic("boom") }))

	done := make(chan struct{})
	require.NoError(t, s.Submit(Normal, func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler wedged after a panicking task")
	}
}

func TestDrainWaitsForInFlightTasks(t *testing.T) {
	s := newTestScheduler(t, 4, 8)
	defer s.Shutdown()

	var completed int32
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Submit(Normal, func() {
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&completed, 1)
		}))
	}

	s.Drain()
	require.EqualValues(t, 10, atomic.LoadInt32(&completed))
}

func TestSubmitAfterShutdownFails(t *testing.T) {
	s := newTestScheduler(t, 1, 8)
	s.Shutdown()

	err := s.Submit(Normal, func() {})
	require.ErrorIs(t, err, ErrShutdown)
}

func TestShutdownIsIdempotent(t *testing.T) {
	s := newTestScheduler(t, 1, 8)
	s.Shutdown()
	s.Shutdown()
}
