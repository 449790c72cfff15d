package pool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startScheduler(s *scheduler) chan struct{} {
	done := make(chan struct{})
	go func() {
		s.run()
		close(done)
	}()
	return done
}

func waitStopped(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSchedulerFiresInTimeOrder(t *testing.T) {
	s := newScheduler()

	var mu sync.Mutex
	var order []string
	add := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	s.enter(60*time.Millisecond, add("third"))
	s.enter(20*time.Millisecond, add("first"))
	s.enter(40*time.Millisecond, add("second"))
	s.enter(80*time.Millisecond, nil)

	done := startScheduler(s)
	waitStopped(t, done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestSchedulerWakesForEarlierTask(t *testing.T) {
	s := newScheduler()
	done := startScheduler(s)

	// park the loop on a distant task, then schedule an earlier one
	s.enter(10*time.Second, func() {})
	time.Sleep(20 * time.Millisecond)

	fired := make(chan time.Time, 1)
	t0 := time.Now()
	s.enter(30*time.Millisecond, func() { fired <- time.Now() })

	select {
	case at := <-fired:
		elapsed := at.Sub(t0)
		require.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
		require.Less(t, elapsed, 2*time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("earlier task did not fire before the distant one")
	}

	s.enter(0, nil)
	waitStopped(t, done)
}

func TestSchedulerStopsOnNilAction(t *testing.T) {
	s := newScheduler()
	done := startScheduler(s)

	s.enter(10*time.Millisecond, nil)
	waitStopped(t, done)
}

func TestSchedulerSurvivesPanickingAction(t *testing.T) {
	s := newScheduler()

	fired := make(chan struct{}, 1)
	s.enter(10*time.Millisecond, func() { panic("boom") })
	s.enter(20*time.Millisecond, func() { fired <- struct{}{} })
	s.enter(40*time.Millisecond, nil)

	done := startScheduler(s)
	waitStopped(t, done)

	select {
	case <-fired:
	default:
		t.Fatal("action after the panicking one did not run")
	}
}

func TestSchedulerIdlesWithEmptyQueue(t *testing.T) {
	s := newScheduler()
	done := startScheduler(s)

	// nothing scheduled: the loop must stay up and accept late tasks
	time.Sleep(30 * time.Millisecond)
	fired := make(chan struct{}, 1)
	s.enter(10*time.Millisecond, func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("task scheduled on an idle loop did not fire")
	}

	s.enter(0, nil)
	waitStopped(t, done)
}
