package pool

import (
	"container/heap"
	"sync"
	"time"

	"github.com/guileen/pgpool/logger"
)

// emptyQueueTimeout bounds how long the run loop sleeps when nothing
// is scheduled, so it can observe tasks scheduled while it slept.
const emptyQueueTimeout = 10 * time.Minute

// schedTask is a callback scheduled at an absolute time. A nil action
// is the stop signal for the run loop.
type schedTask struct {
	at     time.Time
	action func()
}

type taskHeap []schedTask

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h taskHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(schedTask))
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	*h = old[:n-1]
	return t
}

// scheduler fires delayed callbacks in time order. It is designed for
// concurrent use: tasks can be scheduled in front of the one currently
// awaited, and run can be left idling with nothing scheduled.
type scheduler struct {
	mu    sync.Mutex
	queue taskHeap
	wake  chan struct{}
}

func newScheduler() *scheduler {
	return &scheduler{wake: make(chan struct{}, 1)}
}

// enter schedules action delay from now. A nil action stops run.
func (s *scheduler) enter(delay time.Duration, action func()) {
	s.enterAbs(time.Now().Add(delay), action)
}

// enterAbs schedules action at an absolute time. If the new task fires
// before the one the run loop is waiting on, the loop is woken so it
// can re-aim.
func (s *scheduler) enterAbs(at time.Time, action func()) {
	s.mu.Lock()
	heap.Push(&s.queue, schedTask{at: at, action: action})
	first := s.queue[0].at.Equal(at)
	s.mu.Unlock()

	if first {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

// run executes the scheduled tasks in time order until a nil action
// comes due. It is meant to run on a dedicated goroutine.
func (s *scheduler) run() {
	for {
		var (
			action func()
			due    bool
			delay  time.Duration
		)

		s.mu.Lock()
		now := time.Now()
		if len(s.queue) == 0 {
			delay = emptyQueueTimeout
		} else if head := s.queue[0]; !head.at.After(now) {
			heap.Pop(&s.queue)
			action, due = head.action, true
		} else {
			delay = head.at.Sub(now)
		}
		// Drain a pending wake signal: whatever it announced, this
		// pass already saw it under the lock.
		select {
		case <-s.wake:
		default:
		}
		s.mu.Unlock()

		if due {
			if action == nil {
				return
			}
			runSchedAction(action)
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-s.wake:
		}
		timer.Stop()
	}
}

func runSchedAction(action func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("scheduled task failed", "panic", r)
		}
	}()
	action()
}
