package pool

import "time"

// taskQueueSize is generous enough that runTask practically never has
// to fall back to a hand-off goroutine.
const taskQueueSize = 1024

// workerTimeout is the base dequeue timeout of a worker; each worker
// jitters it so they don't all wake at the same moment.
const workerTimeout = time.Minute

// maintenanceTask is a discrete unit of background work that mutates
// pool state off the caller's path.
type maintenanceTask interface {
	run(p *Pool)
}

// addConnection connects and hands the new connection into the pool,
// rescheduling itself with backoff on failure.
type addConnection struct {
	attempt *connectionAttempt
	growing bool
}

func (t *addConnection) run(p *Pool) {
	p.addConnection(t.attempt, t.growing)
}

// returnConnection cleans up a returned connection and hands it back
// to a waiter or the idle queue.
type returnConnection struct {
	conn *Conn
}

func (t *returnConnection) run(p *Pool) {
	p.returnConnection(t.conn)
}

// shrinkPool drops one idle connection above MinSize if the last
// interval shows it wasn't needed. It reschedules itself before
// running, so an error cannot break the periodic run.
type shrinkPool struct{}

func (t *shrinkPool) run(p *Pool) {
	p.scheduleTask(t, p.cfg.MaxIdle)
	p.shrink()
}

// stopWorker makes exactly one worker exit its loop.
type stopWorker struct{}

func (t *stopWorker) run(p *Pool) {}

// runTask enqueues a task for asynchronous execution by a worker. It
// never blocks the caller: if the queue is momentarily full, the
// hand-off finishes on a transient goroutine.
func (p *Pool) runTask(task maintenanceTask) {
	select {
	case p.tasks <- task:
	default:
		go func() { p.tasks <- task }()
	}
}

// scheduleTask runs a task on a worker after a delay.
func (p *Pool) scheduleTask(task maintenanceTask, delay time.Duration) {
	p.sched.enter(delay, func() {
		if !p.Closed() {
			p.runTask(task)
		}
	})
}

// worker dequeues and runs maintenance tasks until it receives a
// stopWorker. Tasks arriving after the pool closed are quietly
// dropped. It is meant to run on its own goroutine.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	timeout := jitter(workerTimeout, -0.1, 0.1)
	for {
		timer := time.NewTimer(timeout)
		var task maintenanceTask
		select {
		case task = <-p.tasks:
			timer.Stop()
		case <-timer.C:
			continue
		}

		if _, ok := task.(*stopWorker); ok {
			p.log.Debug("terminating worker", "worker", id)
			return
		}
		if p.Closed() {
			continue
		}
		p.runTaskBody(task, id)
	}
}

// runTaskBody runs a task, making sure a failure doesn't take the
// worker down with it.
func (p *Pool) runTaskBody(task maintenanceTask, id int) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Warn("maintenance task failed", "worker", id, "panic", r)
		}
	}()
	task.run(p)
}
