// Package pool implements a client-side connection pool for a
// PostgreSQL driver: a bounded set of long-lived server connections
// handed out to concurrent callers under a bounded wait, with
// background maintenance for initial fill, growth, shrink, health
// checks and reconnection with backoff.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guileen/pgpool/logger"
)

// Pool orchestrates the connection lifecycle. Its mutex guards only
// pointer and counter manipulation; all I/O (connect, rollback, probe,
// close) happens outside of it, mostly inside worker tasks.
type Pool struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	idle    []*Conn          // ready connections, oldest first
	waiting []*waitingClient // blocked callers, oldest first
	// nconns counts connections in the pool, checked out, or being
	// prepared by an in-flight task.
	nconns int
	// nconnsMin is the low-water mark of the idle count since the last
	// shrink check: if it stayed above zero, some connections sat
	// unused for the whole interval and one can be dropped.
	nconnsMin int
	minSize   int
	maxSize   int
	// growing allows only one grow chain at a time. If every worker
	// were busy growing, none would be left to return connections.
	growing bool
	opened  bool
	closed  bool
	fullCh  chan struct{} // closed when the pool first fills to nconns

	sched *scheduler
	tasks chan maintenanceTask
	wg    sync.WaitGroup

	stats poolStats
}

// New creates a pool and opens it immediately. The first connections
// are established in the background; use WaitReady to block until the
// pool is filled.
func New(cfg Config) (*Pool, error) {
	p, err := NewUnopened(cfg)
	if err != nil {
		return nil, err
	}
	if err := p.Open(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewUnopened creates a pool that serves no connections until Open is
// called.
func NewUnopened(cfg Config) (*Pool, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	return &Pool{
		cfg:       cfg,
		log:       logger.With(logger.Component("pool"), "pool", cfg.Name),
		minSize:   cfg.MinSize,
		maxSize:   cfg.MaxSize,
		nconns:    cfg.MinSize,
		nconnsMin: cfg.MinSize,
		sched:     newScheduler(),
		tasks:     make(chan maintenanceTask, taskQueueSize),
		closed:    true,
	}, nil
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.cfg.Name }

// MinSize returns the current lower size bound.
func (p *Pool) MinSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.minSize
}

// MaxSize returns the current upper size bound.
func (p *Pool) MaxSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxSize
}

// Closed reports whether the pool is closed or not open yet.
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Open starts the scheduler and worker goroutines and begins filling
// the pool to MinSize. It is safe to call on an already-open pool; a
// pool that was closed cannot be reopened.
func (p *Pool) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		return nil
	}
	if p.opened {
		return &PoolError{Op: "open", Pool: p.cfg.Name,
			Err: errors.New("pool was closed and cannot be reused")}
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sched.run()
	}()
	for i := 0; i < p.cfg.NumWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	// Populate the pool with the initial connections in the
	// background, and schedule the first shrink check.
	for i := 0; i < p.nconns; i++ {
		p.runTask(&addConnection{})
	}
	p.scheduleTask(&shrinkPool{}, p.cfg.MaxIdle)

	p.closed = false
	p.opened = true
	p.log.Debug("pool opened")
	return nil
}

// WaitReady blocks until the pool has filled to its target size after
// creation. On timeout it closes the pool and returns ErrPoolTimeout.
//
// Calling it is not mandatory; the first clients are served as soon as
// any connection is ready. It is for programs that prefer to fail fast
// when the environment is misconfigured.
func (p *Pool) WaitReady(timeout time.Duration) error {
	p.mu.Lock()
	if err := p.checkOpenLocked(); err != nil {
		p.mu.Unlock()
		return &PoolError{Op: "wait_ready", Pool: p.cfg.Name, Err: err}
	}
	if len(p.idle) >= p.nconns {
		p.mu.Unlock()
		return nil
	}
	if p.fullCh == nil {
		p.fullCh = make(chan struct{})
	}
	ch := p.fullCh
	p.mu.Unlock()

	p.log.Info("waiting for pool initialization")
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
	case <-timer.C:
		p.Close() // stop the background goroutines too
		return &PoolError{Op: "wait_ready", Pool: p.cfg.Name,
			Err: fmt.Errorf("%w: initialization incomplete after %v", ErrPoolTimeout, timeout)}
	}

	p.log.Info("pool is ready to use")
	return nil
}

// Get acquires a connection from the pool, waiting up to the pool
// Timeout or the context deadline, whichever comes first. Every Get
// must be paired with a Put (or Conn.Release); WithConn does the
// pairing for you.
func (p *Pool) Get(ctx context.Context) (*Conn, error) {
	p.log.Debug("connection requested")
	atomic.AddInt64(&p.stats.requestsNum, 1)

	var (
		conn *Conn
		w    *waitingClient
	)
	p.mu.Lock()
	if err := p.checkOpenLocked(); err != nil {
		p.mu.Unlock()
		atomic.AddInt64(&p.stats.requestsErrors, 1)
		return nil, &PoolError{Op: "get", Pool: p.cfg.Name, Err: err}
	}
	if len(p.idle) > 0 {
		conn = p.popIdleLocked()
	} else {
		if p.cfg.MaxWaiting > 0 && len(p.waiting) >= p.cfg.MaxWaiting {
			n := len(p.waiting)
			p.mu.Unlock()
			atomic.AddInt64(&p.stats.requestsErrors, 1)
			return nil, &PoolError{Op: "get", Pool: p.cfg.Name,
				Err: fmt.Errorf("%w: %d requests already waiting", ErrTooManyRequests, n)}
		}
		w = newWaitingClient()
		p.waiting = append(p.waiting, w)
		atomic.AddInt64(&p.stats.requestsQueued, 1)
		p.maybeGrowLocked()
	}
	p.mu.Unlock()

	// Wait outside the critical section, so only this client blocks.
	if w != nil {
		timeout := p.cfg.Timeout
		if deadline, ok := ctx.Deadline(); ok {
			if d := time.Until(deadline); d < timeout {
				timeout = d
			}
		}
		t0 := time.Now()
		var err error
		conn, err = w.wait(ctx, timeout)
		atomic.AddInt64(&p.stats.requestsWaitMS, time.Since(t0).Milliseconds())
		if err != nil {
			atomic.AddInt64(&p.stats.requestsErrors, 1)
			return nil, &PoolError{Op: "get", Pool: p.cfg.Name, Err: err}
		}
	}

	conn.pool = p
	p.log.Debug("connection given")
	return conn, nil
}

// Put returns a connection to the pool. Connections that don't come
// from this pool are refused with ErrNotFromPool. If the pool is
// closed the connection is closed instead of recycled.
func (p *Pool) Put(conn *Conn) error {
	if conn == nil || conn.pool != p {
		return &PoolError{Op: "put", Pool: p.cfg.Name, Err: ErrNotFromPool}
	}

	p.log.Debug("returning connection")
	if p.Closed() {
		conn.pool = nil
		p.closeConn(conn)
		return nil
	}

	// With a Reset hook set, the cleanup involves server round trips:
	// move it off the caller's path onto a worker.
	if p.cfg.Reset != nil {
		p.runTask(&returnConnection{conn: conn})
	} else {
		p.returnConnection(conn)
	}
	return nil
}

// WithConn acquires a connection, runs fn with it and returns it to
// the pool, accounting the usage time.
func (p *Pool) WithConn(ctx context.Context, fn func(conn *Conn) error) error {
	conn, err := p.Get(ctx)
	if err != nil {
		return err
	}
	t0 := time.Now()
	defer func() {
		atomic.AddInt64(&p.stats.usageMS, time.Since(t0).Milliseconds())
		_ = p.Put(conn)
	}()
	return fn(conn)
}

// Resize changes the pool size bounds at runtime, growing immediately
// if the new minimum demands it.
func (p *Pool) Resize(minSize, maxSize int) error {
	if err := validateSize(minSize, maxSize); err != nil {
		return err
	}

	p.mu.Lock()
	ngrow := minSize - p.minSize
	if ngrow < 0 {
		ngrow = 0
	}
	p.minSize = minSize
	p.maxSize = maxSize
	p.nconns += ngrow
	p.mu.Unlock()

	p.log.Info("pool resized", "min_size", minSize, "max_size", maxSize)
	for i := 0; i < ngrow; i++ {
		p.runTask(&addConnection{})
	}
	return nil
}

// Check verifies the connections currently idle in the pool,
// discarding and replacing the ones that fail the liveness probe.
func (p *Pool) Check(ctx context.Context) {
	p.mu.Lock()
	conns := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, conn := range conns {
		if err := p.checkConnection(ctx, conn.conn); err != nil {
			atomic.AddInt64(&p.stats.connectionsLost, 1)
			p.log.Warn("discarding broken connection", logger.ErrorField(err))
			p.closeConn(conn)
			p.runTask(&addConnection{})
		} else {
			p.addToPool(conn)
		}
	}
}

func (p *Pool) checkConnection(ctx context.Context, conn Connection) error {
	if p.cfg.Check != nil {
		return p.cfg.Check(ctx, conn)
	}
	if err := conn.Ping(ctx); err != nil {
		return err
	}
	if conn.TxStatus() == TxStatusInTransaction {
		return conn.Rollback(ctx)
	}
	return nil
}

// Close makes the pool unavailable to new clients: waiting clients
// fail with ErrPoolClosed, idle connections are closed, and the
// background goroutines are joined with the default bounded wait.
// Connections currently checked out are closed when returned.
func (p *Pool) Close() {
	p.CloseWithTimeout(defaultCloseTimeout)
}

// CloseWithTimeout is Close with an explicit bound on the join.
// Exceeding the bound is logged, not fatal. Closing an already-closed
// pool is a no-op.
func (p *Pool) CloseWithTimeout(timeout time.Duration) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	waiting := p.waiting
	p.waiting = nil
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	p.log.Debug("pool closed")

	// Stop the scheduler, then one worker per stop task.
	p.sched.enter(0, nil)
	for i := 0; i < p.cfg.NumWorkers; i++ {
		p.runTask(&stopWorker{})
	}

	// Signal the clients in the queue that business is closed, and
	// close the connections still in the pool.
	for _, w := range waiting {
		w.fail(ErrPoolClosed)
	}
	for _, conn := range idle {
		p.closeConn(conn)
	}

	if timeout <= 0 {
		return
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		p.log.Warn("couldn't stop pool goroutines within timeout", "timeout", timeout)
	}
}

// GetStats returns a point-in-time snapshot of the pool usage.
func (p *Pool) GetStats() map[string]int64 {
	return p.statsMap(false)
}

// PopStats returns the pool usage and resets the cumulative counters,
// so successive calls report per-interval numbers.
func (p *Pool) PopStats() map[string]int64 {
	return p.statsMap(true)
}

func (p *Pool) statsMap(reset bool) map[string]int64 {
	m := p.stats.snapshot(reset)
	p.mu.Lock()
	m[StatPoolMin] = int64(p.minSize)
	m[StatPoolMax] = int64(p.maxSize)
	m[StatPoolSize] = int64(p.nconns)
	m[StatPoolAvailable] = int64(len(p.idle))
	m[StatRequestsWaiting] = int64(len(p.waiting))
	p.mu.Unlock()
	return m
}

func (p *Pool) checkOpenLocked() error {
	if !p.closed {
		return nil
	}
	if p.opened {
		return fmt.Errorf("%w: already closed", ErrPoolClosed)
	}
	return fmt.Errorf("%w: not open yet", ErrPoolClosed)
}

// popIdleLocked takes the oldest idle connection and tracks the
// low-water mark for the shrink check.
func (p *Pool) popIdleLocked() *Conn {
	conn := p.idle[0]
	p.idle = p.idle[1:]
	if len(p.idle) < p.nconnsMin {
		p.nconnsMin = len(p.idle)
	}
	return conn
}

// maybeGrowLocked starts a grow chain if there is room for the pool to
// grow. The caller that triggers growth never waits for it: it may be
// served by another returned connection, or receive the grown one via
// hand-off.
func (p *Pool) maybeGrowLocked() {
	if p.nconns >= p.maxSize || p.growing {
		return
	}
	p.nconns++
	p.growing = true
	p.log.Info("growing pool", "size", p.nconns)
	p.runTask(&addConnection{growing: true})
}

// connect establishes and configures one new connection.
func (p *Pool) connect() (*Conn, error) {
	atomic.AddInt64(&p.stats.connectionsNum, 1)

	ctx := context.Background()
	if p.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ConnectTimeout)
		defer cancel()
	}

	t0 := time.Now()
	raw, err := p.cfg.Factory.Connect(ctx, p.cfg.ConnInfo)
	if err != nil {
		atomic.AddInt64(&p.stats.connectionsErrors, 1)
		return nil, err
	}
	atomic.AddInt64(&p.stats.connectionsMS, time.Since(t0).Milliseconds())

	conn := &Conn{conn: raw}
	if p.cfg.Configure != nil {
		if err := p.cfg.Configure(ctx, raw); err != nil {
			p.closeConn(conn)
			return nil, fmt.Errorf("configure hook: %w", err)
		}
		if status := raw.TxStatus(); status != TxStatusIdle {
			p.closeConn(conn)
			return nil, fmt.Errorf("connection left in status %s by configure hook: discarded", status)
		}
	}

	// The expiry gets some negative jitter to avoid mass reconnection.
	conn.expireAt = time.Now().Add(jitter(p.cfg.MaxLifetime, -0.05, 0.0))
	return conn, nil
}

// addConnection is the body of an AddConnection task: try to connect
// and hand the connection into the pool. On failure, reschedule a new
// attempt with backoff; once the reconnect timeout elapses, give up,
// permanently reduce the pool size by one and invoke the
// ReconnectFailed hook.
func (p *Pool) addConnection(attempt *connectionAttempt, growing bool) {
	now := time.Now()
	if attempt == nil {
		attempt = newConnectionAttempt(p.cfg.ReconnectTimeout)
	}

	conn, err := p.connect()
	if err != nil {
		p.log.Warn("error connecting", logger.ErrorField(err))
		if attempt.timeToGiveUp(now) {
			p.log.Warn("reconnection attempt failed", "after", p.cfg.ReconnectTimeout)
			p.mu.Lock()
			p.nconns--
			if growing {
				p.growing = false
			}
			p.mu.Unlock()
			if p.cfg.ReconnectFailed != nil {
				p.cfg.ReconnectFailed(p)
			}
		} else {
			attempt.updateDelay(now)
			p.scheduleTask(&addConnection{attempt: attempt, growing: growing}, attempt.delay)
		}
		return
	}

	p.log.Info("adding new connection to the pool")
	p.addToPool(conn)

	// Keep the grow chain going while clients are waiting and there is
	// still room, otherwise let another chain start later.
	if growing {
		p.mu.Lock()
		if p.nconns < p.maxSize && len(p.waiting) > 0 {
			p.nconns++
			p.log.Info("growing pool", "size", p.nconns)
			p.runTask(&addConnection{growing: true})
		} else {
			p.growing = false
		}
		p.mu.Unlock()
	}
}

// returnConnection brings a returned connection back to a clean state
// and hands it to a waiter or the idle queue, replacing it if it is
// broken or past its lifetime.
func (p *Pool) returnConnection(conn *Conn) {
	p.resetConnection(conn)

	if conn.conn.TxStatus() == TxStatusUnknown {
		atomic.AddInt64(&p.stats.returnsBad, 1)
		// Connection no longer in working state: create a new one.
		p.runTask(&addConnection{})
		p.log.Warn("discarding closed connection")
		return
	}
	if conn.expired(time.Now()) {
		p.runTask(&addConnection{})
		p.log.Info("discarding expired connection")
		p.closeConn(conn)
		return
	}

	p.addToPool(conn)
}

// resetConnection brings a connection to the idle state or closes it.
func (p *Pool) resetConnection(conn *Conn) {
	ctx := context.Background()
	switch status := conn.conn.TxStatus(); status {
	case TxStatusIdle:
	case TxStatusInTransaction, TxStatusInError:
		// Returned with a transaction open.
		p.log.Warn("rolling back returned connection")
		if err := conn.conn.Rollback(ctx); err != nil {
			p.log.Warn("rollback failed, discarding connection", logger.ErrorField(err))
			p.closeConn(conn)
		}
	case TxStatusActive:
		// Returned during an operation. Bad. Just close it.
		p.log.Warn("closing connection returned mid-operation")
		p.closeConn(conn)
	}

	if p.cfg.Reset != nil && conn.conn.TxStatus() != TxStatusUnknown {
		if err := p.cfg.Reset(ctx, conn.conn); err != nil {
			p.log.Warn("error resetting connection", logger.ErrorField(err))
			p.closeConn(conn)
			return
		}
		if status := conn.conn.TxStatus(); status != TxStatusIdle {
			p.log.Warn("reset hook left connection in non-idle status, discarding",
				"status", status.String())
			p.closeConn(conn)
		}
	}
}

// addToPool hands a connection to the oldest waiting client that still
// accepts it, or puts it onto the idle queue. Timed-out waiters are
// skipped lazily here rather than removed eagerly on timeout.
func (p *Pool) addToPool(conn *Conn) {
	conn.pool = nil

	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.waiting) > 0 {
		w := p.waiting[0]
		p.waiting = p.waiting[1:]
		if w.set(conn) {
			return
		}
	}
	p.idle = append(p.idle, conn)
	if p.fullCh != nil && len(p.idle) >= p.nconns {
		close(p.fullCh)
		p.fullCh = nil
	}
}

// shrink is the body of the periodic ShrinkPool task: reset the
// low-water mark and, if connections sat unused for the whole
// interval, drop one above MinSize.
func (p *Pool) shrink() {
	var toClose *Conn

	p.mu.Lock()
	nconnsMin := p.nconnsMin
	p.nconnsMin = len(p.idle)
	if p.nconns > p.minSize && nconnsMin > 0 && len(p.idle) > 0 {
		toClose = p.idle[0]
		p.idle = p.idle[1:]
		p.nconns--
		p.nconnsMin--
	}
	size := p.nconns
	p.mu.Unlock()

	if toClose != nil {
		p.log.Info("shrinking pool", "size", size,
			"unused", nconnsMin, "interval", p.cfg.MaxIdle)
		p.closeConn(toClose)
	}
}

func (p *Pool) closeConn(conn *Conn) {
	if err := conn.conn.Close(context.Background()); err != nil {
		p.log.Debug("error closing connection", logger.ErrorField(err))
	}
}
