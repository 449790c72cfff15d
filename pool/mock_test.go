package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// mockConn implements Connection for tests. The transaction status can
// be forced to exercise the return-path cleanup.
type mockConn struct {
	mu        sync.Mutex
	status    TxStatus
	closed    bool
	rollbacks int
	pings     int
	pingErr   error
	rollErr   error
}

func newMockConn() *mockConn {
	return &mockConn{status: TxStatusIdle}
}

func (c *mockConn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.status = TxStatusUnknown
	return nil
}

func (c *mockConn) Rollback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollbacks++
	if c.rollErr != nil {
		return c.rollErr
	}
	c.status = TxStatusIdle
	return nil
}

func (c *mockConn) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return c.pingErr
}

func (c *mockConn) TxStatus() TxStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *mockConn) setStatus(s TxStatus) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *mockConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// mockFactory fails the first failures connection attempts, then
// succeeds, optionally taking connectDelay per attempt.
type mockFactory struct {
	mu           sync.Mutex
	failures     int
	attempts     int
	connectDelay time.Duration
	conns        []*mockConn
}

func (f *mockFactory) Connect(ctx context.Context, connInfo string) (Connection, error) {
	f.mu.Lock()
	f.attempts++
	n := f.attempts
	delay := f.connectDelay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n <= f.failures {
		return nil, fmt.Errorf("mock connection failure %d", n)
	}

	c := newMockConn()
	f.mu.Lock()
	f.conns = append(f.conns, c)
	f.mu.Unlock()
	return c, nil
}

func (f *mockFactory) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *mockFactory) connCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

var errMockBroken = errors.New("mock connection broken")
