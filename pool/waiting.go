package pool

import (
	"context"
	"sync"
	"time"
)

// waitingClient is a position in the queue of callers waiting for a
// connection.
//
// It behaves like a one-shot future, with one twist: the resolver must
// learn whether the waiter accepted its value. Without that, the pool
// could hand a connection to a client that already timed out, and the
// connection would be lost. The hand-off loop in addToPool uses the
// return value of set to retry with the next waiter instead.
type waitingClient struct {
	mu   sync.Mutex
	conn *Conn
	err  error
	done chan struct{}
}

func newWaitingClient() *waitingClient {
	return &waitingClient{done: make(chan struct{})}
}

// wait blocks until the client is resolved, the timeout elapses, or
// ctx is cancelled. A timeout resolves the client locally with
// ErrPoolTimeout, unless a connection was handed in concurrently; in
// that case the connection won and is consumed.
func (w *waitingClient) wait(ctx context.Context, timeout time.Duration) (*Conn, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.done:
	case <-ctx.Done():
		w.resolveLocal(ctx.Err())
	case <-timer.C:
		w.resolveLocal(ErrPoolTimeout)
	}

	w.mu.Lock()
	conn, err := w.conn, w.err
	w.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// set hands conn to the waiting client. It reports whether the client
// accepted it; false means the client already timed out or failed.
func (w *waitingClient) set(conn *Conn) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil || w.err != nil {
		return false
	}
	w.conn = conn
	close(w.done)
	return true
}

// fail resolves the waiting client with an error. It reports whether
// the client accepted it.
func (w *waitingClient) fail(err error) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil || w.err != nil {
		return false
	}
	w.err = err
	close(w.done)
	return true
}

func (w *waitingClient) resolveLocal(err error) {
	w.mu.Lock()
	if w.conn == nil && w.err == nil {
		w.err = err
		close(w.done)
	}
	w.mu.Unlock()
}
