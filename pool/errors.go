package pool

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolClosed is reported for operations on a closed or
	// not-yet-open pool.
	ErrPoolClosed = errors.New("pool is closed")
	// ErrPoolTimeout is reported when the pool couldn't provide a
	// connection within the acquire wait budget.
	ErrPoolTimeout = errors.New("timed out waiting for a connection")
	// ErrTooManyRequests is reported when the waiting queue has
	// reached its backpressure cap.
	ErrTooManyRequests = errors.New("too many requests waiting for a connection")
	// ErrNotFromPool is reported when a returned connection does not
	// belong to the pool.
	ErrNotFromPool = errors.New("connection does not come from this pool")
)

// PoolError wraps errors raised by pool operations with the operation
// name and the pool name.
type PoolError struct {
	Op   string
	Pool string
	Err  error
}

func (e *PoolError) Error() string {
	return fmt.Sprintf("pool %q: %s: %v", e.Pool, e.Op, e.Err)
}

func (e *PoolError) Unwrap() error {
	return e.Err
}

// IsPoolError checks if an error comes from a pool operation.
func IsPoolError(err error) bool {
	var target *PoolError
	return errors.As(err, &target)
}
