package pool

import (
	"context"
	"time"
)

// TxStatus reports the transaction state of a server connection.
type TxStatus int

const (
	// TxStatusIdle means no transaction is in progress.
	TxStatusIdle TxStatus = iota
	// TxStatusInTransaction means a transaction is open.
	TxStatusInTransaction
	// TxStatusInError means a transaction is open and failed.
	TxStatusInError
	// TxStatusActive means an operation is in flight.
	TxStatusActive
	// TxStatusUnknown means the state cannot be determined, typically
	// because the connection is broken or closed.
	TxStatusUnknown
)

func (s TxStatus) String() string {
	switch s {
	case TxStatusIdle:
		return "idle"
	case TxStatusInTransaction:
		return "in_transaction"
	case TxStatusInError:
		return "in_error"
	case TxStatusActive:
		return "active"
	default:
		return "unknown"
	}
}

// Connection is the narrow contract the pool requires from a driver
// connection. The pool manages connections, not queries: everything
// else the driver offers is out of its sight.
type Connection interface {
	Close(ctx context.Context) error
	Rollback(ctx context.Context) error
	Ping(ctx context.Context) error
	TxStatus() TxStatus
}

// ConnectionFactory creates new server connections.
type ConnectionFactory interface {
	Connect(ctx context.Context, connInfo string) (Connection, error)
}

// FactoryFunc adapts a function to the ConnectionFactory interface.
type FactoryFunc func(ctx context.Context, connInfo string) (Connection, error)

// Connect calls f.
func (f FactoryFunc) Connect(ctx context.Context, connInfo string) (Connection, error) {
	return f(ctx, connInfo)
}

// Conn is a connection checked out of a Pool. It belongs to exactly
// one of the pool's idle queue, one caller, or one in-flight
// maintenance task at any instant.
type Conn struct {
	conn Connection
	// pool is set while the connection is checked out and nil while it
	// sits in the idle queue; Put uses it to tell foreign and
	// already-returned connections apart.
	pool     *Pool
	expireAt time.Time
}

// Connection returns the underlying driver connection.
func (c *Conn) Connection() Connection {
	return c.conn
}

// TxStatus reports the transaction state of the underlying connection.
func (c *Conn) TxStatus() TxStatus {
	return c.conn.TxStatus()
}

// Ping probes the server over the underlying connection.
func (c *Conn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Release returns the connection to its pool. It is equivalent to
// calling Put on the owning pool.
func (c *Conn) Release() error {
	p := c.pool
	if p == nil {
		return &PoolError{Op: "release", Err: ErrNotFromPool}
	}
	return p.Put(c)
}

func (c *Conn) expired(now time.Time) bool {
	return !c.expireAt.IsZero() && !now.Before(c.expireAt)
}
