// Package pgxconn implements the pool's Connection contract on top of
// the pgx PostgreSQL driver.
package pgxconn

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/guileen/pgpool/pool"
)

// Conn adapts a *pgx.Conn to the pool.Connection contract. The full
// pgx API stays available through the embedded connection.
type Conn struct {
	*pgx.Conn
}

var _ pool.Connection = (*Conn)(nil)

// Connect establishes a new PostgreSQL connection.
func Connect(ctx context.Context, connInfo string) (*Conn, error) {
	c, err := pgx.Connect(ctx, connInfo)
	if err != nil {
		return nil, err
	}
	return &Conn{Conn: c}, nil
}

// TxStatus maps the server-reported transaction status to the pool's
// view of it.
func (c *Conn) TxStatus() pool.TxStatus {
	if c.Conn.IsClosed() {
		return pool.TxStatusUnknown
	}
	if c.Conn.PgConn().IsBusy() {
		return pool.TxStatusActive
	}
	switch c.Conn.PgConn().TxStatus() {
	case 'I':
		return pool.TxStatusIdle
	case 'T':
		return pool.TxStatusInTransaction
	case 'E':
		return pool.TxStatusInError
	default:
		return pool.TxStatusUnknown
	}
}

// Rollback aborts any transaction open on the connection.
func (c *Conn) Rollback(ctx context.Context) error {
	_, err := c.Conn.Exec(ctx, "rollback")
	return err
}

// Factory creates pgx-backed connections for a pool.
type Factory struct{}

// NewFactory returns a pool.ConnectionFactory backed by pgx.
func NewFactory() *Factory {
	return &Factory{}
}

// Connect implements pool.ConnectionFactory.
func (f *Factory) Connect(ctx context.Context, connInfo string) (pool.Connection, error) {
	return Connect(ctx, connInfo)
}

// NewPool creates an open connection pool backed by pgx connections.
func NewPool(connInfo string, cfg pool.Config) (*pool.Pool, error) {
	cfg.ConnInfo = connInfo
	cfg.Factory = NewFactory()
	return pool.New(cfg)
}

// Unwrap returns the pgx connection behind a pooled connection, or nil
// if the pooled connection is not pgx-backed.
func Unwrap(c *pool.Conn) *pgx.Conn {
	if pc, ok := c.Connection().(*Conn); ok {
		return pc.Conn
	}
	return nil
}
