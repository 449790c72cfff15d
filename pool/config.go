package pool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// Defaults applied for zero-valued Config fields.
const (
	DefaultMinSize          = 4
	DefaultTimeout          = 30 * time.Second
	DefaultMaxLifetime      = time.Hour
	DefaultMaxIdle          = 10 * time.Minute
	DefaultReconnectTimeout = 5 * time.Minute
	DefaultNumWorkers       = 3

	defaultCloseTimeout = 5 * time.Second
)

// numPool generates process-unique pool names.
var numPool int64

// Config describes a Pool. The zero value of every optional field
// means "use the default".
type Config struct {
	// ConnInfo is passed verbatim to the factory on every connection
	// attempt.
	ConnInfo string
	// Factory creates server connections. Required.
	Factory ConnectionFactory

	// MinSize and MaxSize bound the pool. MaxSize defaults to MinSize;
	// MinSize defaults to 4 when both are zero.
	MinSize int
	MaxSize int
	// Name identifies the pool in logs and errors. Defaults to a
	// process-unique generated name.
	Name string
	// Timeout is the default wait budget of Get.
	Timeout time.Duration
	// MaxWaiting caps the number of requests queued for a connection.
	// Zero means unbounded.
	MaxWaiting int
	// MaxLifetime is the age past which a returned connection is
	// replaced instead of recycled. Each connection gets its own
	// deadline with a little negative jitter so a full pool doesn't
	// reconnect all at once.
	MaxLifetime time.Duration
	// MaxIdle is the interval of the periodic shrink check.
	MaxIdle time.Duration
	// ReconnectTimeout is how long a chain of failed connection
	// attempts keeps retrying before giving up.
	ReconnectTimeout time.Duration
	// NumWorkers is the number of background maintenance goroutines.
	NumWorkers int
	// ConnectTimeout bounds a single connection attempt. Zero means
	// no bound beyond what the factory imposes.
	ConnectTimeout time.Duration

	// Configure runs once per physical connection, right after it is
	// established and before its first hand-out. An error, or a
	// connection left in a non-idle state, discards the connection.
	Configure func(ctx context.Context, conn Connection) error
	// Reset runs on every return to the pool, after the built-in
	// transaction cleanup. An error discards the connection.
	Reset func(ctx context.Context, conn Connection) error
	// Check is the liveness probe used by Pool.Check. Defaults to a
	// ping, plus a rollback for connections left mid-transaction.
	Check func(ctx context.Context, conn Connection) error
	// ReconnectFailed is invoked when a reconnection chain gives up
	// and the pool capacity permanently shrinks by one.
	ReconnectFailed func(p *Pool)
}

// withDefaults validates cfg and fills in the defaults.
func (c Config) withDefaults() (Config, error) {
	if c.Factory == nil {
		return c, errors.New("pool: config requires a connection factory")
	}

	if c.MinSize == 0 && c.MaxSize == 0 {
		c.MinSize = DefaultMinSize
	}
	if c.MaxSize == 0 {
		c.MaxSize = c.MinSize
	}
	if err := validateSize(c.MinSize, c.MaxSize); err != nil {
		return c, err
	}

	if c.Name == "" {
		c.Name = fmt.Sprintf("pool-%d", atomic.AddInt64(&numPool, 1))
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxLifetime == 0 {
		c.MaxLifetime = DefaultMaxLifetime
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = DefaultMaxIdle
	}
	if c.ReconnectTimeout == 0 {
		c.ReconnectTimeout = DefaultReconnectTimeout
	}
	if c.NumWorkers == 0 {
		c.NumWorkers = DefaultNumWorkers
	}
	if c.NumWorkers < 1 {
		return c, errors.New("pool: num workers must be at least 1")
	}
	if c.MaxWaiting < 0 {
		return c, errors.New("pool: max waiting cannot be negative")
	}
	return c, nil
}

func validateSize(minSize, maxSize int) error {
	if minSize < 0 {
		return errors.New("pool: min size cannot be negative")
	}
	if maxSize < minSize {
		return errors.New("pool: max size must be greater or equal than min size")
	}
	if minSize == 0 && maxSize == 0 {
		return errors.New("pool: if min size is 0 max size must be greater than 0")
	}
	return nil
}
