package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitingClientSetThenWait(t *testing.T) {
	w := newWaitingClient()
	conn := &Conn{conn: newMockConn()}

	require.True(t, w.set(conn))

	got, err := w.wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Same(t, conn, got)
}

func TestWaitingClientFail(t *testing.T) {
	w := newWaitingClient()

	require.True(t, w.fail(errMockBroken))

	_, err := w.wait(context.Background(), time.Second)
	assert.ErrorIs(t, err, errMockBroken)
}

func TestWaitingClientResolvesExactlyOnce(t *testing.T) {
	w := newWaitingClient()
	conn := &Conn{conn: newMockConn()}

	require.True(t, w.set(conn))
	assert.False(t, w.set(&Conn{conn: newMockConn()}))
	assert.False(t, w.fail(errMockBroken))

	got, err := w.wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Same(t, conn, got)
}

func TestWaitingClientTimeout(t *testing.T) {
	w := newWaitingClient()

	t0 := time.Now()
	_, err := w.wait(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrPoolTimeout)
	assert.GreaterOrEqual(t, time.Since(t0), 50*time.Millisecond)

	// the hand-off loses the race against the timeout
	assert.False(t, w.set(&Conn{conn: newMockConn()}))
}

func TestWaitingClientContextCancel(t *testing.T) {
	w := newWaitingClient()
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := w.wait(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, w.set(&Conn{conn: newMockConn()}))
}

func TestWaitingClientConcurrentHandOff(t *testing.T) {
	w := newWaitingClient()
	conn := &Conn{conn: newMockConn()}

	go func() {
		time.Sleep(20 * time.Millisecond)
		w.set(conn)
	}()

	got, err := w.wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Same(t, conn, got)
}
