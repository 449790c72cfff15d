package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttemptFirstDelayIsJitteredInitial(t *testing.T) {
	a := newConnectionAttempt(5 * time.Minute)
	now := time.Now()

	a.updateDelay(now)
	assert.GreaterOrEqual(t, a.delay, time.Duration(float64(initialDelay)*(1-delayJitter)))
	assert.LessOrEqual(t, a.delay, time.Duration(float64(initialDelay)*(1+delayJitter)))
	assert.Equal(t, now.Add(5*time.Minute), a.giveUpAt)
}

func TestAttemptDelaysAreNonDecreasingAndBounded(t *testing.T) {
	a := newConnectionAttempt(time.Minute)
	now := time.Now()

	var prev time.Duration
	for i := 0; i < 10 && !a.timeToGiveUp(now); i++ {
		a.updateDelay(now)
		require.GreaterOrEqual(t, a.delay, prev)
		// the next attempt never overshoots the give-up deadline
		require.False(t, now.Add(a.delay).After(a.giveUpAt))
		prev = a.delay
		now = now.Add(a.delay)
	}
}

func TestAttemptDelayClampedToDeadline(t *testing.T) {
	a := newConnectionAttempt(500 * time.Millisecond)
	now := time.Now()

	a.updateDelay(now)
	assert.Equal(t, 500*time.Millisecond, a.delay)
	assert.False(t, a.timeToGiveUp(now))
	assert.True(t, a.timeToGiveUp(now.Add(a.delay)))
}

func TestAttemptTimeToGiveUp(t *testing.T) {
	a := newConnectionAttempt(time.Minute)
	now := time.Now()

	// no failure recorded yet
	assert.False(t, a.timeToGiveUp(now))

	a.updateDelay(now)
	assert.False(t, a.timeToGiveUp(now))
	assert.False(t, a.timeToGiveUp(now.Add(time.Minute-time.Millisecond)))
	assert.True(t, a.timeToGiveUp(now.Add(time.Minute)))
	assert.True(t, a.timeToGiveUp(now.Add(2*time.Minute)))
}

func TestJitterStaysWithinBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		v := jitter(time.Second, -0.1, 0.1)
		require.GreaterOrEqual(t, v, 900*time.Millisecond)
		require.LessOrEqual(t, v, 1100*time.Millisecond)
	}
	for i := 0; i < 100; i++ {
		v := jitter(time.Hour, -0.05, 0.0)
		require.GreaterOrEqual(t, v, time.Duration(float64(time.Hour)*0.95))
		require.LessOrEqual(t, v, time.Hour)
	}
}
