package pool

import (
	"math/rand"
	"time"
)

const (
	initialDelay = 1 * time.Second
	delayJitter  = 0.1
	delayBackoff = 2.0
)

// connectionAttempt keeps the state of a repeated connection attempt
// with exponential backoff and a give-up deadline.
type connectionAttempt struct {
	reconnectTimeout time.Duration
	delay            time.Duration
	giveUpAt         time.Time
}

func newConnectionAttempt(reconnectTimeout time.Duration) *connectionAttempt {
	return &connectionAttempt{reconnectTimeout: reconnectTimeout}
}

// updateDelay computes how long to wait before the next attempt. The
// first failure gets the jittered initial delay and fixes the give-up
// deadline; later failures double the delay. The delay never overshoots
// the deadline.
func (a *connectionAttempt) updateDelay(now time.Time) {
	if a.delay == 0 {
		a.giveUpAt = now.Add(a.reconnectTimeout)
		a.delay = jitter(initialDelay, -delayJitter, delayJitter)
	} else {
		a.delay = time.Duration(float64(a.delay) * delayBackoff)
	}

	if remaining := a.giveUpAt.Sub(now); a.delay > remaining {
		if remaining < 0 {
			remaining = 0
		}
		a.delay = remaining
	}
}

// timeToGiveUp reports whether the attempt deadline has passed.
func (a *connectionAttempt) timeToGiveUp(now time.Time) bool {
	return !a.giveUpAt.IsZero() && !now.Before(a.giveUpAt)
}

// jitter spreads value by a random amount between minPC and maxPC
// percent.
func jitter(value time.Duration, minPC, maxPC float64) time.Duration {
	return time.Duration(float64(value) * (1.0 + (maxPC-minPC)*rand.Float64() + minPC))
}
