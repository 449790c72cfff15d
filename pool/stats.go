package pool

import "sync/atomic"

// Keys reported by GetStats and PopStats.
const (
	StatPoolMin           = "pool_min"
	StatPoolMax           = "pool_max"
	StatPoolSize          = "pool_size"
	StatPoolAvailable     = "pool_available"
	StatRequestsWaiting   = "requests_waiting"
	StatRequestsNum       = "requests_num"
	StatRequestsQueued    = "requests_queued"
	StatRequestsErrors    = "requests_errors"
	StatRequestsWaitMS    = "requests_wait_ms"
	StatUsageMS           = "usage_ms"
	StatReturnsBad        = "returns_bad"
	StatConnectionsNum    = "connections_num"
	StatConnectionsMS     = "connections_ms"
	StatConnectionsErrors = "connections_errors"
	StatConnectionsLost   = "connections_lost"
)

// poolStats holds the cumulative pool counters. All fields are
// manipulated atomically; PopStats swaps each of them back to zero.
type poolStats struct {
	requestsNum       int64 // connections requested
	requestsQueued    int64 // requests that had to wait
	requestsErrors    int64 // requests failed (timeout, closed, backpressure)
	requestsWaitMS    int64 // total time spent waiting
	usageMS           int64 // total time connections were in use (WithConn)
	returnsBad        int64 // connections returned broken
	connectionsNum    int64 // connection attempts
	connectionsMS     int64 // total time spent connecting
	connectionsErrors int64 // failed connection attempts
	connectionsLost   int64 // connections found dead by Check
}

func (s *poolStats) snapshot(reset bool) map[string]int64 {
	load := func(c *int64) int64 {
		if reset {
			return atomic.SwapInt64(c, 0)
		}
		return atomic.LoadInt64(c)
	}
	return map[string]int64{
		StatRequestsNum:       load(&s.requestsNum),
		StatRequestsQueued:    load(&s.requestsQueued),
		StatRequestsErrors:    load(&s.requestsErrors),
		StatRequestsWaitMS:    load(&s.requestsWaitMS),
		StatUsageMS:           load(&s.usageMS),
		StatReturnsBad:        load(&s.returnsBad),
		StatConnectionsNum:    load(&s.connectionsNum),
		StatConnectionsMS:     load(&s.connectionsMS),
		StatConnectionsErrors: load(&s.connectionsErrors),
		StatConnectionsLost:   load(&s.connectionsLost),
	}
}
