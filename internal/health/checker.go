package health

import (
	"sync/atomic"
)

// Checker provides cached store health status. Updated by the periodic
// monitor goroutine; atomic operations keep reads lock-free so the hot
// ingest path can consult it on every request.
type Checker struct {
	// 1 = healthy, 0 = unhealthy
	healthy *int32
}

// NewChecker creates a checker with initial healthy state.
func NewChecker() *Checker {
	healthy := int32(1)
	return &Checker{healthy: &healthy}
}

// IsHealthy returns the cached health status without performing I/O.
func (c *Checker) IsHealthy() bool {
	if c == nil || c.healthy == nil {
		// No checker provided, default to healthy
		return true
	}
	return atomic.LoadInt32(c.healthy) == 1
}

// SetHealthy updates the health status atomically. Called by the
// monitor goroutine.
func (c *Checker) SetHealthy(healthy bool) {
	if c == nil || c.healthy == nil {
		return
	}

	value := int32(0)
	if healthy {
		value = 1
	}
	atomic.StoreInt32(c.healthy, value)
}
