package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeProber struct {
	healthy bool
}

func (p *fakeProber) IsHealthy() bool { return p.healthy }

func TestChecker_DefaultsHealthy(t *testing.T) {
	c := NewChecker()
	assert.True(t, c.IsHealthy())

	c.SetHealthy(false)
	assert.False(t, c.IsHealthy())

	c.SetHealthy(true)
	assert.True(t, c.IsHealthy())
}

func TestChecker_NilIsHealthy(t *testing.T) {
	var c *Checker
	assert.True(t, c.IsHealthy())
	c.SetHealthy(false) // must not panic
}

func TestMonitor_CircuitBreakerEngagesAfterThreshold(t *testing.T) {
	checker := NewChecker()
	prober := &fakeProber{healthy: false}
	m := NewMonitor(&MonitorConfig{FailureThreshold: 3}, checker, prober)

	m.checkHealth()
	assert.True(t, checker.IsHealthy(), "one failure must not trip the breaker")

	m.checkHealth()
	assert.True(t, checker.IsHealthy())

	m.checkHealth()
	assert.False(t, checker.IsHealthy(), "third consecutive failure trips the breaker")
}

func TestMonitor_RecoveryResetsOnFirstSuccess(t *testing.T) {
	checker := NewChecker()
	prober := &fakeProber{healthy: false}
	m := NewMonitor(&MonitorConfig{FailureThreshold: 2}, checker, prober)

	m.checkHealth()
	m.checkHealth()
	assert.False(t, checker.IsHealthy())

	prober.healthy = true
	m.checkHealth()
	assert.True(t, checker.IsHealthy())
	assert.Zero(t, m.Stats().ConsecutiveFailures)
}

func TestMonitor_IntermittentFailuresDoNotAccumulate(t *testing.T) {
	checker := NewChecker()
	prober := &fakeProber{healthy: false}
	m := NewMonitor(&MonitorConfig{FailureThreshold: 3}, checker, prober)

	m.checkHealth()
	m.checkHealth()

	prober.healthy = true
	m.checkHealth()

	prober.healthy = false
	m.checkHealth()
	m.checkHealth()
	assert.True(t, checker.IsHealthy(), "counter must reset on success in between")
}

func TestMonitor_Stats(t *testing.T) {
	checker := NewChecker()
	m := NewMonitor(nil, checker, &fakeProber{healthy: true})

	before := time.Now().UTC()
	m.checkHealth()

	stats := m.Stats()
	assert.True(t, stats.IsHealthy)
	assert.Zero(t, stats.ConsecutiveFailures)
	assert.False(t, stats.LastCheckTime.Before(before))
}
