package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// StoreProber exposes the store's own view of its connection health.
type StoreProber interface {
	IsHealthy() bool
}

// MonitorConfig contains configuration for the store health monitor.
type MonitorConfig struct {
	// Interval between health checks
	CheckInterval time.Duration
	// Number of consecutive failures before marking unhealthy
	FailureThreshold int32
	// Logger for health check events
	Logger *slog.Logger
}

// MonitorStats contains statistics about the health monitor.
type MonitorStats struct {
	LastCheckTime       time.Time `json:"last_check_time"`
	ConsecutiveFailures int32     `json:"consecutive_failures"`
	IsHealthy           bool      `json:"is_healthy"`
}

// Monitor runs periodic store health checks and updates a Checker.
// Circuit breaker semantics: the cached flag flips to unhealthy only
// after FailureThreshold consecutive failures, and flips back on the
// first success.
type Monitor struct {
	config              *MonitorConfig
	checker             *Checker
	store               StoreProber
	consecutiveFailures int32
	lastCheckTime       time.Time
	mu                  sync.RWMutex
}

// NewMonitor creates a store health monitor.
func NewMonitor(cfg *MonitorConfig, checker *Checker, store StoreProber) *Monitor {
	if cfg == nil {
		cfg = &MonitorConfig{}
	}
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Monitor{
		config:        cfg,
		checker:       checker,
		store:         store,
		lastCheckTime: time.Now().UTC(),
	}
}

// Start begins the monitoring loop. Blocks until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	m.config.Logger.Info("Store health monitor started",
		"check_interval", m.config.CheckInterval,
		"failure_threshold", m.config.FailureThreshold,
	)

	for {
		select {
		case <-ctx.Done():
			m.config.Logger.Info("Store health monitor stopped")
			return
		case <-ticker.C:
			m.checkHealth()
		}
	}
}

// checkHealth performs a single check and updates the checker.
func (m *Monitor) checkHealth() {
	now := time.Now().UTC()
	isHealthy := m.store.IsHealthy()
	wasHealthy := m.checker.IsHealthy()

	if isHealthy {
		atomic.StoreInt32(&m.consecutiveFailures, 0)

		if !wasHealthy {
			m.config.Logger.Warn("Store recovered (state: unhealthy -> healthy)",
				"timestamp", now.Format(time.RFC3339),
			)
		}
		m.checker.SetHealthy(true)
	} else {
		failures := atomic.AddInt32(&m.consecutiveFailures, 1)

		if failures == 1 {
			m.config.Logger.Warn("Store health check failed",
				"failure_count", failures,
				"threshold", m.config.FailureThreshold,
				"impact", fmt.Sprintf(
					"ingestion will return 503 after %d consecutive failures",
					m.config.FailureThreshold,
				),
			)
		} else if failures%3 == 0 {
			m.config.Logger.Debug("Store health check still failing",
				"failure_count", failures,
				"threshold", m.config.FailureThreshold,
			)
		}

		if failures >= m.config.FailureThreshold && wasHealthy {
			m.config.Logger.Error("Store circuit breaker engaged (state: healthy -> unhealthy)",
				"consecutive_failures", failures,
				"threshold", m.config.FailureThreshold,
				"recovery", fmt.Sprintf("retrying every %s", m.config.CheckInterval),
			)
			m.checker.SetHealthy(false)
		}
	}

	m.mu.Lock()
	m.lastCheckTime = now
	m.mu.Unlock()
}

// Stats returns current monitor statistics.
func (m *Monitor) Stats() MonitorStats {
	m.mu.RLock()
	lastCheck := m.lastCheckTime
	m.mu.RUnlock()

	return MonitorStats{
		LastCheckTime:       lastCheck,
		ConsecutiveFailures: atomic.LoadInt32(&m.consecutiveFailures),
		IsHealthy:           m.checker.IsHealthy(),
	}
}
