package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/weatherwise/telemetry/internal/store/queries"
	"github.com/weatherwise/telemetry/internal/utils"
)

// Pool manages PostgreSQL connections with auto-reconnect.
type Pool struct {
	pool   *pgxpool.Pool
	config *Config
	logger *slog.Logger

	// Health status
	healthy atomic.Bool

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	// Reconnection
	reconnectMu    sync.Mutex
	lastReconnect  time.Time
	reconnectDelay time.Duration
}

// NewPool connects to the database and starts the background health check.
func NewPool(cfg *Config) (*Pool, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		config:         cfg,
		logger:         cfg.Logger,
		ctx:            ctx,
		cancel:         cancel,
		reconnectDelay: time.Second,
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("store: invalid database URL: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.HealthCheckPeriod = cfg.HealthCheckInterval
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	poolConfig.ConnConfig.OnNotice = func(c *pgconn.PgConn, n *pgconn.Notice) {
		p.logger.Debug("PostgreSQL notice",
			"severity", n.Severity,
			"message", n.Message,
		)
	}

	connectCtx, connectCancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer connectCancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("store: failed to connect: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		cancel()
		return nil, fmt.Errorf("store: ping failed: %w", err)
	}

	p.pool = pool
	p.healthy.Store(true)

	p.wg.Add(1)
	go p.healthCheckLoop()

	p.logger.Info("Telemetry store connection pool initialized",
		"max_conns", cfg.MaxConns,
		"min_conns", cfg.MinConns,
		"database", maskDatabaseURL(cfg.DatabaseURL),
	)

	return p, nil
}

// Acquire gets a connection from the pool.
func (p *Pool) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	if p.closed.Load() {
		return nil, ErrConnectionFailed
	}
	if !p.healthy.Load() {
		return nil, ErrConnectionFailed
	}
	return p.pool.Acquire(ctx)
}

// Pool returns the underlying pgxpool.Pool.
func (p *Pool) Pool() *pgxpool.Pool {
	return p.pool
}

// IsHealthy returns connection health status.
func (p *Pool) IsHealthy() bool {
	return p.healthy.Load()
}

// Stats returns pool statistics.
func (p *Pool) Stats() *pgxpool.Stat {
	if p.pool == nil {
		return nil
	}
	return p.pool.Stat()
}

// Close closes the connection pool.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return // Already closed
	}

	p.cancel()

	doneChan := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(doneChan)
	}()

	select {
	case <-doneChan:
	case <-time.After(10 * time.Second):
		p.logger.Warn("Health check goroutine did not stop within timeout")
	}

	if p.pool != nil {
		p.pool.Close()
	}

	p.logger.Info("Telemetry store connection pool closed")
}

// healthCheckLoop periodically checks connection health.
func (p *Pool) healthCheckLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.performHealthCheck()
		}
	}
}

func (p *Pool) performHealthCheck() {
	ctx, cancel := context.WithTimeout(p.ctx, 5*time.Second)
	defer cancel()

	var result int
	err := p.pool.QueryRow(ctx, queries.QueryHealthCheck).Scan(&result)

	if err != nil {
		wasHealthy := p.healthy.Swap(false)
		if wasHealthy {
			p.logger.Error("Telemetry store health check failed",
				"error", err,
			)
		}
		p.tryReconnect()
	} else {
		wasUnhealthy := !p.healthy.Swap(true)
		if wasUnhealthy {
			p.logger.Info("Telemetry store connection restored")
			p.reconnectDelay = time.Second
		}
	}
}

// tryReconnect attempts to restore connection with exponential backoff.
func (p *Pool) tryReconnect() {
	p.reconnectMu.Lock()
	defer p.reconnectMu.Unlock()

	if time.Since(p.lastReconnect) < p.reconnectDelay {
		return
	}

	p.logger.Info("Attempting to reconnect to telemetry store",
		"delay", p.reconnectDelay,
	)

	ctx, cancel := context.WithTimeout(p.ctx, p.config.ConnectTimeout)
	defer cancel()

	err := p.pool.Ping(ctx)
	p.lastReconnect = utils.NowUTC()

	if err != nil {
		// Max backoff 30s
		p.reconnectDelay = minDuration(p.reconnectDelay*2, 30*time.Second)
		p.logger.Error("Reconnection failed",
			"error", err,
			"next_delay", p.reconnectDelay,
		)
	} else {
		p.healthy.Store(true)
		p.reconnectDelay = time.Second
		p.logger.Info("Reconnection successful")
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
