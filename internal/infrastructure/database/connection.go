package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/davidleathers/agent-trust-ledger/internal/infrastructure/config"
)

// ConnectionPool wraps the pgx pool with health checking and connection
// metrics. The ledger runs against a single primary: tail hydration needs
// read-your-own-writes, which a replica cannot promise.
type ConnectionPool struct {
	pool            *pgxpool.Pool
	logger          *zap.Logger
	healthCheckStop chan struct{}
	stopOnce        sync.Once
	metrics         *ConnectionMetrics
}

// ConnectionMetrics tracks pool health over time
type ConnectionMetrics struct {
	mu sync.RWMutex

	TotalConnections    int64
	ActiveConnections   int64
	IdleConnections     int64
	MaxLifetimeClosures int64

	HealthCheckFailures int64
	LastHealthCheck     time.Time
}

// MetricsSnapshot is a point-in-time copy of the connection metrics
type MetricsSnapshot struct {
	TotalConnections    int64
	ActiveConnections   int64
	IdleConnections     int64
	MaxLifetimeClosures int64
	HealthCheckFailures int64
	LastHealthCheck     time.Time
}

// NewConnectionPool creates a pgx pool for the entries store and verifies
// connectivity before returning.
func NewConnectionPool(cfg *config.DatabaseConfig, logger *zap.Logger) (*ConnectionPool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	p := &ConnectionPool{
		logger:          logger,
		healthCheckStop: make(chan struct{}),
		metrics:         &ConnectionMetrics{},
	}
	p.configurePool(poolConfig, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p.pool, err = pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := p.pool.Ping(ctx); err != nil {
		p.pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	go p.healthCheckRoutine()

	logger.Info("database connection pool initialized",
		zap.Int32("max_connections", poolConfig.MaxConns))

	return p, nil
}

func (p *ConnectionPool) configurePool(poolConfig *pgxpool.Config, cfg *config.DatabaseConfig) {
	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	} else {
		poolConfig.MaxConns = 25
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	} else {
		poolConfig.MinConns = 5
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	} else {
		poolConfig.MaxConnLifetime = 30 * time.Minute
	}
	poolConfig.MaxConnIdleTime = 10 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	poolConfig.ConnConfig.ConnectTimeout = 5 * time.Second

	// An acknowledged append must be durable, so synchronous commit stays on
	poolConfig.ConnConfig.RuntimeParams = map[string]string{
		"application_name":                    "agent_trust_ledger",
		"timezone":                            "UTC",
		"lock_timeout":                        "10s",
		"statement_timeout":                   "30s",
		"idle_in_transaction_session_timeout": "60s",
		"default_transaction_isolation":       "read committed",
		"synchronous_commit":                  "on",
	}

	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		p.metrics.mu.Lock()
		p.metrics.TotalConnections++
		p.metrics.mu.Unlock()
		return nil
	}
}

// Pool exposes the underlying pgx pool for repositories
func (p *ConnectionPool) Pool() *pgxpool.Pool {
	return p.pool
}

// Stat returns the live pool statistics
func (p *ConnectionPool) Stat() *pgxpool.Stat {
	return p.pool.Stat()
}

// Metrics returns a snapshot of the collected connection metrics
func (p *ConnectionPool) Metrics() MetricsSnapshot {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()

	return MetricsSnapshot{
		TotalConnections:    p.metrics.TotalConnections,
		ActiveConnections:   p.metrics.ActiveConnections,
		IdleConnections:     p.metrics.IdleConnections,
		MaxLifetimeClosures: p.metrics.MaxLifetimeClosures,
		HealthCheckFailures: p.metrics.HealthCheckFailures,
		LastHealthCheck:     p.metrics.LastHealthCheck,
	}
}

func (p *ConnectionPool) healthCheckRoutine() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.performHealthCheck()
		case <-p.healthCheckStop:
			return
		}
	}
}

func (p *ConnectionPool) performHealthCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.pool.Ping(ctx); err != nil {
		p.logger.Error("database health check failed", zap.Error(err))
		p.metrics.mu.Lock()
		p.metrics.HealthCheckFailures++
		p.metrics.mu.Unlock()
	}

	stats := p.pool.Stat()
	p.metrics.mu.Lock()
	p.metrics.ActiveConnections = int64(stats.AcquiredConns())
	p.metrics.IdleConnections = int64(stats.IdleConns())
	p.metrics.MaxLifetimeClosures = stats.MaxLifetimeDestroyCount()
	p.metrics.LastHealthCheck = time.Now()
	p.metrics.mu.Unlock()
}

// Close stops the health checker and releases all connections
func (p *ConnectionPool) Close() error {
	p.stopOnce.Do(func() { close(p.healthCheckStop) })
	p.pool.Close()
	p.logger.Info("database connection pool closed")
	return nil
}
