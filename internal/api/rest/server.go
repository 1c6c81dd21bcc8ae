package rest

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidleathers/agent-trust-ledger/internal/domain/safety"
	"github.com/davidleathers/agent-trust-ledger/internal/infrastructure/cache"
	"github.com/davidleathers/agent-trust-ledger/internal/infrastructure/config"
	"github.com/davidleathers/agent-trust-ledger/internal/infrastructure/database"
	"github.com/davidleathers/agent-trust-ledger/internal/infrastructure/telemetry"
	"github.com/davidleathers/agent-trust-ledger/internal/metrics"
	"github.com/davidleathers/agent-trust-ledger/internal/service/insights"
	"github.com/davidleathers/agent-trust-ledger/internal/service/ledger"
)

// Server owns the HTTP surface and the wiring behind it
type Server struct {
	config *config.Config

	// slog carries the request path, zap the infrastructure below it
	logger *slog.Logger
	zlog   *zap.Logger

	httpServer *http.Server

	pool        *database.ConnectionPool
	redisClient *redis.Client
	registry    *metrics.Registry

	ledger   *ledger.Service
	insights *insights.Service

	auth   *AuthMiddleware
	hub    *EntryStreamHub
	health *HealthService

	apiLimiter   *RateLimiter
	writeLimiter *RedisRateLimiter

	done chan struct{}
}

// NewServer wires the full stack from configuration: stores, caches,
// services and the route table.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	logger, err := telemetry.SetupLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("setting up logger: %w", err)
	}
	zlog, err := telemetry.NewZapLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("setting up zap logger: %w", err)
	}

	registry, err := metrics.NewRegistry("agent-trust-ledger")
	if err != nil {
		return nil, fmt.Errorf("creating metrics registry: %w", err)
	}

	pool, err := database.NewConnectionPool(&cfg.Database, zlog)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	redisClient, err := cache.NewRedisClient(&cfg.Redis, zlog)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	repo := database.NewEntryRepository(pool.Pool())

	cacheCfg := cache.DefaultEntryCacheConfig()
	cacheCfg.Window = cfg.Redis.RecencyWindow
	entryCache, err := cache.NewEntryCache(redisClient, zlog, cacheCfg)
	if err != nil {
		return nil, fmt.Errorf("creating entry cache: %w", err)
	}
	reportCache, err := cache.NewReportCache(redisClient, zlog)
	if err != nil {
		return nil, fmt.Errorf("creating report cache: %w", err)
	}

	insightsSvc, err := insights.New(zlog, repo, registry,
		insights.WithCache(reportCache),
		insights.WithTTL(cfg.Redis.ReportTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("creating insights service: %w", err)
	}

	auth := NewAuthMiddleware(AuthConfig{
		Secret:      []byte(cfg.Security.JWTSecret),
		TokenExpiry: cfg.Security.TokenExpiry,
	}, NewRedisSessionStore(redisClient), logger)
	if !auth.Enabled() {
		logger.Warn("authentication disabled, no JWT secret configured")
	}

	hub := NewEntryStreamHub(DefaultStreamConfig(), auth, logger)

	ledgerSvc, err := ledger.New(ctx, ledger.Config{
		AsyncWorkers: cfg.Recorder.AsyncWorkers,
		AsyncBuffer:  cfg.Recorder.AsyncBuffer,
		WriteTimeout: cfg.Recorder.WriteTimeout,
		Gate:         gatePolicy(cfg.Safety),
	}, zlog, repo, entryCache, registry,
		ledger.WithNotifier(hub),
		ledger.WithPatternSource(insightsSvc),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ledger service: %w", err)
	}

	healthSvc := NewHealthService(HealthServiceConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
	},
		NewDatabaseHealthChecker(pool),
		NewRedisHealthChecker(redisClient),
		NewSystemHealthChecker(),
		NewLedgerHealthChecker(ledgerSvc.Health),
	)

	s := &Server{
		config:      cfg,
		logger:      logger,
		zlog:        zlog,
		pool:        pool,
		redisClient: redisClient,
		registry:    registry,
		ledger:      ledgerSvc,
		insights:    insightsSvc,
		auth:        auth,
		hub:         hub,
		health:      healthSvc,
		apiLimiter: NewRateLimiter(RateLimitConfig{
			RequestsPerSecond: cfg.Security.RateLimit.RequestsPerSecond,
			Burst:             cfg.Security.RateLimit.BurstSize,
			ByUser:            true,
		}),
		writeLimiter: NewRedisRateLimiter(redisClient, RateLimitConfig{
			RequestsPerSecond: cfg.Security.RateLimit.RequestsPerSecond,
			ByUser:            true,
		}),
		done: make(chan struct{}),
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  2 * time.Minute,
	}

	return s, nil
}

// gatePolicy maps the safety configuration onto the gate thresholds.
// Unset fields fall through to the domain defaults.
func gatePolicy(cfg config.SafetyConfig) safety.Policy {
	return safety.Policy{
		BlockBelow:    cfg.BlockBelow,
		PassAt:        cfg.PassAt,
		EnhanceAbove:  cfg.EnhanceAbove,
		MaxConcern:    cfg.MaxConcern,
		MinConfidence: cfg.MinConfidence,
		MinClarity:    cfg.MinClarity,
		MinAlignment:  cfg.MinAlignment,
	}
}

// routes builds the mux with its middleware chains
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	tracer := telemetry.NewOpenTelemetryTracer("api.rest")
	debugMode := s.config.Environment != "production"

	apiChain := NewMiddlewareChain(
		RecoveryMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		CORSMiddleware(DefaultCORSConfig()),
		RequestIDMiddleware(),
		RequestLoggingMiddleware(s.logger),
		MetricsMiddleware(),
		TracingMiddleware(tracer),
		CompressionMiddleware(),
		s.apiLimiter.Middleware(),
	)

	base := NewBaseHandler(s.config.Version, s.auth.Enabled(), debugMode)
	handler := NewTrailHandler(base, s.ledger, s.auth, s.logger, s.pool.Metrics)
	handler.RegisterRoutes(mux, apiChain, s.writeLimiter.Middleware())

	// The stream endpoint takes only recovery: response wrappers from the
	// other middlewares would break the websocket upgrade's hijack.
	mux.Handle("GET /api/v1/stream", RecoveryMiddleware(s.logger)(s.hub))

	mux.Handle("GET /health", s.health.LivenessHandler())
	mux.Handle("GET /health/ready", s.health.ReadinessHandler())
	mux.Handle("GET /health/startup", s.health.StartupHandler())
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// Start serves until a signal or server error, then shuts down cleanly
func (s *Server) Start() error {
	s.hub.Start()
	go s.observePool()

	lc := net.ListenConfig{Control: reusePort}
	listener, err := lc.Listen(context.Background(), "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server_listening",
			"addr", s.httpServer.Addr,
			"environment", s.config.Environment,
		)
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		s.logger.Info("shutdown_signal", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown drains in dependency order: stop accepting requests, close the
// stream, flush the append queue, then release the stores.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.done)

	var firstErr error
	record := func(stage string, err error) {
		if err == nil {
			return
		}
		s.logger.Error("shutdown_stage_failed", "stage", stage, "error", err.Error())
		if firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", stage, err)
		}
	}

	record("http", s.httpServer.Shutdown(ctx))
	// The ledger drains before the hub closes so flushed appends still
	// reach stream subscribers.
	record("ledger", s.ledger.Close())
	record("stream", s.hub.Shutdown(ctx))
	s.apiLimiter.Close()
	record("redis", s.redisClient.Close())
	record("database", s.pool.Close())

	if firstErr == nil {
		s.logger.Info("shutdown_complete")
	}
	return firstErr
}

// observePool feeds pool usage into the metrics registry
func (s *Server) observePool() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.registry.SetDBPoolSize(int64(s.pool.Stat().TotalConns()))
		}
	}
}
