package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/davidleathers/agent-trust-ledger/internal/infrastructure/database"
)

// Health statuses follow the health+json convention
const (
	HealthStatusPass = "pass"
	HealthStatusWarn = "warn"
	HealthStatusFail = "fail"
)

// HealthCheckResult is one checker's verdict
type HealthCheckResult struct {
	Status       string                 `json:"status"`
	Message      string                 `json:"message,omitempty"`
	Error        string                 `json:"error,omitempty"`
	ResponseTime time.Duration          `json:"response_time_ns"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	LastChecked  time.Time              `json:"last_checked"`
}

// HealthChecker probes one dependency
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) HealthCheckResult
}

// HealthServiceConfig tunes the health endpoints
type HealthServiceConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	CacheDuration  time.Duration
	CheckTimeout   time.Duration
	// Startup reports failing until the process has been up this long
	MinStartupTime time.Duration
}

// HealthService runs registered checkers and serves the health endpoints.
// Results are cached briefly so probes cannot hammer dependencies.
type HealthService struct {
	config    HealthServiceConfig
	checkers  []HealthChecker
	cache     sync.Map
	startTime time.Time
}

// healthReport is the aggregate response body
type healthReport struct {
	Status      string                       `json:"status"`
	ServiceName string                       `json:"service"`
	Version     string                       `json:"version"`
	Environment string                       `json:"environment"`
	Uptime      string                       `json:"uptime"`
	Checks      map[string]HealthCheckResult `json:"checks,omitempty"`
}

type cachedResult struct {
	result  HealthCheckResult
	expires time.Time
}

// NewHealthService creates the health service
func NewHealthService(config HealthServiceConfig, checkers ...HealthChecker) *HealthService {
	if config.CacheDuration <= 0 {
		config.CacheDuration = 10 * time.Second
	}
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = 5 * time.Second
	}
	if config.MinStartupTime <= 0 {
		config.MinStartupTime = 10 * time.Second
	}
	return &HealthService{
		config:    config,
		checkers:  checkers,
		startTime: time.Now(),
	}
}

// LivenessHandler reports process liveness without touching dependencies
func (s *HealthService) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeReport(w, http.StatusOK, healthReport{
			Status:      HealthStatusPass,
			ServiceName: s.config.ServiceName,
			Version:     s.config.ServiceVersion,
			Environment: s.config.Environment,
			Uptime:      time.Since(s.startTime).Round(time.Second).String(),
		})
	}
}

// ReadinessHandler runs all checkers in parallel. Any failing dependency
// makes the whole endpoint report 503.
func (s *HealthService) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := s.runChecks(r.Context())

		status := HealthStatusPass
		httpStatus := http.StatusOK
		for _, result := range checks {
			switch result.Status {
			case HealthStatusFail:
				status = HealthStatusFail
				httpStatus = http.StatusServiceUnavailable
			case HealthStatusWarn:
				if status == HealthStatusPass {
					status = HealthStatusWarn
				}
			}
		}

		s.writeReport(w, httpStatus, healthReport{
			Status:      status,
			ServiceName: s.config.ServiceName,
			Version:     s.config.ServiceVersion,
			Environment: s.config.Environment,
			Uptime:      time.Since(s.startTime).Round(time.Second).String(),
			Checks:      checks,
		})
	}
}

// StartupHandler reports failing until the minimum uptime has passed and
// all dependencies answer. Orchestrators use it to sequence rollouts.
func (s *HealthService) StartupHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := time.Since(s.startTime)
		if uptime < s.config.MinStartupTime {
			s.writeReport(w, http.StatusServiceUnavailable, healthReport{
				Status:      HealthStatusFail,
				ServiceName: s.config.ServiceName,
				Version:     s.config.ServiceVersion,
				Environment: s.config.Environment,
				Uptime:      uptime.Round(time.Second).String(),
			})
			return
		}
		s.ReadinessHandler()(w, r)
	}
}

// runChecks executes every checker with its own timeout, serving cached
// results when they are still fresh.
func (s *HealthService) runChecks(ctx context.Context) map[string]HealthCheckResult {
	results := make(map[string]HealthCheckResult, len(s.checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, checker := range s.checkers {
		if cached, ok := s.cachedResult(checker.Name()); ok {
			results[checker.Name()] = cached
			continue
		}

		wg.Add(1)
		go func(c HealthChecker) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, s.config.CheckTimeout)
			defer cancel()

			start := time.Now()
			result := c.Check(checkCtx)
			result.ResponseTime = time.Since(start)
			result.LastChecked = time.Now().UTC()

			s.cache.Store(c.Name(), cachedResult{
				result:  result,
				expires: time.Now().Add(s.config.CacheDuration),
			})

			mu.Lock()
			results[c.Name()] = result
			mu.Unlock()
		}(checker)
	}

	wg.Wait()
	return results
}

func (s *HealthService) cachedResult(name string) (HealthCheckResult, bool) {
	value, ok := s.cache.Load(name)
	if !ok {
		return HealthCheckResult{}, false
	}
	cached := value.(cachedResult)
	if time.Now().After(cached.expires) {
		return HealthCheckResult{}, false
	}
	return cached.result, true
}

func (s *HealthService) writeReport(w http.ResponseWriter, status int, report healthReport) {
	w.Header().Set("Content-Type", "application/health+json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(report)
}

// DatabaseHealthChecker probes the entries store
type DatabaseHealthChecker struct {
	pool *database.ConnectionPool
}

// NewDatabaseHealthChecker creates a checker for the connection pool
func NewDatabaseHealthChecker(pool *database.ConnectionPool) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{pool: pool}
}

func (c *DatabaseHealthChecker) Name() string { return "database" }

// Check pings the pool and warns when it runs close to saturation
func (c *DatabaseHealthChecker) Check(ctx context.Context) HealthCheckResult {
	if err := c.pool.Pool().Ping(ctx); err != nil {
		return HealthCheckResult{
			Status: HealthStatusFail,
			Error:  err.Error(),
		}
	}

	stat := c.pool.Stat()
	result := HealthCheckResult{
		Status: HealthStatusPass,
		Metadata: map[string]interface{}{
			"total_conns":    stat.TotalConns(),
			"acquired_conns": stat.AcquiredConns(),
			"idle_conns":     stat.IdleConns(),
			"max_conns":      stat.MaxConns(),
		},
	}
	if stat.MaxConns() > 0 &&
		float64(stat.AcquiredConns())/float64(stat.MaxConns()) > 0.9 {
		result.Status = HealthStatusWarn
		result.Message = "connection pool near capacity"
	}
	return result
}

// RedisHealthChecker probes the cache
type RedisHealthChecker struct {
	client *redis.Client
}

// NewRedisHealthChecker creates a checker for the Redis client
func NewRedisHealthChecker(client *redis.Client) *RedisHealthChecker {
	return &RedisHealthChecker{client: client}
}

func (c *RedisHealthChecker) Name() string { return "redis" }

// Check pings Redis. The cache is an accelerator, so an unreachable Redis
// is a warning rather than a failure.
func (c *RedisHealthChecker) Check(ctx context.Context) HealthCheckResult {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return HealthCheckResult{
			Status:  HealthStatusWarn,
			Message: "cache unavailable, reads fall through to the store",
			Error:   err.Error(),
		}
	}
	return HealthCheckResult{Status: HealthStatusPass}
}

// SystemHealthChecker reports runtime pressure
type SystemHealthChecker struct {
	goroutineWarn int
}

// NewSystemHealthChecker creates a runtime checker
func NewSystemHealthChecker() *SystemHealthChecker {
	return &SystemHealthChecker{goroutineWarn: 10000}
}

func (c *SystemHealthChecker) Name() string { return "system" }

// Check inspects memory and goroutine counts
func (c *SystemHealthChecker) Check(ctx context.Context) HealthCheckResult {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	goroutines := runtime.NumGoroutine()

	result := HealthCheckResult{
		Status: HealthStatusPass,
		Metadata: map[string]interface{}{
			"goroutines":     goroutines,
			"heap_alloc_mb":  mem.HeapAlloc / (1 << 20),
			"heap_sys_mb":    mem.HeapSys / (1 << 20),
			"gc_pause_total": time.Duration(mem.PauseTotalNs).String(),
		},
	}
	if goroutines > c.goroutineWarn {
		result.Status = HealthStatusWarn
		result.Message = fmt.Sprintf("goroutine count high: %d", goroutines)
	}
	return result
}

// LedgerHealthChecker surfaces the append pipeline's own health
type LedgerHealthChecker struct {
	health func() error
}

// NewLedgerHealthChecker wraps the ledger service health probe
func NewLedgerHealthChecker(health func() error) *LedgerHealthChecker {
	return &LedgerHealthChecker{health: health}
}

func (c *LedgerHealthChecker) Name() string { return "ledger" }

// Check reports the append pipeline state
func (c *LedgerHealthChecker) Check(ctx context.Context) HealthCheckResult {
	if err := c.health(); err != nil {
		return HealthCheckResult{
			Status: HealthStatusFail,
			Error:  err.Error(),
		}
	}
	return HealthCheckResult{Status: HealthStatusPass}
}
