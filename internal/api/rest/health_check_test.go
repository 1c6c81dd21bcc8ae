package rest

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubChecker reports a fixed result and counts invocations
type stubChecker struct {
	name   string
	result HealthCheckResult
	calls  int
}

func (c *stubChecker) Name() string { return c.name }

func (c *stubChecker) Check(ctx context.Context) HealthCheckResult {
	c.calls++
	return c.result
}

func decodeHealth(t *testing.T, body []byte) healthReport {
	t.Helper()
	var report healthReport
	require.NoError(t, json.Unmarshal(body, &report))
	return report
}

func TestLivenessHandler(t *testing.T) {
	svc := NewHealthService(HealthServiceConfig{
		ServiceName:    "agent-trust-ledger",
		ServiceVersion: "1.2.3",
		Environment:    "test",
	})

	rec := doRequest(t, svc.LivenessHandler(), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/health+json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	report := decodeHealth(t, rec.Body.Bytes())
	assert.Equal(t, HealthStatusPass, report.Status)
	assert.Equal(t, "agent-trust-ledger", report.ServiceName)
	assert.Equal(t, "1.2.3", report.Version)
	assert.Empty(t, report.Checks)
}

func TestReadinessHandlerAllPassing(t *testing.T) {
	svc := NewHealthService(HealthServiceConfig{ServiceName: "atl"},
		&stubChecker{name: "database", result: HealthCheckResult{Status: HealthStatusPass}},
		&stubChecker{name: "ledger", result: HealthCheckResult{Status: HealthStatusPass}},
	)

	rec := doRequest(t, svc.ReadinessHandler(), http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusOK, rec.Code)

	report := decodeHealth(t, rec.Body.Bytes())
	assert.Equal(t, HealthStatusPass, report.Status)
	assert.Len(t, report.Checks, 2)
	assert.Equal(t, HealthStatusPass, report.Checks["database"].Status)
}

func TestReadinessHandlerFailingDependency(t *testing.T) {
	svc := NewHealthService(HealthServiceConfig{ServiceName: "atl"},
		&stubChecker{name: "database", result: HealthCheckResult{
			Status: HealthStatusFail,
			Error:  "connection refused",
		}},
		&stubChecker{name: "ledger", result: HealthCheckResult{Status: HealthStatusPass}},
	)

	rec := doRequest(t, svc.ReadinessHandler(), http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	report := decodeHealth(t, rec.Body.Bytes())
	assert.Equal(t, HealthStatusFail, report.Status)
	assert.Equal(t, "connection refused", report.Checks["database"].Error)
}

func TestReadinessHandlerWarningDoesNotFail(t *testing.T) {
	svc := NewHealthService(HealthServiceConfig{ServiceName: "atl"},
		&stubChecker{name: "redis", result: HealthCheckResult{
			Status:  HealthStatusWarn,
			Message: "cache unavailable, reads fall through to the store",
		}},
	)

	rec := doRequest(t, svc.ReadinessHandler(), http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusOK, rec.Code)

	report := decodeHealth(t, rec.Body.Bytes())
	assert.Equal(t, HealthStatusWarn, report.Status)
}

func TestReadinessHandlerCachesResults(t *testing.T) {
	checker := &stubChecker{name: "database",
		result: HealthCheckResult{Status: HealthStatusPass}}
	svc := NewHealthService(HealthServiceConfig{
		ServiceName:   "atl",
		CacheDuration: time.Minute,
	}, checker)

	handler := svc.ReadinessHandler()
	doRequest(t, handler, http.MethodGet, "/health/ready", "")
	doRequest(t, handler, http.MethodGet, "/health/ready", "")
	doRequest(t, handler, http.MethodGet, "/health/ready", "")

	assert.Equal(t, 1, checker.calls)
}

func TestStartupHandlerHoldsUntilMinUptime(t *testing.T) {
	svc := NewHealthService(HealthServiceConfig{
		ServiceName:    "atl",
		MinStartupTime: time.Hour,
	}, &stubChecker{name: "database", result: HealthCheckResult{Status: HealthStatusPass}})

	rec := doRequest(t, svc.StartupHandler(), http.MethodGet, "/health/startup", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	report := decodeHealth(t, rec.Body.Bytes())
	assert.Equal(t, HealthStatusFail, report.Status)
	assert.Empty(t, report.Checks)
}

func TestStartupHandlerDelegatesAfterMinUptime(t *testing.T) {
	svc := NewHealthService(HealthServiceConfig{
		ServiceName:    "atl",
		MinStartupTime: time.Nanosecond,
	}, &stubChecker{name: "database", result: HealthCheckResult{Status: HealthStatusPass}})

	time.Sleep(time.Millisecond)

	rec := doRequest(t, svc.StartupHandler(), http.MethodGet, "/health/startup", "")
	require.Equal(t, http.StatusOK, rec.Code)

	report := decodeHealth(t, rec.Body.Bytes())
	assert.Equal(t, HealthStatusPass, report.Status)
	assert.Len(t, report.Checks, 1)
}

func TestLedgerHealthChecker(t *testing.T) {
	healthy := NewLedgerHealthChecker(func() error { return nil })
	assert.Equal(t, "ledger", healthy.Name())
	assert.Equal(t, HealthStatusPass, healthy.Check(context.Background()).Status)

	broken := NewLedgerHealthChecker(func() error {
		return stderrors.New("append queue saturated")
	})
	result := broken.Check(context.Background())
	assert.Equal(t, HealthStatusFail, result.Status)
	assert.Equal(t, "append queue saturated", result.Error)
}

func TestSystemHealthChecker(t *testing.T) {
	checker := NewSystemHealthChecker()
	result := checker.Check(context.Background())

	assert.Equal(t, HealthStatusPass, result.Status)
	require.Contains(t, result.Metadata, "goroutines")
	require.Contains(t, result.Metadata, "heap_alloc_mb")
}
