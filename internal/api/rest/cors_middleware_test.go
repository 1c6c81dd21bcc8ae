package rest

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func corsHandler(config CORSConfig) http.Handler {
	return CORSMiddleware(config)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func corsRequest(t *testing.T, h http.Handler, method, origin string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, "/api/v1/stats", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCORSMiddlewareAllowedOrigin(t *testing.T) {
	config := DefaultCORSConfig()
	config.AllowedOrigins = []string{"https://dashboard.example.com"}
	h := corsHandler(config)

	rec := corsRequest(t, h, http.MethodGet, "https://dashboard.example.com")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://dashboard.example.com",
		rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "X-Request-ID")
	assert.Contains(t, rec.Header().Values("Vary"), "Origin")
}

func TestCORSMiddlewareDisallowedOrigin(t *testing.T) {
	config := DefaultCORSConfig()
	config.AllowedOrigins = []string{"https://dashboard.example.com"}
	h := corsHandler(config)

	rec := corsRequest(t, h, http.MethodGet, "https://evil.example.net")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddlewarePreflight(t *testing.T) {
	config := DefaultCORSConfig()
	config.AllowedOrigins = []string{"https://dashboard.example.com"}
	config.MaxAge = 5 * time.Minute
	h := corsHandler(config)

	rec := corsRequest(t, h, http.MethodOptions, "https://dashboard.example.com")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	assert.Equal(t, "300", rec.Header().Get("Access-Control-Max-Age"))
}

func TestCORSMiddlewarePreflightDisallowed(t *testing.T) {
	config := DefaultCORSConfig()
	config.AllowedOrigins = []string{"https://dashboard.example.com"}
	h := corsHandler(config)

	rec := corsRequest(t, h, http.MethodOptions, "https://evil.example.net")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCORSMiddlewareNoOriginPassesThrough(t *testing.T) {
	h := corsHandler(DefaultCORSConfig())

	rec := corsRequest(t, h, http.MethodGet, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddlewareCredentials(t *testing.T) {
	config := DefaultCORSConfig()
	config.AllowedOrigins = []string{"https://dashboard.example.com"}
	config.AllowCredentials = true
	h := corsHandler(config)

	rec := corsRequest(t, h, http.MethodGet, "https://dashboard.example.com")
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"exact match", []string{"https://a.example.com"}, "https://a.example.com", true},
		{"no match", []string{"https://a.example.com"}, "https://b.example.com", false},
		{"global wildcard", []string{"*"}, "https://anything.test", true},
		{"subdomain wildcard", []string{"https://*.example.com"}, "https://app.example.com", true},
		{"wildcard does not cross scheme", []string{"https://*.example.com"}, "http://app.example.com", false},
		{"wildcard needs the suffix", []string{"https://*.example.com"}, "https://example.org", false},
		{"empty allow list", nil, "https://a.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, originAllowed(tt.allowed, tt.origin))
		})
	}
}
