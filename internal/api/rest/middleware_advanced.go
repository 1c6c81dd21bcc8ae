package rest

import (
	"compress/gzip"
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures request rate limiting
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int

	// ByUser keys on the authenticated principal when present; otherwise
	// the client IP is used.
	ByUser bool

	// CustomKeyFunc overrides the limit key derivation entirely
	CustomKeyFunc func(r *http.Request) string
}

// limiterEntry pairs a token bucket with its last use for eviction
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// RateLimiter enforces per-client limits with one token bucket per key.
// Buckets idle past the eviction window are dropped by a janitor.
type RateLimiter struct {
	config   RateLimitConfig
	limiters sync.Map
	stop     chan struct{}
	stopOnce sync.Once
}

const limiterEvictAfter = 5 * time.Minute

// NewRateLimiter creates a rate limiter and starts its janitor
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 100
	}
	if config.Burst <= 0 {
		config.Burst = config.RequestsPerSecond * 2
	}

	rl := &RateLimiter{
		config: config,
		stop:   make(chan struct{}),
	}
	go rl.janitor()
	return rl
}

// Middleware returns the enforcing middleware
func (rl *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.keyFor(r)
			entry := rl.entryFor(key)
			entry.lastSeen.Store(time.Now().UnixNano())

			reservation := entry.limiter.Reserve()
			if !reservation.OK() {
				writeRateLimitExceeded(w, time.Second)
				return
			}
			if delay := reservation.Delay(); delay > 0 {
				reservation.Cancel()
				writeRateLimitExceeded(w, delay)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Close stops the janitor
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) keyFor(r *http.Request) string {
	if rl.config.CustomKeyFunc != nil {
		return rl.config.CustomKeyFunc(r)
	}
	if rl.config.ByUser {
		if userID, err := getUserFromContext(r.Context()); err == nil {
			return "user:" + userID.String()
		}
	}
	return "ip:" + getClientIP(r)
}

func (rl *RateLimiter) entryFor(key string) *limiterEntry {
	if existing, ok := rl.limiters.Load(key); ok {
		return existing.(*limiterEntry)
	}
	entry := &limiterEntry{
		limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst),
	}
	actual, _ := rl.limiters.LoadOrStore(key, entry)
	return actual.(*limiterEntry)
}

// janitor drops buckets that have not been touched within the window
func (rl *RateLimiter) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-limiterEvictAfter).UnixNano()
			rl.limiters.Range(func(key, value interface{}) bool {
				if value.(*limiterEntry).lastSeen.Load() < cutoff {
					rl.limiters.Delete(key)
				}
				return true
			})
		}
	}
}

// TimeoutMiddleware fails requests that outlive the deadline with a 504.
// Handler panics propagate to the recovery middleware.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			r = r.WithContext(ctx)

			done := make(chan struct{})
			panicChan := make(chan interface{}, 1)

			go func() {
				defer func() {
					if p := recover(); p != nil {
						panicChan <- p
					}
				}()
				next.ServeHTTP(w, r)
				close(done)
			}()

			select {
			case <-done:
			case p := <-panicChan:
				panic(p)
			case <-ctx.Done():
				writeGatewayTimeout(w)
			}
		})
	}
}

// ConditionalMiddleware applies mw only when condition holds
func ConditionalMiddleware(mw Middleware, condition func(r *http.Request) bool) Middleware {
	return func(next http.Handler) http.Handler {
		wrapped := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if condition(r) {
				wrapped.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// compressionMinSize is the smallest body worth gzipping
const compressionMinSize = 1024

// gzipResponseWriter buffers small bodies and only compresses past the
// size threshold.
type gzipResponseWriter struct {
	http.ResponseWriter
	buf        []byte
	gz         *gzip.Writer
	statusCode int
}

func (w *gzipResponseWriter) WriteHeader(code int) {
	w.statusCode = code
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	if w.gz != nil {
		return w.gz.Write(b)
	}

	w.buf = append(w.buf, b...)
	if len(w.buf) < compressionMinSize {
		return len(b), nil
	}

	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Del("Content-Length")
	w.flushHeader()
	w.gz = gzip.NewWriter(w.ResponseWriter)
	if _, err := w.gz.Write(w.buf); err != nil {
		return 0, err
	}
	w.buf = nil
	return len(b), nil
}

func (w *gzipResponseWriter) flushHeader() {
	if w.statusCode == 0 {
		w.statusCode = http.StatusOK
	}
	w.ResponseWriter.WriteHeader(w.statusCode)
}

// close flushes whichever path the body took
func (w *gzipResponseWriter) close() error {
	if w.gz != nil {
		return w.gz.Close()
	}
	w.flushHeader()
	if len(w.buf) > 0 {
		_, err := w.ResponseWriter.Write(w.buf)
		return err
	}
	return nil
}

// CompressionMiddleware gzips responses for clients that accept it
func CompressionMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
				next.ServeHTTP(w, r)
				return
			}

			gzw := &gzipResponseWriter{ResponseWriter: w}
			defer gzw.close()
			next.ServeHTTP(gzw, r)
		})
	}
}

// getClientIP extracts the client address, preferring proxy headers
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.Index(forwarded, ","); idx > 0 {
			return strings.TrimSpace(forwarded[:idx])
		}
		return strings.TrimSpace(forwarded)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimitExceeded writes a 429 with a retry hint
func writeRateLimitExceeded(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int(retryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"success":false,"error":{"code":"RATE_LIMIT_EXCEEDED","message":"Too many requests"}}`))
}

// writeGatewayTimeout writes a 504
func writeGatewayTimeout(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusGatewayTimeout)
	w.Write([]byte(`{"success":false,"error":{"code":"GATEWAY_TIMEOUT","message":"Request processing timed out"}}`))
}

// writeServiceUnavailable writes a 503
func writeServiceUnavailable(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte(`{"success":false,"error":{"code":"SERVICE_UNAVAILABLE","message":"` + message + `"}}`))
}
