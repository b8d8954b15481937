package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teslaelectricidad/teslabot/internal/clock"
	"github.com/teslaelectricidad/teslabot/internal/metrics"
)

// RateLimiter implements a fixed-window request limit per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	name     string
	rate     int
	window   time.Duration
	clock    clock.Clock
	metrics  *metrics.Metrics
	events   *metrics.BusinessEventLogger
	logger   *zap.Logger
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

// NewRateLimiter creates a limiter allowing rate requests per window. name
// labels its metrics and events. m may be nil.
func NewRateLimiter(name string, rate int, window time.Duration, clk clock.Clock, m *metrics.Metrics, logger *zap.Logger) *RateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		name:     name,
		rate:     rate,
		window:   window,
		clock:    clk,
		metrics:  m,
		events:   metrics.NewBusinessEventLogger(logger),
		logger:   logger,
	}
}

// Run removes idle visitors every two windows until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := rl.clock.NewTicker(rl.window * 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			rl.cleanup()
		}
	}
}

func (rl *RateLimiter) cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	removed := 0
	for ip, v := range rl.visitors {
		if now.Sub(v.lastReset) > rl.window*2 {
			delete(rl.visitors, ip)
			removed++
		}
	}
	return removed
}

// allow reports whether ip may make a request, the requests left in the
// current window and the time until it resets.
func (rl *RateLimiter) allow(ip string) (bool, int, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()

	v, exists := rl.visitors[ip]
	if !exists || now.Sub(v.lastReset) >= rl.window {
		if !exists {
			v = &visitor{}
			rl.visitors[ip] = v
		}
		v.tokens = rl.rate - 1
		v.lastReset = now
		return true, v.tokens, rl.window
	}

	reset := rl.window - now.Sub(v.lastReset)
	if v.tokens > 0 {
		v.tokens--
		return true, v.tokens, reset
	}
	return false, 0, reset
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

// RateLimit returns HTTP middleware that rejects clients over the limit
// with 429.
func RateLimit(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := getClientIP(r)

			ok, remaining, reset := rl.allow(ip)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.rate))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !ok {
				rl.logger.Warn("rate limit exceeded",
					zap.String("limiter", rl.name),
					zap.String("ip", ip),
					zap.String("path", r.URL.Path),
				)
				if rl.metrics != nil {
					rl.metrics.RecordRateLimitHit(rl.name)
				}
				rl.events.RateLimitExceeded(r.Context(), rl.name, ip)

				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(reset.Seconds()))))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":{"code":"RATE_LIMITED","message":"too many requests"}}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts the client IP address from a request.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
