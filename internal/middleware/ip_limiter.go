package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"whiteboard/internal/logger"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ipLimiterEntry: tracks a rate limiter and its last use time
type ipLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimit: manages rate limiters per IP address
type IPRateLimit struct {
	limiters map[string]*ipLimiterEntry
	every    time.Duration
	burst    int
	mu       sync.Mutex
}

// NewIPRateLimit: one token every `every`, up to burst
func NewIPRateLimit(every time.Duration, burst int) *IPRateLimit {
	return &IPRateLimit{
		limiters: make(map[string]*ipLimiterEntry),
		every:    every,
		burst:    burst,
	}
}

// Allow: checks if an IP is allowed to make a request
func (iprl *IPRateLimit) Allow(ip string) bool {
	iprl.mu.Lock()
	defer iprl.mu.Unlock()

	entry, exists := iprl.limiters[ip]
	if !exists {
		entry = &ipLimiterEntry{
			limiter: rate.NewLimiter(rate.Every(iprl.every), iprl.burst),
		}
		iprl.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()

	return entry.limiter.Allow()
}

// Cleanup: removes IP limiters unused since before now-idle
func (iprl *IPRateLimit) Cleanup(now time.Time, idle time.Duration) int {
	iprl.mu.Lock()
	defer iprl.mu.Unlock()

	removed := 0
	for ip, entry := range iprl.limiters {
		if now.Sub(entry.lastSeen) > idle {
			delete(iprl.limiters, ip)
			removed++
		}
	}
	return removed
}

// Middleware rejects requests over the per-IP budget with 429.
func (iprl *IPRateLimit) Middleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := GetClientIP(r)
			if !iprl.Allow(ip) {
				logger.Warn("rate limit exceeded", zap.String("ip", ip))
				http.Error(w, "Too many connections", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetClientIP: extracts the real client IP from the request
func GetClientIP(r *http.Request) string {
	// RemoteAddr only; forwarded headers can be spoofed by the client
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
