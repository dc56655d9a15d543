package middleware

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"stylist/internal/ratelimit"
)

const clientCategory = ratelimit.Category("client")

// RateLimit admits up to limit requests per client IP per window. Each
// client gets its own token bucket so a burst from one address cannot
// starve the others; denials carry a Retry-After hint.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	var mu sync.Mutex
	clients := make(map[string]*ratelimit.Limiter)
	cfg := ratelimit.BucketConfig{
		Capacity:   float64(limit),
		RefillRate: float64(limit) / per.Seconds(),
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIPForRateLimit(r)
			mu.Lock()
			limiter, ok := clients[ip]
			if !ok {
				limiter = ratelimit.NewLimiter(map[ratelimit.Category]ratelimit.BucketConfig{
					clientCategory: cfg,
				})
				clients[ip] = limiter
			}
			mu.Unlock()

			if !limiter.TryAcquire(clientCategory) {
				retryAfter := limiter.RetryAfter(clientCategory)
				seconds := int(math.Ceil(retryAfter.Seconds()))
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprintf(w, `{"error":"too many requests","retry_after_seconds":%d}`, seconds)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIPForRateLimit(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			ip := strings.TrimSpace(part)
			if ip == "" {
				continue
			}
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		if net.ParseIP(host) != nil {
			return host
		}
	} else if net.ParseIP(r.RemoteAddr) != nil {
		return r.RemoteAddr
	}

	return r.RemoteAddr
}
