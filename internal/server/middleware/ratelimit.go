package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/fusionbot/internal/domain"
)

// RateLimit caps each client at limit requests per window through the
// shared limiter, so replicas behind one load balancer share the budget.
// Clients are keyed by API key when one is sent and by IP otherwise. When
// the limiter is unreachable requests are let through.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(max(int(window/time.Second), 1))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := limiter.Allow(r.Context(), clientKey(r), limit, window)
			if err == nil && !ok {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Retry-After", retryAfter)
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKey never embeds the API key itself in the limiter key.
func clientKey(r *http.Request) string {
	if tok := extractToken(r); tok != "" {
		sum := sha256.Sum256([]byte(tok))
		return "http:key:" + hex.EncodeToString(sum[:8])
	}
	return "http:ip:" + extractClientIP(r)
}

// extractClientIP prefers the first X-Forwarded-For hop, then X-Real-IP,
// then the peer address.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
