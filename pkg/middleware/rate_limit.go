package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/diagnosis/community-hub/pkg/logger"
	"github.com/diagnosis/community-hub/pkg/response"
)

// Limiter counts one hit against key and reports whether it is within limit
// for the current window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	// KeyFunc returns the keys a request is counted against; every key must
	// be within its limit. No keys means no limiting.
	KeyFunc func(r *http.Request) []string
}

// RateLimit rejects requests over the limit with 429. Limiter errors let the
// request through.
func RateLimit(l Limiter, cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l == nil || cfg.Requests <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			for _, key := range cfg.KeyFunc(r) {
				ok, err := l.Allow(r.Context(), key, cfg.Requests, cfg.Window)
				if err != nil {
					logger.WarnContext(r.Context(), "rate limit check failed", "error", err)
					continue
				}
				if !ok {
					w.Header().Set("Retry-After", retryAfter(cfg.Window))
					response.RateLimit(w, "Too many requests. Try again later.")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIPKey keys on the client address. Run TrustedRealIP first so a
// forwarded address is only used when a trusted proxy supplied it.
func ClientIPKey(prefix string) func(r *http.Request) []string {
	return func(r *http.Request) []string {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if ip == "" {
			return nil
		}
		return []string{prefix + "ip:" + ip}
	}
}

func retryAfter(window time.Duration) string {
	secs := int(window.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
