package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/httpx"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/logger"
)

// KeyFunc derives the client identifier a limiter counts against.
type KeyFunc func(r *http.Request) string

// ClientIP keys by the caller's address. With trustXFF the first
// X-Forwarded-For entry wins, which is only safe behind a proxy that
// overwrites the header.
func ClientIP(trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if trustXFF {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// RetryAfterSeconds rounds d up to whole seconds, minimum one.
func RetryAfterSeconds(d time.Duration) string {
	s := int64(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return strconv.FormatInt(s, 10)
}

// SetHeaders writes the standard rate-limit response headers.
func SetHeaders(h http.Header, d Decision) {
	h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	if !d.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

// Middleware enforces l on every request of a service. Rejections use the
// same body as the gateway.
func Middleware(l *Limiter, keyFn KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := l.Admit(r.Context(), keyFn(r))
			if err != nil {
				logger.FromContext(r.Context()).Error("rate limiter error", "policy", l.Name(), "error", err)
				httpx.WriteError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
				return
			}
			SetHeaders(w.Header(), d)
			if !d.Allowed {
				w.Header().Set("Retry-After", RetryAfterSeconds(d.RetryAfter))
				httpx.WriteError(w, http.StatusTooManyRequests, "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
