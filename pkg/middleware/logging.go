package middleware

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/logger"
)

// Logging writes one access log line per request after it completes.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		log := logger.FromContext(r.Context())
		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"bytes", sw.bytes,
			"duration", time.Since(start).String(),
		}
		if sw.status >= 500 {
			log.Error("request completed", attrs...)
			return
		}
		log.Info("request completed", attrs...)
	})
}
