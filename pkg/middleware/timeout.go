package middleware

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/logger"
)

const timeoutBody = `{"success":false,"message":"Request timed out"}`

// Timeout bounds handler execution. The handler writes into a private
// buffer that is copied to the client once it returns. When the deadline
// passes first the client receives a 503 JSON error and everything the
// handler writes afterwards is discarded.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			r = r.WithContext(ctx)

			done := make(chan struct{})
			panicked := make(chan any, 1)
			tw := &timeoutWriter{h: make(http.Header)}
			go func() {
				defer func() {
					if p := recover(); p != nil {
						panicked <- p
					}
				}()
				next.ServeHTTP(tw, r)
				close(done)
			}()

			select {
			case p := <-panicked:
				panic(p)
			case <-done:
				tw.mu.Lock()
				defer tw.mu.Unlock()
				if tw.code == 0 {
					tw.commit(http.StatusOK)
				}
				dst := w.Header()
				for k, vv := range tw.sent {
					dst[k] = vv
				}
				w.WriteHeader(tw.code)
				w.Write(tw.buf.Bytes())
			case <-ctx.Done():
				tw.mu.Lock()
				defer tw.mu.Unlock()
				tw.timedOut = true
				logger.FromContext(ctx).Warn("request timed out", "method", r.Method, "path", r.URL.Path, "timeout", timeout)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(timeoutBody))
			}
		})
	}
}

// timeoutWriter never touches the client's ResponseWriter; it is only read
// by the serving goroutine under mu after the handler finished.
type timeoutWriter struct {
	mu       sync.Mutex
	h        http.Header
	sent     http.Header
	buf      bytes.Buffer
	code     int
	timedOut bool
}

func (tw *timeoutWriter) Header() http.Header { return tw.h }

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut || tw.code != 0 {
		return
	}
	tw.commit(code)
}

// commit fixes the status and snapshots the headers; later header changes
// are ignored, as with a real ResponseWriter.
func (tw *timeoutWriter) commit(code int) {
	tw.code = code
	tw.sent = tw.h.Clone()
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	if tw.code == 0 {
		tw.commit(http.StatusOK)
	}
	return tw.buf.Write(b)
}
