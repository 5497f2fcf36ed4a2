package middleware

import (
	"net/http"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/gateway/pipeline"
	apperrors "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/errors"
)

// RateLimit admits requests against limiter. When paths is non-empty only
// requests whose path starts with one of them are counted. A broken counter
// store fails the request with 503 unless the policy fails open.
func RateLimit(limiter *ratelimit.Limiter, paths []string, keyFn ratelimit.KeyFunc) pipeline.Stage {
	return pipeline.StageFunc{StageName: "ratelimit:" + limiter.Name(), Fn: func(r *http.Request) pipeline.Result {
		if !matchesAny(r.URL.Path, paths) {
			return pipeline.Continue(r)
		}

		d, err := limiter.Admit(r.Context(), keyFn(r))
		if err != nil {
			return pipeline.Fail(apperrors.New(err, http.StatusServiceUnavailable, "Service temporarily unavailable"))
		}

		res := pipeline.Continue(r)
		if !d.Allowed {
			res = pipeline.Reject(http.StatusTooManyRequests, "Too many requests").
				WithHeader("Retry-After", ratelimit.RetryAfterSeconds(d.RetryAfter))
		}
		hdr := make(http.Header)
		ratelimit.SetHeaders(hdr, d)
		for k := range hdr {
			res = res.WithHeader(k, hdr.Get(k))
		}
		return res
	}}
}

func matchesAny(path string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}
