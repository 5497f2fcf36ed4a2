// Package router assembles the gateway: health endpoints plus a catch-all
// that runs the request stages and hands off to the proxy.
package router

import (
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/auth/token"
	gwmw "github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/gateway/middleware"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/gateway/pipeline"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/gateway/proxy"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/middleware"
)

// Limit binds a limiter to the paths it covers (empty means all).
type Limit struct {
	Limiter *ratelimit.Limiter
	Paths   []string
}

// Deps are the gateway's collaborators.
type Deps struct {
	Table              *proxy.Table
	Proxy              http.Handler
	Validator          *token.Validator
	InvalidTokenStatus int
	Limits             []Limit
	KeyFunc            ratelimit.KeyFunc
	AllowedOrigins     []string
	Health             *health.Checker
	Metrics            *metrics.Metrics
}

// New builds the gateway handler.
//
//	GET /health, /health/live, /health/ready  gateway health
//	/                                         stages → proxy
//
// Stage order: rate limits (in configured order), then authentication.
// Middleware chain (outermost first): RequestID → Logging → Metrics → CORS.
func New(d Deps) http.Handler {
	keyFn := d.KeyFunc
	if keyFn == nil {
		keyFn = ratelimit.ClientIP(false)
	}

	stages := make([]pipeline.Stage, 0, len(d.Limits)+1)
	for _, l := range d.Limits {
		stages = append(stages, gwmw.RateLimit(l.Limiter, l.Paths, keyFn))
	}
	stages = append(stages, gwmw.Authenticate(d.Validator, d.InvalidTokenStatus, d.Table.RequiresAuth))

	mux := http.NewServeMux()
	if d.Health != nil {
		d.Health.Mount(mux)
	}
	mux.Handle("/", pipeline.Handler(d.Proxy, stages...))

	mws := []func(http.Handler) http.Handler{pkgmw.RequestID, pkgmw.Logging}
	if d.Metrics != nil {
		mws = append(mws, pkgmw.Metrics(d.Metrics))
	}
	mws = append(mws, gwmw.CORS(gwmw.NewCORSConfig(d.AllowedOrigins)))
	return pkgmw.Chain(mux, mws...)
}
