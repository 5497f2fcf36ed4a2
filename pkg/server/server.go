// Package server runs a domain service's HTTP server until its context is
// cancelled, then drains it.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/middleware"
)

// New wraps mux in the standard service chain:
// RequestID → Logging → Metrics → TrustedUser → Timeout.
func New(cfg config.ServerConfig, mux http.Handler, trusted *pkgmw.TrustedNetworks, m *metrics.Metrics) *http.Server {
	mws := []func(http.Handler) http.Handler{pkgmw.RequestID, pkgmw.Logging}
	if m != nil {
		mws = append(mws, pkgmw.Metrics(m))
	}
	mws = append(mws, pkgmw.TrustedUser(trusted))
	if cfg.WriteTimeout > 0 {
		mws = append(mws, pkgmw.Timeout(cfg.WriteTimeout))
	}
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      pkgmw.Chain(mux, mws...),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

// Run serves srv until ctx is done and then shuts it down within
// shutdownTimeout.
func Run(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down", "addr", srv.Addr)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
