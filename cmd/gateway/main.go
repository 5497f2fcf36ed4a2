// Command gateway starts the API gateway.
//
// The gateway is the single entry point for clients. It applies the
// configured fixed-window rate limits (counters in Redis), validates bearer
// tokens on protected routes and reverse-proxies each request to the
// service that owns its path prefix.
//
// Usage:
//
//	go run ./cmd/gateway [-config configs/gateway.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/auth/token"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/gateway/proxy"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/gateway/router"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/gateway.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting gateway", "port", cfg.Gateway.Port, "routes", len(cfg.Gateway.Routes))

	if err := run(cfg); err != nil {
		slog.Error("gateway failed", "error", err)
		os.Exit(1)
	}
	slog.Info("gateway stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)

	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer redisClient.Close()
	slog.Info("connected to redis", "addr", cfg.Redis.Addr)

	store := ratelimit.NewRedisStore(redisClient)
	limits := make([]router.Limit, 0, len(cfg.Gateway.RateLimits))
	for _, p := range cfg.Gateway.RateLimits {
		l, err := ratelimit.New(p, store, m)
		if err != nil {
			return err
		}
		limits = append(limits, router.Limit{Limiter: l, Paths: p.Paths})
		slog.Info("rate limit policy", "name", p.Name, "quota", p.Quota, "window", p.Window, "paths", p.Paths)
	}

	table, err := proxy.NewTable(cfg.Gateway.Routes)
	if err != nil {
		return err
	}
	for _, rt := range table.Routes() {
		slog.Info("route", "prefix", rt.Prefix, "target", rt.Target.String(), "auth", rt.RequiresAuth, "body", rt.BodyMode)
	}

	checker := health.NewChecker("gateway")
	checker.RegisterPing("redis", true, redisClient.Ping)

	handler := router.New(router.Deps{
		Table: table,
		Proxy: proxy.New(table, proxy.Options{
			MaxBufferedBody: cfg.Gateway.MaxBufferedBody,
			UpstreamTimeout: cfg.Gateway.UpstreamTimeout,
			Breaker:         cfg.Gateway.Breaker,
			Metrics:         m,
		}),
		Validator:          token.NewValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		InvalidTokenStatus: cfg.Gateway.InvalidTokenStatus,
		Limits:             limits,
		KeyFunc:            ratelimit.ClientIP(cfg.Gateway.TrustForwardedFor),
		AllowedOrigins:     cfg.Gateway.AllowedOrigins,
		Health:             checker,
		Metrics:            m,
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Gateway.Port),
		Handler: handler,
		// No read or write deadline: uploads stream for as long as the
		// client sends. Upstreams are bounded by gateway.upstreamTimeout.
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, "gateway")
		defer shutdownMetrics(context.Background())
	}
	g.Go(func() error {
		slog.Info("gateway listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
