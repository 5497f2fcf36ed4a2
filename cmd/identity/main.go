// Command identity serves user registration and login and issues the
// access tokens the gateway validates.
//
// Usage:
//
//	go run ./cmd/identity [-config configs/identity.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/auth/token"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/identity"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/server"
)

func main() {
	configPath := flag.String("config", "configs/identity.yaml", "path to config file")
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
	slog.Info("starting identity service", "port", cfg.Server.Port)

	if err := run(cfg); err != nil {
		slog.Error("identity service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("identity service stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, "identity")
		defer shutdown(context.Background())
	}

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx, identity.Migrations); err != nil {
		return err
	}
	slog.Info("connected to postgres", "database", cfg.Postgres.Database)

	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer redisClient.Close()

	limiter, err := ratelimit.New(cfg.Identity.RateLimit, ratelimit.NewRedisStore(redisClient), m)
	if err != nil {
		return err
	}
	trusted, err := pkgmw.ParseTrustedNetworks(cfg.TrustedProxies)
	if err != nil {
		return err
	}

	issuer := token.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	svc := identity.NewService(identity.NewPostgresStore(db), issuer, cfg.Identity.BcryptCost)

	checker := health.NewChecker("identity")
	checker.RegisterPing("postgres", true, db.Ping)
	checker.RegisterPing("redis", true, redisClient.Ping)

	api := http.NewServeMux()
	identity.NewHandler(svc).Register(api)

	mux := http.NewServeMux()
	checker.Mount(mux)
	mux.Handle("/api/", ratelimit.Middleware(limiter, ratelimit.ClientIP(len(cfg.TrustedProxies) > 0))(api))

	return server.Run(ctx, server.New(cfg.Server, mux, trusted, m), cfg.Server.ShutdownTimeout)
}
