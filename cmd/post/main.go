// Command post serves post creation, listing, lookup and deletion and
// announces every change on the event bus.
//
// Usage:
//
//	go run ./cmd/post [-config configs/post.yaml]
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

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/post"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/cache"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/eventbus"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/server"
)

func main() {
	configPath := flag.String("config", "configs/post.yaml", "path to config file")
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
	slog.Info("starting post service", "port", cfg.Server.Port, "events", cfg.Events.Driver)

	if err := run(cfg); err != nil {
		slog.Error("post service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("post service stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, "post")
		defer shutdown(context.Background())
	}

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx, post.Migrations); err != nil {
		return err
	}

	checker := health.NewChecker("post")
	checker.RegisterPing("postgres", true, db.Ping)

	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, post caching disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
		checker.RegisterPing("redis", false, redisClient.Ping)
	}

	bus, err := eventbus.New(cfg.Events, eventbus.Options{Metrics: m})
	if err != nil {
		return err
	}
	defer bus.Close()
	if err := bus.Ping(ctx); err != nil {
		// Publishing retries the connection; failed publishes become warnings.
		slog.Warn("event bus not reachable yet", "driver", cfg.Events.Driver, "error", err)
	}
	checker.RegisterPing("events", false, bus.Ping)

	trusted, err := pkgmw.ParseTrustedNetworks(cfg.TrustedProxies)
	if err != nil {
		return err
	}

	svc := post.NewService(
		post.NewPostgresStore(db),
		bus,
		cache.New[post.Page](redisClient, "posts:page", cfg.Redis.CacheTTL, m),
		cache.New[post.Post](redisClient, "posts:item", cfg.Redis.CacheTTL, m),
	)

	mux := http.NewServeMux()
	checker.Mount(mux)
	post.NewHandler(svc).Register(mux)

	return server.Run(ctx, server.New(cfg.Server, mux, trusted, m), cfg.Server.ShutdownTimeout)
}
