// Command search keeps a full-text index of posts in sync with post events
// and serves text queries over it.
//
// Usage:
//
//	go run ./cmd/search [-config configs/search.yaml]
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

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/search"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/search/consumer"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/search/handler"
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
	configPath := flag.String("config", "configs/search.yaml", "path to config file")
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
	slog.Info("starting search service", "port", cfg.Server.Port, "events", cfg.Events.Driver)

	if err := run(cfg); err != nil {
		slog.Error("search service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, "search")
		defer shutdown(context.Background())
	}

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx, search.Migrations); err != nil {
		return err
	}

	checker := health.NewChecker("search")
	checker.RegisterPing("postgres", true, db.Ping)

	var queryCache *cache.Cache[search.Result]
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, search caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		queryCache = cache.New[search.Result](redisClient, "search", cfg.Search.CacheTTL, m)
		checker.RegisterPing("redis", false, redisClient.Ping)
		slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Search.CacheTTL)
	}

	engine := search.NewEngine(search.NewPostgresStore(db), queryCache, m)
	if err := engine.Load(ctx); err != nil {
		return err
	}
	// Stale results from before this process started must not be served.
	if queryCache != nil {
		if err := queryCache.Invalidate(ctx); err != nil {
			slog.Warn("could not clear query cache", "error", err)
		}
	}

	bus, err := eventbus.New(cfg.Events, eventbus.Options{Metrics: m})
	if err != nil {
		return err
	}
	defer bus.Close()
	if err := consumer.Subscribe(ctx, bus, engine); err != nil {
		return fmt.Errorf("subscribing to post events: %w", err)
	}
	checker.RegisterPing("events", false, bus.Ping)

	trusted, err := pkgmw.ParseTrustedNetworks(cfg.TrustedProxies)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	checker.Mount(mux)
	handler.New(engine, cfg.Search.DefaultLimit, cfg.Search.MaxResults).Register(mux)

	return server.Run(ctx, server.New(cfg.Server, mux, trusted, m), cfg.Server.ShutdownTimeout)
}
