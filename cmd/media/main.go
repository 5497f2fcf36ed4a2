// Command media accepts uploads into object storage and removes the media
// of deleted posts.
//
// Usage:
//
//	go run ./cmd/media [-config configs/media.yaml]
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

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/media"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/media/storage"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/eventbus"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/server"
)

func main() {
	configPath := flag.String("config", "configs/media.yaml", "path to config file")
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
	slog.Info("starting media service",
		"port", cfg.Server.Port,
		"storage", cfg.Media.Storage.Driver,
		"bucket", cfg.Media.Storage.Bucket,
		"max_upload", cfg.Media.MaxUploadSize,
	)

	if err := run(cfg); err != nil {
		slog.Error("media service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("media service stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, "media")
		defer shutdown(context.Background())
	}

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx, media.Migrations); err != nil {
		return err
	}

	objects, err := storage.New(ctx, cfg.Media.Storage)
	if err != nil {
		return fmt.Errorf("configuring object storage: %w", err)
	}

	svc := media.NewService(media.NewPostgresRepository(db), objects, cfg.Media.MaxUploadSize)

	bus, err := eventbus.New(cfg.Events, eventbus.Options{Metrics: m})
	if err != nil {
		return err
	}
	defer bus.Close()
	if err := media.Subscribe(ctx, bus, svc); err != nil {
		return fmt.Errorf("subscribing to post events: %w", err)
	}

	trusted, err := pkgmw.ParseTrustedNetworks(cfg.TrustedProxies)
	if err != nil {
		return err
	}

	checker := health.NewChecker("media")
	checker.RegisterPing("postgres", true, db.Ping)
	checker.RegisterPing("storage", true, objects.Ping)
	checker.RegisterPing("events", false, bus.Ping)

	mux := http.NewServeMux()
	checker.Mount(mux)
	media.NewHandler(svc, cfg.Media.FormField).Register(mux)

	return server.Run(ctx, server.New(cfg.Server, mux, trusted, m), cfg.Server.ShutdownTimeout)
}
