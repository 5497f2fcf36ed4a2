package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 3000 {
		t.Errorf("expected gateway port 3000, got %d", cfg.Gateway.Port)
	}
	if len(cfg.Gateway.Routes) != 4 {
		t.Fatalf("expected 4 default routes, got %d", len(cfg.Gateway.Routes))
	}
	if cfg.Media.MaxUploadSize != 5<<20 {
		t.Errorf("expected 5MiB upload limit, got %d", cfg.Media.MaxUploadSize)
	}
	if cfg.Events.RabbitMQ.Durable {
		t.Error("exchange should default to non-durable")
	}
	if cfg.Search.DefaultLimit != 10 {
		t.Errorf("expected search limit 10, got %d", cfg.Search.DefaultLimit)
	}
}

func TestLoadYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	yml := `
auth:
  jwtSecret: from-file
gateway:
  rateLimits:
    - name: global
      quota: 5
      window: 1m
events:
  driver: memory
  rabbitmq:
    durable: true
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SM_JWT_SECRET", "from-env")
	t.Setenv("SM_POST_SERVICE_URL", "http://post:9999")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("env should override file, got %q", cfg.Auth.JWTSecret)
	}
	if len(cfg.Gateway.RateLimits) != 1 || cfg.Gateway.RateLimits[0].Window != time.Minute {
		t.Errorf("unexpected rate limits: %+v", cfg.Gateway.RateLimits)
	}
	if !cfg.Events.RabbitMQ.Durable || cfg.Events.Driver != "memory" {
		t.Errorf("events section not applied: %+v", cfg.Events)
	}
	var found bool
	for _, r := range cfg.Gateway.Routes {
		if r.Prefix == "/v1/posts" {
			found = r.Target == "http://post:9999"
		}
	}
	if !found {
		t.Error("SM_POST_SERVICE_URL did not override the posts route target")
	}
}

func TestValidate(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty jwt secret")
	}
	cfg.Auth.JWTSecret = "s"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg.Gateway.Routes = append(cfg.Gateway.Routes, RouteConfig{Prefix: "/x", Target: "http://x", BodyMode: "chunked"})
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown body mode")
	}

	cfg = defaultConfig()
	cfg.Auth.JWTSecret = "s"
	cfg.TrustedProxies = []string{"not-a-cidr"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for malformed CIDR")
	}
}
