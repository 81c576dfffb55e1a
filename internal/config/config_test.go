package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"decklens/internal/config"
	"decklens/internal/services"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("DECKLENS_REDIS_URL", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "decklens")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.Storage.SQLitePath != filepath.Join(wantState, "decklens.db") {
		t.Fatalf("unexpected sqlite path: %q", cfg.Storage.SQLitePath)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Fatalf("expected sqlite backend by default, got %q", cfg.Storage.Backend)
	}
	band := cfg.Confidence.Bands["1080p"]
	if band.Fallback != 0.62 || band.MinLines != 10 {
		t.Fatalf("unexpected 1080p band: %+v", band)
	}
	if cfg.Breaker.Window().Minutes() != 15 {
		t.Fatalf("expected 15 minute breaker window, got %s", cfg.Breaker.Window())
	}
	if cfg.Breaker.RateCeiling != 0.15 {
		t.Fatalf("unexpected rate ceiling: %v", cfg.Breaker.RateCeiling)
	}
	if cfg.Breaker.Cooldown().Seconds() != 60 {
		t.Fatalf("unexpected cooldown: %s", cfg.Breaker.Cooldown())
	}
	if cfg.Idempotency.LockTTLDuration() <= cfg.Idempotency.ExecTimeoutDuration() {
		t.Fatal("expected lock ttl to exceed exec timeout")
	}
}

func TestLoadCustomConfigMergesBands(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(tempHome, "decklens.toml")
	content := `
[paths]
state_dir = "~/state"

[storage]
backend = "Memory"

[logging]
format = "JSON"

[confidence.bands.1080p]
early_stop = 0.9
fallback = 0.63
min_lines = 10
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	if cfg.Paths.StateDir != filepath.Join(tempHome, "state") {
		t.Fatalf("unexpected state dir: %q", cfg.Paths.StateDir)
	}
	if cfg.Storage.Backend != "memory" {
		t.Fatalf("expected backend to be lower-cased, got %q", cfg.Storage.Backend)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected json format, got %q", cfg.Logging.Format)
	}
	if got := cfg.Confidence.Bands["1080p"].Fallback; got != 0.63 {
		t.Fatalf("expected overridden 1080p fallback, got %v", got)
	}
	if _, ok := cfg.Confidence.Bands["sd"]; !ok {
		t.Fatal("expected omitted bands to be filled from defaults")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantMsg string
	}{
		{"backend", func(c *config.Config) { c.Storage.Backend = "mongo" }, "storage.backend"},
		{"redis url", func(c *config.Config) { c.Storage.Backend = "redis"; c.Storage.RedisURL = "" }, "storage.redis_url"},
		{"lock ttl", func(c *config.Config) { c.Idempotency.LockTTL = c.Idempotency.ExecTimeout }, "idempotency.lock_ttl"},
		{"band range", func(c *config.Config) {
			b := c.Confidence.Bands["720p"]
			b.EarlyStop = 1.2
			c.Confidence.Bands["720p"] = b
		}, "confidence.bands.720p"},
		{"band order", func(c *config.Config) {
			b := c.Confidence.Bands["1440p"]
			b.MinLines = 20
			c.Confidence.Bands["1440p"] = b
		}, "confidence.bands.1440p.min_lines"},
		{"fallback above early stop", func(c *config.Config) {
			b := c.Confidence.Bands["sd"]
			b.Fallback = 0.9
			c.Confidence.Bands["sd"] = b
		}, "confidence.bands.sd.fallback"},
		{"rate ceiling", func(c *config.Config) { c.Breaker.RateCeiling = 0 }, "breaker.rate_ceiling"},
		{"acceptance", func(c *config.Config) { c.Resolution.AcceptanceThreshold = 1.5 }, "resolution.acceptance_threshold"},
		{"catalog url", func(c *config.Config) { c.Catalog.BaseURL = "not a url" }, "catalog.base_url"},
		{"retention locks", func(c *config.Config) { c.Idempotency.LockTTL = 7200; c.Idempotency.ExecTimeout = 60 }, "retention.locks_ttl_hours"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, services.ErrConfiguration) {
				t.Fatalf("expected configuration marker, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("expected %q in %q", tt.wantMsg, err.Error())
			}
		})
	}
}

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestCreateSampleProducesParsableConfig(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	path := filepath.Join(tempHome, "nested", "config.toml")

	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var decoded config.Config
	if err := toml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("sample config should parse: %v", err)
	}
	if decoded.Breaker.WindowSeconds != config.Default().Breaker.WindowSeconds {
		t.Fatalf("sample breaker window drifted from defaults: %d", decoded.Breaker.WindowSeconds)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if len(cfg.Confidence.Bands) != len(config.BandOrder) {
		t.Fatalf("unexpected band count: %d", len(cfg.Confidence.Bands))
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories returned error: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q: %v", dir, err)
		}
	}
}
