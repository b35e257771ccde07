package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.BlobPublicURL != "/v1/blobs" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.MaxBodyBytes != 1<<20 || cfg.UploadMaxBytes != 25<<20 {
		t.Fatalf("unexpected body limits: %d %d", cfg.MaxBodyBytes, cfg.UploadMaxBytes)
	}
	if cfg.Production() {
		t.Fatalf("default env must not be production")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FLEETOPS_HTTP_ADDR", ":9999")
	t.Setenv("FLEETOPS_REDIS_URL", "redis://cache:6379/1")
	t.Setenv("FLEETOPS_LOGIN_RATE_PER_MIN", "3")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" || cfg.RedisURL != "redis://cache:6379/1" || cfg.LoginRatePerMin != 3 {
		t.Fatalf("env not applied: %+v", cfg)
	}
}

func TestLoadDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("LOG_LEVEL=debug\nBLOB_ROOT=/srv/blobs\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.BlobRoot != "/srv/blobs" {
		t.Fatalf(".env not applied: %+v", cfg)
	}
}

func TestProductionRequiresSigningSecret(t *testing.T) {
	t.Setenv("FLEETOPS_APP_ENV", "production")
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error without signing secret")
	}
	t.Setenv("FLEETOPS_BLOB_SIGNING_SECRET", "0123456789abcdef0123456789abcdef")
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Production() {
		t.Fatal("expected production")
	}
}
