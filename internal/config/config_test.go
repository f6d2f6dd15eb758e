package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HALOLIGHT_AUTH_SECRET", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.GRPCAddr != ":9090" {
		t.Fatalf("unexpected addrs: %s %s", cfg.HTTPAddr, cfg.GRPCAddr)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("unexpected access ttl: %s", cfg.AccessTTL)
	}
	if cfg.RefreshTTL != 7*24*time.Hour {
		t.Fatalf("unexpected refresh ttl: %s", cfg.RefreshTTL)
	}
	if cfg.DefaultBucketCapacity != 100 || cfg.AuthBucketCapacity != 10 {
		t.Fatalf("unexpected rate capacities: %d %d", cfg.DefaultBucketCapacity, cfg.AuthBucketCapacity)
	}
	if cfg.JWTIssuer != "halolight" {
		t.Fatalf("unexpected issuer: %s", cfg.JWTIssuer)
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("HALOLIGHT_AUTH_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error without secret")
	}
}

func TestLoadIgnoresInvalidOverrides(t *testing.T) {
	t.Setenv("HALOLIGHT_AUTH_SECRET", "test-secret")
	t.Setenv("HALOLIGHT_ACCESS_TTL_MS", "not-a-number")
	t.Setenv("HALOLIGHT_RATE_CAPACITY", "-5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("invalid ttl override must fall back, got %s", cfg.AccessTTL)
	}
	if cfg.DefaultBucketCapacity != 100 {
		t.Fatalf("invalid capacity override must fall back, got %d", cfg.DefaultBucketCapacity)
	}
}
