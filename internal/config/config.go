package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults mirror the production configuration surface. Every value is
// overridable through the environment.
const (
	defaultAccessTTL  = 900000 * time.Millisecond    // 15 minutes
	defaultRefreshTTL = 604800000 * time.Millisecond // 7 days
	defaultIssuer     = "halolight"

	defaultBucketCapacity = 100
	authBucketCapacity    = 10
	defaultRefillWindow   = 60 * time.Second

	defaultSweepInterval = time.Hour
)

// Config holds runtime configuration sourced from env vars.
type Config struct {
	HTTPAddr string
	GRPCAddr string

	DatabaseDSN string

	JWTSecret  string
	JWTIssuer  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	DefaultBucketCapacity int
	AuthBucketCapacity    int
	RefillWindow          time.Duration

	SweepInterval time.Duration
}

// Load reads configuration from the environment. A .env file is honored
// when present but never required.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:              fallback(os.Getenv("HALOLIGHT_HTTP_ADDR"), ":8080"),
		GRPCAddr:              fallback(os.Getenv("HALOLIGHT_GRPC_ADDR"), ":9090"),
		DatabaseDSN:           strings.TrimSpace(os.Getenv("HALOLIGHT_PG_DSN")),
		JWTSecret:             strings.TrimSpace(os.Getenv("HALOLIGHT_AUTH_SECRET")),
		JWTIssuer:             fallback(os.Getenv("HALOLIGHT_JWT_ISSUER"), defaultIssuer),
		AccessTTL:             millis("HALOLIGHT_ACCESS_TTL_MS", defaultAccessTTL),
		RefreshTTL:            millis("HALOLIGHT_REFRESH_TTL_MS", defaultRefreshTTL),
		DefaultBucketCapacity: positiveInt("HALOLIGHT_RATE_CAPACITY", defaultBucketCapacity),
		AuthBucketCapacity:    positiveInt("HALOLIGHT_RATE_AUTH_CAPACITY", authBucketCapacity),
		RefillWindow:          seconds("HALOLIGHT_RATE_WINDOW_S", defaultRefillWindow),
		SweepInterval:         seconds("HALOLIGHT_SWEEP_INTERVAL_S", defaultSweepInterval),
	}

	if cfg.JWTSecret == "" {
		return Config{}, errors.New("HALOLIGHT_AUTH_SECRET is required")
	}
	return cfg, nil
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return strings.TrimSpace(value)
}

func millis(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func seconds(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	s, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || s <= 0 {
		return def
	}
	return time.Duration(s) * time.Second
}

func positiveInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// String renders the non-secret parts of the configuration for startup logs.
func (c Config) String() string {
	return fmt.Sprintf("http=%s grpc=%s issuer=%s access_ttl=%s refresh_ttl=%s",
		c.HTTPAddr, c.GRPCAddr, c.JWTIssuer, c.AccessTTL, c.RefreshTTL)
}
