package config

import (
	"strings"
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "local")
	t.Setenv("APP_PORT", "8080")
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "app")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "calls")
	t.Setenv("DB_SSLMODE", "")
	t.Setenv("REDIS_HOST", "")
	t.Setenv("PROVIDER_API_KEY", "")
	t.Setenv("PROVIDER_ACCOUNT_ID", "")
	t.Setenv("PROVIDER_BASE_URL", "")
	t.Setenv("EXCLUDE_AGENTS", "")
	t.Setenv("DEFAULT_ONLY_TAGS", "")
	t.Setenv("BOOKING_TAGS", "")
	t.Setenv("CACHE_TTL", "")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DB.SSLMode != "disable" {
		t.Fatalf("SSLMode = %q, want local-friendly disable default", cfg.DB.SSLMode)
	}
	if cfg.Provider.BaseURL != defaultProviderBaseURL {
		t.Fatalf("BaseURL = %q", cfg.Provider.BaseURL)
	}
	if len(cfg.Metrics.BookingTags) == 0 {
		t.Fatalf("BookingTags default missing")
	}
	if cfg.Metrics.CacheTTL != 30*time.Second {
		t.Fatalf("CacheTTL = %v", cfg.Metrics.CacheTTL)
	}
	if cfg.ProviderConfigured() {
		t.Fatalf("provider should not be configured")
	}
	if cfg.HTTPAddr() != ":8080" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr())
	}
}

func TestLoadCSVLists(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("EXCLUDE_AGENTS", "Front Desk, After Hours ,")
	t.Setenv("BOOKING_TAGS", "Booked")
	t.Setenv("CACHE_TTL", "2m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Metrics.ExcludeAgents) != 2 || cfg.Metrics.ExcludeAgents[1] != "After Hours" {
		t.Fatalf("ExcludeAgents = %v", cfg.Metrics.ExcludeAgents)
	}
	if len(cfg.Metrics.BookingTags) != 1 || cfg.Metrics.BookingTags[0] != "Booked" {
		t.Fatalf("BookingTags = %v", cfg.Metrics.BookingTags)
	}
	if cfg.Metrics.CacheTTL != 2*time.Minute {
		t.Fatalf("CacheTTL = %v", cfg.Metrics.CacheTTL)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("APP_ENV", "galaxy")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "APP_ENV") {
		t.Fatalf("err = %v", err)
	}
}

func TestProductionRequiresSSLMode(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("APP_ENV", "production")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "DB_SSLMODE") {
		t.Fatalf("err = %v", err)
	}

	t.Setenv("DB_SSLMODE", "require")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.IsProduction() {
		t.Fatalf("IsProduction = false")
	}
}

func TestProviderCredentialsPaired(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PROVIDER_API_KEY", "key-only")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "PROVIDER_ACCOUNT_ID") {
		t.Fatalf("err = %v", err)
	}

	t.Setenv("PROVIDER_ACCOUNT_ID", "acc-1")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.ProviderConfigured() {
		t.Fatalf("provider should be configured")
	}
}

func TestRedisOptional(t *testing.T) {
	setBaseEnv(t)
	if cfg, err := Load(); err != nil || cfg.RedisAddr() != "" {
		t.Fatalf("cfg=%+v err=%v", cfg.Redis, err)
	}

	t.Setenv("REDIS_HOST", "localhost")
	t.Setenv("REDIS_PORT", "6379")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RedisAddr() != "localhost:6379" {
		t.Fatalf("RedisAddr = %q", cfg.RedisAddr())
	}
}
