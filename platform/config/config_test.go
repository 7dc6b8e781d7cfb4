package config

import (
	"testing"
)

// Every module takes the narrowest interface it needs; the concrete Config
// must keep satisfying all of them.
var (
	_ HTTPConfig         = (*Config)(nil)
	_ QueueConfig        = (*Config)(nil)
	_ BitrixConfig       = (*Config)(nil)
	_ TokenRefreshConfig = (*Config)(nil)
	_ SyncConfig         = (*Config)(nil)
)

func TestLoadAppliesSafetyDefaults(t *testing.T) {
	t.Setenv("B24_DOMAIN", "example.bitrix24.eu")
	t.Setenv("B24_RATE_LIMIT", "0")
	t.Setenv("ASYNQ_CONCURRENCY", "0")
	t.Setenv("B24_CALL_TIMEOUT", "bogus")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.GetBitrixDomain() != "example.bitrix24.eu" {
		t.Fatalf("domain = %q", cfg.GetBitrixDomain())
	}
	if cfg.GetBitrixRateLimit() != 2 {
		t.Fatalf("rate limit = %v, want the default 2", cfg.GetBitrixRateLimit())
	}
	if cfg.GetAsynqConcurrency() != 10 {
		t.Fatalf("concurrency = %d, want the default 10", cfg.GetAsynqConcurrency())
	}
	if cfg.GetBitrixCallTimeout() <= 0 {
		t.Fatalf("call timeout = %v, want a positive default", cfg.GetBitrixCallTimeout())
	}
}

func TestLoadRequiresDomain(t *testing.T) {
	t.Setenv("B24_DOMAIN", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when B24_DOMAIN is empty")
	}
}

func TestLoadDefaultsCORSOriginToPortalDomain(t *testing.T) {
	t.Setenv("B24_DOMAIN", "example.bitrix24.eu")
	t.Setenv("CORS_ALLOW_ALL", "false")
	t.Setenv("CORS_ORIGINS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	origins := cfg.GetCORSOrigins()
	if len(origins) != 1 || origins[0] != "https://example.bitrix24.eu" {
		t.Fatalf("origins = %v, want the portal domain", origins)
	}
}

func TestLoadParsesExplicitCORSOrigins(t *testing.T) {
	t.Setenv("B24_DOMAIN", "example.bitrix24.eu")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	origins := cfg.GetCORSOrigins()
	if len(origins) != 2 || origins[0] != "https://a.example" || origins[1] != "https://b.example" {
		t.Fatalf("origins = %v", origins)
	}
}
