package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DEFINITIONS_BASE_URL", "http://defs.example.com/api/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DefinitionsBaseURL != "http://defs.example.com/api" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.DefinitionsBaseURL)
	}
	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.FetchMaxRetries != 4 {
		t.Errorf("expected default retries 4, got %d", cfg.FetchMaxRetries)
	}
	if cfg.FetchRetryDelay != 500*time.Millisecond {
		t.Errorf("expected default retry delay 500ms, got %s", cfg.FetchRetryDelay)
	}
	if cfg.FetchTimeout != 30*time.Second {
		t.Errorf("expected default fetch timeout 30s, got %s", cfg.FetchTimeout)
	}
	if cfg.CacheTTL != 0 {
		t.Errorf("expected no cache TTL by default, got %s", cfg.CacheTTL)
	}
	if cfg.DefaultHL7Version != "2.5" {
		t.Errorf("expected default version 2.5, got %s", cfg.DefaultHL7Version)
	}
	if cfg.MSHMessageType != "ADT^A01" {
		t.Errorf("expected default message type ADT^A01, got %s", cfg.MSHMessageType)
	}
	if cfg.DBMaxConns != 10 {
		t.Errorf("expected default max conns 10, got %d", cfg.DBMaxConns)
	}
	if len(cfg.CORSOrigins) == 0 {
		t.Error("expected default CORS origins")
	}
	if cfg.BodyLimit != "2M" {
		t.Errorf("expected default body limit 2M, got %s", cfg.BodyLimit)
	}
	if cfg.RateLimitRPS != 0 || cfg.RateLimitBurst != 20 {
		t.Errorf("expected inbound rate limiting off with burst 20, got %v/%d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if !cfg.MetricsEnabled {
		t.Error("expected metrics enabled by default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DEFINITIONS_BASE_URL", "https://defs.example.com")
	t.Setenv("FETCH_MAX_RETRIES", "2")
	t.Setenv("FETCH_RETRY_DELAY", "1s")
	t.Setenv("CACHE_TTL", "15m")
	t.Setenv("MLLP_ADDR", "127.0.0.1:2575")
	t.Setenv("CORS_ORIGINS", "http://a.test,http://b.test")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("METRICS_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.FetchMaxRetries != 2 {
		t.Errorf("expected 2 retries, got %d", cfg.FetchMaxRetries)
	}
	if cfg.FetchRetryDelay != time.Second {
		t.Errorf("expected 1s retry delay, got %s", cfg.FetchRetryDelay)
	}
	if cfg.CacheTTL != 15*time.Minute {
		t.Errorf("expected 15m TTL, got %s", cfg.CacheTTL)
	}
	if cfg.MLLPAddr != "127.0.0.1:2575" {
		t.Errorf("expected MLLP address, got %s", cfg.MLLPAddr)
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Errorf("expected 2 CORS origins, got %v", cfg.CORSOrigins)
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Errorf("expected 2.5 rps, got %v", cfg.RateLimitRPS)
	}
	if cfg.MetricsEnabled {
		t.Error("expected metrics disabled")
	}
}

func TestConfig_IsDev(t *testing.T) {
	c := &Config{Env: "development"}
	if !c.IsDev() {
		t.Error("expected IsDev() to return true for development")
	}

	c.Env = "production"
	if c.IsDev() {
		t.Error("expected IsDev() to return false for production")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Env:                "development",
			DefinitionsBaseURL: "http://defs.example.com",
			FetchMaxRetries:    4,
			DBMaxConns:         10,
			DBMinConns:         1,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing base url", func(c *Config) { c.DefinitionsBaseURL = "" }, "DEFINITIONS_BASE_URL is required"},
		{"relative base url", func(c *Config) { c.DefinitionsBaseURL = "defs/api" }, "absolute http(s) URL"},
		{"negative retries", func(c *Config) { c.FetchMaxRetries = -1 }, "FETCH_MAX_RETRIES"},
		{"negative ttl", func(c *Config) { c.CacheTTL = -time.Second }, "CACHE_TTL"},
		{"negative rate limit", func(c *Config) { c.RateLimitRPS = -1 }, "RATE_LIMIT_RPS"},
		{"rate limit without burst", func(c *Config) { c.RateLimitRPS = 5 }, "RATE_LIMIT_BURST"},
		{"pool bounds", func(c *Config) { c.DBMinConns = 20 }, "DB_MIN_CONNS"},
		{"production without auth", func(c *Config) { c.Env = "production" }, "AUTH_SIGNING_KEY must be set"},
		{"short signing key", func(c *Config) { c.AuthSigningKey = "short" }, "at least 32 bytes"},
		{"production with auth", func(c *Config) {
			c.Env = "production"
			c.AuthSigningKey = strings.Repeat("k", 32)
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
