package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	DefinitionsBaseURL   string        `mapstructure:"DEFINITIONS_BASE_URL"`
	FetchMaxRetries      int           `mapstructure:"FETCH_MAX_RETRIES"`
	FetchRetryDelay      time.Duration `mapstructure:"FETCH_RETRY_DELAY"`
	FetchTimeout         time.Duration `mapstructure:"FETCH_TIMEOUT"`
	UpstreamRateLimitRPS float64       `mapstructure:"UPSTREAM_RATE_LIMIT_RPS"`
	UpstreamRateBurst    int           `mapstructure:"UPSTREAM_RATE_BURST"`
	CacheTTL             time.Duration `mapstructure:"CACHE_TTL"`
	DefaultHL7Version    string        `mapstructure:"DEFAULT_HL7_VERSION"`

	MSHSendingApp        string `mapstructure:"MSH_SENDING_APP"`
	MSHSendingFacility   string `mapstructure:"MSH_SENDING_FACILITY"`
	MSHReceivingApp      string `mapstructure:"MSH_RECEIVING_APP"`
	MSHReceivingFacility string `mapstructure:"MSH_RECEIVING_FACILITY"`
	MSHMessageType       string `mapstructure:"MSH_MESSAGE_TYPE"`
	MSHControlID         string `mapstructure:"MSH_CONTROL_ID"`
	MSHProcessingID      string `mapstructure:"MSH_PROCESSING_ID"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	MetricsEnabled bool          `mapstructure:"METRICS_ENABLED"`

	MLLPAddr    string        `mapstructure:"MLLP_ADDR"`
	MLLPTimeout time.Duration `mapstructure:"MLLP_TIMEOUT"`
}

var keys = []string{
	"PORT", "ENV",
	"DEFINITIONS_BASE_URL", "FETCH_MAX_RETRIES", "FETCH_RETRY_DELAY", "FETCH_TIMEOUT",
	"UPSTREAM_RATE_LIMIT_RPS", "UPSTREAM_RATE_BURST", "CACHE_TTL", "DEFAULT_HL7_VERSION",
	"MSH_SENDING_APP", "MSH_SENDING_FACILITY", "MSH_RECEIVING_APP", "MSH_RECEIVING_FACILITY",
	"MSH_MESSAGE_TYPE", "MSH_CONTROL_ID", "MSH_PROCESSING_ID",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"CORS_ORIGINS", "AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "REQUEST_TIMEOUT",
	"BODY_LIMIT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "METRICS_ENABLED",
	"MLLP_ADDR", "MLLP_TIMEOUT",
}

// Load reads configuration from the environment and an optional .env file
// in the working directory. It does not validate; call Validate before
// serving.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("FETCH_MAX_RETRIES", 4)
	v.SetDefault("FETCH_RETRY_DELAY", "500ms")
	v.SetDefault("FETCH_TIMEOUT", "30s")
	v.SetDefault("UPSTREAM_RATE_LIMIT_RPS", 0)
	v.SetDefault("UPSTREAM_RATE_BURST", 1)
	v.SetDefault("CACHE_TTL", "0s")
	v.SetDefault("DEFAULT_HL7_VERSION", "2.5")
	v.SetDefault("MSH_SENDING_APP", "HL7MAPPER")
	v.SetDefault("MSH_SENDING_FACILITY", "HL7MAPPER")
	v.SetDefault("MSH_RECEIVING_APP", "RECEIVER")
	v.SetDefault("MSH_RECEIVING_FACILITY", "RECEIVER")
	v.SetDefault("MSH_MESSAGE_TYPE", "ADT^A01")
	v.SetDefault("MSH_CONTROL_ID", "MSG00001")
	v.SetDefault("MSH_PROCESSING_ID", "P")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("REQUEST_TIMEOUT", "60s")
	v.SetDefault("BODY_LIMIT", "2M")
	v.SetDefault("RATE_LIMIT_RPS", 0)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("MLLP_TIMEOUT", "10s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	cfg.DefinitionsBaseURL = strings.TrimRight(cfg.DefinitionsBaseURL, "/")

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// AuthEnabled reports whether bearer tokens are required on /api/v1.
func (c *Config) AuthEnabled() bool {
	return c.AuthSigningKey != ""
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if c.DefinitionsBaseURL == "" {
		return fmt.Errorf("DEFINITIONS_BASE_URL is required")
	}
	u, err := url.Parse(c.DefinitionsBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("DEFINITIONS_BASE_URL must be an absolute http(s) URL, got %q", c.DefinitionsBaseURL)
	}
	if c.FetchMaxRetries < 0 {
		return fmt.Errorf("FETCH_MAX_RETRIES must not be negative, got %d", c.FetchMaxRetries)
	}
	if c.FetchRetryDelay < 0 {
		return fmt.Errorf("FETCH_RETRY_DELAY must not be negative, got %s", c.FetchRetryDelay)
	}
	if c.UpstreamRateLimitRPS < 0 {
		return fmt.Errorf("UPSTREAM_RATE_LIMIT_RPS must not be negative, got %v", c.UpstreamRateLimitRPS)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("CACHE_TTL must not be negative, got %s", c.CacheTTL)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must not be negative, got %v", c.RateLimitRPS)
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_BURST must be at least 1 when RATE_LIMIT_RPS is set, got %d", c.RateLimitBurst)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	// A production server never runs without authentication.
	if !c.IsDev() && !c.AuthEnabled() {
		return fmt.Errorf("AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.AuthEnabled() && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
	}
	return nil
}
