// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package config handles application-wide settings and environment parsing.

It leverages 'caarlos0/env' to map OS environment variables into a strongly-typed
Go struct, providing early validation and default values. A local '.env' file is
loaded first when present so developers do not need to export variables by hand.

Usage:

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}

Architecture:

  - Immutability: Once loaded, configuration is read-only.
  - DI-Friendly: Passed to core components (DB, Redis, security policy) via constructors.
  - Zero Hidden State: No global variables are used to store config.
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// # Configuration Schema

// Config holds all runtime configuration for the Agora identity service.
type Config struct {

	// Server settings
	ServerPort  string `env:"SERVER_PORT"  envDefault:"8080"`
	Environment string `env:"ENVIRONMENT"  envDefault:"development"`
	Debug       bool   `env:"DEBUG"        envDefault:"false"`

	// Relational Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// MigrationPath is the filesystem path to the SQL migrations directory.
	MigrationPath string `env:"MIGRATION_PATH" envDefault:"./data/migrations"`

	// Key-Value Cache (Redis)
	RedisURL string `env:"REDIS_URL,required"`

	// Cryptographic keys for access token signing
	JWTPrivKeyPath string `env:"JWT_PRIVATE_KEY_PATH,required"`
	JWTPubKeyPath  string `env:"JWT_PUBLIC_KEY_PATH,required"`

	// Cross-Origin Resource Sharing
	AllowedOriginSuffix string `env:"ALLOWED_ORIGIN_SUFFIX" envDefault:"agora.social"`

	// Per-address edge throttle applied to every route
	EdgeRateRPS   float64 `env:"EDGE_RATE_RPS"   envDefault:"100"`
	EdgeRateBurst int     `env:"EDGE_RATE_BURST" envDefault:"150"`

	Security SecurityConfig `envPrefix:"SECURITY_"`
	SMTP     SMTPConfig     `envPrefix:"SMTP_"`
	SMS      SMSConfig      `envPrefix:"SMS_"`
	Kafka    KafkaConfig    `envPrefix:"KAFKA_"`
	GeoIP    GeoIPConfig    `envPrefix:"GEOIP_"`
	OAuth    OAuthConfig    `envPrefix:"OAUTH_"`
}

// # Security Policy

// SecurityConfig holds the thresholds and windows of the account-security policy.
type SecurityConfig struct {
	// Credential lockout
	LockoutThreshold int           `env:"LOCKOUT_THRESHOLD" envDefault:"5"`
	LockoutWindow    time.Duration `env:"LOCKOUT_WINDOW"    envDefault:"15m"`

	// Token lifetimes
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL"  envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
	SessionReapAge  time.Duration `env:"SESSION_REAP_AGE"  envDefault:"2160h"`
	ReapInterval    time.Duration `env:"REAP_INTERVAL"     envDefault:"1h"`
	StepUpFreshFor  time.Duration `env:"STEP_UP_FRESH_FOR" envDefault:"15m"`

	// One-time codes
	OTPTTL         time.Duration `env:"OTP_TTL"          envDefault:"10m"`
	OTPMaxAttempts int           `env:"OTP_MAX_ATTEMPTS" envDefault:"5"`
	ChallengeTTL   time.Duration `env:"CHALLENGE_TTL"    envDefault:"10m"`
	TOTPIssuer     string        `env:"TOTP_ISSUER"      envDefault:"Agora"`

	// IP reputation
	IPTempThreshold      int           `env:"IP_TEMP_THRESHOLD"       envDefault:"10"`
	IPBaseBlock          time.Duration `env:"IP_BASE_BLOCK"           envDefault:"15m"`
	IPMaxBlock           time.Duration `env:"IP_MAX_BLOCK"            envDefault:"24h"`
	IPPermanentAfterBlks int           `env:"IP_PERMANENT_AFTER_BLKS" envDefault:"3"`

	// Per-account login throttling
	LoginRateMax    int           `env:"LOGIN_RATE_MAX"    envDefault:"20"`
	LoginRateWindow time.Duration `env:"LOGIN_RATE_WINDOW" envDefault:"1m"`

	// RiskPolicyPath points at an optional YAML file overriding risk weights.
	RiskPolicyPath string `env:"RISK_POLICY_PATH"`
}

// # Integrations

// SMTPConfig configures the email notification channel. Empty Host disables it.
type SMTPConfig struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT"     envDefault:"587"`
	From     string `env:"FROM"     envDefault:"no-reply@agora.social"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	TLSMode  string `env:"TLS_MODE" envDefault:"starttls"`
}

// SMSConfig configures the SMS gateway webhook. Empty URL disables it.
type SMSConfig struct {
	GatewayURL string `env:"GATEWAY_URL"`
	APIKey     string `env:"API_KEY"`
	Sender     string `env:"SENDER" envDefault:"Agora"`
}

// KafkaConfig configures the security alert fan-out. Empty Brokers disables it.
type KafkaConfig struct {
	Brokers    []string `env:"BROKERS" envSeparator:","`
	AlertTopic string   `env:"ALERT_TOPIC" envDefault:"identity.security-alerts"`
}

// GeoIPConfig configures the MaxMind city database. Empty path disables geo lookups.
type GeoIPConfig struct {
	DatabasePath  string        `env:"DATABASE_PATH"`
	LookupTimeout time.Duration `env:"LOOKUP_TIMEOUT" envDefault:"300ms"`
	CacheTTL      time.Duration `env:"CACHE_TTL"      envDefault:"6h"`
}

// OAuthConfig configures the external identity providers. A provider is
// registered only when its client id is set.
type OAuthConfig struct {
	RedirectBaseURL string `env:"REDIRECT_BASE_URL" envDefault:"http://localhost:8080/api/v1/auth/external"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`

	GitHubClientID     string `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"GITHUB_CLIENT_SECRET"`
}

// # Configuration Loading

// Load parses environment variables into a [Config] struct.
func Load() (*Config, error) {

	// A missing .env is the normal case outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: failed to read .env file: %w", err)
	}

	cfg := &Config{}

	// This will fail if any field marked with 'required' is missing.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}

	return cfg, nil
}

// IsDevelopment reports whether the server is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the server is running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// OriginSuffix implements the CORS policy lookup.
func (c *Config) OriginSuffix() string {
	return c.AllowedOriginSuffix
}
