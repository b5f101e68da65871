// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// MinMasterSecretLength is the minimum length in bytes of MASTER_SECRET.
const MinMasterSecretLength = 32

// ErrMasterSecretTooShort is returned by MasterSecretBytes when MASTER_SECRET is unset or too short.
var ErrMasterSecretTooShort = errors.New("config: MASTER_SECRET must be at least 32 bytes")

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :3000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080). Empty disables gRPC.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// MasterSecret seals every keystore entry. Changing it makes all stored keys undecryptable;
	// the account tier regenerates its key and every project key on the next startup.
	MasterSecret string `mapstructure:"MASTER_SECRET"`
	// JWTIssuer is the iss claim shared by both tiers.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTSessionTTL is the session token lifetime (e.g. "8760h").
	JWTSessionTTL string `mapstructure:"JWT_SESSION_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// RSAKeyBits is the modulus size for generated tenant keys.
	RSAKeyBits int `mapstructure:"RSA_KEY_BITS"`
	// KeygenWorkers bounds concurrent RSA key generation.
	KeygenWorkers int `mapstructure:"KEYGEN_WORKERS"`
	// CookieSecure sets the Secure flag on auth cookies. Only disable for local plain-HTTP development.
	CookieSecure bool `mapstructure:"COOKIE_SECURE"`
	// OTLPEndpoint is the OpenTelemetry collector endpoint; empty keeps telemetry local and no-op.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":3000")
	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("MASTER_SECRET", "")
	v.SetDefault("JWT_ISSUER", "jAuth")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_SESSION_TTL", "8760h") // 1y
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("RSA_KEY_BITS", 2048)
	v.SetDefault("KEYGEN_WORKERS", 2)
	v.SetDefault("COOKIE_SECURE", true)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.JWTIssuer == "" {
		return nil, errors.New("config: JWT_ISSUER must be set")
	}
	if !cfg.CookieSecure && cfg.Env == "production" {
		return nil, errors.New("config: COOKIE_SECURE must not be false when APP_ENV=production")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.RSAKeyBits < 2048 {
		return nil, errors.New("config: RSA_KEY_BITS must be at least 2048")
	}
	if cfg.KeygenWorkers <= 0 {
		cfg.KeygenWorkers = 1
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// SessionTTL parses JWTSessionTTL as a time.Duration. Returns one year if unset or invalid.
func (c *Config) SessionTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTSessionTTL)
	if err != nil || d <= 0 {
		return 365 * 24 * time.Hour
	}
	return d
}

// MasterSecretBytes returns the master secret, or ErrMasterSecretTooShort.
// Only binaries that touch the keystore need it, so Load does not enforce it.
func (c *Config) MasterSecretBytes() ([]byte, error) {
	if len(c.MasterSecret) < MinMasterSecretLength {
		return nil, ErrMasterSecretTooShort
	}
	return []byte(c.MasterSecret), nil
}
