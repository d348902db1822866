package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the KeyFort server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Crypto   CryptoConfig
	Auth     AuthConfig
	Delegate DelegateConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	RateLimitPerMin int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type CryptoConfig struct {
	MasterKey string
}

type AuthConfig struct {
	JWTSecret     string
	TokenTTL      time.Duration
	ResetTokenTTL time.Duration
	BcryptCost    int
}

// DelegateConfig points at the external identity provider. An empty
// BaseURL means delegation is disabled, which is a normal state.
type DelegateConfig struct {
	BaseURL        string
	ServiceRoleKey string
	Timeout        time.Duration
}

// Enabled reports whether delegate operations can be attempted at all.
func (d DelegateConfig) Enabled() bool {
	return d.BaseURL != ""
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("KEYFORT_PORT", 8080),
			Env:             envString("KEYFORT_ENV", "development"),
			RateLimitPerMin: envInt("RATE_LIMIT_PER_MIN", 60),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Crypto: CryptoConfig{
			MasterKey: os.Getenv("CRYPTO_MASTER_KEY"),
		},
		Auth: AuthConfig{
			JWTSecret:     os.Getenv("JWT_SECRET"),
			TokenTTL:      envDuration("JWT_TTL", 30*24*time.Hour),
			ResetTokenTTL: envDuration("RESET_TOKEN_TTL", 15*time.Minute),
			BcryptCost:    envInt("BCRYPT_COST", 12),
		},
		Delegate: DelegateConfig{
			BaseURL:        os.Getenv("SUPABASE_URL"),
			ServiceRoleKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
			Timeout:        envDuration("DELEGATE_TIMEOUT", 10*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Crypto.MasterKey == "" {
		return fmt.Errorf("CRYPTO_MASTER_KEY is required")
	}
	key, err := base64.StdEncoding.DecodeString(c.Crypto.MasterKey)
	if err != nil {
		return fmt.Errorf("CRYPTO_MASTER_KEY must be base64: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("CRYPTO_MASTER_KEY must decode to 32 bytes, got %d", len(key))
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Delegate.ServiceRoleKey != "" && c.Delegate.BaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required when SUPABASE_SERVICE_ROLE_KEY is set")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
