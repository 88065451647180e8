package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all configuration for the application.
type Config struct {
	Port     string
	Env      string
	LogLevel zerolog.Level

	// Storage. DatabaseURL selects PostgreSQL; otherwise SQLite at DatabasePath.
	DatabasePath string
	DatabaseURL  string

	// Rate limiting. RedisURL shares cooldowns across instances.
	RedisURL     string
	SendCooldown time.Duration
	// RegisterCooldown spaces registrations from one client address. Zero disables it.
	RegisterCooldown time.Duration

	// HTTP
	MaxBodyBytes   int64
	AllowedOrigins []string

	// Live viewers
	ViewerBuffer int
}

// Load reads configuration from environment variables.
// It loads a .env file first if one is present.
func Load() (*Config, error) {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, applying defaults for unset keys.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	get := func(key, defaultValue string) string {
		if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
		return defaultValue
	}

	var errs []error

	level, err := zerolog.ParseLevel(get("LOG_LEVEL", "info"))
	if err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	cooldown, err := time.ParseDuration(get("SEND_COOLDOWN", "30s"))
	if err != nil {
		errs = append(errs, fmt.Errorf("SEND_COOLDOWN: %w", err))
	}

	registerCooldown, err := time.ParseDuration(get("REGISTER_COOLDOWN", "10s"))
	if err != nil || registerCooldown < 0 {
		errs = append(errs, errors.New("REGISTER_COOLDOWN: must be a non-negative duration"))
	}

	maxBody, err := strconv.ParseInt(get("MAX_BODY_BYTES", "8192"), 10, 64)
	if err != nil || maxBody <= 0 {
		errs = append(errs, errors.New("MAX_BODY_BYTES: must be a positive integer"))
	}

	buffer, err := strconv.Atoi(get("VIEWER_BUFFER", "256"))
	if err != nil || buffer <= 0 {
		errs = append(errs, errors.New("VIEWER_BUFFER: must be a positive integer"))
	}

	cfg := &Config{
		Port:             get("PORT", "8080"),
		Env:              get("ENV", "development"),
		LogLevel:         level,
		DatabasePath:     get("DATABASE_PATH", ""),
		DatabaseURL:      get("DATABASE_URL", ""),
		RedisURL:         get("REDIS_URL", ""),
		SendCooldown:     cooldown,
		RegisterCooldown: registerCooldown,
		MaxBodyBytes:     maxBody,
		AllowedOrigins:   splitList(get("ALLOWED_ORIGINS", "*")),
		ViewerBuffer:     buffer,
	}

	// Development falls back to a local SQLite file; production must say
	// where its data lives.
	if cfg.DatabaseURL == "" && cfg.DatabasePath == "" {
		if cfg.IsProduction() {
			errs = append(errs, errors.New("DATABASE_URL or DATABASE_PATH is required in production"))
		} else {
			cfg.DatabasePath = "./data/relay.db"
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UsePostgres reports whether PostgreSQL replaces the SQLite file.
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

func splitList(value string) []string {
	var out []string
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
