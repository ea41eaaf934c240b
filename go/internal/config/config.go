// Package config loads timerd settings from the environment, an optional
// .env file and an optional YAML file named by TIMERD_CONFIG.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/tempo/go/internal/dbconfig"
	"github.com/mcdev12/tempo/go/internal/timer/kvstore"
	"github.com/mcdev12/tempo/go/internal/timer/session"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendNATS     = "nats"
)

var ErrMissingSecret = errors.New("JWT_SECRET is required")

type Config struct {
	Port            string
	LogLevel        string
	StoreBackend    string
	JWTSecret       string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
	// MigrateOnStart applies the Postgres schema before serving
	MigrateOnStart bool

	Database dbconfig.Config
	NATS     kvstore.Config
	Sync     session.Config
}

// fileConfig is the shape of the YAML overlay
type fileConfig struct {
	AllowedOrigins []string       `yaml:"allowed_origins"`
	Sync           session.Config `yaml:"sync"`
}

// Load reads configuration. Precedence is environment, then the YAML
// file, then defaults.
func Load() (*Config, error) {
	// .env is optional outside development
	_ = godotenv.Load()

	cfg := &Config{
		AllowedOrigins:  []string{"*"},
		ShutdownTimeout: 15 * time.Second,
		Sync:            session.DefaultConfig(),
		NATS:            kvstore.DefaultConfig(),
	}

	if path := os.Getenv("TIMERD_CONFIG"); path != "" {
		fc, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		cfg.apply(fc)
	}

	cfg.Port = getEnv("PORT", "8080")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.StoreBackend = strings.ToLower(getEnv("STORE_BACKEND", BackendMemory))
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.MigrateOnStart = getEnvAsBool("DB_MIGRATE", true)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitList(origins)
	}

	cfg.Database = dbconfig.NewConfigFromEnv()
	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)
	cfg.NATS.Bucket = getEnv("KV_BUCKET", cfg.NATS.Bucket)

	cfg.Sync.SyncInterval = getEnvAsDuration("SYNC_INTERVAL", cfg.Sync.SyncInterval)
	cfg.Sync.PollInterval = getEnvAsDuration("POLL_INTERVAL", cfg.Sync.PollInterval)
	cfg.Sync.TickInterval = getEnvAsDuration("TICK_INTERVAL", cfg.Sync.TickInterval)
	cfg.Sync.RetryDelay = getEnvAsDuration("RETRY_DELAY", cfg.Sync.RetryDelay)
	cfg.Sync.MaxSaveAttempts = getEnvAsInt("MAX_SAVE_ATTEMPTS", cfg.Sync.MaxSaveAttempts)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) apply(fc *fileConfig) {
	if len(fc.AllowedOrigins) > 0 {
		c.AllowedOrigins = fc.AllowedOrigins
	}
	if fc.Sync.SyncInterval > 0 {
		c.Sync.SyncInterval = fc.Sync.SyncInterval
	}
	if fc.Sync.PollInterval > 0 {
		c.Sync.PollInterval = fc.Sync.PollInterval
	}
	if fc.Sync.TickInterval > 0 {
		c.Sync.TickInterval = fc.Sync.TickInterval
	}
	if fc.Sync.RetryDelay > 0 {
		c.Sync.RetryDelay = fc.Sync.RetryDelay
	}
	if fc.Sync.MaxSaveAttempts > 0 {
		c.Sync.MaxSaveAttempts = fc.Sync.MaxSaveAttempts
	}
	if fc.Sync.WatchBuffer > 0 {
		c.Sync.WatchBuffer = fc.Sync.WatchBuffer
	}
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return ErrMissingSecret
	}
	switch c.StoreBackend {
	case BackendMemory, BackendPostgres, BackendNATS:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	return nil
}

func loadFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &fc, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
