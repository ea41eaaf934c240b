package dbconfig

import (
	"database/sql"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds Postgres connection and pool settings.
type Config struct {
	// URL, when set, is used as the connection string and the discrete
	// fields below only fill in missing query parameters.
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	ApplicationName string
	ConnectTimeout  time.Duration

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewConfigFromEnv reads DATABASE_URL and DB_* environment variables (with defaults).
func NewConfigFromEnv() Config {
	return Config{
		URL:             os.Getenv("DATABASE_URL"),
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "postgres"),
		Password:        getEnv("DB_PASSWORD", "postgres"),
		Database:        getEnv("DB_NAME", "tempo"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		ApplicationName: getEnv("DB_APPLICATION_NAME", "timerd"),
		ConnectTimeout:  getEnvAsDuration("DB_CONNECT_TIMEOUT", 10*time.Second),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
	}
}

// DSN returns the Postgres connection URL. User info is escaped, so
// passwords may contain reserved characters.
func (c Config) DSN() string {
	return c.url().String()
}

// Redacted is the DSN with the password masked, for logs
func (c Config) Redacted() string {
	return c.url().Redacted()
}

// ConfigurePool applies the pool limits to db
func (c Config) ConfigurePool(db *sql.DB) {
	if c.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		db.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(c.ConnMaxLifetime)
	}
}

func (c Config) url() *url.URL {
	u, err := url.Parse(c.URL)
	if c.URL == "" || err != nil {
		u = &url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.User, c.Password),
			Host:     c.Host + ":" + strconv.Itoa(c.Port),
			Path:     "/" + c.Database,
			RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
		}
	}

	q := u.Query()
	if c.ApplicationName != "" && q.Get("application_name") == "" {
		q.Set("application_name", c.ApplicationName)
	}
	// lib/pq takes whole seconds
	if secs := int(c.ConnectTimeout / time.Second); secs > 0 && q.Get("connect_timeout") == "" {
		q.Set("connect_timeout", strconv.Itoa(secs))
	}
	u.RawQuery = q.Encode()
	return u
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return fallback
}
