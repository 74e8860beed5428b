package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var (
	ErrMissingUpstreamURL = errors.New("UPSTREAM_BASE_URL is required")
	ErrMissingDatabaseDSN = errors.New("DB_DSN is required when DB_DRIVER is set")
)

type Config struct {
	ListenAddr string

	Upstream UpstreamConfig
	Timeouts TimeoutConfig
	Redis    RedisConfig
	DB       DBConfig
	HTTP     HTTPConfig
	Rate     RateConfig
	Log      LogConfig
}

type UpstreamConfig struct {
	BaseURL      string
	APIKey       string
	DefaultModel string
	Referer      string
	AppTitle     string
}

type TimeoutConfig struct {
	Connect time.Duration
	Idle    time.Duration
	Total   time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DBConfig struct {
	Driver      string
	DSN         string
	AutoMigrate bool
}

type HTTPConfig struct {
	HealthPath  string
	MetricsPath string
}

type RateConfig struct {
	PerHour int64
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr: mustEnv("LISTEN_ADDR", ":8080"),
		Upstream: UpstreamConfig{
			BaseURL:      mustEnv("UPSTREAM_BASE_URL", "https://openrouter.ai/api/v1"),
			APIKey:       mustEnv("UPSTREAM_API_KEY", ""),
			DefaultModel: mustEnv("DEFAULT_MODEL", "x-ai/grok-4.1-fast"),
			Referer:      mustEnv("HTTP_REFERER", "http://localhost:3000"),
			AppTitle:     mustEnv("APP_TITLE", "chatrelay"),
		},
		Timeouts: TimeoutConfig{
			Connect: mustDuration("CONNECT_TIMEOUT", 30*time.Second),
			Idle:    mustDuration("IDLE_TIMEOUT", 60*time.Second),
			Total:   mustDuration("TOTAL_TIMEOUT", 5*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     mustEnv("REDIS_ADDR", ""),
			Password: mustEnv("REDIS_PASSWORD", ""),
			DB:       mustInt("REDIS_DB", 0),
		},
		DB: DBConfig{
			Driver:      strings.ToLower(mustEnv("DB_DRIVER", "")),
			DSN:         mustEnv("DB_DSN", ""),
			AutoMigrate: mustBool("AUTO_MIGRATE", true),
		},
		HTTP: HTTPConfig{
			HealthPath:  mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath: mustEnv("METRICS_PATH", "/metrics"),
		},
		Rate: RateConfig{
			PerHour: int64(mustInt("RATE_LIMIT_PER_HOUR", 0)),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}

	if cfg.Upstream.BaseURL == "" {
		return nil, ErrMissingUpstreamURL
	}
	// A missing API key is reported per-request on /chat, not at startup,
	// so the server can come up before credentials are provisioned.
	if cfg.DB.Driver != "" {
		switch cfg.DB.Driver {
		case DriverPostgres, "pgx", DriverSQLite, "sqlite3":
		default:
			return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DB.Driver)
		}
		if cfg.DB.DSN == "" {
			return nil, ErrMissingDatabaseDSN
		}
	}
	if cfg.Timeouts.Connect <= 0 || cfg.Timeouts.Idle <= 0 || cfg.Timeouts.Total <= 0 {
		return nil, fmt.Errorf("timeouts must be positive")
	}
	if cfg.Rate.PerHour > 0 && cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("RATE_LIMIT_PER_HOUR requires REDIS_ADDR")
	}

	return cfg, nil
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
