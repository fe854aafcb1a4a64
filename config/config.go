// Package config loads server settings from an optional YAML file and the
// environment. Environment variables win over the file; env-default tags
// supply the rest.
package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env        string     `yaml:"env" env:"APP_ENV" env-default:"local"`
	HTTPServer HTTPServer `yaml:"http_server"`
	Storage    Storage    `yaml:"storage"`
	Lock       Lock       `yaml:"lock"`
	Scheduling Scheduling `yaml:"scheduling"`
	Kafka      Kafka      `yaml:"kafka"`
	Tracing    Tracing    `yaml:"tracing"`
	RateLimit  RateLimit  `yaml:"rate_limit"`
	CORS       CORS       `yaml:"cors"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" env:"HTTP_ADDRESS" env-default:":8080"`
	Timeout         time.Duration `yaml:"timeout" env:"HTTP_TIMEOUT" env-default:"10s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"15s"`
}

type Storage struct {
	// Driver is one of sqlite, postgres, memory.
	Driver      string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"sqlite"`
	SQLitePath  string `yaml:"sqlite_path" env:"SQLITE_PATH" env-default:"appointments.db"`
	PostgresURL string `yaml:"postgres_url" env:"POSTGRES_URL"`
}

type Lock struct {
	// Driver is one of local, redis.
	Driver        string        `yaml:"driver" env:"LOCK_DRIVER" env-default:"local"`
	RedisAddr     string        `yaml:"redis_addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" env:"REDIS_DB" env-default:"0"`
	TTL           time.Duration `yaml:"ttl" env:"LOCK_TTL" env-default:"10s"`
	WaitTimeout   time.Duration `yaml:"wait_timeout" env:"LOCK_WAIT_TIMEOUT" env-default:"5s"`
}

type Scheduling struct {
	StoreTimeout time.Duration `yaml:"store_timeout" env:"STORE_TIMEOUT" env-default:"3s"`
	MaxRangeDays int           `yaml:"max_range_days" env:"MAX_RANGE_DAYS" env-default:"93"`

	// HolidayRefresh is how often holidays are reloaded from the store.
	HolidayRefresh time.Duration `yaml:"holiday_refresh" env:"HOLIDAY_REFRESH" env-default:"1m"`

	// RequireRequestedDates rejects proposals on dates the resident did not ask for.
	RequireRequestedDates bool `yaml:"require_requested_dates" env:"REQUIRE_REQUESTED_DATES" env-default:"false"`
}

type Kafka struct {
	// Brokers is a comma separated list; empty disables event publishing.
	Brokers     string `yaml:"brokers" env:"KAFKA_BROKERS"`
	TopicPrefix string `yaml:"topic_prefix" env:"KAFKA_TOPIC_PREFIX"`
}

type Tracing struct {
	Enabled     bool    `yaml:"enabled" env:"OTEL_ENABLED" env-default:"false"`
	Endpoint    string  `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT" env-default:"localhost:4317"`
	SampleRatio float64 `yaml:"sample_ratio" env:"OTEL_SAMPLING_RATIO" env-default:"1"`
	ServiceName string  `yaml:"service_name" env:"OTEL_SERVICE_NAME" env-default:"barangay-appointments"`
}

type RateLimit struct {
	// RPS <= 0 disables the limiter.
	RPS   float64 `yaml:"rps" env:"RATE_LIMIT_RPS" env-default:"20"`
	Burst int     `yaml:"burst" env:"RATE_LIMIT_BURST" env-default:"40"`
}

type CORS struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-separator:"," env-default:"http://localhost:3000,http://localhost:5173"`
}

// Load reads path (when non-empty) and then the environment.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("storage.postgres_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Lock.Driver {
	case "local", "redis":
	default:
		return fmt.Errorf("unknown lock driver %q", c.Lock.Driver)
	}
	if c.Scheduling.MaxRangeDays <= 0 {
		return fmt.Errorf("scheduling.max_range_days must be positive")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	return nil
}

func (c *Config) IsProduction() bool { return c.Env == "prod" || c.Env == "production" }
