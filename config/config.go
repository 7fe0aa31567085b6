// Package config loads limiter and server settings from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every variable read by Load.
const EnvPrefix = "GATEKEEP_"

// Storage backends accepted by StorageConfig.Backend.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type App struct {
	Server  ServerConfig  `envPrefix:"SERVER_"`
	Limiter Limiter       `envPrefix:"LIMIT_"`
	Storage StorageConfig `envPrefix:"STORAGE_"`
	Log     LogConfig     `envPrefix:"LOG_"`
}

type ServerConfig struct {
	Addr        string `env:"ADDR" envDefault:":8080"`
	MetricsPath string `env:"METRICS_PATH" envDefault:"/metrics"`
	// FailOpen admits requests when the store cannot be reached.
	FailOpen bool `env:"FAIL_OPEN" envDefault:"false"`
}

type StorageConfig struct {
	Backend string      `env:"BACKEND" envDefault:"memory"`
	Redis   RedisConfig `envPrefix:"REDIS_"`
	// PostgresDSN is a libpq/pgx connection string.
	PostgresDSN string `env:"POSTGRES_DSN"`
}

type RedisConfig struct {
	Addr      string `env:"ADDR" envDefault:"localhost:6379"`
	Password  string `env:"PASSWORD"`
	DB        int    `env:"DB" envDefault:"0"`
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"gatekeep:window:"`
}

type LogConfig struct {
	Level       string `env:"LEVEL" envDefault:"info"`
	Development bool   `env:"DEVELOPMENT" envDefault:"false"`
}

// Load reads an optional .env file, then parses GATEKEEP_* variables into App.
func Load() (App, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAsWithOptions[App](env.Options{Prefix: EnvPrefix})
	if err != nil {
		return App{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if err := cfg.Validate(); err != nil {
		return App{}, err
	}
	return cfg, nil
}

func (a App) Validate() error {
	if err := a.Limiter.Validate(); err != nil {
		return err
	}

	switch strings.ToLower(a.Storage.Backend) {
	case BackendMemory:
	case BackendRedis:
		if strings.TrimSpace(a.Storage.Redis.Addr) == "" {
			return fmt.Errorf("%w: redis address is required", ErrInvalidConfig)
		}
	case BackendPostgres:
		if strings.TrimSpace(a.Storage.PostgresDSN) == "" {
			return fmt.Errorf("%w: postgres dsn is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported storage backend %q", ErrInvalidConfig, a.Storage.Backend)
	}
	return nil
}
