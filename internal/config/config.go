// Package config loads server configuration from an optional YAML file and
// ENDPOINTS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Logging   LoggingConfig   `mapstructure:"logging" validate:"required"`
	Store     StoreConfig     `mapstructure:"store" validate:"required"`
	Schema    SchemaConfig    `mapstructure:"schema"`
	JSONAPI   JSONAPIConfig   `mapstructure:"jsonapi"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Events    EventsConfig    `mapstructure:"events"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	BasePath        string        `mapstructure:"base_path" validate:"omitempty,startswith=/"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

// StoreConfig selects the datastore. DatabaseURL is required for postgres
// and RedisAddr for redis. The memory driver starts empty and cannot be
// seeded, so it only suits local smoke runs.
type StoreConfig struct {
	Driver      string        `mapstructure:"driver" validate:"oneof=memory postgres redis"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
	DatabaseURL string        `mapstructure:"database_url" validate:"required_if=Driver postgres"`
	RedisAddr   string        `mapstructure:"redis_addr" validate:"required_if=Driver redis"`
	RedisDB     int           `mapstructure:"redis_db" validate:"gte=0"`
	RedisPrefix string        `mapstructure:"redis_prefix"`
	MaxConns    int32         `mapstructure:"max_conns" validate:"gte=0"`
	MinConns    int32         `mapstructure:"min_conns" validate:"gte=0"`
}

type SchemaConfig struct {
	// Path to a YAML schema; empty uses the built-in one
	Path string `mapstructure:"path"`
}

type JSONAPIConfig struct {
	SupportedExtensions []string `mapstructure:"supported_extensions" validate:"dive,url"`
}

// RateLimitConfig disables limiting when MaxRequests is zero
type RateLimitConfig struct {
	WindowSeconds int `mapstructure:"window_seconds" validate:"gt=0"`
	MaxRequests   int `mapstructure:"max_requests" validate:"gte=0"`
	Burst         int `mapstructure:"burst" validate:"gte=0"`
}

// EventsConfig enables change notifications when NATSURL is set
type EventsConfig struct {
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix" validate:"required"`
}

// Load reads configuration. An empty path looks for config.yaml in the
// working directory and /etc/endpoints; a missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8081")
	v.SetDefault("server.base_path", "")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.timeout", "5s")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.redis_addr", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.redis_prefix", "endpoints")
	v.SetDefault("store.max_conns", 0)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("schema.path", "")
	v.SetDefault("jsonapi.supported_extensions", []string{})
	v.SetDefault("ratelimit.window_seconds", 60)
	v.SetDefault("ratelimit.max_requests", 600)
	v.SetDefault("ratelimit.burst", 100)
	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subject_prefix", "endpoints")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/endpoints")
	}

	// Environment variables override (ENDPOINTS_STORE_DRIVER, etc.)
	v.SetEnvPrefix("ENDPOINTS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
