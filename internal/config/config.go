package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. APP_BATCH_WORKERS
const EnvPrefix = "APP"

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Batch     BatchConfig     `mapstructure:"batch" yaml:"batch"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit" yaml:"ratelimit"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host" yaml:"host" validate:"required"`
	Port           int           `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout" validate:"gt=0"`
	MaxConcurrent  int           `mapstructure:"max_concurrent" yaml:"max_concurrent" validate:"min=1"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig controls the zap logger
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// StorageConfig selects and configures the item store
type StorageConfig struct {
	Driver    string          `mapstructure:"driver" yaml:"driver" validate:"oneof=memory pebble reindexer"`
	Pebble    PebbleConfig    `mapstructure:"pebble" yaml:"pebble"`
	Reindexer ReindexerConfig `mapstructure:"reindexer" yaml:"reindexer"`
}

// PebbleConfig contains embedded store settings
type PebbleConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// ReindexerConfig contains Reindexer database configuration
type ReindexerConfig struct {
	DSN       string `mapstructure:"dsn" yaml:"dsn"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// CacheConfig contains cache configuration
type CacheConfig struct {
	Shards int           `mapstructure:"shards" yaml:"shards" validate:"min=1"`
	TTL    time.Duration `mapstructure:"ttl" yaml:"ttl" validate:"gte=0"`
}

// BatchConfig controls the batch coordinator
type BatchConfig struct {
	Workers   int           `mapstructure:"workers" yaml:"workers" validate:"min=1,max=1000"`
	QueueSize int           `mapstructure:"queue_size" yaml:"queue_size" validate:"min=1"`
	WorkDelay time.Duration `mapstructure:"work_delay" yaml:"work_delay" validate:"gte=0"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
	// Schedule is a cron expression; empty disables scheduled runs
	Schedule string `mapstructure:"schedule" yaml:"schedule"`
}

// RateLimitConfig limits incoming HTTP requests
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps" yaml:"rps" validate:"gt=0"`
	Burst int     `mapstructure:"burst" yaml:"burst" validate:"min=1"`
}

// Load reads configuration from defaults, an optional YAML file and APP_* environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		// a missing file surfaces as os.ErrNotExist so callers can fall back to defaults
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when neither file nor environment override anything
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.max_concurrent", 100)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.pebble.path", "data/items")
	v.SetDefault("storage.reindexer.dsn", "cproto://localhost:6534/items")
	v.SetDefault("storage.reindexer.namespace", "items")

	v.SetDefault("cache.shards", 16)
	v.SetDefault("cache.ttl", 15*time.Minute)

	v.SetDefault("batch.workers", 10)
	v.SetDefault("batch.queue_size", 100)
	v.SetDefault("batch.work_delay", 100*time.Millisecond)
	v.SetDefault("batch.timeout", 5*time.Minute)
	v.SetDefault("batch.schedule", "")

	v.SetDefault("ratelimit.rps", 50.0)
	v.SetDefault("ratelimit.burst", 100)
}

var validate = validator.New()

// Validate checks struct constraints and the cross-field rules the tags cannot express
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	switch cfg.Storage.Driver {
	case "pebble":
		if cfg.Storage.Pebble.Path == "" {
			return errors.New("storage.pebble.path is required for the pebble driver")
		}
	case "reindexer":
		if cfg.Storage.Reindexer.DSN == "" {
			return errors.New("storage.reindexer.dsn is required for the reindexer driver")
		}
	}

	if cfg.Batch.Schedule != "" && !gronx.IsValid(cfg.Batch.Schedule) {
		return fmt.Errorf("batch.schedule %q is not a valid cron expression", cfg.Batch.Schedule)
	}
	return nil
}
