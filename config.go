package backlog

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process-level configuration consumed by cmd/backlog and by
// applications that prefer a single YAML file over functional options.
type Config struct {
	Redis  RedisConfig  `yaml:"redis"`
	Queue  QueueConfig  `yaml:"queue"`
	Worker WorkerConfig `yaml:"worker"`
	Failed FailedConfig `yaml:"failed"`
	Log    LogConfig    `yaml:"log"`
	AMQP   AMQPConfig   `yaml:"amqp"`
	API    APIConfig    `yaml:"api"`
}

// RedisConfig holds the connection settings of the queue store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Prefix is prepended to every key the store writes.
	Prefix string `yaml:"prefix"`
}

// QueueConfig holds producer-side defaults.
type QueueConfig struct {
	Name           string        `yaml:"name"`
	MaxAttempts    int           `yaml:"max_attempts"`
	RetryAfter     time.Duration `yaml:"retry_after"`
	RunningTimeout time.Duration `yaml:"running_timeout"`
	// Codec selects the target encoding: "json" or "msgpack".
	Codec string `yaml:"codec"`
	// IDs selects the identity provider: "typeid" or "uuid".
	IDs string `yaml:"ids"`
	// SweepSchedule is an optional cron expression for a standalone
	// maturity sweep. Dequeue already sweeps opportunistically.
	SweepSchedule string `yaml:"sweep_schedule"`
}

// WorkerConfig holds worker loop settings.
type WorkerConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	Concurrency     int           `yaml:"concurrency"`
	ErrorPause      time.Duration `yaml:"error_pause"`
	RateLimit       float64       `yaml:"rate_limit"`
	RateBurst       int           `yaml:"rate_burst"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// FailedConfig selects the failure store backend.
type FailedConfig struct {
	// Driver is one of "redis", "postgres" or "sqlite".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// AMQPConfig configures lifecycle event broadcasting.
type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// APIConfig configures the admin HTTP API.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "backlog:",
		},
		Queue: QueueConfig{
			Name:           "default",
			MaxAttempts:    3,
			RunningTimeout: 60 * time.Second,
			Codec:          "json",
			IDs:            "typeid",
		},
		Worker: WorkerConfig{
			Timeout:         5 * time.Second,
			Concurrency:     1,
			ErrorPause:      time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Failed: FailedConfig{Driver: "redis"},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		AMQP: AMQPConfig{Exchange: "backlog.events"},
		API:  APIConfig{Addr: ":8080"},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig. An empty path
// returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("backlog: read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("backlog: parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from BACKLOG_* environment variables.
func (c *Config) ApplyEnv() {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	setString("BACKLOG_REDIS_ADDR", &c.Redis.Addr)
	setString("BACKLOG_REDIS_USERNAME", &c.Redis.Username)
	setString("BACKLOG_REDIS_PASSWORD", &c.Redis.Password)
	setString("BACKLOG_REDIS_PREFIX", &c.Redis.Prefix)
	setString("BACKLOG_QUEUE", &c.Queue.Name)
	setString("BACKLOG_FAILED_DRIVER", &c.Failed.Driver)
	setString("BACKLOG_FAILED_DSN", &c.Failed.DSN)
	setString("BACKLOG_LOG_LEVEL", &c.Log.Level)
	setString("BACKLOG_LOG_FORMAT", &c.Log.Format)
	setString("BACKLOG_AMQP_URL", &c.AMQP.URL)
	setString("BACKLOG_API_ADDR", &c.API.Addr)

	if v, ok := os.LookupEnv("BACKLOG_REDIS_DB"); ok {
		if db, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = db
		}
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("%w: redis.addr is required", ErrInvalidConfig)
	}
	if c.Queue.Name == "" {
		return fmt.Errorf("%w: queue.name is required", ErrInvalidConfig)
	}
	if c.Queue.RetryAfter < 0 {
		return fmt.Errorf("%w: queue.retry_after must not be negative", ErrInvalidConfig)
	}
	if c.Queue.RunningTimeout < time.Second {
		return fmt.Errorf("%w: queue.running_timeout must be at least 1s", ErrInvalidConfig)
	}
	switch c.Queue.Codec {
	case "json", "msgpack":
	default:
		return fmt.Errorf("%w: queue.codec %q", ErrInvalidConfig, c.Queue.Codec)
	}
	switch c.Queue.IDs {
	case "typeid", "uuid":
	default:
		return fmt.Errorf("%w: queue.ids %q", ErrInvalidConfig, c.Queue.IDs)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("%w: worker.concurrency must be at least 1", ErrInvalidConfig)
	}
	if c.Worker.Timeout < 0 {
		return fmt.Errorf("%w: worker.timeout must not be negative", ErrInvalidConfig)
	}
	switch c.Failed.Driver {
	case "redis":
	case "postgres", "sqlite":
		if c.Failed.DSN == "" {
			return fmt.Errorf("%w: failed.dsn is required for driver %q", ErrInvalidConfig, c.Failed.Driver)
		}
	default:
		return fmt.Errorf("%w: failed.driver %q", ErrInvalidConfig, c.Failed.Driver)
	}
	return nil
}
