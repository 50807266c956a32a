// Package config loads the service configuration from defaults, an optional
// config file, a .env file and QUADRANT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. QUADRANT_REDIS_ADDR.
const EnvPrefix = "QUADRANT"

// Config holds the configuration settings for every quadrant command.
type Config struct {
	Env      string         `mapstructure:"env"`      // Env is the current environment: local, development, production.
	Port     int            `mapstructure:"port"`     // Port is the monitoring server port.
	Redis    RedisConfig    `mapstructure:"redis"`    // Redis holds the queue store connection.
	Postgres PostgresConfig `mapstructure:"postgres"` // Postgres holds the business store connection.
	Provider ProviderConfig `mapstructure:"provider"` // Provider selects and authenticates the search provider.
	Locator  LocatorConfig  `mapstructure:"locator"`  // Locator selects the place lookup used by seed.
	Worker   WorkerConfig   `mapstructure:"worker"`   // Worker holds the orchestrator tunables.
}

// RedisConfig holds the queue store connection.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// PostgresConfig struct holds the configuration details for connecting to a PostgreSQL database.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`      // Host is the database server address.
	Port     string `mapstructure:"port"`      // Port is the database server port.
	User     string `mapstructure:"user"`      // User is the database user.
	Password string `mapstructure:"password"`  // Password is the database user's password.
	Name     string `mapstructure:"name"`      // Name is the name of the database.
	SSLMode  string `mapstructure:"sslmode"`   // SSLMode is the libpq sslmode.
	MaxConns int32  `mapstructure:"max_conns"` // MaxConns caps the pool size.
}

// ProviderConfig selects the search provider.
type ProviderConfig struct {
	Type      string `mapstructure:"type"`
	Login     string `mapstructure:"login"`
	Password  string `mapstructure:"password"`
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	RateLimit int    `mapstructure:"rate_limit"` // requests per second
}

// LocatorConfig selects the place lookup backend.
type LocatorConfig struct {
	Type   string `mapstructure:"type"`
	APIKey string `mapstructure:"api_key"`
}

// WorkerConfig holds the orchestrator tunables.
type WorkerConfig struct {
	Capacity            int           `mapstructure:"capacity"`
	SplitThreshold      int           `mapstructure:"split_threshold"`
	PollAttempts        int           `mapstructure:"poll_attempts"`
	PollDelay           time.Duration `mapstructure:"poll_delay"`
	StaleTimeout        time.Duration `mapstructure:"stale_timeout"`
	RecoveryProbability float64       `mapstructure:"recovery_probability"`
	UpsertConcurrency   int           `mapstructure:"upsert_concurrency"`
	StatsInterval       time.Duration `mapstructure:"stats_interval"`
	MinWidth            float64       `mapstructure:"min_width"` // meters, smallest region a split may produce
	Backoff             BackoffConfig `mapstructure:"backoff"`
}

// BackoffConfig holds the claim loop waits.
type BackoffConfig struct {
	AtCapacity time.Duration `mapstructure:"at_capacity"`
	Idle       time.Duration `mapstructure:"idle"`
	OnError    time.Duration `mapstructure:"on_error"`
}

// Load builds a Config from defaults, the optional file at path, .env and the
// environment, then validates it.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "production")
	v.SetDefault("port", 8080)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "quadrant")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", "5432")
	v.SetDefault("postgres.user", "")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.name", "")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_conns", 0)

	v.SetDefault("provider.type", "dataforseo")
	v.SetDefault("provider.login", "")
	v.SetDefault("provider.password", "")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.rate_limit", 10)

	v.SetDefault("locator.type", "nominatim")
	v.SetDefault("locator.api_key", "")

	v.SetDefault("worker.capacity", 10)
	v.SetDefault("worker.split_threshold", 100)
	v.SetDefault("worker.poll_attempts", 20)
	v.SetDefault("worker.poll_delay", "5s")
	v.SetDefault("worker.stale_timeout", "600s")
	v.SetDefault("worker.recovery_probability", 0.01)
	v.SetDefault("worker.upsert_concurrency", 8)
	v.SetDefault("worker.stats_interval", "15s")
	v.SetDefault("worker.min_width", 50)
	v.SetDefault("worker.backoff.at_capacity", "100ms")
	v.SetDefault("worker.backoff.idle", "1s")
	v.SetDefault("worker.backoff.on_error", "5s")
}

// Validate enforces required values and reasonable limits.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be in 1..65535, got %d", c.Port))
	}
	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr must be set"))
	}
	if c.Worker.Capacity <= 0 {
		errs = append(errs, errors.New("worker.capacity must be > 0"))
	}
	if c.Worker.SplitThreshold <= 0 {
		errs = append(errs, errors.New("worker.split_threshold must be > 0"))
	}
	if c.Worker.PollAttempts <= 0 {
		errs = append(errs, errors.New("worker.poll_attempts must be > 0"))
	}
	if c.Worker.PollDelay < 0 {
		errs = append(errs, errors.New("worker.poll_delay must be >= 0"))
	}
	if c.Worker.StaleTimeout <= 0 {
		errs = append(errs, errors.New("worker.stale_timeout must be > 0"))
	}
	if c.Worker.RecoveryProbability < 0 || c.Worker.RecoveryProbability > 1 {
		errs = append(errs, errors.New("worker.recovery_probability must be in [0, 1]"))
	}
	if c.Worker.UpsertConcurrency <= 0 {
		errs = append(errs, errors.New("worker.upsert_concurrency must be > 0"))
	}
	if !(c.Worker.MinWidth > 0) {
		errs = append(errs, errors.New("worker.min_width must be > 0"))
	}
	if c.Provider.RateLimit < 0 {
		errs = append(errs, errors.New("provider.rate_limit must be >= 0"))
	}

	return errors.Join(errs...)
}
