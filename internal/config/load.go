package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the loader reads,
// e.g. TOPICQ_DATABASE_URL.
const EnvPrefix = "TOPICQ"

// envOnlyKeys have no default, so viper would not find them through
// AutomaticEnv alone.
var envOnlyKeys = []string{
	"database.url",
	"auth.admin_jwt_secret",
	"executor.webhook_url",
}

// setDefaults registers the default value of every option.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("compensation.enabled", true)
	v.SetDefault("compensation.organization_whitelist", []string{})
	v.SetDefault("compensation.batch_limit", 50)
	v.SetDefault("compensation.max_retries", 3)
	v.SetDefault("compensation.backoff_minutes", 1)
	v.SetDefault("compensation.backoff_policy", "fixed")
	v.SetDefault("compensation.max_backoff_minutes", 60)
	v.SetDefault("compensation.concurrency", 8)
	v.SetDefault("compensation.execution_timeout", 2*time.Minute)
	v.SetDefault("compensation.lock_ttl", 5*time.Minute)
	v.SetDefault("compensation.reclaim_stuck_after", 10*time.Minute)
	v.SetDefault("compensation.schedule", "@every 30s")

	v.SetDefault("recovery.enabled", true)
	v.SetDefault("recovery.lookback_window", 2*time.Hour)
	v.SetDefault("recovery.timeout_threshold", 15*time.Minute)
	v.SetDefault("recovery.retry_limit", 3)
	v.SetDefault("recovery.batch_limit", 100)
	v.SetDefault("recovery.schedule", "@every 1m")

	v.SetDefault("lock.backend", "lease")

	v.SetDefault("executor.webhook_timeout", 30*time.Second)
}

// Load configuration from environment variables and optionally a config file.
// Environment variables take precedence over values from the config file.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile behaves like Load but reads the given config file instead of
// searching for config.yaml in the working directory.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envOnlyKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct tags and the cross-section rules the tags cannot
// express.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	comp := c.Compensation
	if comp.ReclaimStuckAfter > 0 && comp.ReclaimStuckAfter <= comp.LockTTL {
		return fmt.Errorf(
			"config validation failed: compensation.reclaim_stuck_after (%s) must exceed compensation.lock_ttl (%s)",
			comp.ReclaimStuckAfter,
			comp.LockTTL,
		)
	}
	if comp.BackoffPolicy == "exponential" && comp.MaxBackoffMinutes < comp.BackoffMinutes {
		return fmt.Errorf(
			"config validation failed: compensation.max_backoff_minutes (%d) is below backoff_minutes (%d)",
			comp.MaxBackoffMinutes,
			comp.BackoffMinutes,
		)
	}

	// Every advisory lock pins a pooled connection until release, so the
	// workers must leave at least one connection for their own queries.
	if c.Lock.Backend == "advisory" && comp.Concurrency >= c.Database.MaxOpenConns {
		return fmt.Errorf(
			"config validation failed: compensation.concurrency (%d) must be below database.max_open_conns (%d) with the advisory lock backend",
			comp.Concurrency,
			c.Database.MaxOpenConns,
		)
	}

	return nil
}
