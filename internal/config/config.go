package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server       ServerConfig       `mapstructure:"server" validate:"required"`
	Database     DatabaseConfig     `mapstructure:"database" validate:"required"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Compensation CompensationConfig `mapstructure:"compensation" validate:"required"`
	Recovery     RecoveryConfig     `mapstructure:"recovery" validate:"required"`
	Lock         LockConfig         `mapstructure:"lock" validate:"required"`
	Executor     ExecutorConfig     `mapstructure:"executor"`
}

// ServerConfig contains the admin HTTP server and logging settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url" validate:"required,url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// AuthConfig holds the secret used to verify admin API bearer tokens.
// An empty secret disables the admin routes.
type AuthConfig struct {
	AdminJWTSecret string `mapstructure:"admin_jwt_secret" validate:"omitempty,min=32"`
}

// CompensationConfig drives the per-topic compensation sweep.
type CompensationConfig struct {
	Enabled               bool          `mapstructure:"enabled"`
	OrganizationWhitelist []string      `mapstructure:"organization_whitelist" validate:"dive,required"`
	BatchLimit            int           `mapstructure:"batch_limit" validate:"gt=0"`
	MaxRetries            int           `mapstructure:"max_retries" validate:"gte=0"`
	BackoffMinutes        int           `mapstructure:"backoff_minutes" validate:"gte=0"`
	BackoffPolicy         string        `mapstructure:"backoff_policy" validate:"oneof=fixed exponential"`
	MaxBackoffMinutes     int           `mapstructure:"max_backoff_minutes" validate:"gte=0"`
	Concurrency           int           `mapstructure:"concurrency" validate:"gt=0"`
	ExecutionTimeout      time.Duration `mapstructure:"execution_timeout" validate:"gt=0"`
	LockTTL               time.Duration `mapstructure:"lock_ttl" validate:"gtfield=ExecutionTimeout"`
	ReclaimStuckAfter     time.Duration `mapstructure:"reclaim_stuck_after" validate:"gte=0"`
	Schedule              string        `mapstructure:"schedule" validate:"required"`
}

// RecoveryConfig drives the execution-timeout recovery sweep.
type RecoveryConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	LookbackWindow   time.Duration `mapstructure:"lookback_window" validate:"gtfield=TimeoutThreshold"`
	TimeoutThreshold time.Duration `mapstructure:"timeout_threshold" validate:"gt=0"`
	RetryLimit       int           `mapstructure:"retry_limit" validate:"gt=0"`
	BatchLimit       int           `mapstructure:"batch_limit" validate:"gt=0"`
	Schedule         string        `mapstructure:"schedule" validate:"required"`
}

// LockConfig selects the topic lock backend.
type LockConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=lease advisory"`
}

// ExecutorConfig configures the webhook executor that receives dispatched
// payloads. An empty URL leaves only the in-process handlers registered.
type ExecutorConfig struct {
	WebhookURL     string        `mapstructure:"webhook_url" validate:"omitempty,url"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout" validate:"gte=0"`
}
