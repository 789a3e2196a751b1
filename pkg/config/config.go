// Package config provides configuration loading and validation utilities.
package config

import "time"

// Config holds runtime configuration for the dutchswap service.
type Config struct {
	AppEnv string `mapstructure:"app_env"`

	HTTP    HTTPConfig    `mapstructure:"http" validate:"required"`
	Logger  LoggerConfig  `mapstructure:"logger" validate:"required"`
	Sentry  SentryConfig  `mapstructure:"sentry"`
	DB      DBConfig      `mapstructure:"db" validate:"required"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Market  MarketConfig  `mapstructure:"market" validate:"required"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Limits  LimitsConfig  `mapstructure:"limits"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
}

// HTTPConfig configures the public HTTP listener.
type HTTPConfig struct {
	Port            string        `mapstructure:"port" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggerConfig configures slog output.
type LoggerConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
	// File enables rotated file output when non-empty.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// SentryConfig configures error escalation.
type SentryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// DBConfig configures the PostgreSQL connection.
type DBConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     string `mapstructure:"port" validate:"required"`
	User     string `mapstructure:"user" validate:"required"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name" validate:"required"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig configures the shared Redis connection.
type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	PoolTimeout     time.Duration `mapstructure:"pool_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

// MarketConfig configures the auction market.
type MarketConfig struct {
	// EscrowAccount is the ledger account sellers approve before opening.
	EscrowAccount string `mapstructure:"escrow_account" validate:"required"`
	// Ledger selects the asset ledger backend: memory or redis.
	Ledger string `mapstructure:"ledger" validate:"required,oneof=memory redis"`
}

// NotifyConfig configures the optional Telegram announcer.
type NotifyConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	TelegramToken string `mapstructure:"telegram_token"`
	ChatID        int64  `mapstructure:"chat_id"`
}

// LimitsConfig configures per-account rate limiting on the API.
type LimitsConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	PerMin  int           `mapstructure:"per_min"`
	Window  time.Duration `mapstructure:"window"`
}

// JobsConfig configures the background snapshot worker.
type JobsConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	SnapshotSchedule string `mapstructure:"snapshot_schedule"`
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	sslmode := c.DB.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	return "host=" + c.DB.Host +
		" port=" + c.DB.Port +
		" user=" + c.DB.User +
		" password=" + c.DB.Password +
		" dbname=" + c.DB.Name +
		" sslmode=" + sslmode
}
