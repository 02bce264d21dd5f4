package config

import "time"

// Config holds runtime configuration for the flowbot service.
type Config struct {
	AppEnv    string          `mapstructure:"app_env"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Session   SessionConfig   `mapstructure:"session"`
	Flow      FlowConfig      `mapstructure:"flow"`
	Throttle  ThrottleConfig  `mapstructure:"throttle"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Manager   ManagerConfig   `mapstructure:"manager"`
	Bots      BotsConfig      `mapstructure:"bots"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
}

type LoggerConfig struct {
	Level  string        `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string        `mapstructure:"format" validate:"oneof=json text"`
	File   FileLogConfig `mapstructure:"file"`
}

// FileLogConfig enables a rotating log file next to stdout.
type FileLogConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path" validate:"required_if=Enabled true"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn" validate:"required_if=Enabled true"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
}

// ServerConfig configures the ops HTTP endpoint.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Port            string        `mapstructure:"port" validate:"required_if=Enabled true"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// StorageConfig selects the per-bot durable store. Postgres bots share a
// server and get one schema each; sqlite bots get one file each.
type StorageConfig struct {
	Driver       string `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DSN          string `mapstructure:"dsn" validate:"required_if=Driver postgres"`
	SchemaPrefix string `mapstructure:"schema_prefix"`
	SQLiteDir    string `mapstructure:"sqlite_dir" validate:"required_if=Driver sqlite"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
}

type SessionConfig struct {
	Backend       string        `mapstructure:"backend" validate:"oneof=memory redis"`
	TTL           time.Duration `mapstructure:"ttl" validate:"gt=0"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
}

type FlowConfig struct {
	MaxDepth      int    `mapstructure:"max_depth" validate:"gt=0"`
	Workers       int    `mapstructure:"workers" validate:"gt=0"`
	DefaultLocale string `mapstructure:"default_locale"`
}

// ThrottleConfig bounds outbound sends per bot. BulkShare is the fraction of
// RPS that broadcast traffic may consume.
type ThrottleConfig struct {
	RPS       float64 `mapstructure:"rps" validate:"gt=0"`
	Burst     int     `mapstructure:"burst" validate:"gt=0"`
	BulkShare float64 `mapstructure:"bulk_share" validate:"gt=0,lt=1"`
}

type RateLimitConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	PerUser   RateLimitRule `mapstructure:"per_user"`
	Whitelist []int64       `mapstructure:"whitelist"`
}

type RateLimitRule struct {
	Limit  int    `mapstructure:"limit"`
	Window string `mapstructure:"window"`
}

type ManagerConfig struct {
	StopGrace         time.Duration `mapstructure:"stop_grace" validate:"gt=0"`
	HealthInterval    time.Duration `mapstructure:"health_interval" validate:"gt=0"`
	MaxHealthFailures int           `mapstructure:"max_health_failures" validate:"gt=0"`
}

type BotsConfig struct {
	Dir       string   `mapstructure:"dir" validate:"required"`
	Autostart []string `mapstructure:"autostart"`
	Watch     bool     `mapstructure:"watch"`
}

type TelegramConfig struct {
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
	APIURL      string        `mapstructure:"api_url"`
}
