package config

import (
	"fmt"
	"time"
)

// Config holds runtime configuration for the hashpay service.
type Config struct {
	AppEnv    string          `mapstructure:"app_env"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Push      PushConfig      `mapstructure:"push"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Payout    PayoutConfig    `mapstructure:"payout"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
}

type LoggerConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json text"`
	// File enables rotating file output in addition to stdout.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn" validate:"required_if=Enabled true"`
	SampleRate  float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
	Environment string  `mapstructure:"environment"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// IdempotencyTTL is how long replayed responses are kept for an
	// Idempotency-Key. Only used with redis enabled.
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

type PushConfig struct {
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host" validate:"required_if=Enabled true"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user" validate:"required_if=Enabled true"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name" validate:"required_if=Enabled true"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string built from the config values.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type LedgerConfig struct {
	// Backend selects where balances live: postgres, redis or memory.
	Backend string        `mapstructure:"backend" validate:"oneof=postgres redis memory"`
	Lock    bool          `mapstructure:"lock"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

type BroadcastConfig struct {
	Interval            time.Duration `mapstructure:"interval" validate:"gt=0"`
	MaxConcurrency      int           `mapstructure:"max_concurrency" validate:"gte=1"`
	ShareLogProbability float64       `mapstructure:"share_log_probability" validate:"gte=0,lte=1"`
}

type PayoutConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	PollConcurrency    int           `mapstructure:"poll_concurrency" validate:"gte=1"`
	DefaultThreshold   float64       `mapstructure:"default_threshold" validate:"gt=0"`
	SecondaryThreshold float64       `mapstructure:"secondary_threshold" validate:"gt=0"`
	MinThreshold       float64       `mapstructure:"min_threshold" validate:"gt=0"`
	MaxThreshold       float64       `mapstructure:"max_threshold" validate:"gtfield=MinThreshold"`
	RestoreOnReject    bool          `mapstructure:"restore_on_reject"`
	WithdrawTimeout    time.Duration `mapstructure:"withdraw_timeout"`
	DrainTimeout       time.Duration `mapstructure:"drain_timeout"`
	StatusCheckDelay   time.Duration `mapstructure:"status_check_delay"`
	BitcoinNetwork     string        `mapstructure:"bitcoin_network" validate:"oneof=mainnet testnet regtest signet"`
}

type GatewayConfig struct {
	BaseURL   string             `mapstructure:"base_url"`
	APIKey    string             `mapstructure:"api_key"`
	APISecret string             `mapstructure:"api_secret"`
	Timeout   time.Duration      `mapstructure:"timeout"`
	PriceTTL  time.Duration      `mapstructure:"price_ttl"`
	Fallback  map[string]float64 `mapstructure:"fallback_prices"`
}

// Configured reports whether exchange credentials are present.
func (c GatewayConfig) Configured() bool {
	return c.BaseURL != "" && c.APIKey != "" && c.APISecret != ""
}

type TelemetryConfig struct {
	Seed                     int64   `mapstructure:"seed"`
	HashrateTHs              float64 `mapstructure:"hashrate_ths"`
	PowerWatts               float64 `mapstructure:"power_watts"`
	TemperatureC             float64 `mapstructure:"temperature_c"`
	EarningsPerTick          float64 `mapstructure:"earnings_per_tick"`
	SecondaryEarningsPerTick float64 `mapstructure:"secondary_earnings_per_tick"`
	Jitter                   float64 `mapstructure:"jitter" validate:"gte=0,lt=1"`
}

type NotifyConfig struct {
	TelegramToken  string `mapstructure:"telegram_token"`
	TelegramChatID int64  `mapstructure:"telegram_chat_id"`
}

type RateLimitConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Backend   string        `mapstructure:"backend" validate:"omitempty,oneof=memory redis"`
	Read      RateLimitRule `mapstructure:"read"`
	Write     RateLimitRule `mapstructure:"write"`
	Whitelist []string      `mapstructure:"whitelist"`
}

type RateLimitRule struct {
	Limit  int    `mapstructure:"limit"`
	Window string `mapstructure:"window"`
}

type JobsConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Concurrency int            `mapstructure:"concurrency"`
	Queues      map[string]int `mapstructure:"queues"`
	// ReconcileCron schedules the sweep over payouts still awaiting a final status.
	ReconcileCron string `mapstructure:"reconcile_cron"`
}
