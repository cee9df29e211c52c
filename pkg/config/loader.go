// Package config provides configuration loading and validation utilities.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads .env files, the YAML file for APP_ENV and environment overrides,
// validates the result and returns it together with the viper instance.
func Load() (*Config, *viper.Viper, error) {
	// missing env files are fine outside of local development
	_ = godotenv.Load(".env.local", ".env")

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	return LoadFile(fmt.Sprintf("./configs/%s.yaml", env), env)
}

// LoadFile reads configuration from path. Environment variables override file
// values using the key path with dots replaced by underscores (PAYOUT_MIN_THRESHOLD).
func LoadFile(path, env string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	cfg.AppEnv = env

	return cfg, v, nil
}

// Watch re-decodes the configuration whenever the underlying file changes and
// hands every valid result to onChange. Invalid edits are logged and ignored.
func Watch(v *viper.Viper, log *slog.Logger, onChange func(*Config)) {
	if v == nil || onChange == nil {
		return
	}
	if log == nil {
		log = slog.Default()
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		cfg, err := decode(v)
		if err != nil {
			log.Warn("config reload rejected", slog.String("file", e.Name), slog.Any("error", err))
			return
		}
		cfg.AppEnv = v.GetString("app_env")

		log.Info("config reloaded", slog.String("file", e.Name))
		onChange(cfg)
	})
	v.WatchConfig()
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 14)

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.idempotency_ttl", 24*time.Hour)

	v.SetDefault("push.write_timeout", 5*time.Second)
	v.SetDefault("push.ping_interval", 30*time.Second)
	v.SetDefault("push.pong_wait", 60*time.Second)
	v.SetDefault("push.max_message_size", 4096)

	v.SetDefault("database.port", "5432")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.max_retries", 3)

	v.SetDefault("ledger.backend", "memory")
	v.SetDefault("ledger.lock_ttl", 10*time.Second)

	v.SetDefault("broadcast.interval", 5*time.Second)
	v.SetDefault("broadcast.max_concurrency", 64)
	v.SetDefault("broadcast.share_log_probability", 0.05)

	v.SetDefault("payout.poll_interval", 30*time.Second)
	v.SetDefault("payout.poll_concurrency", 8)
	v.SetDefault("payout.default_threshold", 0.001)
	v.SetDefault("payout.secondary_threshold", 0.05)
	v.SetDefault("payout.min_threshold", 0.0001)
	v.SetDefault("payout.max_threshold", 10)
	v.SetDefault("payout.restore_on_reject", true)
	v.SetDefault("payout.withdraw_timeout", 20*time.Second)
	v.SetDefault("payout.drain_timeout", 10*time.Second)
	v.SetDefault("payout.status_check_delay", time.Minute)
	v.SetDefault("payout.bitcoin_network", "mainnet")

	v.SetDefault("gateway.timeout", 10*time.Second)
	v.SetDefault("gateway.price_ttl", time.Minute)

	v.SetDefault("telemetry.hashrate_ths", 110.0)
	v.SetDefault("telemetry.power_watts", 3250.0)
	v.SetDefault("telemetry.temperature_c", 64.0)
	v.SetDefault("telemetry.earnings_per_tick", 0.00002)
	v.SetDefault("telemetry.secondary_earnings_per_tick", 0.0004)
	v.SetDefault("telemetry.jitter", 0.05)

	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.read.limit", 120)
	v.SetDefault("ratelimit.read.window", "1m")
	v.SetDefault("ratelimit.write.limit", 10)
	v.SetDefault("ratelimit.write.window", "1m")

	v.SetDefault("jobs.concurrency", 10)
	v.SetDefault("jobs.reconcile_cron", "*/5 * * * *")
	v.SetDefault("jobs.queues", map[string]int{"critical": 6, "default": 3, "low": 1})
}
