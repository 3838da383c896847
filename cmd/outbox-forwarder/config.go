package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/velmie/sqlqueue"
	"github.com/velmie/sqlqueue/cmd/internal/backend"
)

const envPrefix = "SQLQUEUE"

var errInvalidRetryDelay = errors.New("outbox-forwarder: invalid retry delay")

type config struct {
	Driver         string
	DSN            string
	QueueTable     string
	OutboxTable    string
	BatchSize      int
	PollInterval   time.Duration
	RetryPolicy    sqlqueue.RetryPolicy
	SweepInterval  time.Duration
	SweepLimit     int
	ExpiryLockName string
	EnsureSchema   bool
	LogLevel       slog.Level
	LogFormat      string
}

// loadConfig reads envFile when present, then the optional config file, with
// SQLQUEUE_* environment variables taking precedence (db.dsn is SQLQUEUE_DB_DSN).
func loadConfig(configFile, envFile string) (config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("db.driver", backend.DriverPostgres)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.ensure_schema", false)
	v.SetDefault("queue.table", "messages")
	v.SetDefault("outbox.table", "outbox")
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("forwarder.poll_interval", time.Second)
	v.SetDefault("forwarder.retry_delays", []string{})
	v.SetDefault("sweeper.interval", time.Minute)
	v.SetDefault("sweeper.limit", 1000)
	v.SetDefault("sweeper.lock_name", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	policy, err := parseRetryPolicy(v.GetStringSlice("forwarder.retry_delays"))
	if err != nil {
		return config{}, err
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log.level"))); err != nil {
		return config{}, fmt.Errorf("log.level: %w", err)
	}

	cfg := config{
		Driver:         v.GetString("db.driver"),
		DSN:            v.GetString("db.dsn"),
		QueueTable:     v.GetString("queue.table"),
		OutboxTable:    v.GetString("outbox.table"),
		BatchSize:      v.GetInt("outbox.batch_size"),
		PollInterval:   v.GetDuration("forwarder.poll_interval"),
		RetryPolicy:    policy,
		SweepInterval:  v.GetDuration("sweeper.interval"),
		SweepLimit:     v.GetInt("sweeper.limit"),
		ExpiryLockName: v.GetString("sweeper.lock_name"),
		EnsureSchema:   v.GetBool("db.ensure_schema"),
		LogLevel:       level,
		LogFormat:      v.GetString("log.format"),
	}
	if cfg.DSN == "" {
		return config{}, backend.ErrDSNRequired
	}
	if _, err := backend.SQLDriver(cfg.Driver); err != nil {
		return config{}, err
	}

	return cfg, nil
}

// parseRetryPolicy returns nil for no delays, which selects the default policy.
func parseRetryPolicy(delays []string) (sqlqueue.RetryPolicy, error) {
	if len(delays) == 0 {
		return nil, nil
	}

	policy := make(sqlqueue.RetryPolicy, 0, len(delays))
	for _, raw := range delays {
		delay, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil || delay < 0 {
			return nil, fmt.Errorf("%w: %q", errInvalidRetryDelay, raw)
		}
		policy = append(policy, delay)
	}

	return policy, nil
}

func newLogger(cfg config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
