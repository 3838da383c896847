package main

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/velmie/sqlqueue"
	"github.com/velmie/sqlqueue/cmd/internal/backend"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SQLQUEUE_DB_DSN", "postgres://localhost/queue")

	cfg, err := loadConfig("", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Driver != backend.DriverPostgres || cfg.QueueTable != "messages" || cfg.OutboxTable != "outbox" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.PollInterval != time.Second || cfg.SweepInterval != time.Minute || cfg.SweepLimit != 1000 {
		t.Fatalf("unexpected intervals: %+v", cfg)
	}
	if cfg.RetryPolicy != nil {
		t.Fatalf("expected default retry policy, got %v", cfg.RetryPolicy)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("unexpected log level %v", cfg.LogLevel)
	}
}

func TestLoadConfigFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "forwarder.yaml")
	yaml := `
db:
  driver: mysql
  dsn: root:secret@tcp(db:3306)/queue?parseTime=true
outbox:
  table: app.outbox
  batch_size: 10
forwarder:
  poll_interval: 250ms
  retry_delays: ["10ms", "1s"]
log:
  level: debug
`
	if err := os.WriteFile(configFile, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("SQLQUEUE_SWEEPER_INTERVAL=0\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("SQLQUEUE_SWEEPER_INTERVAL") })
	t.Setenv("SQLQUEUE_OUTBOX_BATCH_SIZE", "25")

	cfg, err := loadConfig(configFile, envFile)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Driver != backend.DriverMySQL || cfg.OutboxTable != "app.outbox" {
		t.Fatalf("config file ignored: %+v", cfg)
	}
	if cfg.BatchSize != 25 {
		t.Fatalf("environment must override file, got batch size %d", cfg.BatchSize)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Fatalf("unexpected poll interval %s", cfg.PollInterval)
	}
	if len(cfg.RetryPolicy) != 2 || cfg.RetryPolicy[0] != 10*time.Millisecond || cfg.RetryPolicy[1] != time.Second {
		t.Fatalf("unexpected retry policy %v", cfg.RetryPolicy)
	}
	if cfg.SweepInterval != 0 {
		t.Fatalf("dotenv value ignored, sweep interval %s", cfg.SweepInterval)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("unexpected log level %v", cfg.LogLevel)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	if _, err := loadConfig("", ""); !errors.Is(err, backend.ErrDSNRequired) {
		t.Fatalf("expected ErrDSNRequired, got %v", err)
	}

	t.Setenv("SQLQUEUE_DB_DSN", "x")
	t.Setenv("SQLQUEUE_DB_DRIVER", "sqlite")
	if _, err := loadConfig("", ""); !errors.Is(err, backend.ErrUnknownDriver) {
		t.Fatalf("expected ErrUnknownDriver, got %v", err)
	}

	t.Setenv("SQLQUEUE_DB_DRIVER", "postgres")
	t.Setenv("SQLQUEUE_FORWARDER_RETRY_DELAYS", "1s soon")
	if _, err := loadConfig("", ""); !errors.Is(err, errInvalidRetryDelay) {
		t.Fatalf("expected errInvalidRetryDelay, got %v", err)
	}
}

func TestLoadConfigMissingEnvFileIsIgnored(t *testing.T) {
	t.Setenv("SQLQUEUE_DB_DSN", "x")
	if _, err := loadConfig("", filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing env file must be ignored: %v", err)
	}
}

func TestParseRetryPolicy(t *testing.T) {
	policy, err := parseRetryPolicy([]string{"0s", " 2s "})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if want := (sqlqueue.RetryPolicy{0, 2 * time.Second}); len(policy) != 2 || policy[0] != want[0] || policy[1] != want[1] {
		t.Fatalf("unexpected policy %v", policy)
	}
	if _, err := parseRetryPolicy([]string{"-1s"}); !errors.Is(err, errInvalidRetryDelay) {
		t.Fatalf("negative delays must be rejected, got %v", err)
	}
}
