package mysql

import (
	"database/sql"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/velmie/sqlqueue"
)

const (
	defaultTable              = "messages"
	defaultOutboxTable        = "outbox"
	defaultReceiveConcurrency = 20
	defaultBatchSize          = 100
	defaultSchemaLockTimeout  = 30

	tracerName = "github.com/velmie/sqlqueue/mysql"
)

// Config defines MySQL transport and outbox store behavior.
type Config struct {
	// Table is the queue table, "name" or "database.name".
	Table string
	// InputQueue is the recipient this transport receives for. Empty makes a send-only transport.
	InputQueue string
	// ReceiveConcurrency caps concurrent Receive calls per transport.
	ReceiveConcurrency int
	OutboxTable        string
	// BatchSize caps the number of outbox messages locked per batch.
	BatchSize int
	// TxOptions are used for connections opened by the transport. Defaults to READ COMMITTED.
	TxOptions *sql.TxOptions
	// ExpiryLockName is the GET_LOCK name guarding expiry deletion.
	// Defaults to a name derived from the queue table.
	ExpiryLockName string
	// SchemaLockTimeout is how many seconds EnsureSchema waits for other nodes.
	SchemaLockTimeout int
	Clock             sqlqueue.Clock
	Logger            sqlqueue.Logger
	TracerProvider    trace.TracerProvider
}

func (c Config) withDefaults() Config {
	if c.Table == "" {
		c.Table = defaultTable
	}
	if c.ReceiveConcurrency <= 0 {
		c.ReceiveConcurrency = defaultReceiveConcurrency
	}
	if c.OutboxTable == "" {
		c.OutboxTable = defaultOutboxTable
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.TxOptions == nil {
		c.TxOptions = &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}
	if c.SchemaLockTimeout <= 0 {
		c.SchemaLockTimeout = defaultSchemaLockTimeout
	}
	c.Clock = sqlqueue.ClockOrSystem(c.Clock)
	c.Logger = sqlqueue.LoggerOrNop(c.Logger)
	if c.TracerProvider == nil {
		c.TracerProvider = otel.GetTracerProvider()
	}

	return c
}

// Option configures the MySQL transport and outbox store.
type Option func(*Config)

// WithTable sets the queue table name.
func WithTable(name string) Option {
	return func(c *Config) {
		c.Table = name
	}
}

// WithInputQueue sets the recipient name this transport receives for.
func WithInputQueue(name string) Option {
	return func(c *Config) {
		c.InputQueue = name
	}
}

// WithReceiveConcurrency caps the number of concurrent receives.
func WithReceiveConcurrency(limit int) Option {
	return func(c *Config) {
		c.ReceiveConcurrency = limit
	}
}

// WithOutboxTable sets the outbox table name.
func WithOutboxTable(name string) Option {
	return func(c *Config) {
		c.OutboxTable = name
	}
}

// WithBatchSize sets the number of outbox messages locked per batch.
func WithBatchSize(size int) Option {
	return func(c *Config) {
		c.BatchSize = size
	}
}

// WithTxOptions sets the options of transactions opened for a scope.
func WithTxOptions(opts sql.TxOptions) Option {
	return func(c *Config) {
		c.TxOptions = &opts
	}
}

// WithExpiryLockName overrides the advisory lock name used by DeleteExpired.
func WithExpiryLockName(name string) Option {
	return func(c *Config) {
		c.ExpiryLockName = name
	}
}

// WithSchemaLockTimeout sets how many seconds EnsureSchema waits for the schema lock.
func WithSchemaLockTimeout(seconds int) Option {
	return func(c *Config) {
		c.SchemaLockTimeout = seconds
	}
}

// WithClock sets the time source used to resolve deferral headers.
func WithClock(clock sqlqueue.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger sqlqueue.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithTracerProvider sets the provider of send and receive spans.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(c *Config) {
		c.TracerProvider = provider
	}
}
