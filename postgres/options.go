package postgres

import (
	"database/sql"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/velmie/sqlqueue"
)

const (
	defaultSchema             = "public"
	defaultTable              = "messages"
	defaultOutboxTable        = "outbox"
	defaultReceiveConcurrency = 20
	defaultBatchSize          = 100

	tracerName = "github.com/velmie/sqlqueue/postgres"
)

// Config defines PostgreSQL transport and outbox store behavior.
type Config struct {
	// Table is the queue table, "name" or "schema.name". Defaults to public.messages.
	Table string
	// InputQueue is the recipient this transport receives for. Empty makes a send-only transport.
	InputQueue string
	// ReceiveConcurrency caps concurrent Receive calls per transport.
	ReceiveConcurrency int
	// OutboxTable is the outbox table. Defaults to public.outbox.
	OutboxTable string
	// BatchSize caps the number of outbox messages locked per batch.
	BatchSize int
	// TxOptions are used for connections opened by the transport. Defaults to READ COMMITTED.
	TxOptions      *sql.TxOptions
	Clock          sqlqueue.Clock
	Logger         sqlqueue.Logger
	TracerProvider trace.TracerProvider
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
	c.Clock = sqlqueue.ClockOrSystem(c.Clock)
	c.Logger = sqlqueue.LoggerOrNop(c.Logger)
	if c.TracerProvider == nil {
		c.TracerProvider = otel.GetTracerProvider()
	}

	return c
}

// Option configures the PostgreSQL transport and outbox store.
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
