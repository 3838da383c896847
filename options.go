package sqlqueue

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultPollInterval  = time.Second
	defaultSweepInterval = time.Minute
	defaultSweepLimit    = 1000

	tracerName = "github.com/velmie/sqlqueue"
)

// DeliveryErrorHandler is called for every failed forwarding attempt.
type DeliveryErrorHandler func(ctx context.Context, msg OutboxMessage, attempt int, err error)

// ForwarderConfig defines how the Forwarder polls and delivers outbox messages.
type ForwarderConfig struct {
	PollInterval   time.Duration
	RetryPolicy    RetryPolicy
	ErrorHandler   DeliveryErrorHandler
	Logger         Logger
	Metrics        Metrics
	TracerProvider trace.TracerProvider
}

func (c ForwarderConfig) withDefaults() ForwarderConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.RetryPolicy == nil {
		c.RetryPolicy = DefaultRetryPolicy()
	}
	c.Logger = LoggerOrNop(c.Logger)
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
	if c.TracerProvider == nil {
		c.TracerProvider = otel.GetTracerProvider()
	}

	return c
}

// ForwarderOption configures Forwarder behavior.
type ForwarderOption func(*ForwarderConfig)

// WithPollInterval sets the delay between forwarding cycles.
func WithPollInterval(interval time.Duration) ForwarderOption {
	return func(c *ForwarderConfig) {
		c.PollInterval = interval
	}
}

// WithRetryPolicy sets the waits between delivery attempts of one message.
// An empty, non-nil policy makes a single attempt.
func WithRetryPolicy(policy RetryPolicy) ForwarderOption {
	return func(c *ForwarderConfig) {
		c.RetryPolicy = policy
	}
}

// WithErrorHandler registers a callback for failed delivery attempts.
func WithErrorHandler(handler DeliveryErrorHandler) ForwarderOption {
	return func(c *ForwarderConfig) {
		c.ErrorHandler = handler
	}
}

// WithLogger sets the forwarder logger.
func WithLogger(logger Logger) ForwarderOption {
	return func(c *ForwarderConfig) {
		c.Logger = logger
	}
}

// WithMetrics sets the forwarder metrics recorder.
func WithMetrics(metrics Metrics) ForwarderOption {
	return func(c *ForwarderConfig) {
		c.Metrics = metrics
	}
}

// WithTracerProvider sets the provider of forwarder spans.
func WithTracerProvider(provider trace.TracerProvider) ForwarderOption {
	return func(c *ForwarderConfig) {
		c.TracerProvider = provider
	}
}

// SweeperConfig defines how the ExpirySweeper removes expired queue rows.
type SweeperConfig struct {
	Interval time.Duration
	Limit    int
	Logger   Logger
	Metrics  Metrics
}

func (c SweeperConfig) withDefaults() SweeperConfig {
	if c.Interval <= 0 {
		c.Interval = defaultSweepInterval
	}
	if c.Limit <= 0 {
		c.Limit = defaultSweepLimit
	}
	c.Logger = LoggerOrNop(c.Logger)
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}

	return c
}

// SweeperOption configures ExpirySweeper behavior.
type SweeperOption func(*SweeperConfig)

// WithSweepInterval sets the delay between sweeps.
func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(c *SweeperConfig) {
		c.Interval = interval
	}
}

// WithSweepLimit sets the maximum number of rows deleted per pass.
func WithSweepLimit(limit int) SweeperOption {
	return func(c *SweeperConfig) {
		c.Limit = limit
	}
}

// WithSweepLogger sets the sweeper logger.
func WithSweepLogger(logger Logger) SweeperOption {
	return func(c *SweeperConfig) {
		c.Logger = logger
	}
}

// WithSweepMetrics sets the sweeper metrics recorder.
func WithSweepMetrics(metrics Metrics) SweeperOption {
	return func(c *SweeperConfig) {
		c.Metrics = metrics
	}
}
