package sqlqueue

import "time"

// Metrics captures forwarder and sweeper telemetry.
type Metrics interface {
	// ObserveBatchDuration records the time to forward an outbox batch.
	ObserveBatchDuration(duration time.Duration)
	// AddForwarded increments the count of messages forwarded from the outbox.
	AddForwarded(count int)
	// AddRetries increments the count of delivery retries.
	AddRetries(count int)
	// AddAborted increments the count of outbox batches left pending after a failure.
	AddAborted(count int)
	// AddExpired increments the count of expired queue rows removed by the sweeper.
	AddExpired(count int64)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveBatchDuration implements Metrics.
func (NopMetrics) ObserveBatchDuration(time.Duration) {}

// AddForwarded implements Metrics.
func (NopMetrics) AddForwarded(int) {}

// AddRetries implements Metrics.
func (NopMetrics) AddRetries(int) {}

// AddAborted implements Metrics.
func (NopMetrics) AddAborted(int) {}

// AddExpired implements Metrics.
func (NopMetrics) AddExpired(int64) {}
