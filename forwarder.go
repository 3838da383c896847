package sqlqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Forwarder drains the outbox into the real transport.
//
// Each cycle takes locked batches from the store until one comes back empty.
// A batch is sent inside a fresh Scope, so all of its messages are committed to
// their destinations together; only then are the outbox rows deleted. A message
// that keeps failing after the retry policy leaves the whole batch pending for
// the next cycle, which gives at-least-once delivery.
type Forwarder struct {
	store     OutboxStore
	transport Transport
	cfg       ForwarderConfig
	tracer    trace.Tracer
}

// NewForwarder constructs a Forwarder with defaults and optional settings.
func NewForwarder(store OutboxStore, transport Transport, opts ...ForwarderOption) *Forwarder {
	if store == nil {
		panic("sqlqueue: nil OutboxStore")
	}
	if transport == nil {
		panic("sqlqueue: nil Transport")
	}

	var cfg ForwarderConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Forwarder{
		store:     store,
		transport: transport,
		cfg:       cfg,
		tracer:    cfg.TracerProvider.Tracer(tracerName),
	}
}

// Run forwards pending messages every poll interval until ctx is done.
// Cancellation is observed between batches; a batch in flight is finished or
// aborted first. Cycle failures are logged and retried on the next tick.
func (f *Forwarder) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := f.cycle(ctx); err != nil && ctx.Err() == nil {
			f.cfg.Logger.Error("outbox forwarding cycle failed", "err", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessOnce forwards a single batch. It reports whether the batch held any
// messages. Unlike Run it honours ctx while the batch is in flight.
func (f *Forwarder) ProcessOnce(ctx context.Context) (bool, error) {
	batch, err := f.store.GetNextBatch(ctx)
	if err != nil {
		return false, fmt.Errorf("sqlqueue: get outbox batch: %w", err)
	}

	return f.forwardBatch(ctx, batch)
}

func (f *Forwarder) cycle(ctx context.Context) error {
	f.cfg.Logger.Debug("checking outbox for pending messages")
	detached := context.WithoutCancel(ctx)

	for ctx.Err() == nil {
		forwarded, err := f.ProcessOnce(detached)
		if err != nil {
			return err
		}
		if !forwarded {
			f.cfg.Logger.Debug("no pending outbox messages")

			return nil
		}
	}

	return ctx.Err()
}

func (f *Forwarder) forwardBatch(ctx context.Context, batch OutboxBatch) (forwarded bool, err error) {
	if batch == nil {
		return false, errors.New("sqlqueue: outbox store returned nil batch")
	}
	messages := batch.Messages()
	if len(messages) == 0 {
		return false, batch.Close()
	}

	start := time.Now()
	ctx, span := f.tracer.Start(ctx, "sqlqueue.forward_batch",
		trace.WithAttributes(attribute.Int("sqlqueue.batch.size", len(messages))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		f.cfg.Metrics.ObserveBatchDuration(time.Since(start))
	}()

	f.cfg.Logger.Debug("forwarding outbox messages", "count", len(messages))

	scope := NewScope()
	defer scope.Dispose()

	for i := range messages {
		if err := f.send(ctx, scope, messages[i]); err != nil {
			return false, f.abort(scope, batch, err)
		}
	}

	if err := scope.Complete(ctx); err != nil {
		return false, f.abort(scope, batch, fmt.Errorf("sqlqueue: commit forwarded batch: %w", err))
	}
	if err := batch.Complete(ctx); err != nil {
		closeErr := batch.Close()

		return false, errors.Join(fmt.Errorf("sqlqueue: complete outbox batch: %w", err), closeErr)
	}

	f.cfg.Metrics.AddForwarded(len(messages))
	f.cfg.Logger.Debug("forwarded outbox messages", "count", len(messages))

	return true, nil
}

func (f *Forwarder) send(ctx context.Context, scope *Scope, msg OutboxMessage) error {
	attempts := 0
	err := f.cfg.RetryPolicy.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt
		err := f.transport.Send(ctx, msg.Destination, msg.Envelope.Clone(), scope)
		if err != nil && f.cfg.ErrorHandler != nil {
			f.cfg.ErrorHandler(ctx, msg, attempt, err)
		}

		return err
	})
	if attempts > 1 {
		f.cfg.Metrics.AddRetries(attempts - 1)
	}
	if err != nil {
		return fmt.Errorf("sqlqueue: forward outbox message %d to %q: %w", msg.ID, msg.Destination, err)
	}

	return nil
}

func (f *Forwarder) abort(scope *Scope, batch OutboxBatch, err error) error {
	scope.Dispose()
	f.cfg.Metrics.AddAborted(1)
	f.cfg.Logger.Warn("outbox batch aborted, messages stay pending", "err", err)

	closeErr := batch.Close()
	if closeErr == nil {
		return err
	}

	return errors.Join(err, fmt.Errorf("sqlqueue: release outbox batch: %w", closeErr))
}
