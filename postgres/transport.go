package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/velmie/sqlqueue"
)

// Transport is a PostgreSQL-backed sqlqueue.Transport.
type Transport struct {
	db      *sql.DB
	cfg     Config
	table   sqlqueue.TableName
	queries queueQueries
	gate    *sqlqueue.Gate
	tracer  trace.Tracer
}

var (
	_ sqlqueue.Transport      = (*Transport)(nil)
	_ sqlqueue.ExpiredDeleter = (*Transport)(nil)
)

// scopeConnKey binds one connection per database to a scope, so every transport
// on the same database shares the scope's transaction.
type scopeConnKey struct {
	db *sql.DB
}

// NewTransport constructs a PostgreSQL transport with validated configuration.
func NewTransport(db *sql.DB, opts ...Option) (*Transport, error) {
	if db == nil {
		return nil, sqlqueue.ErrDBRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	table, err := resolveTable(cfg.Table)
	if err != nil {
		return nil, err
	}
	gate, err := sqlqueue.NewGate(cfg.ReceiveConcurrency)
	if err != nil {
		return nil, err
	}

	return &Transport{
		db:      db,
		cfg:     cfg,
		table:   table,
		queries: newQueueQueries(table),
		gate:    gate,
		tracer:  cfg.TracerProvider.Tracer(tracerName),
	}, nil
}

// MustNewTransport constructs a PostgreSQL transport or panics on error.
func MustNewTransport(db *sql.DB, opts ...Option) *Transport {
	transport, err := NewTransport(db, opts...)
	if err != nil {
		panic(err)
	}

	return transport
}

// Table returns the resolved queue table.
func (t *Transport) Table() sqlqueue.TableName {
	return t.table
}

// InputQueue returns the recipient this transport receives for.
func (t *Transport) InputQueue() string {
	return t.cfg.InputQueue
}

// EnsureSchema creates the queue table and its indexes when missing.
func (t *Transport) EnsureSchema(ctx context.Context) error {
	return ensureTable(ctx, t.db, t.table, queueDDL(t.table), t.cfg.Logger)
}

// Send inserts env for destination on the scope's transaction. Nothing is
// visible to receivers until the scope completes.
func (t *Transport) Send(ctx context.Context, destination string, env sqlqueue.Envelope, scope *sqlqueue.Scope) (err error) {
	if destination == "" {
		return sqlqueue.ErrDestinationRequired
	}
	if scope == nil {
		return sqlqueue.ErrScopeRequired
	}

	delivery, err := sqlqueue.PrepareDelivery(env, t.cfg.Clock.Now())
	if err != nil {
		return err
	}
	query, args, err := t.queries.send(destination, delivery)
	if err != nil {
		return fmt.Errorf("sqlqueue postgres: build send query: %w", err)
	}

	ctx, span := t.tracer.Start(ctx, "sqlqueue.postgres.send", trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", destination),
			attribute.String("db.sql.table", t.table.String()),
			attribute.Int("sqlqueue.priority", int(delivery.Priority)),
		))
	defer func() { endSpan(span, err) }()

	conn, err := t.conn(ctx, scope)
	if err != nil {
		return opError(ctx, "send", t.table, err)
	}
	err = conn.Do(ctx, func(exec sqlqueue.Executor) error {
		_, err := exec.ExecContext(ctx, query, args...)

		return err
	})
	if err != nil {
		return opError(ctx, "send", t.table, err)
	}

	return nil
}

// Receive claims and deletes the best eligible message of the input queue on
// the scope's transaction. It returns nil, nil when nothing is eligible.
func (t *Transport) Receive(ctx context.Context, scope *sqlqueue.Scope) (env *sqlqueue.Envelope, err error) {
	if t.cfg.InputQueue == "" {
		return nil, sqlqueue.ErrNoInputQueue
	}
	if scope == nil {
		return nil, sqlqueue.ErrScopeRequired
	}

	release, err := t.gate.Enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	query, args, err := t.queries.receive(t.cfg.InputQueue)
	if err != nil {
		return nil, fmt.Errorf("sqlqueue postgres: build receive query: %w", err)
	}

	ctx, span := t.tracer.Start(ctx, "sqlqueue.postgres.receive", trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", t.cfg.InputQueue),
			attribute.String("db.sql.table", t.table.String()),
		))
	defer func() { endSpan(span, err) }()

	conn, err := t.conn(ctx, scope)
	if err != nil {
		return nil, opError(ctx, "receive", t.table, err)
	}

	var (
		id      int64
		headers []byte
		body    []byte
		found   bool
	)
	err = conn.Do(ctx, func(exec sqlqueue.Executor) error {
		scanErr := exec.QueryRowContext(ctx, query, args...).Scan(&id, &headers, &body)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return nil
		}
		if scanErr != nil {
			return scanErr
		}
		found = true

		return nil
	})
	if err != nil {
		return nil, opError(ctx, "receive", t.table, err)
	}
	if !found {
		return nil, nil
	}

	decoded, err := sqlqueue.DecodeHeaders(headers)
	if err != nil {
		return nil, fmt.Errorf("sqlqueue postgres: message %d in %s: %w", id, t.table, err)
	}
	span.SetAttributes(attribute.Int64("sqlqueue.message.id", id))

	return &sqlqueue.Envelope{Headers: decoded, Body: body}, nil
}

// DeleteExpired deletes at most limit expired rows of the input queue, or of
// every queue in the table when the transport has no input queue. It runs in
// its own transaction.
func (t *Transport) DeleteExpired(ctx context.Context, limit int) (int64, error) {
	if limit <= 0 {
		return 0, sqlqueue.ErrInvalidBatchSize
	}

	query, args, err := t.queries.deleteExpired(t.cfg.InputQueue, limit)
	if err != nil {
		return 0, fmt.Errorf("sqlqueue postgres: build expiry query: %w", err)
	}
	res, err := t.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, opError(ctx, "delete expired", t.table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, opError(ctx, "delete expired", t.table, err)
	}

	return affected, nil
}

func (t *Transport) conn(ctx context.Context, scope *sqlqueue.Scope) (*sqlqueue.Conn, error) {
	return sqlqueue.ScopeConn(ctx, scope, scopeConnKey{db: t.db}, func(ctx context.Context) (*sqlqueue.Conn, error) {
		return sqlqueue.OpenConn(ctx, t.db, t.cfg.TxOptions)
	})
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
