package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/velmie/sqlqueue"
)

// OutboxStore is a MySQL-backed outbox using polling and SKIP LOCKED.
type OutboxStore struct {
	db      *sql.DB
	cfg     Config
	table   sqlqueue.TableName
	queries outboxQueries
	tracer  trace.Tracer
}

var (
	_ sqlqueue.OutboxStore    = (*OutboxStore)(nil)
	_ sqlqueue.OutboxAppender = (*OutboxStore)(nil)
)

// NewOutboxStore constructs a MySQL outbox store with validated configuration.
func NewOutboxStore(db *sql.DB, opts ...Option) (*OutboxStore, error) {
	if db == nil {
		return nil, sqlqueue.ErrDBRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	table, err := resolveTable(cfg.OutboxTable)
	if err != nil {
		return nil, err
	}

	return &OutboxStore{
		db:      db,
		cfg:     cfg,
		table:   table,
		queries: newOutboxQueries(table),
		tracer:  cfg.TracerProvider.Tracer(tracerName),
	}, nil
}

// MustNewOutboxStore constructs a MySQL outbox store or panics on error.
func MustNewOutboxStore(db *sql.DB, opts ...Option) *OutboxStore {
	store, err := NewOutboxStore(db, opts...)
	if err != nil {
		panic(err)
	}

	return store
}

// Table returns the resolved outbox table.
func (s *OutboxStore) Table() sqlqueue.TableName {
	return s.table
}

// EnsureSchema creates the outbox table when missing.
func (s *OutboxStore) EnsureSchema(ctx context.Context) error {
	return ensureTable(ctx, s.db, s.table, outboxDDL(s.table), s.cfg)
}

// Append inserts msg using exec (a transaction preferred).
func (s *OutboxStore) Append(ctx context.Context, exec sqlqueue.Executor, msg sqlqueue.OutboxMessage) error {
	if exec == nil {
		return sqlqueue.ErrExecutorRequired
	}
	if msg.Destination == "" {
		return sqlqueue.ErrDestinationRequired
	}

	headers, err := sqlqueue.EncodeHeaders(msg.Envelope.Headers)
	if err != nil {
		return err
	}
	query, args, err := s.queries.append(msg, headers)
	if err != nil {
		return fmt.Errorf("sqlqueue mysql: build outbox insert: %w", err)
	}
	if _, err := exec.ExecContext(ctx, query, args...); err != nil {
		return opError(ctx, "outbox append", s.table, err)
	}

	return nil
}

// GetNextBatch locks and returns pending messages using READ COMMITTED and SKIP LOCKED.
func (s *OutboxStore) GetNextBatch(ctx context.Context) (_ sqlqueue.OutboxBatch, err error) {
	ctx, span := s.tracer.Start(ctx, "sqlqueue.mysql.outbox_batch",
		trace.WithAttributes(attribute.String("db.sql.table", s.table.String())))
	defer func() { endSpan(span, err) }()

	query, args, err := s.queries.nextBatch(s.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("sqlqueue mysql: build outbox select: %w", err)
	}

	conn, err := sqlqueue.OpenConn(ctx, s.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, opError(ctx, "outbox batch", s.table, err)
	}

	var messages []sqlqueue.OutboxMessage
	err = conn.Do(ctx, func(exec sqlqueue.Executor) error {
		var scanErr error
		messages, scanErr = scanOutbox(ctx, exec, query, args)

		return scanErr
	})
	if err != nil {
		closeErr := conn.Close()

		return nil, errors.Join(opError(ctx, "outbox batch", s.table, err), closeErr)
	}
	if len(messages) == 0 {
		if err := conn.Close(); err != nil {
			return nil, opError(ctx, "outbox batch", s.table, err)
		}

		return &batch{}, nil
	}
	span.SetAttributes(attribute.Int("sqlqueue.batch.size", len(messages)))

	return &batch{conn: conn, store: s, messages: messages}, nil
}

func scanOutbox(ctx context.Context, exec sqlqueue.Executor, query string, args []any) ([]sqlqueue.OutboxMessage, error) {
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []sqlqueue.OutboxMessage
	for rows.Next() {
		var (
			msg       sqlqueue.OutboxMessage
			headers   []byte
			body      []byte
			createdAt time.Time
		)
		if err := rows.Scan(&msg.ID, &msg.Destination, &headers, &body, &createdAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		decoded, err := sqlqueue.DecodeHeaders(headers)
		if err != nil {
			return nil, fmt.Errorf("outbox message %d: %w", msg.ID, err)
		}
		msg.Envelope = sqlqueue.Envelope{Headers: decoded, Body: body}
		// DATETIME carries no zone; values are written with UTC_TIMESTAMP
		msg.CreatedAt = time.Date(createdAt.Year(), createdAt.Month(), createdAt.Day(),
			createdAt.Hour(), createdAt.Minute(), createdAt.Second(), createdAt.Nanosecond(), time.UTC)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox rows: %w", err)
	}

	return messages, nil
}
