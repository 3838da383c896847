package postgres

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

// OutboxStore is a PostgreSQL-backed outbox.
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

// NewOutboxStore constructs a PostgreSQL outbox store with validated configuration.
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

// MustNewOutboxStore constructs a PostgreSQL outbox store or panics on error.
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
	return ensureTable(ctx, s.db, s.table, outboxDDL(s.table), s.cfg.Logger)
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
		return fmt.Errorf("sqlqueue postgres: build outbox insert: %w", err)
	}
	if _, err := exec.ExecContext(ctx, query, args...); err != nil {
		return opError(ctx, "outbox append", s.table, err)
	}

	return nil
}

// GetNextBatch locks up to the configured batch size of pending messages on a
// connection of its own, using READ COMMITTED and SKIP LOCKED.
func (s *OutboxStore) GetNextBatch(ctx context.Context) (_ sqlqueue.OutboxBatch, err error) {
	ctx, span := s.tracer.Start(ctx, "sqlqueue.postgres.outbox_batch",
		trace.WithAttributes(attribute.String("db.sql.table", s.table.String())))
	defer func() { endSpan(span, err) }()

	query, args, err := s.queries.nextBatch(s.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("sqlqueue postgres: build outbox select: %w", err)
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

		return &outboxBatch{}, nil
	}
	span.SetAttributes(attribute.Int("sqlqueue.batch.size", len(messages)))

	return &outboxBatch{conn: conn, store: s, messages: messages}, nil
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
		msg.CreatedAt = createdAt.UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox rows: %w", err)
	}

	return messages, nil
}

type outboxBatch struct {
	conn     *sqlqueue.Conn
	store    *OutboxStore
	messages []sqlqueue.OutboxMessage
	done     bool
}

// Messages returns the locked messages in insertion order.
func (b *outboxBatch) Messages() []sqlqueue.OutboxMessage {
	return b.messages
}

// Complete deletes the locked rows and commits.
func (b *outboxBatch) Complete(ctx context.Context) error {
	if b.conn == nil || b.done {
		return nil
	}

	ids := make([]int64, len(b.messages))
	for i, msg := range b.messages {
		ids[i] = msg.ID
	}
	query, args, err := b.store.queries.complete(ids)
	if err != nil {
		return fmt.Errorf("sqlqueue postgres: build outbox delete: %w", err)
	}

	err = b.conn.Do(ctx, func(exec sqlqueue.Executor) error {
		_, err := exec.ExecContext(ctx, query, args...)

		return err
	})
	if err != nil {
		return opError(ctx, "outbox complete", b.store.table, err)
	}
	if err := b.conn.Commit(); err != nil {
		return opError(ctx, "outbox complete", b.store.table, err)
	}
	b.done = true

	return b.conn.Close()
}

// Close rolls back unless the batch was completed, leaving the rows pending.
func (b *outboxBatch) Close() error {
	if b.conn == nil {
		return nil
	}

	return b.conn.Close()
}
