package mysql

import (
	"context"
	"fmt"

	"github.com/velmie/sqlqueue"
)

type batch struct {
	conn     *sqlqueue.Conn
	store    *OutboxStore
	messages []sqlqueue.OutboxMessage
	done     bool
}

// Messages returns the messages locked for this batch in insertion order.
func (b *batch) Messages() []sqlqueue.OutboxMessage {
	return b.messages
}

// Complete deletes the locked rows and commits the batch transaction.
func (b *batch) Complete(ctx context.Context) error {
	if b.conn == nil || b.done {
		return nil
	}

	ids := make([]int64, len(b.messages))
	for i, msg := range b.messages {
		ids[i] = msg.ID
	}
	query, args, err := b.store.queries.complete(ids)
	if err != nil {
		return fmt.Errorf("sqlqueue mysql: build outbox delete: %w", err)
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

// Close releases locks without applying any changes unless the batch was completed.
func (b *batch) Close() error {
	if b.conn == nil {
		return nil
	}

	return b.conn.Close()
}
