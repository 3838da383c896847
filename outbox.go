package sqlqueue

import (
	"context"
	"database/sql"
	"time"
)

// OutboxMessage is an outgoing message staged in the outbox table.
type OutboxMessage struct {
	// ID is the insertion order key assigned by the store. Zero before Append.
	ID          int64
	Destination string
	Envelope    Envelope
	CreatedAt   time.Time
}

// OutboxAppender writes outbox rows through a caller-supplied executor.
type OutboxAppender interface {
	// Append inserts msg using exec so that it shares exec's transaction.
	Append(ctx context.Context, exec Executor, msg OutboxMessage) error
}

// OutboxStore hands out locked batches of pending outbox messages.
type OutboxStore interface {
	// GetNextBatch locks up to the configured number of pending messages in
	// insertion order. An empty batch is returned when nothing is pending.
	GetNextBatch(ctx context.Context) (OutboxBatch, error)
}

// OutboxBatch is a set of outbox rows locked by a forwarder.
type OutboxBatch interface {
	// Messages returns the locked messages in insertion order.
	Messages() []OutboxMessage
	// Complete deletes the locked rows and releases the lock.
	Complete(ctx context.Context) error
	// Close releases the lock, leaving uncompleted rows pending. It is a no-op
	// after Complete.
	Close() error
}

type outboxKey struct{}

// EnableOutbox enrolls scope in the outbox using a transaction owned by the
// caller. Messages sent through an OutboxTransport with this scope are appended
// through exec and become visible to the forwarder only if the caller commits.
func EnableOutbox(scope *Scope, exec Executor) error {
	if scope == nil {
		return ErrScopeRequired
	}
	if exec == nil {
		return ErrExecutorRequired
	}

	added, err := scope.Add(outboxKey{}, BorrowConn(exec))
	if err != nil {
		return err
	}
	if !added {
		return ErrOutboxAlreadyEnabled
	}

	return nil
}

// OpenOutbox enrolls scope in the outbox with a connection and transaction of
// its own, committed when the scope completes and closed when it is disposed.
func OpenOutbox(ctx context.Context, scope *Scope, db *sql.DB) error {
	if scope == nil {
		return ErrScopeRequired
	}
	if _, ok := scope.Get(outboxKey{}); ok {
		return ErrOutboxAlreadyEnabled
	}

	conn, err := OpenConn(ctx, db, nil)
	if err != nil {
		return err
	}
	added, err := scope.Add(outboxKey{}, conn)
	if err != nil || !added {
		_ = conn.Close()
		if err != nil {
			return err
		}

		return ErrOutboxAlreadyEnabled
	}
	scope.OnCommitted(func(context.Context) error {
		return conn.Commit()
	})
	scope.OnDisposed(func() {
		_ = conn.Close()
	})

	return nil
}

// OutboxConn returns the outbox connection of an enrolled scope.
func OutboxConn(scope *Scope) (*Conn, bool) {
	if scope == nil {
		return nil, false
	}
	value, ok := scope.Get(outboxKey{})
	if !ok {
		return nil, false
	}
	conn, ok := value.(*Conn)

	return conn, ok
}
