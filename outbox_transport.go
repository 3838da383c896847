package sqlqueue

import (
	"context"
	"errors"
)

// OutboxTransport diverts sends made inside an outbox-enrolled scope to the
// outbox table. Everything else goes to the wrapped transport.
type OutboxTransport struct {
	inner    Transport
	appender OutboxAppender
}

// NewOutboxTransport wraps inner so that enrolled scopes append to appender.
func NewOutboxTransport(inner Transport, appender OutboxAppender) *OutboxTransport {
	if inner == nil {
		panic("sqlqueue: nil Transport")
	}
	if appender == nil {
		panic("sqlqueue: nil OutboxAppender")
	}

	return &OutboxTransport{inner: inner, appender: appender}
}

// Send appends to the outbox when scope is enrolled through EnableOutbox or
// OpenOutbox, or when scope is enlisted in an ambient transaction. Otherwise the
// wrapped transport sends directly.
func (t *OutboxTransport) Send(ctx context.Context, destination string, env Envelope, scope *Scope) error {
	if destination == "" {
		return ErrDestinationRequired
	}

	conn, ok := OutboxConn(scope)
	if !ok {
		if scope == nil || !scope.Enlisted() {
			return t.inner.Send(ctx, destination, env, scope)
		}

		var err error
		conn, err = enlistOutbox(ctx, scope)
		if err != nil {
			return err
		}
	}

	msg := OutboxMessage{Destination: destination, Envelope: env.Clone()}

	return conn.Do(ctx, func(exec Executor) error {
		return t.appender.Append(ctx, exec, msg)
	})
}

// Receive delegates to the wrapped transport.
func (t *OutboxTransport) Receive(ctx context.Context, scope *Scope) (*Envelope, error) {
	return t.inner.Receive(ctx, scope)
}

// enlistOutbox enrolls an enlisted scope using the connection it already shares
// with the queue transports.
func enlistOutbox(ctx context.Context, scope *Scope) (*Conn, error) {
	conn, err := ScopeConn(ctx, scope, ambientConnKey{}, nil)
	if err != nil {
		return nil, err
	}
	added, err := scope.Add(outboxKey{}, conn)
	if err != nil {
		return nil, err
	}
	if added {
		return conn, nil
	}

	existing, ok := OutboxConn(scope)
	if !ok {
		return nil, errors.New("sqlqueue: outbox item is not a connection")
	}

	return existing, nil
}
