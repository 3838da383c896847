package sqlqueue

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidBatchSize indicates that the requested batch size is not positive.
	ErrInvalidBatchSize = errors.New("sqlqueue: batch size must be positive")
	// ErrDBRequired is returned when a nil *sql.DB is provided.
	ErrDBRequired = errors.New("sqlqueue: db is required")
	// ErrExecutorRequired is returned when an operation is given a nil executor.
	ErrExecutorRequired = errors.New("sqlqueue: executor is required")
	// ErrScopeRequired is returned when a transport operation is given a nil scope.
	ErrScopeRequired = errors.New("sqlqueue: scope is required")
	// ErrScopeDisposed is returned when a disposed scope is used.
	ErrScopeDisposed = errors.New("sqlqueue: scope is disposed")
	// ErrScopeCompleted is returned when a scope is completed twice.
	ErrScopeCompleted = errors.New("sqlqueue: scope is already completed")
	// ErrConnClosed is returned when a closed connection is used.
	ErrConnClosed = errors.New("sqlqueue: connection is closed")
	// ErrOutboxAlreadyEnabled is returned when a scope is enrolled in the outbox twice.
	ErrOutboxAlreadyEnabled = errors.New("sqlqueue: outbox is already enabled for this scope")
	// ErrNoInputQueue is returned by Receive on a transport configured without an input queue.
	ErrNoInputQueue = errors.New("sqlqueue: transport has no input queue")
	// ErrDestinationRequired is returned when Send is called with an empty destination.
	ErrDestinationRequired = errors.New("sqlqueue: destination is required")
	// ErrInvalidHeader is returned when a header consumed on send cannot be parsed.
	ErrInvalidHeader = errors.New("sqlqueue: invalid header value")
	// ErrMalformedHeaders is returned when stored headers cannot be decoded.
	ErrMalformedHeaders = errors.New("sqlqueue: malformed headers")
	// ErrInvalidTableName is returned when a table name has disallowed characters.
	ErrInvalidTableName = errors.New("sqlqueue: invalid table name")
	// ErrTableNameRequired is returned when the table name is empty.
	ErrTableNameRequired = errors.New("sqlqueue: table name is required")
	// ErrRetriesExhausted wraps the last delivery error once a retry policy runs out of waits.
	ErrRetriesExhausted = errors.New("sqlqueue: retries exhausted")
	// ErrInvalidGateSize is returned when a gate capacity is not positive.
	ErrInvalidGateSize = errors.New("sqlqueue: gate capacity must be positive")
)

// OpError describes a failed storage operation against a table.
type OpError struct {
	Op    string
	Table TableName
	Err   error
}

// Error implements error.
func (e *OpError) Error() string {
	return fmt.Sprintf("sqlqueue: %s on %s failed: %v", e.Op, e.Table, e.Err)
}

// Unwrap returns the underlying cause.
func (e *OpError) Unwrap() error {
	return e.Err
}

// SchemaError reports that the storage could not create its own tables.
type SchemaError struct {
	Table TableName
	Err   error
}

// Error implements error.
func (e *SchemaError) Error() string {
	return fmt.Sprintf("sqlqueue: initialize schema for table %s: %v", e.Table, e.Err)
}

// Unwrap returns the underlying cause.
func (e *SchemaError) Unwrap() error {
	return e.Err
}
