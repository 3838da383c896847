package sqlqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// Executor is the query surface shared by *sql.DB, *sql.Conn and *sql.Tx.
type Executor interface {
	// ExecContext executes a statement with the provided context.
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	// QueryContext runs a query returning rows.
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	// QueryRowContext runs a query returning at most one row.
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxMode tells whether a Conn controls the lifetime of its transaction.
type TxMode int

const (
	// TxOwned means the Conn began the transaction and commits or rolls it back.
	TxOwned TxMode = iota
	// TxBorrowed means the transaction belongs to the caller; the Conn never ends it.
	TxBorrowed
)

// String implements fmt.Stringer.
func (m TxMode) String() string {
	switch m {
	case TxOwned:
		return "owned"
	case TxBorrowed:
		return "borrowed"
	default:
		return fmt.Sprintf("TxMode(%d)", int(m))
	}
}

// Conn binds one database connection to one transaction for a unit of work.
// Commands issued through Do never overlap.
type Conn struct {
	mode TxMode
	conn *sql.Conn
	tx   *sql.Tx
	exec Executor
	lock *Gate

	mu        sync.Mutex
	committed bool
	closed    bool
}

// OpenConn takes a connection from the pool and begins a transaction on it.
// A nil opts uses READ COMMITTED. Only acquiring the connection honours ctx;
// the transaction lives until Commit or Close.
func OpenConn(ctx context.Context, db *sql.DB, opts *sql.TxOptions) (*Conn, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	if opts == nil {
		opts = &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlqueue: acquire connection: %w", err)
	}
	tx, err := conn.BeginTx(context.WithoutCancel(ctx), opts)
	if err != nil {
		closeErr := conn.Close()

		return nil, errors.Join(fmt.Errorf("sqlqueue: begin tx: %w", err), closeErr)
	}

	return &Conn{
		mode: TxOwned,
		conn: conn,
		tx:   tx,
		exec: tx,
		lock: MustNewGate(1),
	}, nil
}

// BorrowConn wraps a transaction owned by the caller.
func BorrowConn(exec Executor) *Conn {
	return &Conn{
		mode: TxBorrowed,
		exec: exec,
		lock: MustNewGate(1),
	}
}

// Mode reports whether the transaction is owned or borrowed.
func (c *Conn) Mode() TxMode {
	return c.mode
}

// Do runs fn with exclusive use of the connection. Waiting for the connection
// honours ctx.
func (c *Conn) Do(ctx context.Context, fn func(exec Executor) error) error {
	release, err := c.lock.Enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	c.mu.Lock()
	closed := c.closed || c.committed
	c.mu.Unlock()
	if closed {
		return ErrConnClosed
	}

	return fn(c.exec)
}

// Commit commits an owned transaction. It is a no-op for borrowed transactions
// and for transactions that were already committed.
func (c *Conn) Commit() error {
	if c.mode == TxBorrowed {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.committed {
		return nil
	}
	if c.closed {
		return ErrConnClosed
	}
	if err := c.tx.Commit(); err != nil {
		return fmt.Errorf("sqlqueue: commit: %w", err)
	}
	c.committed = true

	return nil
}

// Close rolls back an owned transaction that was not committed and returns the
// connection to the pool. Borrowed transactions are left untouched.
func (c *Conn) Close() error {
	if c.mode == TxBorrowed {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var rollbackErr error
	if !c.committed {
		if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			rollbackErr = fmt.Errorf("sqlqueue: rollback: %w", err)
		}
	}

	return errors.Join(rollbackErr, c.conn.Close())
}
