package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/velmie/sqlqueue"
)

const expiryLockPrefix = "sqlqueue:expiry:"

// DeleteExpired deletes at most limit expired rows of the input queue, or of
// every queue in the table when the transport has no input queue.
//
// Passes are single-flight across nodes: when another session holds the expiry
// lock, DeleteExpired returns 0 without touching the table.
func (t *Transport) DeleteExpired(ctx context.Context, limit int) (int64, error) {
	if limit <= 0 {
		return 0, sqlqueue.ErrInvalidBatchSize
	}

	query, args, err := t.queries.deleteExpired(t.cfg.InputQueue, limit)
	if err != nil {
		return 0, fmt.Errorf("sqlqueue mysql: build expiry query: %w", err)
	}

	conn, err := t.db.Conn(ctx)
	if err != nil {
		return 0, opError(ctx, "delete expired", t.table, err)
	}
	defer conn.Close()

	locked, err := getLock(ctx, conn, t.cfg.ExpiryLockName, 0)
	if err != nil {
		return 0, opError(ctx, "delete expired", t.table, err)
	}
	if !locked {
		t.cfg.Logger.Debug("expiry lock held by another session", "lock", t.cfg.ExpiryLockName)

		return 0, nil
	}
	defer releaseLock(ctx, conn, t.cfg.ExpiryLockName, t.cfg.Logger)

	res, err := conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, opError(ctx, "delete expired", t.table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, opError(ctx, "delete expired", t.table, err)
	}

	return affected, nil
}

// getLock waits up to timeout seconds for the named lock; zero means try once.
func getLock(ctx context.Context, conn *sql.Conn, name string, timeout int) (bool, error) {
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", name, timeout).Scan(&got); err != nil {
		return false, fmt.Errorf("acquire lock %q: %w", name, err)
	}
	if !got.Valid || got.Int64 == 0 {
		return false, nil
	}

	return true, nil
}

func releaseLock(ctx context.Context, conn *sql.Conn, name string, logger sqlqueue.Logger) {
	var released sql.NullInt64
	if err := conn.QueryRowContext(context.WithoutCancel(ctx), "SELECT RELEASE_LOCK(?)", name).Scan(&released); err != nil {
		logger.Warn("release lock failed", "lock", name, "err", err)
	}
}
