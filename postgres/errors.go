package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/velmie/sqlqueue"
)

// Error codes raised when another session created the same object first.
const (
	codeUniqueViolation = "23505"
	codeDuplicateSchema = "42P06"
	codeDuplicateTable  = "42P07"
	codeDuplicateObject = "42710"
)

func isDuplicateObject(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case codeUniqueViolation, codeDuplicateSchema, codeDuplicateTable, codeDuplicateObject:
		return true
	default:
		return false
	}
}

// opError returns the context error as is when ctx is done, so callers can match
// cancellation with errors.Is.
func opError(ctx context.Context, op string, table sqlqueue.TableName, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return &sqlqueue.OpError{Op: op, Table: table, Err: err}
}
