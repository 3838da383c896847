package mysql

import (
	"context"
	"errors"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/velmie/sqlqueue"
)

// Server errors raised when another session created the same object first.
const (
	errDatabaseExists = 1007
	errTableExists    = 1050
	errDuplicateKey   = 1061
)

func isDuplicateObject(err error) bool {
	var myErr *mysqldriver.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	switch myErr.Number {
	case errDatabaseExists, errTableExists, errDuplicateKey:
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
