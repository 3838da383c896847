package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/velmie/sqlqueue"
)

const (
	advisoryLockQuery = "SELECT pg_advisory_xact_lock(hashtext($1))"
	tableExistsQuery  = "SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2)"
	schemaExistsQuery = "SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)"
)

// ensureTable creates table with ddl unless the catalog already lists it.
// Concurrent callers are serialized by a transaction-scoped advisory lock keyed
// on the table name; objects created by sessions not taking the lock are
// tolerated.
func ensureTable(ctx context.Context, db *sql.DB, table sqlqueue.TableName, ddl []string, logger sqlqueue.Logger) (err error) {
	defer func() {
		if err != nil {
			err = &sqlqueue.SchemaError{Table: table, Err: err}
		}
	}()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, rbErr)
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, advisoryLockQuery, table.String()); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	exists, err := tableExists(ctx, tx, table)
	if err != nil {
		return err
	}
	if exists {
		logger.Info("table already exists, nothing to create", "table", table.String())

		return tx.Commit()
	}

	logger.Info("table does not exist, creating it", "table", table.String())

	hasSchema, err := schemaExists(ctx, tx, table.Schema)
	if err != nil {
		return err
	}
	if !hasSchema {
		logger.Info("schema does not exist, creating it", "schema", table.Schema)
		if err = execTolerant(ctx, tx, "CREATE SCHEMA IF NOT EXISTS "+quoteIdent(table.Schema)); err != nil {
			return err
		}
	}

	for _, stmt := range ddl {
		if err = execTolerant(ctx, tx, stmt); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		if isDuplicateObject(err) {
			return nil
		}

		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

func tableExists(ctx context.Context, tx *sql.Tx, table sqlqueue.TableName) (bool, error) {
	var exists bool
	if err := tx.QueryRowContext(ctx, tableExistsQuery, table.Schema, table.Name).Scan(&exists); err != nil {
		return false, fmt.Errorf("lookup table: %w", err)
	}

	return exists, nil
}

func schemaExists(ctx context.Context, tx *sql.Tx, schema string) (bool, error) {
	var exists bool
	if err := tx.QueryRowContext(ctx, schemaExistsQuery, schema).Scan(&exists); err != nil {
		return false, fmt.Errorf("lookup schema: %w", err)
	}

	return exists, nil
}

// execTolerant runs stmt inside a savepoint so a duplicate-object error does not
// abort the surrounding transaction.
func execTolerant(ctx context.Context, tx *sql.Tx, stmt string) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT ensure_schema"); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		if !isDuplicateObject(err) {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT ensure_schema"); rbErr != nil {
			return fmt.Errorf("rollback to savepoint: %w", rbErr)
		}

		return nil
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT ensure_schema"); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}

	return nil
}
