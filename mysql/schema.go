package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/velmie/sqlqueue"
)

const (
	schemaLockPrefix  = "sqlqueue:schema:"
	tableExistsQuery  = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = COALESCE(?, DATABASE()) AND table_name = ?"
	schemaExistsQuery = "SELECT COUNT(*) FROM information_schema.schemata WHERE schema_name = ?"
)

// ensureTable creates table with ddl unless the catalog already lists it.
// MySQL commits DDL implicitly, so concurrent callers are serialized by a
// named lock held on a dedicated connection instead of a transaction.
func ensureTable(ctx context.Context, db *sql.DB, table sqlqueue.TableName, ddl string, cfg Config) (err error) {
	defer func() {
		if err != nil {
			err = &sqlqueue.SchemaError{Table: table, Err: err}
		}
	}()

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("schema conn: %w", err)
	}
	defer conn.Close()

	name := lockName(schemaLockPrefix, table.String())
	locked, err := getLock(ctx, conn, name, cfg.SchemaLockTimeout)
	if err != nil {
		return err
	}
	if !locked {
		return fmt.Errorf("schema lock %q not acquired within %ds", name, cfg.SchemaLockTimeout)
	}
	defer releaseLock(ctx, conn, name, cfg.Logger)

	exists, err := tableExists(ctx, conn, table)
	if err != nil {
		return err
	}
	if exists {
		cfg.Logger.Info("table already exists, nothing to create", "table", table.String())

		return nil
	}

	cfg.Logger.Info("table does not exist, creating it", "table", table.String())

	if table.Schema != "" {
		hasSchema, err := schemaExists(ctx, conn, table.Schema)
		if err != nil {
			return err
		}
		if !hasSchema {
			cfg.Logger.Info("database does not exist, creating it", "database", table.Schema)
			if err := execTolerant(ctx, conn, "CREATE DATABASE IF NOT EXISTS "+quoteIdent(table.Schema)); err != nil {
				return err
			}
		}
	}

	return execTolerant(ctx, conn, ddl)
}

func tableExists(ctx context.Context, conn *sql.Conn, table sqlqueue.TableName) (bool, error) {
	schema := sql.NullString{String: table.Schema, Valid: table.Schema != ""}

	var count int
	if err := conn.QueryRowContext(ctx, tableExistsQuery, schema, table.Name).Scan(&count); err != nil {
		return false, fmt.Errorf("lookup table: %w", err)
	}

	return count > 0, nil
}

func schemaExists(ctx context.Context, conn *sql.Conn, schema string) (bool, error) {
	var count int
	if err := conn.QueryRowContext(ctx, schemaExistsQuery, schema).Scan(&count); err != nil {
		return false, fmt.Errorf("lookup database: %w", err)
	}

	return count > 0, nil
}

func execTolerant(ctx context.Context, conn *sql.Conn, stmt string) error {
	if _, err := conn.ExecContext(ctx, stmt); err != nil && !isDuplicateObject(err) {
		return fmt.Errorf("exec %q: %w", stmt, err)
	}

	return nil
}
