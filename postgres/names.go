package postgres

import (
	"github.com/jackc/pgx/v5"

	"github.com/velmie/sqlqueue"
)

func resolveTable(name string) (sqlqueue.TableName, error) {
	table, err := sqlqueue.ParseTableName(name)
	if err != nil {
		return sqlqueue.TableName{}, err
	}
	table = table.WithDefaultSchema(defaultSchema)
	if err := table.Validate(); err != nil {
		return sqlqueue.TableName{}, err
	}

	return table, nil
}

func quoteTable(table sqlqueue.TableName) string {
	return pgx.Identifier{table.Schema, table.Name}.Sanitize()
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// indexName is unqualified; PostgreSQL creates indexes in the table's schema.
func indexName(prefix string, table sqlqueue.TableName) string {
	return quoteIdent(prefix + "_" + table.Name)
}
