package mysql

import (
	"strings"

	"github.com/google/uuid"

	"github.com/velmie/sqlqueue"
)

// maxLockName is the longest name GET_LOCK accepts.
const maxLockName = 64

func resolveTable(name string) (sqlqueue.TableName, error) {
	table, err := sqlqueue.ParseTableName(name)
	if err != nil {
		return sqlqueue.TableName{}, err
	}
	if err := table.Validate(); err != nil {
		return sqlqueue.TableName{}, err
	}

	return table, nil
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// quoteTable leaves the schema out when none is set, so the current database applies.
func quoteTable(table sqlqueue.TableName) string {
	if table.Schema == "" {
		return quoteIdent(table.Name)
	}

	return quoteIdent(table.Schema) + "." + quoteIdent(table.Name)
}

// lockName prefixes name and folds it into a UUID when the result would be too long.
func lockName(prefix, name string) string {
	full := prefix + name
	if len(full) <= maxLockName {
		return full
	}

	return prefix + uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}
