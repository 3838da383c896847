// Package mysql implements sqlqueue transports and the outbox store on MySQL 8.0+.
//
// The receive path runs two statements in the scope's transaction:
//   - SELECT ... ORDER BY priority DESC, visible, id LIMIT 1 FOR UPDATE SKIP LOCKED
//   - DELETE ... WHERE id = ?
//
// Eligibility uses UTC_TIMESTAMP(6), so every node shares the database clock.
// Transactions default to READ COMMITTED to avoid gap locks.
//
// Open the *sql.DB with github.com/go-sql-driver/mysql and parseTime=true.
// A table name without a schema lives in the connection's current database.
package mysql
