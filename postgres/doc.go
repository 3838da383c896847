// Package postgres implements sqlqueue transports and the outbox store on PostgreSQL.
//
// The receive path is a single statement:
//   - DELETE ... WHERE id = (SELECT ... FOR UPDATE SKIP LOCKED LIMIT 1) RETURNING
//   - eligibility uses clock_timestamp() so every node shares the database clock
//   - ORDER BY priority DESC, visible ASC, id ASC
//
// Open the *sql.DB with the pgx driver (github.com/jackc/pgx/v5/stdlib, driver
// name "pgx"). Call EnsureSchema once at startup to create missing tables.
package postgres
