//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/velmie/sqlqueue"
	"github.com/velmie/sqlqueue/postgres"
)

const (
	postgresImage    = "postgres:16-alpine"
	postgresDatabase = "queue"
	postgresUser     = "postgres"
	postgresPassword = "secret"
)

func startPostgresContainer(t *testing.T, ctx context.Context) (testcontainers.Container, *sql.DB) {
	t.Helper()

	port := nat.Port("5432/tcp")
	dsn := func(host string, port nat.Port) string {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
			postgresUser, postgresPassword, host, port.Port(), postgresDatabase)
	}
	req := testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{string(port)},
		Env: map[string]string{
			"POSTGRES_USER":     postgresUser,
			"POSTGRES_PASSWORD": postgresPassword,
			"POSTGRES_DB":       postgresDatabase,
		},
		WaitingFor: wait.ForSQL(port, "pgx", dsn).WithStartupTimeout(2 * time.Minute),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("start postgres container: %v", err)
	}

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mappedPort, err := container.MappedPort(ctx, port)
	require.NoError(t, err)

	db, err := sql.Open("pgx", dsn(host, mappedPort))
	require.NoError(t, err)
	db.SetMaxOpenConns(50)

	return container, db
}

func setupPostgres(t *testing.T) (context.Context, *sql.DB) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startPostgresContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	return ctx, db
}

func queueName() string {
	return "q_" + uuid.NewString()
}

func newTransport(t *testing.T, ctx context.Context, db *sql.DB, opts ...postgres.Option) *postgres.Transport {
	t.Helper()
	transport, err := postgres.NewTransport(db, opts...)
	require.NoError(t, err)
	require.NoError(t, transport.EnsureSchema(ctx))

	return transport
}

func send(t *testing.T, ctx context.Context, transport *postgres.Transport, destination string, env sqlqueue.Envelope) {
	t.Helper()
	err := sqlqueue.Run(ctx, func(ctx context.Context, scope *sqlqueue.Scope) error {
		return transport.Send(ctx, destination, env, scope)
	})
	require.NoError(t, err)
}

func receive(t *testing.T, ctx context.Context, transport *postgres.Transport) *sqlqueue.Envelope {
	t.Helper()
	var env *sqlqueue.Envelope
	err := sqlqueue.Run(ctx, func(ctx context.Context, scope *sqlqueue.Scope) error {
		var err error
		env, err = transport.Receive(ctx, scope)
		return err
	})
	require.NoError(t, err)

	return env
}

func countRows(t *testing.T, ctx context.Context, db *sql.DB, table sqlqueue.TableName) int {
	t.Helper()
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %q.%q", table.Schema, table.Name)
	require.NoError(t, db.QueryRowContext(ctx, query).Scan(&count))

	return count
}
