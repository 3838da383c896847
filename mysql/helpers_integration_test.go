//go:build integration

package mysql_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/velmie/sqlqueue"
	"github.com/velmie/sqlqueue/mysql"
)

const mysqlImage = "mysql:8.0.36"

func mysqlDSN(host string, port nat.Port) string {
	return fmt.Sprintf("root:secret@tcp(%s:%s)/queue?parseTime=true", host, port.Port())
}

func startMySQLContainer(t *testing.T, ctx context.Context) (testcontainers.Container, *sql.DB) {
	t.Helper()
	port := nat.Port("3306/tcp")
	req := testcontainers.ContainerRequest{
		Image:        mysqlImage,
		ExposedPorts: []string{string(port)},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": "secret",
			"MYSQL_DATABASE":      "queue",
		},
		WaitingFor: wait.ForSQL(port, "mysql", mysqlDSN).WithStartupTimeout(2 * time.Minute),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("start mysql container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("resolve host: %v", err)
	}
	mappedPort, err := container.MappedPort(ctx, port)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("resolve port: %v", err)
	}

	db, err := sql.Open("mysql", mysqlDSN(host, mappedPort))
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(50)

	return container, db
}

func setupMySQL(t *testing.T) (context.Context, *sql.DB) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	return ctx, db
}

func queueName() string {
	return "q_" + uuid.NewString()
}

func newTransport(t *testing.T, ctx context.Context, db *sql.DB, opts ...mysql.Option) *mysql.Transport {
	t.Helper()
	transport, err := mysql.NewTransport(db, opts...)
	require.NoError(t, err)
	require.NoError(t, transport.EnsureSchema(ctx))

	return transport
}

func newOutboxStore(t *testing.T, ctx context.Context, db *sql.DB, opts ...mysql.Option) *mysql.OutboxStore {
	t.Helper()
	store, err := mysql.NewOutboxStore(db, opts...)
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(ctx))

	return store
}

func send(t *testing.T, ctx context.Context, transport *mysql.Transport, destination string, env sqlqueue.Envelope) {
	t.Helper()
	err := sqlqueue.Run(ctx, func(ctx context.Context, scope *sqlqueue.Scope) error {
		return transport.Send(ctx, destination, env, scope)
	})
	require.NoError(t, err)
}

func receive(t *testing.T, ctx context.Context, transport *mysql.Transport) *sqlqueue.Envelope {
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
	query := "SELECT COUNT(*) FROM `" + table.Name + "`"
	if table.Schema != "" {
		query = "SELECT COUNT(*) FROM `" + table.Schema + "`.`" + table.Name + "`"
	}
	require.NoError(t, db.QueryRowContext(ctx, query).Scan(&count))

	return count
}
