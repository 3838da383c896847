package backend

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/velmie/sqlqueue"
	"github.com/velmie/sqlqueue/mysql"
	"github.com/velmie/sqlqueue/postgres"
)

func TestSQLDriver(t *testing.T) {
	cases := map[string]string{DriverPostgres: "pgx", DriverMySQL: "mysql"}
	for driver, want := range cases {
		got, err := SQLDriver(driver)
		if err != nil || got != want {
			t.Fatalf("driver %s: got %q, %v", driver, got, err)
		}
	}
	if _, err := SQLDriver("sqlite"); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("expected ErrUnknownDriver, got %v", err)
	}
}

func TestOpenValidation(t *testing.T) {
	if _, err := Open(Config{Driver: DriverPostgres}); !errors.Is(err, ErrDSNRequired) {
		t.Fatalf("expected ErrDSNRequired, got %v", err)
	}
	if _, err := Open(Config{Driver: "oracle", DSN: "x"}); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("expected ErrUnknownDriver, got %v", err)
	}
}

func TestBuildSelectsBackend(t *testing.T) {
	b, err := build(&sql.DB{}, Config{Driver: DriverPostgres, Table: "jobs", OutboxTable: "jobs_outbox"})
	if err != nil {
		t.Fatalf("build postgres: %v", err)
	}
	if _, ok := b.Transport.(*postgres.Transport); !ok {
		t.Fatalf("expected postgres transport, got %T", b.Transport)
	}
	if got := b.Outbox.Table(); got != (sqlqueue.TableName{Schema: "public", Name: "jobs_outbox"}) {
		t.Fatalf("unexpected outbox table %+v", got)
	}

	b, err = build(&sql.DB{}, Config{Driver: DriverMySQL, InputQueue: "orders"})
	if err != nil {
		t.Fatalf("build mysql: %v", err)
	}
	if _, ok := b.Transport.(*mysql.Transport); !ok {
		t.Fatalf("expected mysql transport, got %T", b.Transport)
	}
	if got := b.Transport.Table(); got != (sqlqueue.TableName{Name: "messages"}) {
		t.Fatalf("unexpected queue table %+v", got)
	}

	if _, err := build(&sql.DB{}, Config{Driver: DriverMySQL, Table: "bad;name"}); !errors.Is(err, sqlqueue.ErrInvalidTableName) {
		t.Fatalf("expected ErrInvalidTableName, got %v", err)
	}
}
