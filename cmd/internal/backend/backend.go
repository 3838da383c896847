// Package backend opens the queue transport and outbox store for a driver name,
// so the commands can target PostgreSQL or MySQL from the same flags.
package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/velmie/sqlqueue"
	"github.com/velmie/sqlqueue/mysql"
	"github.com/velmie/sqlqueue/postgres"
)

const (
	// DriverPostgres selects the PostgreSQL backend through pgx.
	DriverPostgres = "postgres"
	// DriverMySQL selects the MySQL backend through go-sql-driver/mysql.
	DriverMySQL = "mysql"
)

var (
	// ErrUnknownDriver is returned for driver names other than postgres and mysql.
	ErrUnknownDriver = errors.New("backend: unknown driver")
	// ErrDSNRequired is returned when no DSN is configured.
	ErrDSNRequired = errors.New("backend: dsn is required")
)

// Transport is a queue transport that can also delete expired rows and create its table.
type Transport interface {
	sqlqueue.Transport
	sqlqueue.ExpiredDeleter
	EnsureSchema(ctx context.Context) error
	Table() sqlqueue.TableName
}

// OutboxStore is an outbox that can create its table.
type OutboxStore interface {
	sqlqueue.OutboxStore
	sqlqueue.OutboxAppender
	EnsureSchema(ctx context.Context) error
	Table() sqlqueue.TableName
}

// Config selects the database and tables.
type Config struct {
	Driver      string
	DSN         string
	Table       string
	InputQueue  string
	OutboxTable string
	BatchSize   int
	// ExpiryLockName only applies to MySQL.
	ExpiryLockName string
	Logger         sqlqueue.Logger
}

// Backend bundles the database handle with the components built on it.
type Backend struct {
	DB        *sql.DB
	Transport Transport
	Outbox    OutboxStore
}

// SQLDriver maps a backend driver name to the database/sql driver name.
func SQLDriver(driver string) (string, error) {
	switch driver {
	case DriverPostgres:
		return "pgx", nil
	case DriverMySQL:
		return "mysql", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// Open opens the database and builds the transport and outbox store for cfg.Driver.
func Open(cfg Config) (*Backend, error) {
	if cfg.DSN == "" {
		return nil, ErrDSNRequired
	}
	driverName, err := SQLDriver(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	b, err := build(db, cfg)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}

	return b, nil
}

func build(db *sql.DB, cfg Config) (*Backend, error) {
	if cfg.Logger == nil {
		cfg.Logger = sqlqueue.NopLogger{}
	}

	switch cfg.Driver {
	case DriverPostgres:
		opts := []postgres.Option{
			postgres.WithTable(cfg.Table),
			postgres.WithInputQueue(cfg.InputQueue),
			postgres.WithOutboxTable(cfg.OutboxTable),
			postgres.WithBatchSize(cfg.BatchSize),
			postgres.WithLogger(cfg.Logger),
		}
		transport, err := postgres.NewTransport(db, opts...)
		if err != nil {
			return nil, err
		}
		store, err := postgres.NewOutboxStore(db, opts...)
		if err != nil {
			return nil, err
		}

		return &Backend{DB: db, Transport: transport, Outbox: store}, nil
	case DriverMySQL:
		opts := []mysql.Option{
			mysql.WithTable(cfg.Table),
			mysql.WithInputQueue(cfg.InputQueue),
			mysql.WithOutboxTable(cfg.OutboxTable),
			mysql.WithBatchSize(cfg.BatchSize),
			mysql.WithExpiryLockName(cfg.ExpiryLockName),
			mysql.WithLogger(cfg.Logger),
		}
		transport, err := mysql.NewTransport(db, opts...)
		if err != nil {
			return nil, err
		}
		store, err := mysql.NewOutboxStore(db, opts...)
		if err != nil {
			return nil, err
		}

		return &Backend{DB: db, Transport: transport, Outbox: store}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// EnsureSchema creates the queue table, and the outbox table when withOutbox is set.
func (b *Backend) EnsureSchema(ctx context.Context, withOutbox bool) error {
	if err := b.Transport.EnsureSchema(ctx); err != nil {
		return err
	}
	if !withOutbox {
		return nil
	}

	return b.Outbox.EnsureSchema(ctx)
}

// Close closes the database handle.
func (b *Backend) Close() error {
	return b.DB.Close()
}
