// Command queue-sweeper deletes expired messages from a queue table.
//
// It wraps sqlqueue.ExpirySweeper for use in cron/CronJobs when the
// application itself should not run DELETE statements.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/velmie/sqlqueue"
	"github.com/velmie/sqlqueue/cmd/internal/backend"
)

const exitUsage = 2

type options struct {
	driver   string
	dsn      string
	table    string
	queue    string
	interval time.Duration
	limit    int
	lockName string
	ensure   bool
	once     bool
	verbose  bool
}

func main() {
	var opts options

	flag.StringVar(&opts.driver, "driver", backend.DriverPostgres, "Database driver: postgres or mysql")
	flag.StringVar(&opts.dsn, "dsn", "", "Database DSN")
	flag.StringVar(&opts.table, "table", "messages", "Queue table name")
	flag.StringVar(&opts.queue, "queue", "", "Only sweep this queue (empty sweeps every queue)")
	flag.DurationVar(&opts.interval, "interval", time.Minute, "How often to sweep")
	flag.IntVar(&opts.limit, "limit", 0, "Max rows deleted per statement (0 uses default)")
	flag.StringVar(&opts.lockName, "lock-name", "", "MySQL advisory lock name (optional)")
	flag.BoolVar(&opts.ensure, "ensure-schema", false, "Create the queue table when missing")
	flag.BoolVar(&opts.once, "once", false, "Sweep once and exit")
	flag.BoolVar(&opts.verbose, "verbose", false, "Enable debug logging")
	flag.Parse()

	if opts.dsn == "" {
		fmt.Fprintln(os.Stderr, "dsn is required")
		flag.Usage()
		os.Exit(exitUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, newLogger(opts.verbose)); err != nil {
		slog.Error("queue-sweeper failed", "err", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func run(ctx context.Context, opts options, logger *slog.Logger) error {
	b, err := backend.Open(backend.Config{
		Driver:         opts.driver,
		DSN:            opts.dsn,
		Table:          opts.table,
		InputQueue:     opts.queue,
		ExpiryLockName: opts.lockName,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("init backend: %w", err)
	}
	defer b.Close()

	if opts.ensure {
		if err := b.EnsureSchema(ctx, false); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	sweeper := sqlqueue.NewExpirySweeper(b.Transport,
		sqlqueue.WithSweepInterval(opts.interval),
		sqlqueue.WithSweepLimit(opts.limit),
		sqlqueue.WithSweepLogger(logger),
	)

	if opts.once {
		if _, err := sweeper.Sweep(ctx); err != nil {
			return fmt.Errorf("sweep: %w", err)
		}

		return nil
	}

	return sweeper.Run(ctx)
}
