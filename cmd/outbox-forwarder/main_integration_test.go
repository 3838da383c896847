//go:build integration

package main

import (
	"context"
	"testing"

	"github.com/velmie/sqlqueue"
	"github.com/velmie/sqlqueue/cmd/internal/backend"
	"github.com/velmie/sqlqueue/cmd/internal/testutil"
)

func TestForwarderCLIContainer(t *testing.T) {
	ctx := context.Background()
	env := testutil.StartPostgresContainer(t, ctx)

	b, err := backend.Open(backend.Config{Driver: env.Driver, DSN: env.HostDSN, InputQueue: "orders"})
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	defer b.Close()
	if err := b.EnsureSchema(ctx, true); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	err = sqlqueue.Run(ctx, func(ctx context.Context, scope *sqlqueue.Scope) error {
		if err := sqlqueue.OpenOutbox(ctx, scope, env.DB); err != nil {
			return err
		}
		outbox := sqlqueue.NewOutboxTransport(b.Transport, b.Outbox)
		for _, body := range []string{"first", "second"} {
			if err := outbox.Send(ctx, "orders", sqlqueue.Envelope{Body: []byte(body)}, scope); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	bin := testutil.BuildBinary(t, ".")
	code, logs := testutil.RunCLIContainerEnv(t, ctx, env.Network.Name, bin, []string{"-once"}, map[string]string{
		"SQLQUEUE_DB_DRIVER": env.Driver,
		"SQLQUEUE_DB_DSN":    env.DSN,
	})
	if code != 0 {
		t.Fatalf("forwarder exit code %d logs: %s", code, logs)
	}

	var pending int
	if err := env.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM outbox").Scan(&pending); err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if pending != 0 {
		t.Fatalf("outbox rows = %d, want 0", pending)
	}

	var got []string
	for {
		var env *sqlqueue.Envelope
		err := sqlqueue.Run(ctx, func(ctx context.Context, scope *sqlqueue.Scope) error {
			var err error
			env, err = b.Transport.Receive(ctx, scope)
			return err
		})
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		if env == nil {
			break
		}
		got = append(got, string(env.Body))
	}
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("unexpected delivered messages %v", got)
	}
}
