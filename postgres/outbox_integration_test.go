//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/velmie/sqlqueue"
	"github.com/velmie/sqlqueue/postgres"
)

func TestOutboxAppendFollowsCallerTransactionIntegration(t *testing.T) {
	ctx, db := setupPostgres(t)
	queue := queueName()
	transport := newTransport(t, ctx, db, postgres.WithInputQueue(queue))
	store, err := postgres.NewOutboxStore(db)
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(ctx))
	outboxTransport := sqlqueue.NewOutboxTransport(transport, store)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	scope := sqlqueue.NewScope()
	require.NoError(t, sqlqueue.EnableOutbox(scope, tx))
	require.NoError(t, outboxTransport.Send(ctx, queue, sqlqueue.Envelope{Body: []byte("lost")}, scope))
	scope.Dispose()
	require.NoError(t, tx.Rollback())
	require.Equal(t, 0, countRows(t, ctx, db, store.Table()))

	tx, err = db.BeginTx(ctx, nil)
	require.NoError(t, err)
	scope = sqlqueue.NewScope()
	require.NoError(t, sqlqueue.EnableOutbox(scope, tx))
	require.ErrorIs(t, sqlqueue.EnableOutbox(scope, tx), sqlqueue.ErrOutboxAlreadyEnabled)
	require.NoError(t, outboxTransport.Send(ctx, queue, sqlqueue.Envelope{Body: []byte("kept")}, scope))
	require.NoError(t, scope.Complete(ctx))
	scope.Dispose()
	require.NoError(t, tx.Commit())

	require.Equal(t, 1, countRows(t, ctx, db, store.Table()))
	require.Equal(t, 0, countRows(t, ctx, db, transport.Table()))
}

func TestOutboxBatchesSkipLockedRowsIntegration(t *testing.T) {
	ctx, db := setupPostgres(t)
	store, err := postgres.NewOutboxStore(db, postgres.WithBatchSize(2))
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(ctx))

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	for _, body := range []string{"1", "2", "3"} {
		msg := sqlqueue.OutboxMessage{Destination: "orders", Envelope: sqlqueue.Envelope{Body: []byte(body)}}
		require.NoError(t, store.Append(ctx, tx, msg))
	}
	require.NoError(t, tx.Commit())

	first, err := store.GetNextBatch(ctx)
	require.NoError(t, err)
	require.Len(t, first.Messages(), 2)
	require.Equal(t, "1", string(first.Messages()[0].Envelope.Body))

	second, err := store.GetNextBatch(ctx)
	require.NoError(t, err)
	require.Len(t, second.Messages(), 1)
	require.Equal(t, "3", string(second.Messages()[0].Envelope.Body))

	require.NoError(t, first.Close())
	require.NoError(t, second.Complete(ctx))
	require.NoError(t, second.Close())

	again, err := store.GetNextBatch(ctx)
	require.NoError(t, err)
	require.Len(t, again.Messages(), 2)
	require.NoError(t, again.Complete(ctx))

	empty, err := store.GetNextBatch(ctx)
	require.NoError(t, err)
	require.Empty(t, empty.Messages())
	require.NoError(t, empty.Close())
}

func TestForwarderDeliversOutboxIntegration(t *testing.T) {
	ctx, db := setupPostgres(t)
	queue := queueName()
	transport := newTransport(t, ctx, db, postgres.WithInputQueue(queue))
	store, err := postgres.NewOutboxStore(db, postgres.WithBatchSize(3))
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(ctx))

	err = sqlqueue.Run(ctx, func(ctx context.Context, scope *sqlqueue.Scope) error {
		if err := sqlqueue.OpenOutbox(ctx, scope, db); err != nil {
			return err
		}
		outboxTransport := sqlqueue.NewOutboxTransport(transport, store)
		for _, body := range []string{"a", "b", "c", "d", "e"} {
			if err := outboxTransport.Send(ctx, queue, sqlqueue.Envelope{Body: []byte(body)}, scope); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 5, countRows(t, ctx, db, store.Table()))

	forwarder := sqlqueue.NewForwarder(store, transport, sqlqueue.WithPollInterval(50*time.Millisecond))
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- forwarder.Run(runCtx)
	}()

	require.Eventually(t, func() bool {
		return countRows(t, ctx, db, store.Table()) == 0
	}, 10*time.Second, 50*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	var got []string
	for env := receive(t, ctx, transport); env != nil; env = receive(t, ctx, transport) {
		got = append(got, string(env.Body))
	}
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, got)
}

type flakyTransport struct {
	sqlqueue.Transport
	failures atomic.Int32
}

func (f *flakyTransport) Send(ctx context.Context, destination string, env sqlqueue.Envelope, scope *sqlqueue.Scope) error {
	if f.failures.Add(-1) >= 0 {
		return errors.New("broker unavailable")
	}
	return f.Transport.Send(ctx, destination, env, scope)
}

func TestForwarderLeavesBatchPendingOnExhaustionIntegration(t *testing.T) {
	ctx, db := setupPostgres(t)
	queue := queueName()
	transport := newTransport(t, ctx, db, postgres.WithInputQueue(queue))
	store, err := postgres.NewOutboxStore(db)
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(ctx))

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	msg := sqlqueue.OutboxMessage{Destination: queue, Envelope: sqlqueue.Envelope{Body: []byte("retry me")}}
	require.NoError(t, store.Append(ctx, tx, msg))
	require.NoError(t, tx.Commit())

	flaky := &flakyTransport{Transport: transport}
	flaky.failures.Store(3)
	forwarder := sqlqueue.NewForwarder(store, flaky, sqlqueue.WithRetryPolicy(sqlqueue.RetryPolicy{0, 0}))

	_, err = forwarder.ProcessOnce(ctx)
	require.ErrorIs(t, err, sqlqueue.ErrRetriesExhausted)
	require.Equal(t, 1, countRows(t, ctx, db, store.Table()))
	require.Nil(t, receive(t, ctx, transport))

	forwarded, err := forwarder.ProcessOnce(ctx)
	require.NoError(t, err)
	require.True(t, forwarded)
	require.Equal(t, 0, countRows(t, ctx, db, store.Table()))
	require.NotNil(t, receive(t, ctx, transport))
}

func TestEnlistedScopeRoutesThroughOutboxIntegration(t *testing.T) {
	ctx, db := setupPostgres(t)
	queue := queueName()
	transport := newTransport(t, ctx, db, postgres.WithInputQueue(queue))
	store, err := postgres.NewOutboxStore(db)
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(ctx))
	outboxTransport := sqlqueue.NewOutboxTransport(transport, store)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	scope, err := sqlqueue.NewEnlistedScope(tx)
	require.NoError(t, err)
	require.NoError(t, outboxTransport.Send(ctx, queue, sqlqueue.Envelope{Body: []byte("x")}, scope))
	require.NoError(t, scope.Complete(ctx))
	scope.Dispose()
	require.NoError(t, tx.Commit())

	require.Equal(t, 1, countRows(t, ctx, db, store.Table()))
	require.Equal(t, 0, countRows(t, ctx, db, transport.Table()))
}
