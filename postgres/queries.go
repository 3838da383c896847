package postgres

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/velmie/sqlqueue"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const (
	queueColumns  = "id, headers, body"
	outboxColumns = "id, destination, headers, body, created_at"

	// delays are passed as float seconds and added to the database clock
	nowPlusSeconds = "clock_timestamp() + make_interval(secs => ?)"
)

type queueQueries struct {
	table string
}

func newQueueQueries(table sqlqueue.TableName) queueQueries {
	return queueQueries{table: quoteTable(table)}
}

func (q queueQueries) send(recipient string, d sqlqueue.Delivery) (string, []any, error) {
	return psql.Insert(q.table).
		Columns("recipient", "headers", "body", "priority", "visible", "expiration").
		Values(
			recipient,
			d.Headers,
			d.Body,
			d.Priority,
			sq.Expr(nowPlusSeconds, d.VisibleAfter.Seconds()),
			sq.Expr(nowPlusSeconds, d.TimeToLive.Seconds()),
		).
		ToSql()
}

func (q queueQueries) receive(recipient string) (string, []any, error) {
	next := sq.Select("id").
		From(q.table).
		Where("recipient = ?", recipient).
		Where("visible <= clock_timestamp()").
		Where("expiration > clock_timestamp()").
		OrderBy("priority DESC", "visible ASC", "id ASC").
		Limit(1).
		Suffix("FOR UPDATE SKIP LOCKED")

	return psql.Delete(q.table).
		Where("recipient = ?", recipient).
		Where(sq.Expr("id = (?)", next)).
		Suffix("RETURNING " + queueColumns).
		ToSql()
}

// deleteExpired removes at most limit expired rows. An empty recipient matches every queue.
func (q queueQueries) deleteExpired(recipient string, limit int) (string, []any, error) {
	expired := sq.Select("id").
		From(q.table).
		Where("expiration < clock_timestamp()").
		Limit(uint64(limit)).
		Suffix("FOR UPDATE SKIP LOCKED")
	del := psql.Delete(q.table)
	if recipient != "" {
		expired = expired.Where("recipient = ?", recipient)
		del = del.Where("recipient = ?", recipient)
	}

	return del.Where(sq.Expr("id IN (?)", expired)).ToSql()
}

func queueDDL(table sqlqueue.TableName) []string {
	name := quoteTable(table)

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL NOT NULL,
	recipient TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	expiration TIMESTAMPTZ NOT NULL,
	visible TIMESTAMPTZ NOT NULL,
	headers BYTEA NOT NULL,
	body BYTEA NOT NULL,
	PRIMARY KEY (recipient, priority, id)
)`, name),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (recipient ASC, expiration ASC, visible ASC)",
			indexName("idx_receive", table), name),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (priority DESC, visible ASC, id ASC)",
			indexName("idx_dequeue", table), name),
	}
}

type outboxQueries struct {
	table string
}

func newOutboxQueries(table sqlqueue.TableName) outboxQueries {
	return outboxQueries{table: quoteTable(table)}
}

func (q outboxQueries) append(msg sqlqueue.OutboxMessage, headers []byte) (string, []any, error) {
	body := msg.Envelope.Body
	if body == nil {
		body = []byte{}
	}

	return psql.Insert(q.table).
		Columns("destination", "headers", "body").
		Values(msg.Destination, headers, body).
		ToSql()
}

func (q outboxQueries) nextBatch(limit int) (string, []any, error) {
	return psql.Select(outboxColumns).
		From(q.table).
		OrderBy("id ASC").
		Limit(uint64(limit)).
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
}

func (q outboxQueries) complete(ids []int64) (string, []any, error) {
	return psql.Delete(q.table).
		Where(sq.Eq{"id": ids}).
		ToSql()
}

func outboxDDL(table sqlqueue.TableName) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	destination TEXT NOT NULL,
	headers BYTEA NOT NULL,
	body BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
)`, quoteTable(table)),
	}
}
