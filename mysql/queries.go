package mysql

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/velmie/sqlqueue"
)

const (
	queueColumns  = "id, headers, body"
	outboxColumns = "id, destination, headers, body, created_at"

	utcNow = "UTC_TIMESTAMP(6)"
	// delays are passed as whole microseconds and added to the database clock
	nowPlusMicros = "DATE_ADD(UTC_TIMESTAMP(6), INTERVAL ? MICROSECOND)"
)

type queueQueries struct {
	table string
}

func newQueueQueries(table sqlqueue.TableName) queueQueries {
	return queueQueries{table: quoteTable(table)}
}

func (q queueQueries) send(recipient string, d sqlqueue.Delivery) (string, []any, error) {
	return sq.Insert(q.table).
		Columns("recipient", "headers", "body", "priority", "visible", "expiration").
		Values(
			recipient,
			d.Headers,
			d.Body,
			d.Priority,
			sq.Expr(nowPlusMicros, d.VisibleAfter.Microseconds()),
			sq.Expr(nowPlusMicros, d.TimeToLive.Microseconds()),
		).
		ToSql()
}

func (q queueQueries) selectNext(recipient string) (string, []any, error) {
	return sq.Select(queueColumns).
		From(q.table).
		Where("recipient = ?", recipient).
		Where("visible <= " + utcNow).
		Where("expiration > " + utcNow).
		OrderBy("priority DESC", "visible ASC", "id ASC").
		Limit(1).
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
}

func (q queueQueries) deleteByID(id int64) (string, []any, error) {
	return sq.Delete(q.table).
		Where(sq.Eq{"id": id}).
		ToSql()
}

// deleteExpired removes at most limit expired rows. An empty recipient matches every queue.
func (q queueQueries) deleteExpired(recipient string, limit int) (string, []any, error) {
	del := sq.Delete(q.table)
	if recipient != "" {
		del = del.Where("recipient = ?", recipient)
	}

	return del.Where("expiration < " + utcNow).
		OrderBy("id ASC").
		Limit(uint64(limit)).
		ToSql()
}

func queueDDL(table sqlqueue.TableName) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGINT NOT NULL AUTO_INCREMENT,
	recipient VARCHAR(255) NOT NULL,
	priority INT NOT NULL DEFAULT 0,
	expiration DATETIME(6) NOT NULL,
	visible DATETIME(6) NOT NULL,
	headers LONGBLOB NOT NULL,
	body LONGBLOB NOT NULL,
	PRIMARY KEY (id),
	INDEX idx_receive (recipient, expiration, visible),
	INDEX idx_dequeue (recipient, priority DESC, visible ASC, id ASC)
) ENGINE=InnoDB`, quoteTable(table))
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

	return sq.Insert(q.table).
		Columns("destination", "headers", "body", "created_at").
		Values(msg.Destination, headers, body, sq.Expr(utcNow)).
		ToSql()
}

func (q outboxQueries) nextBatch(limit int) (string, []any, error) {
	return sq.Select(outboxColumns).
		From(q.table).
		OrderBy("id ASC").
		Limit(uint64(limit)).
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
}

func (q outboxQueries) complete(ids []int64) (string, []any, error) {
	return sq.Delete(q.table).
		Where(sq.Eq{"id": ids}).
		ToSql()
}

func outboxDDL(table sqlqueue.TableName) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGINT NOT NULL AUTO_INCREMENT,
	destination VARCHAR(255) NOT NULL,
	headers LONGBLOB NOT NULL,
	body LONGBLOB NOT NULL,
	created_at DATETIME(6) NOT NULL,
	PRIMARY KEY (id)
) ENGINE=InnoDB`, quoteTable(table))
}
