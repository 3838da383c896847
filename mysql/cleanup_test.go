package mysql

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/velmie/sqlqueue"
)

func TestExpiryLockDefaults(t *testing.T) {
	transport := MustNewTransport(&sql.DB{}, WithTable("queue.messages"))
	if transport.cfg.ExpiryLockName != "sqlqueue:expiry:queue.messages" {
		t.Fatalf("unexpected lock name %q", transport.cfg.ExpiryLockName)
	}

	transport = MustNewTransport(&sql.DB{}, WithExpiryLockName("custom"))
	if transport.cfg.ExpiryLockName != "custom" {
		t.Fatalf("expected custom lock name, got %q", transport.cfg.ExpiryLockName)
	}
}

func TestDeleteExpiredValidation(t *testing.T) {
	transport := MustNewTransport(&sql.DB{})
	for _, limit := range []int{0, -1} {
		if _, err := transport.DeleteExpired(context.Background(), limit); !errors.Is(err, sqlqueue.ErrInvalidBatchSize) {
			t.Fatalf("limit %d: expected ErrInvalidBatchSize, got %v", limit, err)
		}
	}
}
