package sqlqueue

import (
	"context"
	"time"
)

// ExpirySweeper periodically deletes queue rows whose time to live has passed.
type ExpirySweeper struct {
	deleter ExpiredDeleter
	cfg     SweeperConfig
}

// NewExpirySweeper constructs an ExpirySweeper with defaults and optional settings.
func NewExpirySweeper(deleter ExpiredDeleter, opts ...SweeperOption) *ExpirySweeper {
	if deleter == nil {
		panic("sqlqueue: nil ExpiredDeleter")
	}

	var cfg SweeperConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return &ExpirySweeper{deleter: deleter, cfg: cfg.withDefaults()}
}

// Run sweeps once per interval until ctx is done. Sweep failures are logged.
func (s *ExpirySweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.cfg.Logger.Error("expired message sweep failed", "err", err)
		}
	}
}

// Sweep deletes expired rows in bounded passes until a pass removes nothing.
// A pass in progress is not interrupted; ctx is checked between passes.
// It returns the number of rows removed, including on error.
func (s *ExpirySweeper) Sweep(ctx context.Context) (int64, error) {
	var total int64
	defer func() {
		if total > 0 {
			s.cfg.Metrics.AddExpired(total)
			s.cfg.Logger.Info("deleted expired messages", "count", total)
		}
	}()

	passCtx := context.WithoutCancel(ctx)
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		removed, err := s.deleter.DeleteExpired(passCtx, s.cfg.Limit)
		total += removed
		if err != nil {
			return total, err
		}
		if removed == 0 {
			return total, nil
		}
	}
}
