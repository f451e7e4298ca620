package p2p

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/escrow-ledger/internal/domain"
	"github.com/example/escrow-ledger/internal/ledger"
)

// Sweeper cancels orders whose payment window passed without payment. It
// goes through Service.Cancel like any other caller.
type Sweeper struct {
	service   *Service
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

func NewSweeper(service *Service, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{service: service, interval: interval, batchSize: 100, logger: logger}
}

// RunOnce cancels one batch of expired orders and returns how many were
// cancelled. Orders that changed state since they were listed are skipped.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	var expired []*domain.Order
	err := s.service.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		expired, err = tx.Orders().ListExpired(ctx, domain.OrderCreated, s.service.now().UTC(), s.batchSize)
		return err
	})
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, o := range expired {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.service.Cancel(ctx, Scheduler(), o.ID); err != nil {
			if ledger.KindOf(err) == ledger.KindOrderStateViolation {
				continue
			}
			s.logger.Error("p2p_expiry_cancel_failed", "order_id", o.ID, "error", err)
			continue
		}
		cancelled++
	}
	if len(expired) > 0 {
		s.logger.Info("p2p_expiry_sweep", "expired", len(expired), "cancelled", cancelled)
	}
	return cancelled, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("p2p_expiry_sweep_failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
