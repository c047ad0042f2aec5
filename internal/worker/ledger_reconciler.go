package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/opd-api/pkg/logger"
)

// Backfiller is the slice of the billing service the reconciler needs.
type Backfiller interface {
	BackfillMissingEntries(ctx context.Context) (int64, error)
}

// LedgerReconciler periodically gives completed visits that slipped through
// without a ledger entry or admission a pending entry.
type LedgerReconciler struct {
	billing  Backfiller
	interval time.Duration
	logger   *logger.Logger
}

func NewLedgerReconciler(billing Backfiller, interval time.Duration, log *logger.Logger) *LedgerReconciler {
	return &LedgerReconciler{billing: billing, interval: interval, logger: log}
}

func (r *LedgerReconciler) Start(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.billing.BackfillMissingEntries(ctx); err != nil {
				r.logger.Error(err, "Ledger reconciliation failed")
			}
		}
	}
}
