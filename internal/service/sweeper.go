package service

import (
	"context"
	"time"

	"marketplace/internal/util"

	"go.uber.org/zap"
)

// PendingSweepStore expires PENDING orders that never obtained a checkout
// session reference.
type PendingSweepStore interface {
	ExpireStalePendingOrders(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Sweeper periodically fails orphaned PENDING orders. An order is orphaned
// when the checkout session call failed after persistence: the buyer's
// browser never received a redirect, so nothing will ever settle it.
type Sweeper struct {
	store    PendingSweepStore
	interval time.Duration
	expiry   time.Duration
	logger   *zap.Logger
}

// NewSweeper creates a sweeper that runs every interval and expires
// sessionless PENDING orders older than expiry.
func NewSweeper(store PendingSweepStore, interval, expiry time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		expiry:   expiry,
		logger:   util.GetLogger(),
	}
}

// Run blocks until ctx is cancelled
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.sweep(ctx)
		}
	}
}

func (sw *Sweeper) sweep(ctx context.Context) {
	expired, err := sw.store.ExpireStalePendingOrders(ctx, sw.expiry)
	if err != nil {
		sw.logger.Error("Pending order sweep failed", zap.Error(err))
		return
	}
	if expired > 0 {
		util.OrdersExpiredTotal.Add(float64(expired))
		sw.logger.Info("Expired orphaned pending orders", zap.Int64("count", expired))
	}
}
