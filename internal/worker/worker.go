package worker

import (
	"context"
	"log"

	"marketplace/internal/broker"
	"marketplace/internal/models"
	"marketplace/internal/redisclient"
	"marketplace/internal/util"

	"go.uber.org/zap"
)

// LeaderboardWorker consumes order events and keeps the redis sales
// leaderboard in sync with settled purchases. The sorted set is a derived
// view; the database sales counters stay authoritative.
type LeaderboardWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	redis        *redisclient.Client
	logger       *zap.Logger
}

// NewLeaderboardWorker creates a new leaderboard worker
func NewLeaderboardWorker(consumer *broker.Consumer, redis *redisclient.Client) *LeaderboardWorker {
	w := &LeaderboardWorker{
		consumer: consumer,
		redis:    redis,
		logger:   util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderPaid(w.handleOrderPaid)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *LeaderboardWorker) Start(ctx context.Context) error {
	log.Println("Starting leaderboard worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *LeaderboardWorker) Stop() error {
	log.Println("Stopping leaderboard worker...")
	return w.consumer.Close()
}

func (w *LeaderboardWorker) handleOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	for _, item := range event.Items {
		if err := w.redis.IncrementSales(ctx, item.AssetID); err != nil {
			// leaderboard updates are best-effort: never fail the consumer
			// loop over a derived view
			w.logger.Warn("Failed to bump sales leaderboard",
				zap.String("asset_id", item.AssetID),
				zap.Error(err))
		}
	}

	w.logger.Info("Leaderboard updated for paid order",
		zap.String("order_id", event.OrderID),
		zap.Int("items", len(event.Items)))
	return nil
}
