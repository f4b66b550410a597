package service

import (
	"context"
	"errors"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/payment"
	"marketplace/internal/store"
	"marketplace/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SettlementStore is the slice of the durable store the reconciler needs.
// Both Apply methods run the state transition and the dedup ledger insert in
// one transaction and report whether the transition was actually applied.
type SettlementStore interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
	ApplyCheckoutCompleted(ctx context.Context, eventID, eventType, orderID, paymentIntentID string) (*models.Order, bool, error)
	ApplyPaymentFailed(ctx context.Context, eventID, eventType, paymentIntentID string) (*models.Order, bool, error)
	GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error)
}

// EventVerifier authenticates and parses raw webhook payloads
type EventVerifier interface {
	VerifyAndParse(payload []byte, sigHeader string) (*payment.Event, error)
}

// DedupCache is a best-effort fast path in front of the durable dedup ledger.
// The marker is written only after the ledger row is committed, so a present
// marker always implies a durable ledger row.
type DedupCache interface {
	EventSeen(ctx context.Context, eventID string) (bool, error)
	MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) error
}

const eventSeenTTL = 24 * time.Hour

// WebhookService reconciles asynchronous payment notifications into durable
// order state, at most once per event id.
type WebhookService struct {
	store     SettlementStore
	verifier  EventVerifier
	dedup     DedupCache
	publisher OrderPublisher
	logger    *zap.Logger
}

// NewWebhookService creates a new webhook reconciler
func NewWebhookService(store SettlementStore, verifier EventVerifier, dedup DedupCache, publisher OrderPublisher) *WebhookService {
	return &WebhookService{
		store:     store,
		verifier:  verifier,
		dedup:     dedup,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// HandleEvent authenticates a raw webhook delivery, deduplicates it and
// applies the matching state transition. A nil return means the delivery may
// be acknowledged; payment.ErrInvalidSignature means the caller must answer
// non-2xx so the sender retries.
func (ws *WebhookService) HandleEvent(ctx context.Context, rawPayload []byte, sigHeader string) error {
	ctx, span := util.StartSpan(ctx, "WebhookService.HandleEvent")
	defer span.End()

	event, err := ws.verifier.VerifyAndParse(rawPayload, sigHeader)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			util.WebhookSignatureFailures.Inc()
		}
		return err
	}

	util.WebhookEventsTotal.WithLabelValues(event.Type).Inc()

	if done, err := ws.alreadyProcessed(ctx, event.ID); err != nil {
		return err
	} else if done {
		util.WebhookDuplicatesTotal.Inc()
		ws.logger.Info("Event already processed", zap.String("event_id", event.ID))
		return nil
	}

	if err := ws.dispatch(ctx, event); err != nil {
		return err
	}

	// the marker follows the ledger write, never precedes it: an unapplied
	// event must keep answering non-2xx until the ledger row exists
	if err := ws.dedup.MarkEventSeen(ctx, event.ID, eventSeenTTL); err != nil {
		ws.logger.Warn("Failed to set dedup marker", zap.String("event_id", event.ID), zap.Error(err))
	}

	return nil
}

// alreadyProcessed consults the redis fast path and then the durable ledger.
// The fast path can only short-circuit because markers are written after the
// ledger row; a missing marker, or any redis error, degrades to the ledger.
func (ws *WebhookService) alreadyProcessed(ctx context.Context, eventID string) (bool, error) {
	seen, err := ws.dedup.EventSeen(ctx, eventID)
	if err != nil {
		ws.logger.Warn("Dedup cache unavailable, falling back to ledger", zap.Error(err))
	} else if seen {
		return true, nil
	}

	processed, err := ws.store.IsEventProcessed(ctx, eventID)
	if err != nil {
		return false, err
	}
	return processed, nil
}

// dispatch is the event state machine: one case per acted-upon event kind,
// everything else acknowledged without effect.
func (ws *WebhookService) dispatch(ctx context.Context, event *payment.Event) error {
	switch event.Type {
	case payment.EventCheckoutCompleted:
		return ws.handleCheckoutCompleted(ctx, event)
	case payment.EventPaymentFailed:
		return ws.handlePaymentFailed(ctx, event)
	default:
		ws.logger.Info("Ignoring event type", zap.String("type", event.Type), zap.String("event_id", event.ID))
		return ws.store.MarkEventProcessed(ctx, event.ID, event.Type)
	}
}

func (ws *WebhookService) handleCheckoutCompleted(ctx context.Context, event *payment.Event) error {
	if event.OrderID == "" {
		ws.logger.Error("Checkout completion without orderId metadata", zap.String("event_id", event.ID))
		return ws.store.MarkEventProcessed(ctx, event.ID, event.Type)
	}

	order, applied, err := ws.store.ApplyCheckoutCompleted(ctx, event.ID, event.Type, event.OrderID, event.PaymentIntentID)
	if errors.Is(err, store.ErrNotFound) {
		// redelivery cannot help; acknowledge so the sender stops retrying
		ws.logger.Error("Order referenced by event not found",
			zap.String("event_id", event.ID),
			zap.String("order_id", event.OrderID))
		return ws.store.MarkEventProcessed(ctx, event.ID, event.Type)
	}
	if err != nil {
		return err
	}

	if !applied {
		ws.logger.Info("Order already settled, skipping",
			zap.String("order_id", order.ID),
			zap.String("status", order.Status))
		return nil
	}

	util.OrdersPaidTotal.Inc()
	ws.logger.Info("Order marked as paid",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber))

	ws.publishOrderPaid(ctx, order)
	return nil
}

func (ws *WebhookService) handlePaymentFailed(ctx context.Context, event *payment.Event) error {
	order, applied, err := ws.store.ApplyPaymentFailed(ctx, event.ID, event.Type, event.PaymentIntentID)
	if errors.Is(err, store.ErrNotFound) {
		ws.logger.Warn("No order holds the failed payment reference",
			zap.String("event_id", event.ID),
			zap.String("payment_intent_id", event.PaymentIntentID))
		return ws.store.MarkEventProcessed(ctx, event.ID, event.Type)
	}
	if err != nil {
		return err
	}

	if !applied {
		return nil
	}

	ws.logger.Info("Order marked as failed",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber))

	failedEvent := &models.OrderFailedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderFailed,
			Timestamp: time.Now(),
		},
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Reason:      "payment_failed",
	}
	if err := ws.publisher.PublishOrderFailed(ctx, failedEvent); err != nil {
		ws.logger.Error("Failed to publish OrderFailed event", zap.Error(err))
	}
	return nil
}

func (ws *WebhookService) publishOrderPaid(ctx context.Context, order *models.Order) {
	items, err := ws.store.GetOrderItems(ctx, order.ID)
	if err != nil {
		ws.logger.Error("Failed to load items for paid event", zap.Error(err))
		items = nil
	}

	event := &models.OrderPaidEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPaid,
			Timestamp: time.Now(),
		},
		OrderID:         order.ID,
		OrderNumber:     order.OrderNumber,
		BuyerID:         order.BuyerID,
		Total:           order.Total,
		PaymentIntentID: order.StripePaymentIntentID.String,
		Items:           itemEventData(items),
	}

	if err := ws.publisher.PublishOrderPaid(ctx, event); err != nil {
		ws.logger.Error("Failed to publish OrderPaid event", zap.Error(err))
	}
}
