package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"marketplace/internal/models"
)

// IsEventProcessed checks the dedup ledger for an event id
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_payment_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed records an event id in the dedup ledger. Used on its own
// only for event types the reconciler explicitly ignores; state-changing
// events write their ledger row inside the same transaction as the change.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_payment_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}

// ApplyCheckoutCompleted transitions an order to PAID, stamps the paid time
// and payment reference, increments each item's asset sales counter, and
// records the event in the dedup ledger - all in one transaction. The order
// row is locked first; if it is already PAID the mutation and counter
// increments are skipped (safe no-op for a redelivered event) but the ledger
// row is still written so the sender stops retrying. Returns the order as it
// was after the transaction and whether the transition was applied.
func (s *Store) ApplyCheckoutCompleted(ctx context.Context, eventID, eventType, orderID, paymentIntentID string) (*models.Order, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if err == sql.ErrNoRows {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock order: %w", err)
	}

	applied := false
	if order.Status == models.OrderStatusPending {
		now := time.Now()
		err = tx.GetContext(ctx, &order, `
			UPDATE orders
			SET status = $1, paid_at = $2, stripe_payment_intent_id = $3, updated_at = NOW()
			WHERE id = $4
			RETURNING *`,
			models.OrderStatusPaid, now, paymentIntentID, orderID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to mark order paid: %w", err)
		}

		// one increment per order item; an asset appears at most once per order
		_, err = tx.ExecContext(ctx, `
			UPDATE assets SET sales_count = sales_count + 1
			WHERE id IN (SELECT asset_id FROM order_items WHERE order_id = $1)`,
			orderID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to increment sales counts: %w", err)
		}

		applied = true
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO processed_payment_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record processed event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return &order, applied, nil
}

// ApplyPaymentFailed transitions the order holding the given payment
// reference to FAILED and records the event in the dedup ledger, in one
// transaction. Orders already out of PENDING are left untouched.
func (s *Store) ApplyPaymentFailed(ctx context.Context, eventID, eventType, paymentIntentID string) (*models.Order, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE stripe_payment_intent_id = $1 FOR UPDATE", paymentIntentID)
	if err == sql.ErrNoRows {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock order: %w", err)
	}

	applied := false
	if order.Status == models.OrderStatusPending {
		err = tx.GetContext(ctx, &order, `
			UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 RETURNING *`,
			models.OrderStatusFailed, order.ID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to mark order failed: %w", err)
		}
		applied = true
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO processed_payment_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record processed event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return &order, applied, nil
}
