package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"marketplace/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateOrderWithItems persists a pending order and its items atomically.
// The transaction runs at SERIALIZABLE isolation and re-runs the
// duplicate-purchase guard inside it, so two concurrent checkouts for the
// same buyer and asset cannot both commit. Returns ErrDuplicatePurchase when
// the guard trips and ErrOrderNumberConflict on an order number collision.
func (s *Store) CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	assetIDs := make([]string, len(items))
	for i, item := range items {
		assetIDs[i] = item.AssetID
	}

	query, args, err := sqlx.In(`
		SELECT COUNT(*) FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE o.buyer_id = ? AND o.status = ? AND oi.asset_id IN (?)`,
		order.BuyerID, models.OrderStatusPaid, assetIDs)
	if err != nil {
		return err
	}
	query = tx.Rebind(query)

	var conflicts int
	if err := tx.GetContext(ctx, &conflicts, query, args...); err != nil {
		return fmt.Errorf("duplicate purchase guard failed: %w", err)
	}
	if conflicts > 0 {
		return ErrDuplicatePurchase
	}

	insertOrder := `
		INSERT INTO orders (order_number, buyer_id, subtotal, platform_fee, total, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	err = tx.GetContext(ctx, order, insertOrder,
		order.OrderNumber, order.BuyerID, order.Subtotal, order.PlatformFee,
		order.Total, order.Currency, order.Status)
	if err != nil {
		if isUniqueViolation(err, "orders_order_number_key") {
			return ErrOrderNumberConflict
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}

	insertItem := `
		INSERT INTO order_items (order_id, asset_id, seller_id, asset_title, asset_price, seller_amount)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	for i := range items {
		items[i].OrderID = order.ID
		if err := tx.GetContext(ctx, &items[i].ID, insertItem,
			items[i].OrderID, items[i].AssetID, items[i].SellerID,
			items[i].AssetTitle, items[i].AssetPrice, items[i].SellerAmount); err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return tx.Commit()
}

// SetOrderSession stores the checkout session reference on an order
func (s *Store) SetOrderSession(ctx context.Context, orderID, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET stripe_session_id = $1, updated_at = NOW() WHERE id = $2",
		sessionID, orderID)
	return err
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItems retrieves all items for an order
func (s *Store) GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1", orderID)
	return items, err
}

// GetOrdersByBuyer retrieves a buyer's orders, newest first
func (s *Store) GetOrdersByBuyer(ctx context.Context, buyerID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC", buyerID)
	return orders, err
}

// PaidItemTitlesForBuyer returns the titles of assets among assetIDs that the
// buyer already holds through a PAID order. Used to name conflicts in the
// duplicate-purchase rejection.
func (s *Store) PaidItemTitlesForBuyer(ctx context.Context, buyerID string, assetIDs []string) ([]string, error) {
	if len(assetIDs) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`
		SELECT DISTINCT oi.asset_title FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE o.buyer_id = ? AND o.status = ? AND oi.asset_id IN (?)
		ORDER BY oi.asset_title`,
		buyerID, models.OrderStatusPaid, assetIDs)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var titles []string
	err = s.db.SelectContext(ctx, &titles, query, args...)
	return titles, err
}

// HasPurchased reports whether the buyer holds the asset through a PAID order
func (s *Store) HasPurchased(ctx context.Context, buyerID, assetID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM order_items oi
			JOIN orders o ON o.id = oi.order_id
			WHERE o.buyer_id = $1 AND o.status = $2 AND oi.asset_id = $3)`,
		buyerID, models.OrderStatusPaid, assetID)
	return exists, err
}

// PurchasedAssets returns the distinct assets the buyer owns, each annotated
// with the paid time of the earliest order that unlocked it.
func (s *Store) PurchasedAssets(ctx context.Context, buyerID string) ([]models.PurchasedAsset, error) {
	var assets []models.PurchasedAsset
	err := s.db.SelectContext(ctx, &assets, `
		SELECT DISTINCT ON (oi.asset_id)
			oi.asset_id, oi.asset_title, a.slug, o.paid_at
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		JOIN assets a ON a.id = oi.asset_id
		WHERE o.buyer_id = $1 AND o.status = $2
		ORDER BY oi.asset_id, o.paid_at ASC`,
		buyerID, models.OrderStatusPaid)
	return assets, err
}

// SellerOrderItems returns a seller's order items joined with the parent
// order's status and buyer for seller-facing reporting.
func (s *Store) SellerOrderItems(ctx context.Context, sellerID string) ([]models.SellerOrderItem, error) {
	var items []models.SellerOrderItem
	err := s.db.SelectContext(ctx, &items, `
		SELECT
			oi.id, oi.order_id, oi.asset_id, oi.seller_id,
			oi.asset_title, oi.asset_price, oi.seller_amount,
			o.order_number, o.status AS order_status, o.buyer_id,
			o.created_at, o.paid_at
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE oi.seller_id = $1
		ORDER BY o.created_at DESC`,
		sellerID)
	return items, err
}

// ExpireStalePendingOrders fails PENDING orders older than cutoff that never
// obtained a checkout session, so buyers stop seeing unreachable checkouts.
func (s *Store) ExpireStalePendingOrders(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = $1, updated_at = NOW()
		WHERE status = $2 AND stripe_session_id IS NULL AND created_at < NOW() - $3::interval`,
		models.OrderStatusFailed, models.OrderStatusPending,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
