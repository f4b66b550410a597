package models

import (
	"database/sql"
	"time"
)

// Asset is the slice of the catalog the settlement core reads. The full
// catalog (descriptions, files, previews) lives in the CRUD layer.
type Asset struct {
	ID         string    `db:"id" json:"id"`
	Title      string    `db:"title" json:"title"`
	Slug       string    `db:"slug" json:"slug"`
	Price      float64   `db:"price" json:"price"`
	Status     string    `db:"status" json:"status"`
	SellerID   string    `db:"seller_id" json:"seller_id"`
	SalesCount int       `db:"sales_count" json:"sales_count"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Order represents one checkout attempt
type Order struct {
	ID                    string         `db:"id" json:"id"`
	OrderNumber           string         `db:"order_number" json:"order_number"`
	BuyerID               string         `db:"buyer_id" json:"buyer_id"`
	Subtotal              int64          `db:"subtotal" json:"subtotal"`
	PlatformFee           int64          `db:"platform_fee" json:"platform_fee"`
	Total                 int64          `db:"total" json:"total"`
	Currency              string         `db:"currency" json:"currency"`
	Status                string         `db:"status" json:"status"`
	StripeSessionID       sql.NullString `db:"stripe_session_id" json:"stripe_session_id,omitempty"`
	StripePaymentIntentID sql.NullString `db:"stripe_payment_intent_id" json:"stripe_payment_intent_id,omitempty"`
	CreatedAt             time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time      `db:"updated_at" json:"updated_at"`
	PaidAt                sql.NullTime   `db:"paid_at" json:"paid_at,omitempty"`
}

// OrderItem is one purchased asset line within an order. Title and price are
// captured at order time and never follow later edits of the asset.
type OrderItem struct {
	ID           string `db:"id" json:"id"`
	OrderID      string `db:"order_id" json:"order_id"`
	AssetID      string `db:"asset_id" json:"asset_id"`
	SellerID     string `db:"seller_id" json:"seller_id"`
	AssetTitle   string `db:"asset_title" json:"asset_title"`
	AssetPrice   int64  `db:"asset_price" json:"asset_price"`
	SellerAmount int64  `db:"seller_amount" json:"seller_amount"`
}

// PurchasedAsset is a buyer-facing view: one row per distinct asset the buyer
// owns, annotated with the paid time of an order that unlocks it.
type PurchasedAsset struct {
	AssetID     string       `db:"asset_id" json:"asset_id"`
	Title       string       `db:"asset_title" json:"title"`
	Slug        string       `db:"slug" json:"slug"`
	PurchasedAt sql.NullTime `db:"paid_at" json:"purchased_at"`
}

// SellerOrderItem joins an order item with its parent order for seller reporting
type SellerOrderItem struct {
	OrderItem
	OrderNumber string       `db:"order_number" json:"order_number"`
	OrderStatus string       `db:"order_status" json:"order_status"`
	BuyerID     string       `db:"buyer_id" json:"buyer_id"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	PaidAt      sql.NullTime `db:"paid_at" json:"paid_at,omitempty"`
}

// Order statuses. PENDING moves to PAID or FAILED via webhook reconciliation;
// REFUNDED is reached only by an out-of-band refund process.
const (
	OrderStatusPending  = "PENDING"
	OrderStatusPaid     = "PAID"
	OrderStatusFailed   = "FAILED"
	OrderStatusRefunded = "REFUNDED"
)

// Asset statuses (catalog-owned; only ACTIVE is purchasable)
const (
	AssetStatusDraft         = "DRAFT"
	AssetStatusPendingReview = "PENDING_REVIEW"
	AssetStatusActive        = "ACTIVE"
	AssetStatusInactive      = "INACTIVE"
	AssetStatusRejected      = "REJECTED"
)

// ProcessedPaymentEvent is the dedup ledger: one row per distinct provider
// event id ever applied. Existence means the event must not be reapplied.
type ProcessedPaymentEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
