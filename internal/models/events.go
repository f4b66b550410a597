package models

import "time"

// Event types published to the order-events topic
const (
	EventTypeOrderCreated = "ORDER_CREATED"
	EventTypeOrderPaid    = "ORDER_PAID"
	EventTypeOrderFailed  = "ORDER_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when a pending order is persisted
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	BuyerID     string          `json:"buyer_id"`
	Subtotal    int64           `json:"subtotal"`
	Items       []OrderItemData `json:"items"`
}

// OrderPaidEvent published after a successful PAID transition
type OrderPaidEvent struct {
	BaseEvent
	OrderID         string          `json:"order_id"`
	OrderNumber     string          `json:"order_number"`
	BuyerID         string          `json:"buyer_id"`
	Total           int64           `json:"total"`
	PaymentIntentID string          `json:"payment_intent_id"`
	Items           []OrderItemData `json:"items"`
}

// OrderFailedEvent published after a FAILED transition
type OrderFailedEvent struct {
	BaseEvent
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Reason      string `json:"reason"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	AssetID      string `json:"asset_id"`
	SellerID     string `json:"seller_id"`
	AssetPrice   int64  `json:"asset_price"`
	SellerAmount int64  `json:"seller_amount"`
}
