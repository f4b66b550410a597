package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/payment"
	"marketplace/internal/pricing"
	"marketplace/internal/store"
	"marketplace/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderStore is the slice of the durable store the order service needs
type OrderStore interface {
	GetAssetsByIDs(ctx context.Context, ids []string) ([]models.Asset, error)
	PaidItemTitlesForBuyer(ctx context.Context, buyerID string, assetIDs []string) ([]string, error)
	CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error
	SetOrderSession(ctx context.Context, orderID, sessionID string) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error)
	GetOrdersByBuyer(ctx context.Context, buyerID string) ([]models.Order, error)
	PurchasedAssets(ctx context.Context, buyerID string) ([]models.PurchasedAsset, error)
	HasPurchased(ctx context.Context, buyerID, assetID string) (bool, error)
	SellerOrderItems(ctx context.Context, sellerID string) ([]models.SellerOrderItem, error)
}

// CheckoutGateway obtains hosted payment sessions from the external processor
type CheckoutGateway interface {
	CreateSession(ctx context.Context, params payment.CreateSessionParams) (*payment.Session, error)
}

// OrderPublisher publishes order lifecycle events for downstream consumers
type OrderPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	PublishOrderFailed(ctx context.Context, event *models.OrderFailedEvent) error
}

// OrderConfig is the immutable business configuration injected at construction
type OrderConfig struct {
	FeePercent      int
	Currency        string
	MaxCartSize     int
	CheckoutTimeout time.Duration
	SuccessURL      string
	CancelURL       string
}

// OrderService validates purchase requests, persists pending orders and hands
// the buyer off to the external checkout. It also serves the read side.
type OrderService struct {
	store     OrderStore
	gateway   CheckoutGateway
	publisher OrderPublisher
	cfg       OrderConfig
	logger    *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(store OrderStore, gateway CheckoutGateway, publisher OrderPublisher, cfg OrderConfig) *OrderService {
	return &OrderService{
		store:     store,
		gateway:   gateway,
		publisher: publisher,
		cfg:       cfg,
		logger:    util.GetLogger(),
	}
}

// CreateOrderResponse is the buyer-visible result of order creation
type CreateOrderResponse struct {
	Order       *models.Order      `json:"order"`
	Items       []models.OrderItem `json:"items"`
	CheckoutURL string             `json:"checkout_url"`
}

// CreateOrder validates the cart, persists a PENDING order with its items and
// obtains a checkout session. Any rejection in validation aborts before
// persistence. A gateway failure after persistence leaves the PENDING order
// without a session reference; the sweeper expires such orders later.
func (s *OrderService) CreateOrder(ctx context.Context, buyerID, buyerEmail string, assetIDs []string) (*CreateOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if err := s.validateCart(assetIDs); err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	assets, err := s.resolveAssets(ctx, buyerID, assetIDs)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("unavailable").Inc()
		return nil, err
	}

	conflicts, err := s.store.PaidItemTitlesForBuyer(ctx, buyerID, assetIDs)
	if err != nil {
		return nil, fmt.Errorf("duplicate purchase check failed: %w", err)
	}
	if len(conflicts) > 0 {
		util.OrdersFailedTotal.WithLabelValues("already_purchased").Inc()
		return nil, &AlreadyPurchasedError{Titles: conflicts}
	}

	order, items := s.buildOrder(buyerID, assets)

	if err := s.persistOrder(ctx, order, items, assets); err != nil {
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("total", order.Total))

	s.publishOrderCreated(ctx, order, items)

	checkoutURL, err := s.openCheckout(ctx, order, items, buyerEmail)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("gateway").Inc()
		return nil, err
	}

	return &CreateOrderResponse{Order: order, Items: items, CheckoutURL: checkoutURL}, nil
}

func (s *OrderService) validateCart(assetIDs []string) error {
	if len(assetIDs) == 0 {
		return &ValidationError{Msg: "assetIds must not be empty"}
	}
	if len(assetIDs) > s.cfg.MaxCartSize {
		return &ValidationError{Msg: fmt.Sprintf("at most %d assets per order", s.cfg.MaxCartSize)}
	}

	seen := make(map[string]struct{}, len(assetIDs))
	for _, id := range assetIDs {
		if id == "" {
			return &ValidationError{Msg: "assetIds must not contain empty ids"}
		}
		if _, dup := seen[id]; dup {
			return &ValidationError{Msg: fmt.Sprintf("duplicate asset id %s in request", id)}
		}
		seen[id] = struct{}{}
	}
	return nil
}

// resolveAssets loads the requested assets and applies the business-rule
// rejections: every asset must exist, be ACTIVE and not belong to the buyer.
func (s *OrderService) resolveAssets(ctx context.Context, buyerID string, assetIDs []string) ([]models.Asset, error) {
	assets, err := s.store.GetAssetsByIDs(ctx, assetIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve assets: %w", err)
	}

	if len(assets) != len(assetIDs) {
		return nil, &ValidationError{Msg: "one or more assets do not exist"}
	}

	for _, asset := range assets {
		if asset.Status != models.AssetStatusActive {
			return nil, &AssetUnavailableError{Title: asset.Title}
		}
		if asset.SellerID == buyerID {
			return nil, &SelfPurchaseError{Title: asset.Title}
		}
	}

	return assets, nil
}

func (s *OrderService) buildOrder(buyerID string, assets []models.Asset) (*models.Order, []models.OrderItem) {
	var subtotal, platformFee int64
	items := make([]models.OrderItem, 0, len(assets))

	for _, asset := range assets {
		price := pricing.ToMinorUnits(asset.Price)
		fee := pricing.PlatformFee(price, s.cfg.FeePercent)

		subtotal += price
		platformFee += fee
		items = append(items, models.OrderItem{
			AssetID:      asset.ID,
			SellerID:     asset.SellerID,
			AssetTitle:   asset.Title,
			AssetPrice:   price,
			SellerAmount: price - fee,
		})
	}

	order := &models.Order{
		OrderNumber: newOrderNumber(),
		BuyerID:     buyerID,
		Subtotal:    subtotal,
		PlatformFee: platformFee,
		// the fee comes out of seller payouts, not on top of the buyer total
		Total:    subtotal,
		Currency: s.cfg.Currency,
		Status:   models.OrderStatusPending,
	}
	return order, items
}

// persistOrder writes the order, translating store sentinels into business
// errors and retrying once on the (practically unreachable) number collision.
func (s *OrderService) persistOrder(ctx context.Context, order *models.Order, items []models.OrderItem, assets []models.Asset) error {
	err := s.store.CreateOrderWithItems(ctx, order, items)
	if errors.Is(err, store.ErrOrderNumberConflict) {
		order.OrderNumber = newOrderNumber()
		err = s.store.CreateOrderWithItems(ctx, order, items)
	}
	if errors.Is(err, store.ErrDuplicatePurchase) {
		// a concurrent checkout won the race inside the serializable tx
		titles := make([]string, 0, len(assets))
		for _, asset := range assets {
			titles = append(titles, asset.Title)
		}
		util.OrdersFailedTotal.WithLabelValues("already_purchased").Inc()
		return &AlreadyPurchasedError{Titles: titles}
	}
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (s *OrderService) openCheckout(ctx context.Context, order *models.Order, items []models.OrderItem, buyerEmail string) (string, error) {
	checkoutItems := make([]payment.CheckoutItem, 0, len(items))
	for _, item := range items {
		checkoutItems = append(checkoutItems, payment.CheckoutItem{
			AssetID:  item.AssetID,
			Title:    item.AssetTitle,
			Price:    item.AssetPrice,
			SellerID: item.SellerID,
		})
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.cfg.CheckoutTimeout)
	defer cancel()

	start := time.Now()
	session, err := s.gateway.CreateSession(gwCtx, payment.CreateSessionParams{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Items:         checkoutItems,
		CustomerEmail: buyerEmail,
		SuccessURL:    s.cfg.SuccessURL,
		CancelURL:     s.cfg.CancelURL,
	})
	util.CheckoutSessionLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		util.CheckoutSessionFailures.Inc()
		s.logger.Error("Checkout session creation failed, order left pending",
			zap.String("order_id", order.ID),
			zap.Error(err))
		return "", &GatewayError{Err: err}
	}

	if err := s.store.SetOrderSession(ctx, order.ID, session.ID); err != nil {
		return "", fmt.Errorf("failed to store session reference: %w", err)
	}
	order.StripeSessionID.String = session.ID
	order.StripeSessionID.Valid = true

	return session.URL, nil
}

func (s *OrderService) publishOrderCreated(ctx context.Context, order *models.Order, items []models.OrderItem) {
	event := &models.OrderCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCreated,
			Timestamp: time.Now(),
		},
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		BuyerID:     order.BuyerID,
		Subtotal:    order.Subtotal,
		Items:       itemEventData(items),
	}

	if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}
}

// newOrderNumber builds a human-readable order number from the current time
// and a short random suffix, e.g. PRO-1735689600000-3F9A. Uniqueness is backed
// by a database constraint; the caller retries once on conflict.
func newOrderNumber() string {
	suffix := strings.ToUpper(uuid.New().String()[:4])
	return fmt.Sprintf("PRO-%d-%s", time.Now().UnixMilli(), suffix)
}

func itemEventData(items []models.OrderItem) []models.OrderItemData {
	data := make([]models.OrderItemData, 0, len(items))
	for _, item := range items {
		data = append(data, models.OrderItemData{
			AssetID:      item.AssetID,
			SellerID:     item.SellerID,
			AssetPrice:   item.AssetPrice,
			SellerAmount: item.SellerAmount,
		})
	}
	return data
}

// GetOrder retrieves an order with items, enforcing buyer ownership
func (s *OrderService) GetOrder(ctx context.Context, orderID, userID string) (*models.Order, []models.OrderItem, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	if order.BuyerID != userID {
		return nil, nil, ErrForbidden
	}

	items, err := s.store.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	return order, items, nil
}

// OrdersForBuyer lists a buyer's orders, newest first
func (s *OrderService) OrdersForBuyer(ctx context.Context, buyerID string) ([]models.Order, error) {
	return s.store.GetOrdersByBuyer(ctx, buyerID)
}

// PurchasedAssets returns the distinct assets the buyer owns through PAID
// orders, annotated with the paid time that unlocked each one.
func (s *OrderService) PurchasedAssets(ctx context.Context, buyerID string) ([]models.PurchasedAsset, error) {
	return s.store.PurchasedAssets(ctx, buyerID)
}

// HasPurchased reports whether the buyer owns the asset through a PAID order
func (s *OrderService) HasPurchased(ctx context.Context, buyerID, assetID string) (bool, error) {
	return s.store.HasPurchased(ctx, buyerID, assetID)
}

// OrdersForSeller returns the seller's order items joined with order state
func (s *OrderService) OrdersForSeller(ctx context.Context, sellerID string) ([]models.SellerOrderItem, error) {
	return s.store.SellerOrderItems(ctx, sellerID)
}
