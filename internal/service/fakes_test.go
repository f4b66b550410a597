package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/payment"
	"marketplace/internal/store"
)

// fakeStore is an in-memory stand-in for the sqlx store, mirroring its
// transactional semantics closely enough for the settlement properties.
type fakeStore struct {
	assets    map[string]*models.Asset
	orders    map[string]*models.Order
	items     map[string][]models.OrderItem
	processed map[string]string

	nextID           int
	createErrs       []error // popped per CreateOrderWithItems call
	createCalls      int
	attemptedNumbers []string
	processedErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		assets:    make(map[string]*models.Asset),
		orders:    make(map[string]*models.Order),
		items:     make(map[string][]models.OrderItem),
		processed: make(map[string]string),
	}
}

func (f *fakeStore) addAsset(id, title string, price float64, status, sellerID string) {
	f.assets[id] = &models.Asset{
		ID: id, Title: title, Slug: id, Price: price, Status: status, SellerID: sellerID,
	}
}

func (f *fakeStore) GetAssetsByIDs(_ context.Context, ids []string) ([]models.Asset, error) {
	var out []models.Asset
	for _, id := range ids {
		if a, ok := f.assets[id]; ok {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeStore) PaidItemTitlesForBuyer(_ context.Context, buyerID string, assetIDs []string) ([]string, error) {
	wanted := make(map[string]struct{}, len(assetIDs))
	for _, id := range assetIDs {
		wanted[id] = struct{}{}
	}

	seen := make(map[string]struct{})
	var titles []string
	for _, order := range f.orders {
		if order.BuyerID != buyerID || order.Status != models.OrderStatusPaid {
			continue
		}
		for _, item := range f.items[order.ID] {
			if _, ok := wanted[item.AssetID]; !ok {
				continue
			}
			if _, dup := seen[item.AssetTitle]; dup {
				continue
			}
			seen[item.AssetTitle] = struct{}{}
			titles = append(titles, item.AssetTitle)
		}
	}
	sort.Strings(titles)
	return titles, nil
}

func (f *fakeStore) CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	f.createCalls++
	f.attemptedNumbers = append(f.attemptedNumbers, order.OrderNumber)
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		return err
	}

	assetIDs := make([]string, len(items))
	for i, item := range items {
		assetIDs[i] = item.AssetID
	}
	conflicts, _ := f.PaidItemTitlesForBuyer(ctx, order.BuyerID, assetIDs)
	if len(conflicts) > 0 {
		return store.ErrDuplicatePurchase
	}

	f.nextID++
	order.ID = fmt.Sprintf("ord_%d", f.nextID)
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt

	copied := *order
	f.orders[order.ID] = &copied
	for i := range items {
		items[i].OrderID = order.ID
		items[i].ID = fmt.Sprintf("item_%d_%d", f.nextID, i)
	}
	f.items[order.ID] = append([]models.OrderItem(nil), items...)
	return nil
}

func (f *fakeStore) SetOrderSession(_ context.Context, orderID, sessionID string) error {
	order, ok := f.orders[orderID]
	if !ok {
		return store.ErrNotFound
	}
	order.StripeSessionID.String = sessionID
	order.StripeSessionID.Valid = true
	return nil
}

func (f *fakeStore) GetOrderByID(_ context.Context, id string) (*models.Order, error) {
	order, ok := f.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *order
	return &copied, nil
}

func (f *fakeStore) GetOrderItems(_ context.Context, orderID string) ([]models.OrderItem, error) {
	return append([]models.OrderItem(nil), f.items[orderID]...), nil
}

func (f *fakeStore) GetOrdersByBuyer(_ context.Context, buyerID string) ([]models.Order, error) {
	var out []models.Order
	for _, order := range f.orders {
		if order.BuyerID == buyerID {
			out = append(out, *order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) PurchasedAssets(_ context.Context, buyerID string) ([]models.PurchasedAsset, error) {
	seen := make(map[string]struct{})
	var out []models.PurchasedAsset
	for _, order := range f.orders {
		if order.BuyerID != buyerID || order.Status != models.OrderStatusPaid {
			continue
		}
		for _, item := range f.items[order.ID] {
			if _, dup := seen[item.AssetID]; dup {
				continue
			}
			seen[item.AssetID] = struct{}{}
			out = append(out, models.PurchasedAsset{
				AssetID:     item.AssetID,
				Title:       item.AssetTitle,
				PurchasedAt: order.PaidAt,
			})
		}
	}
	return out, nil
}

func (f *fakeStore) HasPurchased(_ context.Context, buyerID, assetID string) (bool, error) {
	for _, order := range f.orders {
		if order.BuyerID != buyerID || order.Status != models.OrderStatusPaid {
			continue
		}
		for _, item := range f.items[order.ID] {
			if item.AssetID == assetID {
				return true, nil
			}
		}
	}
	return false, nil
}

func (f *fakeStore) SellerOrderItems(_ context.Context, sellerID string) ([]models.SellerOrderItem, error) {
	var out []models.SellerOrderItem
	for _, order := range f.orders {
		for _, item := range f.items[order.ID] {
			if item.SellerID != sellerID {
				continue
			}
			out = append(out, models.SellerOrderItem{
				OrderItem:   item,
				OrderNumber: order.OrderNumber,
				OrderStatus: order.Status,
				BuyerID:     order.BuyerID,
				CreatedAt:   order.CreatedAt,
				PaidAt:      order.PaidAt,
			})
		}
	}
	return out, nil
}

func (f *fakeStore) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	if f.processedErr != nil {
		return false, f.processedErr
	}
	_, ok := f.processed[eventID]
	return ok, nil
}

func (f *fakeStore) MarkEventProcessed(_ context.Context, eventID, eventType string) error {
	f.processed[eventID] = eventType
	return nil
}

func (f *fakeStore) ApplyCheckoutCompleted(_ context.Context, eventID, eventType, orderID, paymentIntentID string) (*models.Order, bool, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return nil, false, store.ErrNotFound
	}

	applied := false
	if order.Status == models.OrderStatusPending {
		order.Status = models.OrderStatusPaid
		order.PaidAt.Time = time.Now()
		order.PaidAt.Valid = true
		order.StripePaymentIntentID.String = paymentIntentID
		order.StripePaymentIntentID.Valid = true
		for _, item := range f.items[orderID] {
			if asset, ok := f.assets[item.AssetID]; ok {
				asset.SalesCount++
			}
		}
		applied = true
	}

	f.processed[eventID] = eventType
	copied := *order
	return &copied, applied, nil
}

func (f *fakeStore) ApplyPaymentFailed(_ context.Context, eventID, eventType, paymentIntentID string) (*models.Order, bool, error) {
	var target *models.Order
	for _, order := range f.orders {
		if order.StripePaymentIntentID.Valid && order.StripePaymentIntentID.String == paymentIntentID {
			target = order
			break
		}
	}
	if target == nil {
		return nil, false, store.ErrNotFound
	}

	applied := false
	if target.Status == models.OrderStatusPending {
		target.Status = models.OrderStatusFailed
		applied = true
	}

	f.processed[eventID] = eventType
	copied := *target
	return &copied, applied, nil
}

func (f *fakeStore) ExpireStalePendingOrders(_ context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	var n int64
	for _, order := range f.orders {
		if order.Status == models.OrderStatusPending && !order.StripeSessionID.Valid && order.CreatedAt.Before(cutoff) {
			order.Status = models.OrderStatusFailed
			n++
		}
	}
	return n, nil
}

// fakeGateway records checkout session requests
type fakeGateway struct {
	err      error
	sessions []payment.CreateSessionParams
}

func (g *fakeGateway) CreateSession(_ context.Context, params payment.CreateSessionParams) (*payment.Session, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.sessions = append(g.sessions, params)
	return &payment.Session{
		ID:  fmt.Sprintf("cs_test_%d", len(g.sessions)),
		URL: fmt.Sprintf("https://checkout.example.com/c/%d", len(g.sessions)),
	}, nil
}

// fakePublisher records published events
type fakePublisher struct {
	created []*models.OrderCreatedEvent
	paid    []*models.OrderPaidEvent
	failed  []*models.OrderFailedEvent
}

func (p *fakePublisher) PublishOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	p.created = append(p.created, e)
	return nil
}

func (p *fakePublisher) PublishOrderPaid(_ context.Context, e *models.OrderPaidEvent) error {
	p.paid = append(p.paid, e)
	return nil
}

func (p *fakePublisher) PublishOrderFailed(_ context.Context, e *models.OrderFailedEvent) error {
	p.failed = append(p.failed, e)
	return nil
}

// fakeDedup is an in-memory DedupCache
type fakeDedup struct {
	seen map[string]struct{}
	err  error
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{seen: make(map[string]struct{})}
}

func (d *fakeDedup) EventSeen(_ context.Context, eventID string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	_, ok := d.seen[eventID]
	return ok, nil
}

func (d *fakeDedup) MarkEventSeen(_ context.Context, eventID string, _ time.Duration) error {
	if d.err != nil {
		return d.err
	}
	d.seen[eventID] = struct{}{}
	return nil
}

// fakeVerifier returns canned parsed events keyed by raw payload
type fakeVerifier struct {
	events map[string]*payment.Event
}

func (v *fakeVerifier) VerifyAndParse(payload []byte, sigHeader string) (*payment.Event, error) {
	if sigHeader != "valid" {
		return nil, fmt.Errorf("%w: bad header", payment.ErrInvalidSignature)
	}
	event, ok := v.events[string(payload)]
	if !ok {
		return nil, errors.New("unknown payload")
	}
	return event, nil
}
