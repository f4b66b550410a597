package service

import (
	"context"
	"errors"
	"testing"

	"marketplace/internal/models"
	"marketplace/internal/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedPendingOrder(t *testing.T, fs *fakeStore, buyerID string) *models.Order {
	t.Helper()
	fs.addAsset("a1", "Template", 10.00, models.AssetStatusActive, "seller-1")
	order := &models.Order{
		BuyerID:     buyerID,
		OrderNumber: "PRO-1735689600000-AB12",
		Subtotal:    1000,
		PlatformFee: 150,
		Total:       1000,
		Currency:    "eur",
		Status:      models.OrderStatusPending,
	}
	require.NoError(t, fs.CreateOrderWithItems(context.Background(), order, []models.OrderItem{
		{AssetID: "a1", SellerID: "seller-1", AssetTitle: "Template", AssetPrice: 1000, SellerAmount: 850},
	}))
	return order
}

func newTestWebhookService(fs *fakeStore, events map[string]*payment.Event) (*WebhookService, *fakePublisher, *fakeDedup) {
	pub := &fakePublisher{}
	dedup := newFakeDedup()
	ws := NewWebhookService(fs, &fakeVerifier{events: events}, dedup, pub)
	return ws, pub, dedup
}

func TestCheckoutCompletedMarksOrderPaid(t *testing.T) {
	fs := newFakeStore()
	order := seedPendingOrder(t, fs, "buyer-1")

	events := map[string]*payment.Event{
		"p1": {ID: "evt_1", Type: payment.EventCheckoutCompleted, OrderID: order.ID, PaymentIntentID: "pi_1"},
	}
	ws, pub, _ := newTestWebhookService(fs, events)

	has, err := fs.HasPurchased(context.Background(), "buyer-1", "a1")
	require.NoError(t, err)
	assert.False(t, has, "not purchased before the PAID transition")

	require.NoError(t, ws.HandleEvent(context.Background(), []byte("p1"), "valid"))

	stored := fs.orders[order.ID]
	assert.Equal(t, models.OrderStatusPaid, stored.Status)
	assert.True(t, stored.PaidAt.Valid)
	assert.Equal(t, "pi_1", stored.StripePaymentIntentID.String)
	assert.Equal(t, 1, fs.assets["a1"].SalesCount)

	has, err = fs.HasPurchased(context.Background(), "buyer-1", "a1")
	require.NoError(t, err)
	assert.True(t, has, "purchased immediately after the PAID transition")

	require.Len(t, pub.paid, 1)
	assert.Equal(t, order.ID, pub.paid[0].OrderID)
	assert.Equal(t, "pi_1", pub.paid[0].PaymentIntentID)
}

func TestDuplicateEventAppliesOnce(t *testing.T) {
	fs := newFakeStore()
	order := seedPendingOrder(t, fs, "buyer-1")

	events := map[string]*payment.Event{
		"p1": {ID: "evt_1", Type: payment.EventCheckoutCompleted, OrderID: order.ID, PaymentIntentID: "pi_1"},
	}
	ws, pub, _ := newTestWebhookService(fs, events)

	require.NoError(t, ws.HandleEvent(context.Background(), []byte("p1"), "valid"))
	require.NoError(t, ws.HandleEvent(context.Background(), []byte("p1"), "valid"))

	assert.Equal(t, 1, fs.assets["a1"].SalesCount, "sales count must not double-increment")
	assert.Len(t, pub.paid, 1, "paid event must publish once")
	assert.Len(t, fs.processed, 1)
}

func TestDuplicateEventCaughtByLedgerWhenCacheCold(t *testing.T) {
	fs := newFakeStore()
	order := seedPendingOrder(t, fs, "buyer-1")

	events := map[string]*payment.Event{
		"p1": {ID: "evt_1", Type: payment.EventCheckoutCompleted, OrderID: order.ID, PaymentIntentID: "pi_1"},
	}
	ws, pub, dedup := newTestWebhookService(fs, events)

	require.NoError(t, ws.HandleEvent(context.Background(), []byte("p1"), "valid"))

	// a restarted cache forgets the marker; the durable ledger still dedupes
	delete(dedup.seen, "evt_1")
	require.NoError(t, ws.HandleEvent(context.Background(), []byte("p1"), "valid"))

	assert.Equal(t, 1, fs.assets["a1"].SalesCount)
	assert.Len(t, pub.paid, 1)
}

func TestCheckoutCompletedOnPaidOrderIsNoOp(t *testing.T) {
	fs := newFakeStore()
	order := seedPendingOrder(t, fs, "buyer-1")

	// simulate the crash window: order settled but no ledger row written
	fs.orders[order.ID].Status = models.OrderStatusPaid
	fs.assets["a1"].SalesCount = 1

	events := map[string]*payment.Event{
		"p1": {ID: "evt_9", Type: payment.EventCheckoutCompleted, OrderID: order.ID, PaymentIntentID: "pi_1"},
	}
	ws, pub, _ := newTestWebhookService(fs, events)

	require.NoError(t, ws.HandleEvent(context.Background(), []byte("p1"), "valid"))

	assert.Equal(t, models.OrderStatusPaid, fs.orders[order.ID].Status)
	assert.Equal(t, 1, fs.assets["a1"].SalesCount, "no double increment")
	assert.Empty(t, pub.paid, "no paid event for a skipped transition")
	assert.Contains(t, fs.processed, "evt_9", "event still recorded so redelivery stops")
}

func TestCheckoutCompletedUnknownOrderIsSwallowed(t *testing.T) {
	fs := newFakeStore()

	events := map[string]*payment.Event{
		"p1": {ID: "evt_2", Type: payment.EventCheckoutCompleted, OrderID: "ord_missing", PaymentIntentID: "pi_1"},
	}
	ws, pub, _ := newTestWebhookService(fs, events)

	require.NoError(t, ws.HandleEvent(context.Background(), []byte("p1"), "valid"))
	assert.Empty(t, pub.paid)
	assert.Contains(t, fs.processed, "evt_2")
}

func TestPaymentFailedTransitionsOrder(t *testing.T) {
	fs := newFakeStore()
	order := seedPendingOrder(t, fs, "buyer-1")
	fs.orders[order.ID].StripePaymentIntentID.String = "pi_55"
	fs.orders[order.ID].StripePaymentIntentID.Valid = true

	events := map[string]*payment.Event{
		"p1": {ID: "evt_3", Type: payment.EventPaymentFailed, PaymentIntentID: "pi_55"},
	}
	ws, pub, _ := newTestWebhookService(fs, events)

	require.NoError(t, ws.HandleEvent(context.Background(), []byte("p1"), "valid"))

	assert.Equal(t, models.OrderStatusFailed, fs.orders[order.ID].Status)
	require.Len(t, pub.failed, 1)
	assert.Equal(t, order.ID, pub.failed[0].OrderID)
}

func TestPaymentFailedUnknownReferenceIsSwallowed(t *testing.T) {
	fs := newFakeStore()
	seedPendingOrder(t, fs, "buyer-1")

	events := map[string]*payment.Event{
		"p1": {ID: "evt_4", Type: payment.EventPaymentFailed, PaymentIntentID: "pi_unknown"},
	}
	ws, pub, _ := newTestWebhookService(fs, events)

	// no matching stored reference: logged, recorded, no error to the caller
	require.NoError(t, ws.HandleEvent(context.Background(), []byte("p1"), "valid"))
	assert.Empty(t, pub.failed)
	assert.Contains(t, fs.processed, "evt_4")
}

func TestUnknownEventTypeIsIgnored(t *testing.T) {
	fs := newFakeStore()
	order := seedPendingOrder(t, fs, "buyer-1")

	events := map[string]*payment.Event{
		"p1": {ID: "evt_5", Type: "invoice.created"},
	}
	ws, pub, _ := newTestWebhookService(fs, events)

	require.NoError(t, ws.HandleEvent(context.Background(), []byte("p1"), "valid"))

	assert.Equal(t, models.OrderStatusPending, fs.orders[order.ID].Status)
	assert.Empty(t, pub.paid)
	assert.Contains(t, fs.processed, "evt_5")
}

func TestRedeliveryAfterLedgerErrorStillApplies(t *testing.T) {
	fs := newFakeStore()
	order := seedPendingOrder(t, fs, "buyer-1")

	events := map[string]*payment.Event{
		"p1": {ID: "evt_7", Type: payment.EventCheckoutCompleted, OrderID: order.ID, PaymentIntentID: "pi_1"},
	}
	ws, pub, dedup := newTestWebhookService(fs, events)

	// transient ledger outage: the delivery must fail so the sender retries
	fs.processedErr = errors.New("connection refused")
	err := ws.HandleEvent(context.Background(), []byte("p1"), "valid")
	require.Error(t, err)
	assert.Equal(t, models.OrderStatusPending, fs.orders[order.ID].Status)
	assert.Empty(t, fs.processed)
	assert.Empty(t, dedup.seen, "no marker may exist for an unapplied event")

	// redelivery against a healthy store applies the transition
	fs.processedErr = nil
	require.NoError(t, ws.HandleEvent(context.Background(), []byte("p1"), "valid"))

	assert.Equal(t, models.OrderStatusPaid, fs.orders[order.ID].Status)
	assert.Equal(t, 1, fs.assets["a1"].SalesCount)
	assert.Len(t, pub.paid, 1)
	assert.Contains(t, fs.processed, "evt_7")
	assert.Contains(t, dedup.seen, "evt_7", "marker set once the ledger row exists")
}

func TestDedupCacheOutageDegradesToLedger(t *testing.T) {
	fs := newFakeStore()
	order := seedPendingOrder(t, fs, "buyer-1")

	events := map[string]*payment.Event{
		"p1": {ID: "evt_8", Type: payment.EventCheckoutCompleted, OrderID: order.ID, PaymentIntentID: "pi_1"},
	}
	ws, pub, dedup := newTestWebhookService(fs, events)
	dedup.err = errors.New("redis down")

	require.NoError(t, ws.HandleEvent(context.Background(), []byte("p1"), "valid"))
	require.NoError(t, ws.HandleEvent(context.Background(), []byte("p1"), "valid"))

	assert.Equal(t, models.OrderStatusPaid, fs.orders[order.ID].Status)
	assert.Equal(t, 1, fs.assets["a1"].SalesCount, "ledger alone still dedupes")
	assert.Len(t, pub.paid, 1)
}

func TestInvalidSignatureIsRejected(t *testing.T) {
	fs := newFakeStore()
	ws, _, _ := newTestWebhookService(fs, nil)

	err := ws.HandleEvent(context.Background(), []byte("p1"), "garbage")
	assert.ErrorIs(t, err, payment.ErrInvalidSignature)
	assert.Empty(t, fs.processed)
}
