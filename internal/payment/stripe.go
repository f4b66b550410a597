// Package payment wraps the Stripe API behind the narrow surface the
// settlement core needs: creating hosted checkout sessions and verifying
// inbound webhook events.
package payment

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// CheckoutItem is one purchasable line in a checkout session
type CheckoutItem struct {
	AssetID  string
	Title    string
	Price    int64 // minor units
	SellerID string
}

// CreateSessionParams carries everything needed to open a hosted checkout
type CreateSessionParams struct {
	OrderID       string
	OrderNumber   string
	Items         []CheckoutItem
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
}

// Session is the reference the buyer is redirected to
type Session struct {
	ID  string
	URL string
}

// StripeGateway creates checkout sessions against the Stripe API
type StripeGateway struct {
	api      *client.API
	currency string
}

// NewStripeGateway creates a gateway bound to an API key
func NewStripeGateway(secretKey, currency string) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeGateway{api: api, currency: currency}
}

// CreateSession opens a hosted checkout session for an order. The order id
// travels in session metadata so the completion webhook can find its way back.
func (g *StripeGateway) CreateSession(ctx context.Context, params CreateSessionParams) (*Session, error) {
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(params.Items))
	for _, item := range params.Items {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(g.currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Title),
					Metadata: map[string]string{
						"assetId":  item.AssetID,
						"sellerId": item.SellerID,
					},
				},
				UnitAmount: stripe.Int64(item.Price),
			},
			Quantity: stripe.Int64(1),
		})
	}

	sessionParams := &stripe.CheckoutSessionParams{
		Params:             stripe.Params{Context: ctx},
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems:          lineItems,
		CustomerEmail:      stripe.String(params.CustomerEmail),
		SuccessURL:         stripe.String(params.SuccessURL),
		CancelURL:          stripe.String(params.CancelURL),
	}
	sessionParams.AddMetadata("orderId", params.OrderID)
	sessionParams.AddMetadata("orderNumber", params.OrderNumber)

	sess, err := g.api.CheckoutSessions.New(sessionParams)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout session creation failed: %w", err)
	}

	return &Session{ID: sess.ID, URL: sess.URL}, nil
}
