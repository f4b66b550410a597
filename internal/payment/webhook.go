package payment

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// ErrInvalidSignature is returned when a webhook payload fails signature
// verification. The HTTP layer must answer non-2xx so the sender redelivers.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Event kinds the reconciler acts on
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventPaymentFailed     = "payment_intent.payment_failed"
)

// Event is a verified, parsed webhook notification. OrderID is set for
// checkout completions (from session metadata); PaymentIntentID is set for
// both completions and payment failures.
type Event struct {
	ID              string
	Type            string
	OrderID         string
	PaymentIntentID string
}

// WebhookVerifier authenticates raw webhook payloads with a shared secret
type WebhookVerifier struct {
	secret string
}

// NewWebhookVerifier creates a verifier for the given endpoint secret
func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret}
}

// VerifyAndParse checks the signature header against the raw payload and
// extracts the fields the reconciler dispatches on. Event types other than
// the two acted upon come back with ID and Type only.
func (v *WebhookVerifier) VerifyAndParse(payload []byte, sigHeader string) (*Event, error) {
	stripeEvent, err := webhook.ConstructEventWithOptions(payload, sigHeader, v.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	event := &Event{
		ID:   stripeEvent.ID,
		Type: string(stripeEvent.Type),
	}

	switch event.Type {
	case EventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(stripeEvent.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("failed to parse checkout session: %w", err)
		}
		event.OrderID = session.Metadata["orderId"]
		if session.PaymentIntent != nil {
			event.PaymentIntentID = session.PaymentIntent.ID
		}

	case EventPaymentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(stripeEvent.Data.Raw, &intent); err != nil {
			return nil, fmt.Errorf("failed to parse payment intent: %w", err)
		}
		event.PaymentIntentID = intent.ID
	}

	return event, nil
}
