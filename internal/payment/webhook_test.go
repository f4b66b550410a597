package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test_secret"

// signPayload produces a Stripe-Signature header for a raw payload, the same
// scheme the provider uses: HMAC-SHA256 over "<timestamp>.<payload>".
func signPayload(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts.Unix(), payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyAndParseCheckoutCompleted(t *testing.T) {
	payload := []byte(`{
		"id": "evt_123",
		"type": "checkout.session.completed",
		"data": {
			"object": {
				"id": "cs_test_1",
				"object": "checkout.session",
				"payment_intent": "pi_456",
				"metadata": {"orderId": "ord_789", "orderNumber": "PRO-1-ABCD"}
			}
		}
	}`)

	verifier := NewWebhookVerifier(testSecret)
	event, err := verifier.VerifyAndParse(payload, signPayload(payload, testSecret, time.Now()))
	require.NoError(t, err)

	assert.Equal(t, "evt_123", event.ID)
	assert.Equal(t, EventCheckoutCompleted, event.Type)
	assert.Equal(t, "ord_789", event.OrderID)
	assert.Equal(t, "pi_456", event.PaymentIntentID)
}

func TestVerifyAndParsePaymentFailed(t *testing.T) {
	payload := []byte(`{
		"id": "evt_200",
		"type": "payment_intent.payment_failed",
		"data": {
			"object": {
				"id": "pi_900",
				"object": "payment_intent"
			}
		}
	}`)

	verifier := NewWebhookVerifier(testSecret)
	event, err := verifier.VerifyAndParse(payload, signPayload(payload, testSecret, time.Now()))
	require.NoError(t, err)

	assert.Equal(t, EventPaymentFailed, event.Type)
	assert.Equal(t, "pi_900", event.PaymentIntentID)
	assert.Empty(t, event.OrderID)
}

func TestVerifyAndParseUnknownType(t *testing.T) {
	payload := []byte(`{"id": "evt_300", "type": "invoice.created", "data": {"object": {}}}`)

	verifier := NewWebhookVerifier(testSecret)
	event, err := verifier.VerifyAndParse(payload, signPayload(payload, testSecret, time.Now()))
	require.NoError(t, err)

	assert.Equal(t, "invoice.created", event.Type)
	assert.Empty(t, event.OrderID)
	assert.Empty(t, event.PaymentIntentID)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	payload := []byte(`{"id": "evt_123", "type": "checkout.session.completed", "data": {"object": {}}}`)
	header := signPayload(payload, testSecret, time.Now())

	tampered := []byte(`{"id": "evt_666", "type": "checkout.session.completed", "data": {"object": {}}}`)

	verifier := NewWebhookVerifier(testSecret)
	_, err := verifier.VerifyAndParse(tampered, header)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	payload := []byte(`{"id": "evt_123", "type": "checkout.session.completed", "data": {"object": {}}}`)
	header := signPayload(payload, "whsec_other", time.Now())

	verifier := NewWebhookVerifier(testSecret)
	_, err := verifier.VerifyAndParse(payload, header)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	payload := []byte(`{"id": "evt_123", "type": "checkout.session.completed", "data": {"object": {}}}`)
	header := signPayload(payload, testSecret, time.Now().Add(-time.Hour))

	verifier := NewWebhookVerifier(testSecret)
	_, err := verifier.VerifyAndParse(payload, header)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
