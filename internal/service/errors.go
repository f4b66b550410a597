package service

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the read side
var (
	ErrOrderNotFound = errors.New("order not found")
	ErrForbidden     = errors.New("you can only view your own orders")
)

// ValidationError reports malformed input. Not retryable; surfaced to caller.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// AssetUnavailableError rejects a purchase of an asset not listed for sale
type AssetUnavailableError struct {
	Title string
}

func (e *AssetUnavailableError) Error() string {
	return fmt.Sprintf("asset %q is not available for purchase", e.Title)
}

// SelfPurchaseError rejects a buyer purchasing their own asset
type SelfPurchaseError struct {
	Title string
}

func (e *SelfPurchaseError) Error() string {
	return fmt.Sprintf("you cannot purchase your own asset %q", e.Title)
}

// AlreadyPurchasedError rejects a repeat purchase, naming the conflicts
type AlreadyPurchasedError struct {
	Titles []string
}

func (e *AlreadyPurchasedError) Error() string {
	return "you already purchased: " + strings.Join(e.Titles, ", ")
}

// GatewayError wraps a failed call to the payment processor. The order was
// already persisted PENDING; the buyer must retry checkout.
type GatewayError struct {
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("checkout session creation failed: %v", e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }
