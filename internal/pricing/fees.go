// Package pricing computes the platform fee split for a sale. All amounts are
// integer minor currency units (cents).
package pricing

import "math"

// PlatformFee returns the platform's cut of amount at feePercent, rounding
// half up. amount must be non-negative and feePercent in [0,100].
func PlatformFee(amount int64, feePercent int) int64 {
	return (amount*int64(feePercent) + 50) / 100
}

// SellerAmount returns what the seller receives after the platform fee.
// PlatformFee(a) + SellerAmount(a) == a for all valid inputs.
func SellerAmount(amount int64, feePercent int) int64 {
	return amount - PlatformFee(amount, feePercent)
}

// ToMinorUnits converts a decimal major-unit price (how the catalog stores
// asset prices) to cents, rounding half away from zero.
func ToMinorUnits(price float64) int64 {
	return int64(math.Round(price * 100))
}
