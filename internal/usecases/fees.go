package usecases

import (
	"github.com/shopspring/decimal"

	"github.com/moneta-app/wallet/backend/internal/entities"
)

// PlatformFeeRate is the operator margin retained on qualifying
// transactions.
var PlatformFeeRate = decimal.NewFromFloat(0.01)

// PlatformFee computes the fee for a gross amount, rounded half-up to two
// decimal places. Pure; negative amounts are the caller's problem but must
// not break the math.
func PlatformFee(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(PlatformFeeRate).Round(2)
}

// ApplyPlatformFee splits a gross amount into the platform fee and the net
// amount, consistent to the cent: fee + net == amount.
func ApplyPlatformFee(amount decimal.Decimal) entities.FeeBreakdown {
	fee := PlatformFee(amount)
	return entities.FeeBreakdown{
		Fee:       fee,
		NetAmount: amount.Sub(fee),
	}
}

// ApplyPlatformFeeFloat is a convenience wrapper for callers holding native
// numeric amounts.
func ApplyPlatformFeeFloat(amount float64) entities.FeeBreakdown {
	return ApplyPlatformFee(decimal.NewFromFloat(amount))
}
