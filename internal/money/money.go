// Package money centralizes the decimal arithmetic and rounding rules used
// across commission planning, payout sizing, and status projection so every
// package treats amounts the same way shopspring/decimal does in the chain
// adapter layer.
package money

import (
	"github.com/shopspring/decimal"
)

// USDScale is the number of decimal places a USD-denominated value is
// rounded to before it is persisted or shown to a party.
const USDScale = 2

// RoundUSD rounds amount to USDScale places with decimal.Decimal's Round,
// which rounds halves away from zero (not banker's rounding).
func RoundUSD(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(USDScale)
}

// BasisPoints converts an integer bps value (e.g. 30 for 0.30%) into its
// decimal fraction.
func BasisPoints(bps int64) decimal.Decimal {
	return decimal.NewFromInt(bps).Div(decimal.NewFromInt(10000))
}

// ApplyBps returns amount reduced by bps basis points, e.g. ApplyBps(100, 30)
// == 99.70.
func ApplyBps(amount decimal.Decimal, bps int64) decimal.Decimal {
	fee := amount.Mul(BasisPoints(bps))
	return amount.Sub(fee)
}

// FeeFromBps returns the fee amount (not the reduced total) for bps basis
// points of amount.
func FeeFromBps(amount decimal.Decimal, bps int64) decimal.Decimal {
	return amount.Mul(BasisPoints(bps))
}

// IsPositive reports whether amount is strictly greater than zero, the
// invariant required of any required deposit or payout amount.
func IsPositive(amount decimal.Decimal) bool {
	return amount.IsPositive()
}

// Sum adds a slice of decimal amounts, returning zero for an empty slice.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
