package domain

import "github.com/shopspring/decimal"

// Currency is the single settlement currency of the shop.
const Currency = "EUR"

// MinorUnits converts an amount to minor currency units (cents), the
// representation the card provider's API expects.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FormatAmount renders an amount with two decimal places, the
// representation the wallet provider's API expects.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}
