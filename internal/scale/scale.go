// Package scale converts fixed-point amounts between asset scales without
// losing value: whatever cannot be represented at the destination scale is
// returned as a leftover in source units, to be aggregated with later amounts.
package scale

import (
	"github.com/shopspring/decimal"
)

// WithPrecisionLoss splits amount (expressed at fromScale) into the largest
// part exactly representable at toScale and the discarded remainder. Both
// results stay in source units, so representable + leftover == amount always
// holds. Truncation only; rounding up would over-settle.
func WithPrecisionLoss(amount decimal.Decimal, fromScale, toScale int) (representable, leftover decimal.Decimal) {
	if toScale >= fromScale {
		return amount, decimal.Zero
	}

	// Drop the low-order digits that have no home at the destination scale.
	drop := int32(fromScale - toScale)
	representable = amount.Shift(-drop).Truncate(0).Shift(drop)
	leftover = amount.Sub(representable)
	return representable, leftover
}

// ToUnits re-expresses a representable source-scale amount as an integer
// number of units at toScale. Must only be called with the representable
// half of WithPrecisionLoss, which is integral at the destination scale.
func ToUnits(representable decimal.Decimal, fromScale, toScale int) decimal.Decimal {
	return representable.Shift(int32(toScale - fromScale))
}
