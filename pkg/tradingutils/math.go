// Package tradingutils holds small decimal rounding helpers shared by the
// order executor and the bot scheduler.
package tradingutils

import (
	"github.com/shopspring/decimal"
)

// RoundPrice rounds a price to the exchange's accepted decimals.
func RoundPrice(price decimal.Decimal, priceDecimals int32) decimal.Decimal {
	return price.Round(priceDecimals)
}

// RoundQuantity clamps a quantity to the exchange's accepted decimals by
// truncation, never rounding up: a sell volume or entry size must never
// exceed what the available balance actually supports.
func RoundQuantity(qty decimal.Decimal, qtyDecimals int32) decimal.Decimal {
	return qty.Truncate(qtyDecimals)
}
