// Package util holds price rounding shared by the mock chain generator and
// paper trade pricing.
package util

import (
	"math"

	"github.com/shopspring/decimal"
)

// RoundToTick rounds x to the nearest tick increment. Ties round away from zero.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// Cents rounds a per-share price or a dollar amount to two decimals without
// binary float drift.
func Cents(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// StrikeIncrement is the listed strike spacing for an underlying at spot.
func StrikeIncrement(spot float64) float64 {
	switch {
	case spot < 25:
		return 0.5
	case spot < 100:
		return 1
	case spot < 250:
		return 2.5
	default:
		return 5
	}
}

// NearestStrike snaps price onto the strike grid used at spot.
func NearestStrike(price, spot float64) float64 {
	return RoundToTick(price, StrikeIncrement(spot))
}
