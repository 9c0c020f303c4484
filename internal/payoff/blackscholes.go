package payoff

import (
	"math"
	"time"

	"github.com/eddiefleurent/forward_factor/internal/models"
)

// NormCDF is the standard normal cumulative distribution.
func NormCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// CallPrice is the Black-Scholes call value with zero rates. vol is a
// decimal and years the time to expiry. Expired or volatility-free options
// are worth their intrinsic value.
func CallPrice(spot, strike, years, vol float64) float64 {
	intrinsic := math.Max(spot-strike, 0)
	if years <= 0 || vol <= 0 || spot <= 0 || strike <= 0 {
		return intrinsic
	}
	sd := vol * math.Sqrt(years)
	d1 := (math.Log(spot/strike) + 0.5*sd*sd) / sd
	d2 := d1 - sd
	return spot*NormCDF(d1) - strike*NormCDF(d2)
}

// YearsBetween is the ACT/365 year fraction between two dates, floored at 0.
func YearsBetween(from, to time.Time) float64 {
	days := models.DaysBetween(from, to)
	if days <= 0 {
		return 0
	}
	return float64(days) / 365.0
}

// probBelow is P(S_T < x) for a driftless lognormal starting at spot.
func probBelow(x, spot, vol, years float64) float64 {
	if x <= 0 {
		return 0
	}
	sd := vol * math.Sqrt(years)
	return NormCDF((math.Log(x/spot) + 0.5*sd*sd) / sd)
}
