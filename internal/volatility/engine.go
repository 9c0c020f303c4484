// Package volatility computes forward volatility and the Forward Factor for
// pairs of expirations, and places IV inside its trailing range.
package volatility

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/eddiefleurent/forward_factor/internal/models"
)

// DaysPerYear converts days-to-expiry into year fractions.
const DaysPerYear = 365.0

var (
	// ErrNonIncreasingTime is returned when the back leg does not expire after the front.
	ErrNonIncreasingTime = errors.New("back expiration must be after front expiration")
	// ErrNonPositiveVariance marks an inverted term structure.
	ErrNonPositiveVariance = errors.New("forward variance is not positive")
)

// Params controls one engine run for a single ticker.
type Params struct {
	Strategy          models.DTEStrategy
	Mode              models.FFCalculationMode
	EarningsIVPremium float64
	EarningsDate      *time.Time
	ScanDate          time.Time
}

// Pair is a front/back expiration pairing chosen from a DTE band.
type Pair struct {
	Front models.ExpirationSummary
	Back  models.ExpirationSummary
}

// ForwardVariance returns the annualized variance implied between the two
// expirations. IVs are percentages.
func ForwardVariance(frontIV float64, frontDTE int, backIV float64, backDTE int) (float64, error) {
	if backDTE <= frontDTE {
		return 0, ErrNonIncreasingTime
	}
	t1 := float64(frontDTE) / DaysPerYear
	t2 := float64(backDTE) / DaysPerYear
	f := frontIV / 100
	b := backIV / 100
	return (b*b*t2 - f*f*t1) / (t2 - t1), nil
}

// ForwardVol returns the forward volatility in percent. A non-positive
// forward variance yields ErrNonPositiveVariance along with the variance.
func ForwardVol(frontIV float64, frontDTE int, backIV float64, backDTE int) (vol, variance float64, err error) {
	variance, err = ForwardVariance(frontIV, frontDTE, backIV, backDTE)
	if err != nil {
		return 0, 0, err
	}
	if variance <= 0 || math.IsNaN(variance) {
		return 0, variance, ErrNonPositiveVariance
	}
	return math.Sqrt(variance) * 100, variance, nil
}

// ForwardFactor is (frontIV - forwardVol) / forwardVol as a percentage.
func ForwardFactor(frontIV, forwardVol float64) float64 {
	return (frontIV - forwardVol) / forwardVol * 100
}

// AdjustForEarnings strips the earnings premium from front IV.
func AdjustForEarnings(frontIV, premium float64) float64 {
	return frontIV * (1 - premium)
}

// EarningsInWindow reports whether earnings fall on or after from and on or before to.
func EarningsInWindow(earnings *time.Time, from, to time.Time) bool {
	if earnings == nil {
		return false
	}
	return models.DaysBetween(from, *earnings) >= 0 && models.DaysBetween(*earnings, to) >= 0
}

// SelectPairs chooses at most one back expiration for every eligible front.
// summaries must be ordered by expiration.
func SelectPairs(summaries []models.ExpirationSummary, band models.DTEBand) []Pair {
	var pairs []Pair
	for i, front := range summaries {
		if front.DaysToExpiry < band.FrontMin || front.DaysToExpiry > band.FrontMax {
			continue
		}
		if back, ok := selectBack(summaries[i+1:], front, band); ok {
			pairs = append(pairs, Pair{Front: front, Back: back})
		}
	}
	return pairs
}

func selectBack(later []models.ExpirationSummary, front models.ExpirationSummary, band models.DTEBand) (models.ExpirationSummary, bool) {
	if band.Consecutive {
		for _, s := range later {
			if s.DaysToExpiry-front.DaysToExpiry >= band.MinGapDays {
				return s, true
			}
		}
		return models.ExpirationSummary{}, false
	}

	var best models.ExpirationSummary
	found := false
	bestDist, bestOff := 0, 0
	for _, s := range later {
		if s.DaysToExpiry-front.DaysToExpiry < band.MinGapDays {
			continue
		}
		dist := outsideRange(s.DaysToExpiry, band.BackMin, band.BackMax)
		if dist > band.Tolerance {
			continue
		}
		off := absInt(s.DaysToExpiry - band.BackTarget)
		// later is date-ordered, so strict comparisons keep the earlier expiration on ties
		if !found || dist < bestDist || (dist == bestDist && off < bestOff) {
			best, bestDist, bestOff, found = s, dist, off, true
		}
	}
	return best, found
}

func outsideRange(v, lo, hi int) int {
	switch {
	case v < lo:
		return lo - v
	case v > hi:
		return v - hi
	default:
		return 0
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Compute runs pairing and the Forward Factor for one ticker. Pairings that
// cannot produce a signal are returned as edge cases instead of results.
func Compute(ticker string, summaries []models.ExpirationSummary, p Params) ([]models.ForwardFactorResult, []models.EdgeCase, error) {
	band, err := p.Strategy.Band()
	if err != nil {
		return nil, nil, err
	}
	premium := p.EarningsIVPremium
	if premium < 0 || premium >= 1 {
		return nil, nil, fmt.Errorf("earnings iv premium %.2f outside [0,1)", premium)
	}

	var (
		results   []models.ForwardFactorResult
		edgeCases []models.EdgeCase
	)
	for _, pair := range SelectPairs(summaries, band) {
		front, back := pair.Front, pair.Back
		effective := front.ATMImpliedVol
		adjusted := false
		if p.Mode == models.FFModeExEarnings && EarningsInWindow(p.EarningsDate, p.ScanDate, front.Expiration) {
			effective = AdjustForEarnings(effective, premium)
			adjusted = true
		}

		fwdVol, variance, err := ForwardVol(effective, front.DaysToExpiry, back.ATMImpliedVol, back.DaysToExpiry)
		if errors.Is(err, ErrNonPositiveVariance) {
			edgeCases = append(edgeCases, models.EdgeCase{
				Ticker:          ticker,
				FrontExpiration: front.Expiration,
				BackExpiration:  back.Expiration,
				Kind:            models.EdgeCaseInvertedTermStructure,
				ForwardVariance: variance,
			})
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%s %s/%s: %w", ticker,
				front.Expiration.Format(models.DateLayout), back.Expiration.Format(models.DateLayout), err)
		}

		ff := ForwardFactor(effective, fwdVol)
		signal, ok := models.SignalFor(ff)
		if !ok {
			edgeCases = append(edgeCases, models.EdgeCase{
				Ticker:          ticker,
				FrontExpiration: front.Expiration,
				BackExpiration:  back.Expiration,
				Kind:            models.EdgeCaseFlatSignal,
				ForwardVariance: variance,
			})
			continue
		}

		results = append(results, models.ForwardFactorResult{
			Ticker:           ticker,
			FrontExpiration:  front.Expiration,
			BackExpiration:   back.Expiration,
			FrontDTE:         front.DaysToExpiry,
			BackDTE:          back.DaysToExpiry,
			FrontIV:          front.ATMImpliedVol,
			EffectiveFrontIV: effective,
			BackIV:           back.ATMImpliedVol,
			ForwardVol:       fwdVol,
			ForwardFactor:    ff,
			Signal:           signal,
			EarningsAdjusted: adjusted,
		})
	}
	return results, edgeCases, nil
}
