// Package chain condenses raw option-chain snapshots into per-expiration
// at-the-money summaries.
package chain

import (
	"math"
	"sort"
	"time"

	"github.com/eddiefleurent/forward_factor/internal/models"
)

const (
	// StrikeTolerance is the max |strike-spot|/spot for an ATM candidate.
	StrikeTolerance = 0.10
	// MaxImpliedVol rejects quotes above 500% IV as bad data.
	MaxImpliedVol = 5.0
	// MinExpirations is the least a ticker needs to form one pair.
	MinExpirations = 2
)

type strikePair struct {
	call *models.OptionChainEntry
	put  *models.OptionChainEntry
}

// Normalize builds one ExpirationSummary per usable expiration, ordered by
// date. Expirations without a call/put pair within StrikeTolerance of spot
// are skipped. Fewer than MinExpirations usable expirations is a data gap.
func Normalize(ticker string, entries []models.OptionChainEntry, spot float64, scanDate time.Time) ([]models.ExpirationSummary, error) {
	if spot <= 0 || math.IsNaN(spot) || math.IsInf(spot, 0) {
		return nil, models.NewDataGap(ticker, "no usable spot price", nil)
	}
	if len(entries) == 0 {
		return nil, models.NewDataGap(ticker, "empty option chain", nil)
	}

	byExpiration := make(map[time.Time]map[float64]*strikePair)
	for i := range entries {
		e := &entries[i]
		if !usable(e) {
			continue
		}
		exp := dateOnly(e.Expiration)
		strikes, ok := byExpiration[exp]
		if !ok {
			strikes = make(map[float64]*strikePair)
			byExpiration[exp] = strikes
		}
		sp, ok := strikes[e.Strike]
		if !ok {
			sp = &strikePair{}
			strikes[e.Strike] = sp
		}
		// duplicate contracts: keep the more liquid quote
		switch e.Type {
		case models.OptionTypeCall:
			if sp.call == nil || e.OpenInterest > sp.call.OpenInterest {
				sp.call = e
			}
		case models.OptionTypePut:
			if sp.put == nil || e.OpenInterest > sp.put.OpenInterest {
				sp.put = e
			}
		}
	}

	summaries := make([]models.ExpirationSummary, 0, len(byExpiration))
	for exp, strikes := range byExpiration {
		dte := models.DaysBetween(scanDate, exp)
		if dte <= 0 {
			continue
		}
		strike, pair, ok := atmStrike(strikes, spot)
		if !ok {
			continue
		}
		summaries = append(summaries, summarize(exp, dte, strike, pair))
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Expiration.Before(summaries[j].Expiration)
	})

	if len(summaries) < MinExpirations {
		return summaries, models.NewDataGap(ticker, "fewer than two expirations with an ATM call/put pair", nil)
	}
	return summaries, nil
}

// EstimateSpot returns the strike whose |delta| is closest to 0.5. It is the
// fallback when no spot quote is available.
func EstimateSpot(entries []models.OptionChainEntry) (float64, bool) {
	best := math.Inf(1)
	spot := 0.0
	for _, e := range entries {
		if e.Delta == nil || e.Strike <= 0 {
			continue
		}
		d := math.Abs(math.Abs(*e.Delta) - 0.5)
		if d < best || (d == best && e.Strike < spot) {
			best = d
			spot = e.Strike
		}
	}
	return spot, spot > 0
}

func usable(e *models.OptionChainEntry) bool {
	if !e.Type.Valid() || e.Strike <= 0 {
		return false
	}
	return e.ImpliedVol > 0 && e.ImpliedVol <= MaxImpliedVol
}

// atmStrike picks the strike nearest spot that has both legs, lower strike on ties.
func atmStrike(strikes map[float64]*strikePair, spot float64) (float64, *strikePair, bool) {
	bestStrike, bestDist := 0.0, math.Inf(1)
	var best *strikePair
	for strike, sp := range strikes {
		if sp.call == nil || sp.put == nil {
			continue
		}
		dist := math.Abs(strike - spot)
		if dist/spot > StrikeTolerance {
			continue
		}
		if dist < bestDist || (dist == bestDist && strike < bestStrike) {
			bestStrike, bestDist, best = strike, dist, sp
		}
	}
	return bestStrike, best, best != nil
}

func summarize(exp time.Time, dte int, strike float64, sp *strikePair) models.ExpirationSummary {
	callIV := sp.call.ImpliedVol * 100
	putIV := sp.put.ImpliedVol * 100
	callOI, putOI := sp.call.OpenInterest, sp.put.OpenInterest
	return models.ExpirationSummary{
		Expiration:    exp,
		DaysToExpiry:  dte,
		ATMStrike:     strike,
		ATMImpliedVol: (callIV + putIV) / 2,
		ATMCallIV:     callIV,
		ATMPutIV:      putIV,
		ATMCallMid:    sp.call.Mid(),
		ATMPutMid:     sp.put.Mid(),
		ATMCallOI:     callOI,
		ATMPutOI:      putOI,
		StraddleOI:    callOI + putOI,
		ATMVolume:     sp.call.Volume + sp.put.Volume,
		PutCallRatio:  PutCallRatio(putOI, callOI),
	}
}

// PutCallRatio is putOI/callOI with a zero call side treated as one contract.
func PutCallRatio(putOI, callOI int64) float64 {
	if callOI <= 0 {
		return float64(putOI)
	}
	return float64(putOI) / float64(callOI)
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
