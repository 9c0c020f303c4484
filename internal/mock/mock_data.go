// Package mock generates deterministic synthetic option chains so the
// scanner can run without provider credentials.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/eddiefleurent/forward_factor/internal/marketdata"
	"github.com/eddiefleurent/forward_factor/internal/models"
	"github.com/eddiefleurent/forward_factor/internal/payoff"
	"github.com/eddiefleurent/forward_factor/internal/util"
)

// profile is the fixed per-ticker market the generator draws from.
type profile struct {
	spot     float64
	baseIV   float64 // decimal
	slope    float64 // term structure tilt; positive means backwardation
	oiScale  float64
	earnings *time.Time
}

// DataProvider implements marketdata.Provider. The same ticker and asOf
// always produce the same chain.
type DataProvider struct {
	asOf time.Time
	fed  *marketdata.FOMCCalendar

	mu       sync.RWMutex
	failures map[string]error
	earnings map[string]*time.Time
}

var _ marketdata.Provider = (*DataProvider)(nil)

// NewDataProvider creates a generator anchored at asOf.
func NewDataProvider(asOf time.Time) *DataProvider {
	return &DataProvider{
		asOf:     dateOf(asOf),
		fed:      marketdata.NewFOMCCalendar(),
		failures: make(map[string]error),
		earnings: make(map[string]*time.Time),
	}
}

// FailTicker makes every call for ticker return err.
func (m *DataProvider) FailTicker(ticker string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[strings.ToUpper(ticker)] = err
}

// SetEarnings overrides the generated earnings date; nil means none.
func (m *DataProvider) SetEarnings(ticker string, date *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.earnings[strings.ToUpper(ticker)] = date
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (m *DataProvider) failure(ticker string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failures[strings.ToUpper(ticker)]
}

func seed(ticker string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToUpper(ticker)))
	return h.Sum64()
}

func (m *DataProvider) profile(ticker string) profile {
	s := seed(ticker)
	rng := rand.New(rand.NewPCG(s, s>>17))

	p := profile{
		spot:    math.Round((20+rng.Float64()*480)*100) / 100,
		baseIV:  0.20 + rng.Float64()*0.60,
		slope:   -0.25 + rng.Float64()*0.75,
		oiScale: 200 + rng.Float64()*4800,
	}
	if rng.IntN(3) == 0 {
		d := m.asOf.AddDate(0, 0, 5+rng.IntN(80))
		p.earnings = &d
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.earnings[strings.ToUpper(ticker)]; ok {
		p.earnings = d
	}
	return p
}

// expirations lists weekly Friday expirations from one week to four months out.
func (m *DataProvider) expirations() []time.Time {
	first := m.asOf.AddDate(0, 0, 7)
	for first.Weekday() != time.Friday {
		first = first.AddDate(0, 0, 1)
	}
	var out []time.Time
	for d := first; models.DaysBetween(m.asOf, d) <= 130; d = d.AddDate(0, 0, 7) {
		out = append(out, d)
	}
	return out
}

// atmIV is the term structure: the tilt fades as expiries lengthen.
func (p profile) atmIV(dte int) float64 {
	iv := p.baseIV * (1 + p.slope*(60-float64(dte))/120)
	return math.Max(0.05, math.Min(iv, 3))
}

func roundTick(v float64) float64 {
	return math.Max(0.01, util.RoundToTick(v, 0.01))
}

// FetchOptionChain returns calls and puts at 21 strikes around spot.
func (m *DataProvider) FetchOptionChain(ctx context.Context, ticker string, r marketdata.DateRange) ([]models.OptionChainEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.failure(ticker); err != nil {
		return nil, fmt.Errorf("mock chain %s: %w", ticker, err)
	}

	p := m.profile(ticker)
	interval := util.StrikeIncrement(p.spot)
	center := math.Round(p.spot/interval) * interval

	var entries []models.OptionChainEntry
	for _, exp := range m.expirations() {
		if !r.From.IsZero() && !r.Contains(exp) {
			continue
		}
		dte := models.DaysBetween(m.asOf, exp)
		years := float64(dte) / 365
		atm := p.atmIV(dte)

		for i := -10; i <= 10; i++ {
			strike := center + float64(i)*interval
			if strike <= 0 {
				continue
			}
			moneyness := math.Log(strike / p.spot)
			iv := atm + 0.10*math.Abs(moneyness)
			call := payoff.CallPrice(p.spot, strike, years, iv)
			put := call - p.spot + strike

			sd := iv * math.Sqrt(years)
			callDelta := payoff.NormCDF((-moneyness + 0.5*sd*sd) / sd)
			putDelta := callDelta - 1

			// open interest peaks at the money and thins out with time
			oi := int64(p.oiScale * math.Exp(-math.Abs(moneyness)*12) * math.Sqrt(30/float64(max(dte, 7))))
			for _, leg := range []struct {
				typ   models.OptionType
				price float64
				delta float64
				oi    int64
			}{
				{models.OptionTypeCall, call, callDelta, oi},
				{models.OptionTypePut, put, putDelta, oi * 9 / 10},
			} {
				half := math.Max(0.01, leg.price*0.01)
				delta := leg.delta
				entries = append(entries, models.OptionChainEntry{
					Expiration:   exp,
					Type:         leg.typ,
					Strike:       strike,
					Bid:          roundTick(leg.price - half),
					Ask:          roundTick(leg.price + half),
					ImpliedVol:   iv,
					Delta:        &delta,
					OpenInterest: leg.oi,
					Volume:       leg.oi / 5,
				})
			}
		}
	}
	return entries, nil
}

// FetchSpotPrice returns the fixed synthetic spot.
func (m *DataProvider) FetchSpotPrice(ctx context.Context, ticker string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := m.failure(ticker); err != nil {
		return 0, fmt.Errorf("mock spot %s: %w", ticker, err)
	}
	return m.profile(ticker).spot, nil
}

// FetchEarningsDate returns the generated or overridden earnings date.
func (m *DataProvider) FetchEarningsDate(ctx context.Context, ticker string) (*time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.profile(ticker).earnings, nil
}

// FetchFedCalendar uses the real FOMC schedule.
func (m *DataProvider) FetchFedCalendar(ctx context.Context, r marketdata.DateRange) ([]time.Time, error) {
	return m.fed.FetchFedCalendar(ctx, r)
}
