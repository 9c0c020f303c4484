// Package payoff prices calendar spreads at the front expiration and derives
// breakevens, extremes and a profit probability.
package payoff

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/eddiefleurent/forward_factor/internal/models"
)

const (
	// GridPoints is the number of terminal prices sampled.
	GridPoints = 201
	// GridLow and GridHigh bound the sampled prices as multiples of spot.
	GridLow  = 0.5
	GridHigh = 1.5
	// FallbackProbability is reported when inputs are missing.
	FallbackProbability = 50.0

	bisectIterations = 80
)

const unlimited = "Unlimited"

// Bound is a loss or profit figure that may be unbounded. It marshals to a
// number or to the string "Unlimited".
type Bound struct {
	Value     float64
	Unlimited bool
}

// Limited returns a finite bound.
func Limited(v float64) Bound { return Bound{Value: v} }

// Unbounded returns an unlimited bound.
func Unbounded() Bound { return Bound{Unlimited: true} }

func (b Bound) String() string {
	if b.Unlimited {
		return unlimited
	}
	return fmt.Sprintf("%.2f", b.Value)
}

// MarshalJSON implements json.Marshaler.
func (b Bound) MarshalJSON() ([]byte, error) {
	if b.Unlimited {
		return json.Marshal(unlimited)
	}
	return json.Marshal(b.Value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bound) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s != unlimited {
			return fmt.Errorf("invalid bound %q", s)
		}
		*b = Unbounded()
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*b = Limited(v)
	return nil
}

// Position is the minimum needed to price a calendar. IVs are percentages
// and prices are per share.
type Position struct {
	Signal          models.Signal
	FrontStrike     float64
	BackStrike      float64
	FrontExpiration time.Time
	BackExpiration  time.Time
	FrontIV         float64
	BackIV          float64
	// EntryNet is the signed spread value at entry: positive for a debit.
	EntryNet float64
}

// FromOpportunity prices the opportunity at its quoted ATM call mids.
func FromOpportunity(o models.Opportunity) Position {
	return Position{
		Signal:          o.Signal,
		FrontStrike:     o.Strike,
		BackStrike:      o.Strike,
		FrontExpiration: o.FrontExpiration,
		BackExpiration:  o.BackExpiration,
		FrontIV:         o.FrontIV,
		BackIV:          o.BackIV,
		EntryNet:        models.SpreadValue(o.Signal, o.FrontCallPrice, o.BackCallPrice),
	}
}

// FromPaperTrade uses the trade's recorded entry.
func FromPaperTrade(p *models.PaperTrade) Position {
	return Position{
		Signal:          p.Signal,
		FrontStrike:     p.FrontStrike,
		BackStrike:      p.BackStrike,
		FrontExpiration: p.FrontExpiration,
		BackExpiration:  p.BackExpiration,
		FrontIV:         p.EntryFrontIV,
		BackIV:          p.EntryBackIV,
		EntryNet:        p.EntryNetPrice,
	}
}

// Point is one sample of the payoff curve, per contract.
type Point struct {
	Price float64 `json:"price"`
	PnL   float64 `json:"pnl"`
}

// Metrics is the payoff analysis of one contract.
type Metrics struct {
	Signal            models.Signal `json:"signal"`
	StockPrice        float64       `json:"stock_price"`
	ValuationDate     time.Time     `json:"valuation_date"`
	Premium           float64       `json:"premium"`
	IsDebit           bool          `json:"is_debit"`
	MaxLoss           *Bound        `json:"max_loss,omitempty"`
	MaxProfit         *Bound        `json:"max_profit,omitempty"`
	LowerBreakeven    *float64      `json:"lower_breakeven,omitempty"`
	UpperBreakeven    *float64      `json:"upper_breakeven,omitempty"`
	ProfitProbability float64       `json:"profit_probability"`
	EstimateBasis     string        `json:"estimate_basis"`
	IsFallback        bool          `json:"is_fallback"`
	Points            []Point       `json:"points,omitempty"`
}

// LegPrices values both legs at asOf with the position's IVs.
func LegPrices(pos Position, spot float64, asOf time.Time) (front, back float64) {
	front = CallPrice(spot, pos.FrontStrike, YearsBetween(asOf, pos.FrontExpiration), pos.FrontIV/100)
	back = CallPrice(spot, pos.BackStrike, YearsBetween(asOf, pos.BackExpiration), pos.BackIV/100)
	return front, back
}

// ValueAt is the per-share spread value at asOf.
func ValueAt(pos Position, spot float64, asOf time.Time) float64 {
	front, back := LegPrices(pos, spot, asOf)
	return models.SpreadValue(pos.Signal, front, back)
}

// PnLAtExpiry is the per-contract P&L when the front leg expires with the
// underlying at price. The back leg keeps its remaining time value.
func PnLAtExpiry(pos Position, price float64) float64 {
	return (ValueAt(pos, price, pos.FrontExpiration) - pos.EntryNet) * models.SharesPerContract
}

// Theta is the per-share value lost by holding one more day at the same spot.
func Theta(pos Position, spot float64, asOf time.Time) float64 {
	return ValueAt(pos, spot, asOf) - ValueAt(pos, spot, asOf.AddDate(0, 0, 1))
}

func usable(pos Position, spot float64, asOf time.Time) bool {
	return spot > 0 && pos.FrontIV > 0 && pos.BackIV > 0 &&
		pos.FrontStrike > 0 && pos.BackStrike > 0 &&
		YearsBetween(asOf, pos.FrontExpiration) > 0 &&
		pos.BackExpiration.After(pos.FrontExpiration)
}

// Analyze builds the payoff curve at the front expiration for spot. When
// the inputs cannot be priced it returns a flagged fallback estimate.
func Analyze(pos Position, spot float64, asOf time.Time) Metrics {
	m := Metrics{
		Signal:        pos.Signal,
		StockPrice:    spot,
		ValuationDate: pos.FrontExpiration,
		Premium:       math.Abs(pos.EntryNet) * models.SharesPerContract,
		IsDebit:       pos.EntryNet > 0,
		EstimateBasis: models.EstimateBasisModel,
	}
	if pos.Signal == models.SignalBuy {
		loss := Unbounded()
		m.MaxLoss = &loss
	}

	if !usable(pos, spot, asOf) {
		m.IsFallback = true
		m.ProfitProbability = FallbackProbability
		if pos.Signal == models.SignalSell {
			loss := Limited(m.Premium)
			m.MaxLoss = &loss
		}
		return m
	}

	m.Points = grid(pos, spot)

	best, worst := m.Points[0].PnL, m.Points[0].PnL
	for _, p := range m.Points {
		best = math.Max(best, p.PnL)
		worst = math.Min(worst, p.PnL)
	}
	for _, k := range []float64{pos.FrontStrike, pos.BackStrike} {
		if k >= spot*GridLow && k <= spot*GridHigh {
			v := PnLAtExpiry(pos, k)
			best = math.Max(best, v)
			worst = math.Min(worst, v)
		}
	}

	profit := Limited(best)
	m.MaxProfit = &profit
	if pos.Signal == models.SignalSell {
		loss := Limited(math.Max(-worst, 0))
		m.MaxLoss = &loss
	}

	roots := breakevens(pos, m.Points)
	if len(roots) > 0 {
		lo, hi := roots[0], roots[len(roots)-1]
		m.LowerBreakeven = &lo
		m.UpperBreakeven = &hi
	}
	m.ProfitProbability = profitProbability(pos, spot, asOf, roots)
	return m
}

func grid(pos Position, spot float64) []Point {
	lo, hi := spot*GridLow, spot*GridHigh
	step := (hi - lo) / float64(GridPoints-1)
	points := make([]Point, GridPoints)
	for i := range points {
		price := lo + float64(i)*step
		points[i] = Point{Price: price, PnL: PnLAtExpiry(pos, price)}
	}
	return points
}

// breakevens finds every sign change on the grid and refines it.
func breakevens(pos Position, points []Point) []float64 {
	var roots []float64
	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		if a.PnL == 0 {
			roots = append(roots, a.Price)
			continue
		}
		if (a.PnL < 0) == (b.PnL < 0) || b.PnL == 0 {
			continue
		}
		roots = append(roots, refine(pos, a, b))
	}
	if last := points[len(points)-1]; last.PnL == 0 {
		roots = append(roots, last.Price)
	}
	return roots
}

// refine starts from the linear interpolation of the bracket and bisects.
func refine(pos Position, a, b Point) float64 {
	guess := a.Price + (b.Price-a.Price)*(-a.PnL)/(b.PnL-a.PnL)
	g := PnLAtExpiry(pos, guess)
	lo, hi := a, b
	if (g < 0) == (a.PnL < 0) {
		lo = Point{Price: guess, PnL: g}
	} else {
		hi = Point{Price: guess, PnL: g}
	}
	for i := 0; i < bisectIterations; i++ {
		mid := (lo.Price + hi.Price) / 2
		v := PnLAtExpiry(pos, mid)
		if v == 0 {
			return mid
		}
		if (v < 0) == (lo.PnL < 0) {
			lo = Point{Price: mid, PnL: v}
		} else {
			hi = Point{Price: mid, PnL: v}
		}
	}
	return (lo.Price + hi.Price) / 2
}

// profitProbability sums the lognormal mass of every profitable interval
// between consecutive breakevens.
func profitProbability(pos Position, spot float64, asOf time.Time, roots []float64) float64 {
	vol := pos.FrontIV / 100
	years := YearsBetween(asOf, pos.FrontExpiration)

	edges := append([]float64{0}, roots...)
	edges = append(edges, math.Inf(1))
	var p float64
	for i := 1; i < len(edges); i++ {
		lo, hi := edges[i-1], edges[i]
		var sample float64
		switch {
		case len(roots) == 0:
			sample = spot
		case math.IsInf(hi, 1):
			sample = lo * 1.05
		case lo == 0:
			sample = hi / 2
		default:
			sample = (lo + hi) / 2
		}
		if PnLAtExpiry(pos, sample) <= 0 {
			continue
		}
		upper := 1.0
		if !math.IsInf(hi, 1) {
			upper = probBelow(hi, spot, vol, years)
		}
		p += upper - probBelow(lo, spot, vol, years)
	}
	return math.Max(0, math.Min(100, p*100))
}
