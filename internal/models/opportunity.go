package models

import (
	"fmt"
	"time"
)

// LiquidityRating buckets open interest into coarse categories.
type LiquidityRating string

const (
	LiquidityLow      LiquidityRating = "LOW"
	LiquidityMedium   LiquidityRating = "MEDIUM"
	LiquidityHigh     LiquidityRating = "HIGH"
	LiquidityVeryHigh LiquidityRating = "VERY_HIGH"
)

// LegLiquidity is the liquidity snapshot of one expiration.
type LegLiquidity struct {
	StraddleOI   int64           `json:"straddle_oi"`
	CallOI       int64           `json:"call_oi"`
	PutOI        int64           `json:"put_oi"`
	Volume       int64           `json:"volume"`
	PutCallRatio float64         `json:"put_call_ratio"`
	Score        float64         `json:"score"`
	Rating       LiquidityRating `json:"rating"`
	Skewed       bool            `json:"skewed"`
}

// Liquidity combines front and back legs. Score and Rating follow the weaker leg.
type Liquidity struct {
	Front           LegLiquidity    `json:"front"`
	Back            LegLiquidity    `json:"back"`
	MinStraddleOI   int64           `json:"min_straddle_oi"`
	Score           float64         `json:"score"`
	Rating          LiquidityRating `json:"rating"`
	PutCallSkewFlag bool            `json:"put_call_skew_flag"`
}

// EstimateBasisModel tags probability and risk/reward figures that come from
// heuristics rather than measured backtests.
const EstimateBasisModel = "model_estimate"

// Quality is present on an opportunity iff quality filtering ran for it.
type Quality struct {
	Score             float64  `json:"score"`
	IsQuality         bool     `json:"is_quality"`
	Probability       float64  `json:"probability"`
	RiskReward        float64  `json:"risk_reward"`
	EstimateBasis     string   `json:"estimate_basis"`
	Rating            int      `json:"rating"`
	PositionSize      int      `json:"position_size"`
	RejectionReasons  []string `json:"rejection_reasons,omitempty"`
	ExecutionWarnings []string `json:"execution_warnings,omitempty"`
	Thesis            string   `json:"thesis"`
	TradeStructure    string   `json:"trade_structure"`
}

// Events carries earnings and Fed annotations for the trade window.
type Events struct {
	EarningsDate    *time.Time `json:"earnings_date,omitempty"`
	DaysToEarnings  *int       `json:"days_to_earnings,omitempty"`
	FedEvents       []string   `json:"fed_events"`
	Warnings        []string   `json:"warnings"`
	HasEarningsSoon bool       `json:"has_earnings_soon"`
	EarningsInTrade bool       `json:"earnings_in_trade"`
}

// IVRank is the current ATM IV placed inside its trailing one-year range.
type IVRank struct {
	Current  float64 `json:"current"`
	Rank     float64 `json:"rank"`
	Low      float64 `json:"low"`
	High     float64 `json:"high"`
	Readings int     `json:"readings"`
}

// Opportunity is one ranked calendar-spread candidate. It is built once per
// scan and never mutated afterwards; use Clone for a safe copy.
type Opportunity struct {
	ID string `json:"id"`
	ForwardFactorResult
	StockPrice     float64 `json:"stock_price"`
	Strike         float64 `json:"strike"`
	FrontCallPrice float64 `json:"front_call_price"`
	BackCallPrice  float64 `json:"back_call_price"`

	Liquidity *Liquidity `json:"liquidity,omitempty"`
	Quality   *Quality   `json:"quality,omitempty"`
	Events    *Events    `json:"events,omitempty"`
	IVRank    *IVRank    `json:"iv_rank,omitempty"`
}

// OpportunityID is deterministic for a (ticker, front, back) triple so that
// identical scans produce identical output.
func OpportunityID(ticker string, front, back time.Time) string {
	return fmt.Sprintf("%s-%s-%s", ticker, front.Format("20060102"), back.Format("20060102"))
}

// LiquidityScore returns the combined liquidity score, 0 when absent.
func (o Opportunity) LiquidityScore() float64 {
	if o.Liquidity == nil {
		return 0
	}
	return o.Liquidity.Score
}

// QualityScore returns the quality score, 0 when absent.
func (o Opportunity) QualityScore() float64 {
	if o.Quality == nil {
		return 0
	}
	return o.Quality.Score
}

// Probability returns the modelled probability, 0 when absent.
func (o Opportunity) Probability() float64 {
	if o.Quality == nil {
		return 0
	}
	return o.Quality.Probability
}

// HasEarningsSoon reports whether earnings fall inside the front window.
func (o Opportunity) HasEarningsSoon() bool {
	return o.Events != nil && o.Events.HasEarningsSoon
}

// NetPremium is the per-share entry price of the spread: a debit for a SELL
// (long back, short front) and a credit for a BUY.
func (o Opportunity) NetPremium() float64 {
	diff := o.BackCallPrice - o.FrontCallPrice
	if diff < 0 {
		return -diff
	}
	return diff
}

// Clone returns a deep copy.
func (o Opportunity) Clone() Opportunity {
	c := o
	if o.Liquidity != nil {
		l := *o.Liquidity
		c.Liquidity = &l
	}
	if o.Quality != nil {
		q := *o.Quality
		q.RejectionReasons = cloneStrings(o.Quality.RejectionReasons)
		q.ExecutionWarnings = cloneStrings(o.Quality.ExecutionWarnings)
		c.Quality = &q
	}
	if o.Events != nil {
		e := *o.Events
		if o.Events.EarningsDate != nil {
			d := *o.Events.EarningsDate
			e.EarningsDate = &d
		}
		if o.Events.DaysToEarnings != nil {
			n := *o.Events.DaysToEarnings
			e.DaysToEarnings = &n
		}
		e.FedEvents = cloneStrings(o.Events.FedEvents)
		e.Warnings = cloneStrings(o.Events.Warnings)
		c.Events = &e
	}
	if o.IVRank != nil {
		r := *o.IVRank
		c.IVRank = &r
	}
	return c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
