package models

import (
	"fmt"
	"strings"
)

// StrategyFilterMode selects the minimum |FF| an opportunity needs to be kept.
type StrategyFilterMode string

const (
	FilterAggressive StrategyFilterMode = "aggressive"
	FilterModerate   StrategyFilterMode = "moderate"
	FilterBalanced   StrategyFilterMode = "balanced"
	FilterMinimal    StrategyFilterMode = "minimal"
	FilterNone       StrategyFilterMode = "none"
)

// filterThresholds is the single source of |FF| thresholds per mode.
// FilterNone is absent: it applies no FF threshold at all.
var filterThresholds = map[StrategyFilterMode]float64{
	FilterAggressive: 30,
	FilterModerate:   20,
	FilterBalanced:   5,
	FilterMinimal:    0,
}

// Valid returns true if the mode is one of the defined constants
func (m StrategyFilterMode) Valid() bool {
	if m == FilterNone {
		return true
	}
	_, ok := filterThresholds[m]
	return ok
}

// Threshold returns the |FF| threshold for the mode. ok is false for FilterNone.
func (m StrategyFilterMode) Threshold() (threshold float64, ok bool) {
	threshold, ok = filterThresholds[m]
	return threshold, ok
}

// DTEStrategy selects the front/back days-to-expiry band used for pairing.
type DTEStrategy string

const (
	DTE30to90 DTEStrategy = "30-90"
	DTE30to60 DTEStrategy = "30-60"
	DTE60to90 DTEStrategy = "60-90"
	DTEAll    DTEStrategy = "all"
)

// DTEBand is the numeric definition of a DTEStrategy.
// For DTEAll, BackMin/BackMax are zero and the back leg is the next
// expiration at least MinGapDays after the front.
type DTEBand struct {
	FrontMin    int
	FrontMax    int
	BackMin     int
	BackMax     int
	BackTarget  int
	MinGapDays  int
	Tolerance   int
	Consecutive bool
}

var dteBands = map[DTEStrategy]DTEBand{
	DTE30to60: {FrontMin: 20, FrontMax: 40, BackMin: 50, BackMax: 70, BackTarget: 60, MinGapDays: 7, Tolerance: 15},
	DTE30to90: {FrontMin: 20, FrontMax: 40, BackMin: 75, BackMax: 105, BackTarget: 90, MinGapDays: 7, Tolerance: 15},
	DTE60to90: {FrontMin: 50, FrontMax: 70, BackMin: 80, BackMax: 100, BackTarget: 90, MinGapDays: 7, Tolerance: 15},
	DTEAll:    {FrontMin: 7, FrontMax: 180, MinGapDays: 7, Consecutive: true},
}

// Valid returns true if the strategy is one of the defined constants
func (s DTEStrategy) Valid() bool {
	_, ok := dteBands[s]
	return ok
}

// Band returns the numeric band for the strategy.
func (s DTEStrategy) Band() (DTEBand, error) {
	band, ok := dteBands[s]
	if !ok {
		return DTEBand{}, fmt.Errorf("unknown dte strategy %q", s)
	}
	return band, nil
}

// FFCalculationMode selects whether front IV is adjusted for earnings.
type FFCalculationMode string

const (
	FFModeRaw        FFCalculationMode = "raw"
	FFModeExEarnings FFCalculationMode = "ex-earnings"
)

// DefaultEarningsIVPremium is the fraction of front IV attributed to an
// earnings event in ex-earnings mode.
const DefaultEarningsIVPremium = 0.15

// Valid returns true if the mode is one of the defined constants
func (m FFCalculationMode) Valid() bool {
	return m == FFModeRaw || m == FFModeExEarnings
}

// SortKey selects the primary ranking key.
type SortKey string

const (
	SortFFMagnitude SortKey = "ff_magnitude"
	SortQuality     SortKey = "quality"
	SortLiquidity   SortKey = "liquidity"
	SortDTE         SortKey = "dte"
	SortProbability SortKey = "probability"
)

// Valid returns true if the key is one of the defined constants
func (k SortKey) Valid() bool {
	switch k {
	case SortFFMagnitude, SortQuality, SortLiquidity, SortDTE, SortProbability:
		return true
	default:
		return false
	}
}

// SortOrder is asc or desc.
type SortOrder string

const (
	OrderDesc SortOrder = "desc"
	OrderAsc  SortOrder = "asc"
)

// Valid returns true if the order is one of the defined constants
func (o SortOrder) Valid() bool {
	return o == OrderAsc || o == OrderDesc
}

// SearchFilters narrows and orders a list of opportunities. Nil pointers and
// zero values mean "no constraint"; an empty SortBy means SortFFMagnitude.
type SearchFilters struct {
	Tickers         []string  `json:"tickers,omitempty"`
	Signal          Signal    `json:"signal,omitempty"`
	MinFF           *float64  `json:"min_ff,omitempty"`
	MaxFF           *float64  `json:"max_ff,omitempty"`
	MinAbsFF        *float64  `json:"min_abs_ff,omitempty"`
	MinQuality      *float64  `json:"min_quality,omitempty"`
	MinLiquidity    *float64  `json:"min_liquidity,omitempty"`
	ExcludeEarnings bool      `json:"exclude_earnings,omitempty"`
	MinFrontDTE     *int      `json:"min_front_dte,omitempty"`
	MaxFrontDTE     *int      `json:"max_front_dte,omitempty"`
	SortBy          SortKey   `json:"sort_by,omitempty"`
	Order           SortOrder `json:"order,omitempty"`
	TopN            int       `json:"top_n,omitempty"`
}

// HasTicker reports whether ticker passes the Tickers constraint.
func (f SearchFilters) HasTicker(ticker string) bool {
	if len(f.Tickers) == 0 {
		return true
	}
	for _, t := range f.Tickers {
		if strings.EqualFold(t, ticker) {
			return true
		}
	}
	return false
}
