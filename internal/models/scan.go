package models

import "time"

// ScanRequest is the input of one scan. Tag names other than the validator
// builtins ("ticker", "enum") are registered by the scanner package.
type ScanRequest struct {
	Tickers            []string           `json:"tickers,omitempty" validate:"max=100,dive,ticker"`
	MinFF              *float64           `json:"min_ff,omitempty"`
	MaxFF              *float64           `json:"max_ff,omitempty"`
	TopN               int                `json:"top_n" validate:"min=1,max=100"`
	MinOpenInterest    *int64             `json:"min_open_interest,omitempty" validate:"omitempty,min=0"`
	StrategyFilterMode StrategyFilterMode `json:"strategy_filter_mode" validate:"enum"`
	DTEStrategy        DTEStrategy        `json:"dte_strategy" validate:"enum"`
	FFCalculationMode  FFCalculationMode  `json:"ff_calculation_mode" validate:"enum"`
	// EarningsIVPremium overrides DefaultEarningsIVPremium in ex-earnings mode.
	EarningsIVPremium *float64  `json:"earnings_iv_premium,omitempty" validate:"omitempty,gte=0,lt=1"`
	SortBy            SortKey   `json:"sort_by,omitempty" validate:"omitempty,enum"`
	Order             SortOrder `json:"order,omitempty" validate:"omitempty,enum"`
}

// Premium returns the effective earnings IV premium.
func (r ScanRequest) Premium() float64 {
	if r.EarningsIVPremium != nil {
		return *r.EarningsIVPremium
	}
	return DefaultEarningsIVPremium
}

// MinOI returns the straddle open interest floor, 0 when unset.
func (r ScanRequest) MinOI() int64 {
	if r.MinOpenInterest != nil {
		return *r.MinOpenInterest
	}
	return 0
}

// Filters converts the request into ranker filters.
func (r ScanRequest) Filters() SearchFilters {
	return SearchFilters{
		MinFF:  r.MinFF,
		MaxFF:  r.MaxFF,
		SortBy: r.SortBy,
		Order:  r.Order,
		TopN:   r.TopN,
	}
}

// TickerFailure records why a ticker contributed nothing to a scan.
type TickerFailure struct {
	Ticker  string `json:"ticker"`
	Reason  string `json:"reason"`
	DataGap bool   `json:"data_gap"`
}

// Rejection is an opportunity that failed quality filtering.
type Rejection struct {
	OpportunityID string   `json:"opportunity_id"`
	Ticker        string   `json:"ticker"`
	ForwardFactor float64  `json:"forward_factor"`
	Signal        Signal   `json:"signal"`
	Reasons       []string `json:"reasons"`
}

// ScanResponse is returned to callers. TotalTickersScanned counts tickers
// whose pipeline completed; failed and timed-out tickers are listed
// separately and are not included in it.
type ScanResponse struct {
	Success                 bool            `json:"success"`
	ScanID                  string          `json:"scan_id,omitempty"`
	Opportunities           []Opportunity   `json:"opportunities"`
	TotalTickersScanned     int             `json:"total_tickers_scanned"`
	TotalOpportunitiesFound int             `json:"total_opportunities_found"`
	FailedTickers           []TickerFailure `json:"failed_tickers,omitempty"`
	TimedOutTickers         []string        `json:"timed_out_tickers,omitempty"`
	RejectedCount           int             `json:"rejected_count"`
	Rejections              []Rejection     `json:"rejections,omitempty"`
	EdgeCases               []EdgeCase      `json:"edge_cases,omitempty"`
	PersistenceError        string          `json:"persistence_error,omitempty"`
	Error                   string          `json:"error,omitempty"`
}

// Scan is the persisted history record of one scan. It owns its opportunities.
type Scan struct {
	ID                 string        `json:"id"`
	Timestamp          time.Time     `json:"timestamp"`
	Request            ScanRequest   `json:"request"`
	TickersScanned     int           `json:"tickers_scanned"`
	TotalOpportunities int           `json:"total_opportunities"`
	Opportunities      []Opportunity `json:"opportunities"`
}

// Clone returns a deep copy of the scan.
func (s Scan) Clone() Scan {
	c := s
	c.Request.Tickers = cloneStrings(s.Request.Tickers)
	c.Opportunities = make([]Opportunity, len(s.Opportunities))
	for i, o := range s.Opportunities {
		c.Opportunities[i] = o.Clone()
	}
	return c
}

// WatchlistItem is a ticker the user follows.
type WatchlistItem struct {
	ID      string    `json:"id"`
	Ticker  string    `json:"ticker"`
	Notes   string    `json:"notes,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// IVReading represents a single implied volatility reading for a symbol on a specific date
type IVReading struct {
	Symbol    string    `json:"symbol"`
	Date      time.Time `json:"date"`
	IV        float64   `json:"iv"`        // ATM implied volatility in percent
	Timestamp time.Time `json:"timestamp"` // When this reading was recorded
}
