// Package models provides the domain records shared by the scanner pipeline,
// the paper-trade tracker and the persistence layer.
package models

import "time"

// DateLayout is the canonical date format used in requests, responses and storage keys.
const DateLayout = "2006-01-02"

// OptionType represents the type of option contract
type OptionType string

const (
	// OptionTypeCall represents a call option contract
	OptionTypeCall OptionType = "call"
	// OptionTypePut represents a put option contract
	OptionTypePut OptionType = "put"
)

// Valid returns true if the OptionType is one of the defined constants
func (t OptionType) Valid() bool {
	return t == OptionTypeCall || t == OptionTypePut
}

// OptionChainEntry is one contract from a provider snapshot.
// ImpliedVol is a decimal (0.45 = 45%). Delta is optional and only used to
// estimate spot when the provider has no quote.
type OptionChainEntry struct {
	Expiration   time.Time  `json:"expiration"`
	Type         OptionType `json:"type"`
	Strike       float64    `json:"strike"`
	Bid          float64    `json:"bid"`
	Ask          float64    `json:"ask"`
	ImpliedVol   float64    `json:"implied_vol"`
	Delta        *float64   `json:"delta,omitempty"`
	OpenInterest int64      `json:"open_interest"`
	Volume       int64      `json:"volume"`
}

// Mid returns the bid/ask midpoint, falling back to whichever side is quoted.
func (e OptionChainEntry) Mid() float64 {
	switch {
	case e.Bid > 0 && e.Ask > 0:
		return (e.Bid + e.Ask) / 2
	case e.Ask > 0:
		return e.Ask
	default:
		return e.Bid
	}
}

// ExpirationSummary condenses one expiration of a chain around the money.
// All IV fields are percentages (45.0 = 45%).
type ExpirationSummary struct {
	Expiration    time.Time `json:"expiration"`
	DaysToExpiry  int       `json:"days_to_expiry"`
	ATMStrike     float64   `json:"atm_strike"`
	ATMImpliedVol float64   `json:"atm_implied_vol"`
	ATMCallIV     float64   `json:"atm_call_iv"`
	ATMPutIV      float64   `json:"atm_put_iv"`
	ATMCallMid    float64   `json:"atm_call_mid"`
	ATMPutMid     float64   `json:"atm_put_mid"`
	ATMCallOI     int64     `json:"atm_call_oi"`
	ATMPutOI      int64     `json:"atm_put_oi"`
	StraddleOI    int64     `json:"straddle_oi"`
	ATMVolume     int64     `json:"atm_volume"`
	PutCallRatio  float64   `json:"put_call_ratio"`
}
