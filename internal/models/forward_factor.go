package models

import "time"

// Signal is the directional call derived from the sign of the Forward Factor.
type Signal string

const (
	// SignalSell means the front month is rich versus the forward: sell front, buy back.
	SignalSell Signal = "SELL"
	// SignalBuy means the front month is cheap versus the forward: buy front, sell back.
	SignalBuy Signal = "BUY"
)

// Valid returns true if the Signal is one of the defined constants
func (s Signal) Valid() bool {
	return s == SignalSell || s == SignalBuy
}

// SignalFor maps a Forward Factor to its signal. ok is false for an exactly
// flat factor, which carries no direction.
func SignalFor(forwardFactor float64) (Signal, bool) {
	switch {
	case forwardFactor > 0:
		return SignalSell, true
	case forwardFactor < 0:
		return SignalBuy, true
	default:
		return "", false
	}
}

// ForwardFactorResult is the engine output for one (front, back) pairing.
// IVs and ForwardVol are percentages; ForwardFactor is a signed percentage.
type ForwardFactorResult struct {
	Ticker          string    `json:"ticker"`
	FrontExpiration time.Time `json:"front_expiration"`
	BackExpiration  time.Time `json:"back_expiration"`
	FrontDTE        int       `json:"front_dte"`
	BackDTE         int       `json:"back_dte"`
	FrontIV         float64   `json:"front_iv"`
	// EffectiveFrontIV is FrontIV after the ex-earnings premium adjustment
	// (equal to FrontIV in raw mode).
	EffectiveFrontIV float64 `json:"effective_front_iv"`
	BackIV           float64 `json:"back_iv"`
	ForwardVol       float64 `json:"forward_vol"`
	ForwardFactor    float64 `json:"forward_factor"`
	Signal           Signal  `json:"signal"`
	EarningsAdjusted bool    `json:"earnings_adjusted"`
}

// Magnitude returns |ForwardFactor|.
func (r ForwardFactorResult) Magnitude() float64 {
	if r.ForwardFactor < 0 {
		return -r.ForwardFactor
	}
	return r.ForwardFactor
}

// EdgeCaseKind names a computation condition that was clamped instead of raised.
type EdgeCaseKind string

const (
	// EdgeCaseInvertedTermStructure marks a pairing whose forward variance was <= 0.
	EdgeCaseInvertedTermStructure EdgeCaseKind = "inverted_term_structure"
	// EdgeCaseFlatSignal marks a pairing whose Forward Factor was exactly zero.
	EdgeCaseFlatSignal EdgeCaseKind = "flat_signal"
)

// EdgeCase records a pairing the engine could not turn into a signal.
type EdgeCase struct {
	Ticker          string       `json:"ticker"`
	FrontExpiration time.Time    `json:"front_expiration"`
	BackExpiration  time.Time    `json:"back_expiration"`
	Kind            EdgeCaseKind `json:"kind"`
	ForwardVariance float64      `json:"forward_variance"`
}
