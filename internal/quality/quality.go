// Package quality decides whether a Forward Factor candidate is worth trading
// and how large the position should be.
package quality

import (
	"fmt"
	"math"

	"github.com/eddiefleurent/forward_factor/internal/models"
)

// Score weights. They sum to 1.
const (
	weightFF        = 0.5
	weightLiquidity = 0.3
	weightIVRank    = 0.2
)

const (
	// MinDTEGap is the smallest front/back gap that avoids an execution warning.
	MinDTEGap = 7
	// EarningsProbabilityFactor discounts probability when earnings hit the front leg.
	EarningsProbabilityFactor = 0.85
	minSaneFrontIV            = 15.0
	maxSaneFrontIV            = 150.0
)

// tier maps a lower bound of |FF| to a value. Tables are ordered high to low.
type tier struct {
	min   float64
	value float64
}

var probabilityTiers = []tier{
	{80, 85}, {60, 80}, {40, 75}, {30, 70}, {20, 65}, {0, 60},
}

var riskRewardTiers = []tier{
	{80, 5.0}, {60, 4.0}, {40, 3.5}, {30, 3.0}, {20, 2.5}, {0, 2.0},
}

var ratingTiers = []tier{
	{80, 3}, {60, 2}, {40, 1},
}

func lookup(tiers []tier, magnitude float64) float64 {
	for _, t := range tiers {
		if magnitude >= t.min {
			return t.value
		}
	}
	return 0
}

// sizeTier bounds contracts by the weaker leg's straddle OI.
type sizeTier struct {
	below   int64
	percent float64
	cap     int
}

var sizeTiers = []sizeTier{
	{100, 0.05, 5},
	{250, 0.05, 10},
	{500, 0.06, 25},
	{1000, 0.075, 50},
	{math.MaxInt64, 0.10, 50},
}

func sizeTierFor(minOI int64) sizeTier {
	for _, t := range sizeTiers {
		if minOI < t.below {
			return t
		}
	}
	return sizeTiers[len(sizeTiers)-1]
}

// TierCap is the contract ceiling for minOI. It is 0 when there is no open interest.
func TierCap(minOI int64) int {
	if minOI <= 0 {
		return 0
	}
	return sizeTierFor(minOI).cap
}

// PositionSize returns floor(minOI * tier percent) capped by the tier ceiling.
// Any open interest earns at least one contract.
func PositionSize(minOI int64) int {
	if minOI <= 0 {
		return 0
	}
	t := sizeTierFor(minOI)
	size := int(math.Floor(float64(minOI) * t.percent))
	return max(1, min(size, t.cap))
}

// Score blends FF magnitude, liquidity and IV rank distance from 50 into
// 0..100. A nil ivRank contributes nothing.
func Score(magnitude, liquidityScore float64, ivRank *float64) float64 {
	ff := math.Min(math.Abs(magnitude), 100) / 100
	liq := math.Max(0, math.Min(liquidityScore, 10)) / 10
	ivr := 0.0
	if ivRank != nil {
		ivr = math.Min(math.Abs(*ivRank-50), 50) / 50
	}
	return 100 * (weightFF*ff + weightLiquidity*liq + weightIVRank*ivr)
}

// Probability is the heuristic win probability for a magnitude.
func Probability(magnitude float64, earningsInFront bool) float64 {
	p := lookup(probabilityTiers, magnitude)
	if earningsInFront {
		p *= EarningsProbabilityFactor
	}
	return p
}

// RiskReward is the heuristic reward-to-risk multiple for a magnitude.
func RiskReward(magnitude float64) float64 {
	return lookup(riskRewardTiers, magnitude)
}

// Input is everything the filter looks at for one candidate.
type Input struct {
	Result          models.ForwardFactorResult
	Liquidity       models.Liquidity
	Strike          float64
	IVRank          *models.IVRank
	EarningsInFront bool
	EarningsInTrade bool
}

// Config is the caller's filter configuration.
type Config struct {
	Mode            models.StrategyFilterMode
	MinOpenInterest int64
}

// Evaluate runs the filter, estimates and sizing for one candidate.
func Evaluate(in Input, cfg Config) models.Quality {
	r := in.Result
	mag := r.Magnitude()

	var rejections []string
	if threshold, ok := cfg.Mode.Threshold(); ok && mag < threshold {
		rejections = append(rejections, fmt.Sprintf("|FF| %.1f%% below %s threshold of %.0f%%", mag, cfg.Mode, threshold))
	}
	if in.Liquidity.MinStraddleOI < cfg.MinOpenInterest {
		rejections = append(rejections, fmt.Sprintf("min straddle OI %d below required %d", in.Liquidity.MinStraddleOI, cfg.MinOpenInterest))
	}

	var ivr *float64
	if in.IVRank != nil {
		ivr = &in.IVRank.Rank
	}
	prob := Probability(mag, in.EarningsInFront)
	rr := RiskReward(mag)

	return models.Quality{
		Score:             Score(mag, in.Liquidity.Score, ivr),
		IsQuality:         len(rejections) == 0,
		Probability:       prob,
		RiskReward:        rr,
		EstimateBasis:     models.EstimateBasisModel,
		Rating:            Rating(r, in.EarningsInTrade, prob, rr),
		PositionSize:      PositionSize(in.Liquidity.MinStraddleOI),
		RejectionReasons:  rejections,
		ExecutionWarnings: ExecutionWarnings(r, in.Liquidity, in.EarningsInFront),
		Thesis:            Thesis(r),
		TradeStructure:    TradeStructure(r, in.Strike),
	}
}

// Rating is a 0..10 grade of the setup.
func Rating(r models.ForwardFactorResult, earningsInTrade bool, probability, riskReward float64) int {
	rating := 5 + int(lookup(ratingTiers, r.Magnitude()))
	if earningsInTrade {
		rating++
	}
	if r.FrontDTE >= 20 && r.FrontDTE <= 60 {
		rating++
	}
	if r.FrontIV > r.BackIV {
		rating--
	}
	if probability >= 80 {
		rating++
	}
	if riskReward >= 4 {
		rating++
	}
	return max(0, min(10, rating))
}

// ExecutionWarnings lists practical concerns in a fixed order.
func ExecutionWarnings(r models.ForwardFactorResult, liq models.Liquidity, earningsInFront bool) []string {
	var warnings []string
	if r.FrontIV > r.BackIV && earningsInFront && r.Magnitude() < 40 {
		warnings = append(warnings, "Front IV above back IV ahead of earnings: likely post-earnings IV decay rather than a term-structure edge")
	}
	if gap := r.BackDTE - r.FrontDTE; gap < MinDTEGap {
		warnings = append(warnings, fmt.Sprintf("Only %d days between front and back expirations", gap))
	}
	if liq.PutCallSkewFlag {
		warnings = append(warnings, fmt.Sprintf("Extreme put/call OI skew (front %.2f, back %.2f)", liq.Front.PutCallRatio, liq.Back.PutCallRatio))
	}
	if r.FrontIV < minSaneFrontIV || r.FrontIV > maxSaneFrontIV {
		warnings = append(warnings, fmt.Sprintf("Front IV %.1f%% outside the usual %.0f-%.0f%% range", r.FrontIV, minSaneFrontIV, maxSaneFrontIV))
	}
	return warnings
}

// Thesis explains the signal in one sentence.
func Thesis(r models.ForwardFactorResult) string {
	if r.Signal == models.SignalSell {
		return fmt.Sprintf("Front IV %.1f%% is %.1f%% rich to the %.1f%% forward vol: sell the %dD front and own the %dD back to collect the term-structure premium",
			r.EffectiveFrontIV, r.Magnitude(), r.ForwardVol, r.FrontDTE, r.BackDTE)
	}
	return fmt.Sprintf("Front IV %.1f%% is %.1f%% cheap to the %.1f%% forward vol: own the %dD front and sell the %dD back",
		r.EffectiveFrontIV, r.Magnitude(), r.ForwardVol, r.FrontDTE, r.BackDTE)
}

// TradeStructure describes the legs at the ATM strike.
func TradeStructure(r models.ForwardFactorResult, strike float64) string {
	front := r.FrontExpiration.Format(models.DateLayout)
	back := r.BackExpiration.Format(models.DateLayout)
	if r.Signal == models.SignalSell {
		return fmt.Sprintf("Calendar spread (debit): sell %s %.2f call, buy %s %.2f call", front, strike, back, strike)
	}
	return fmt.Sprintf("Reverse calendar (credit): buy %s %.2f call, sell %s %.2f call", front, strike, back, strike)
}
