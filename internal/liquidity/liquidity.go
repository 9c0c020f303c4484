// Package liquidity scores how tradeable a calendar spread is from the open
// interest and volume of its ATM straddles.
package liquidity

import (
	"math"

	"github.com/eddiefleurent/forward_factor/internal/models"
)

const (
	// OIFullScore is the straddle open interest that earns the 8-point base.
	OIFullScore = 1000
	// VolumeFullScore is the volume that earns the full volume bonus.
	VolumeFullScore = 5000
	// MaxScore caps every liquidity score.
	MaxScore = 10.0
	// SkewRatio flags a put/call OI ratio above it or below its inverse.
	SkewRatio = 3.0
)

// Score maps straddle open interest and volume onto 0..10. Open interest
// contributes up to 9 points and volume up to 1.
func Score(openInterest, volume int64) float64 {
	var score float64
	if openInterest < OIFullScore {
		score = 8 * math.Min(1, math.Log1p(float64(max(openInterest, 0)))/math.Log1p(OIFullScore))
	} else {
		score = 8 + math.Min(1, math.Log(float64(openInterest)/OIFullScore)/math.Log(10))
	}
	score += math.Min(1, math.Log1p(float64(max(volume, 0)))/math.Log1p(VolumeFullScore))
	return math.Min(MaxScore, score)
}

// Rate buckets open interest.
func Rate(openInterest int64) models.LiquidityRating {
	switch {
	case openInterest >= 1000:
		return models.LiquidityVeryHigh
	case openInterest >= 500:
		return models.LiquidityHigh
	case openInterest >= 250:
		return models.LiquidityMedium
	default:
		return models.LiquidityLow
	}
}

// Skewed reports a lopsided put/call split. Legs without open interest are never skewed.
func Skewed(straddleOI int64, putCallRatio float64) bool {
	if straddleOI <= 0 {
		return false
	}
	return putCallRatio > SkewRatio || putCallRatio < 1/SkewRatio
}

// Leg scores one expiration.
func Leg(s models.ExpirationSummary) models.LegLiquidity {
	return models.LegLiquidity{
		StraddleOI:   s.StraddleOI,
		CallOI:       s.ATMCallOI,
		PutOI:        s.ATMPutOI,
		Volume:       s.ATMVolume,
		PutCallRatio: s.PutCallRatio,
		Score:        Score(s.StraddleOI, s.ATMVolume),
		Rating:       Rate(s.StraddleOI),
		Skewed:       Skewed(s.StraddleOI, s.PutCallRatio),
	}
}

// Assess combines both legs. The spread is only as liquid as its weaker leg;
// skew is informational and does not change the score.
func Assess(front, back models.ExpirationSummary) models.Liquidity {
	f, b := Leg(front), Leg(back)
	minOI := min(f.StraddleOI, b.StraddleOI)
	return models.Liquidity{
		Front:           f,
		Back:            b,
		MinStraddleOI:   minOI,
		Score:           math.Min(f.Score, b.Score),
		Rating:          Rate(minOI),
		PutCallSkewFlag: f.Skewed || b.Skewed,
	}
}
