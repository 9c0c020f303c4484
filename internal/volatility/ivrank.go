package volatility

import (
	"math"
	"time"

	"github.com/eddiefleurent/forward_factor/internal/models"
)

// RankLookback is the trailing window used for IV rank.
const RankLookback = 365 * 24 * time.Hour

// MinRankReadings is the least history needed before a rank is reported.
const MinRankReadings = 2

// CalculateIVR calculates Implied Volatility Rank from historical data
func CalculateIVR(currentIV float64, historicalIVs []float64) float64 {
	if math.IsNaN(currentIV) || math.IsInf(currentIV, 0) {
		return 0
	}

	clean := make([]float64, 0, len(historicalIVs))
	for _, v := range historicalIVs {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		return 0
	}

	lo, hi := bounds(clean)
	// IVR = (current - low) / (high - low) * 100
	if hi == lo {
		return 0
	}
	return clamp((currentIV-lo)/(hi-lo)*100, 0, 100)
}

// Rank places current inside the readings from the trailing year before
// asOf. It returns nil with fewer than MinRankReadings readings.
func Rank(current float64, readings []models.IVReading, asOf time.Time) *models.IVRank {
	cutoff := asOf.Add(-RankLookback)
	history := make([]float64, 0, len(readings))
	for _, r := range readings {
		if r.Date.Before(cutoff) || r.Date.After(asOf) || r.IV <= 0 {
			continue
		}
		history = append(history, r.IV)
	}
	if len(history) < MinRankReadings {
		return nil
	}
	lo, hi := bounds(history)
	return &models.IVRank{
		Current:  current,
		Rank:     CalculateIVR(current, history),
		Low:      lo,
		High:     hi,
		Readings: len(history),
	}
}

func bounds(vals []float64) (lo, hi float64) {
	lo, hi = vals[0], vals[0]
	for _, v := range vals[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
