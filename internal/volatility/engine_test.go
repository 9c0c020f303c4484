package volatility

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/forward_factor/internal/models"
)

var scanDate = time.Date(2025, 6, 18, 0, 0, 0, 0, time.UTC)

func summary(dte int, iv float64) models.ExpirationSummary {
	return models.ExpirationSummary{
		Expiration:    scanDate.AddDate(0, 0, dte),
		DaysToExpiry:  dte,
		ATMStrike:     100,
		ATMImpliedVol: iv,
	}
}

func summaries(dtes ...int) []models.ExpirationSummary {
	out := make([]models.ExpirationSummary, len(dtes))
	for i, d := range dtes {
		out[i] = summary(d, 40)
	}
	return out
}

func TestForwardVol_KnownValues(t *testing.T) {
	vol, variance, err := ForwardVol(45, 30, 38, 90)
	require.NoError(t, err)
	assert.InDelta(t, 0.11535, variance, 1e-9)
	assert.InDelta(t, 33.9632, vol, 1e-3)
	assert.InDelta(t, 32.4963, ForwardFactor(45, vol), 1e-3)
}

func TestForwardVol_Errors(t *testing.T) {
	_, _, err := ForwardVol(40, 60, 40, 30)
	assert.ErrorIs(t, err, ErrNonIncreasingTime)

	_, _, err = ForwardVol(40, 30, 40, 30)
	assert.ErrorIs(t, err, ErrNonIncreasingTime)

	_, variance, err := ForwardVol(60, 30, 30, 60)
	assert.ErrorIs(t, err, ErrNonPositiveVariance)
	assert.Less(t, variance, 0.0)
}

func TestForwardFactor_SignAndMonotonicity(t *testing.T) {
	t.Run("flat term structure has no signal", func(t *testing.T) {
		vol, _, err := ForwardVol(40, 30, 40, 90)
		require.NoError(t, err)
		assert.InDelta(t, 40.0, vol, 1e-9)

		ff := ForwardFactor(40, 40)
		assert.Equal(t, 0.0, ff)
		_, ok := models.SignalFor(ff)
		assert.False(t, ok)
	})

	t.Run("front IV grid", func(t *testing.T) {
		// 20.5, 23.0, ... never lands on the 40% back IV
		prev := -1e9
		for front := 20.5; front <= 60; front += 2.5 {
			vol, _, err := ForwardVol(front, 30, 40, 90)
			require.NoError(t, err)
			ff := ForwardFactor(front, vol)
			assert.Greater(t, ff, prev, "FF must increase with front IV (front=%.1f)", front)
			prev = ff

			signal, ok := models.SignalFor(ff)
			require.True(t, ok, "front=%.1f", front)
			if front > vol {
				assert.Equal(t, models.SignalSell, signal)
			} else {
				assert.Equal(t, models.SignalBuy, signal)
			}
		}
	})
}

func TestSelectPairs(t *testing.T) {
	chain := summaries(7, 14, 30, 45, 60, 88, 95, 120)

	tests := []struct {
		name     string
		strategy models.DTEStrategy
		want     [][2]int
	}{
		{"30-90 picks in-range back nearest target", models.DTE30to90, [][2]int{{30, 88}}},
		{"30-60 picks exact target", models.DTE30to60, [][2]int{{30, 60}}},
		{"60-90 front 60 back 88", models.DTE60to90, [][2]int{{60, 88}}},
		{"all pairs consecutive expirations", models.DTEAll, [][2]int{
			{7, 14}, {14, 30}, {30, 45}, {45, 60}, {60, 88}, {88, 95}, {95, 120},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			band, err := tt.strategy.Band()
			require.NoError(t, err)
			pairs := SelectPairs(chain, band)
			got := make([][2]int, len(pairs))
			for i, p := range pairs {
				got[i] = [2]int{p.Front.DaysToExpiry, p.Back.DaysToExpiry}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectPairs_TieBreaksAndTolerance(t *testing.T) {
	band, err := models.DTE30to90.Band()
	require.NoError(t, err)

	// equidistant from target 90: earlier expiration wins
	pairs := SelectPairs(summaries(30, 85, 95), band)
	require.Len(t, pairs, 1)
	assert.Equal(t, 85, pairs[0].Back.DaysToExpiry)

	// 60 is exactly at tolerance, 59 is outside it
	pairs = SelectPairs(summaries(30, 60), band)
	require.Len(t, pairs, 1)
	pairs = SelectPairs(summaries(30, 59), band)
	assert.Empty(t, pairs)

	// all-mode gap below the minimum skips to the next expiration
	all, err := models.DTEAll.Band()
	require.NoError(t, err)
	pairs = SelectPairs(summaries(30, 33, 40), all)
	require.Len(t, pairs, 2)
	assert.Equal(t, 40, pairs[0].Back.DaysToExpiry)
	assert.Equal(t, 40, pairs[1].Back.DaysToExpiry)
}

func TestCompute_PLTRScenario(t *testing.T) {
	chain := []models.ExpirationSummary{summary(30, 45), summary(90, 38)}
	results, edges, err := Compute("PLTR", chain, Params{
		Strategy: models.DTE30to90,
		Mode:     models.FFModeRaw,
		ScanDate: scanDate,
	})
	require.NoError(t, err)
	assert.Empty(t, edges)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, "PLTR", r.Ticker)
	assert.Equal(t, models.SignalSell, r.Signal)
	assert.InDelta(t, 32.5, r.ForwardFactor, 0.05)
	assert.InDelta(t, 33.96, r.ForwardVol, 0.01)
	assert.Equal(t, 45.0, r.EffectiveFrontIV)
	assert.False(t, r.EarningsAdjusted)
}

func TestCompute_ExEarnings(t *testing.T) {
	chain := []models.ExpirationSummary{summary(30, 45), summary(90, 38)}
	inside := scanDate.AddDate(0, 0, 10)
	after := scanDate.AddDate(0, 0, 40)

	tests := []struct {
		name     string
		earnings *time.Time
		adjusted bool
		ff       float64
	}{
		{"earnings inside front window", &inside, true, 0.9917},
		{"earnings after front expiry", &after, false, 32.4963},
		{"no earnings", nil, false, 32.4963},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, _, err := Compute("PLTR", chain, Params{
				Strategy:          models.DTE30to90,
				Mode:              models.FFModeExEarnings,
				EarningsIVPremium: models.DefaultEarningsIVPremium,
				EarningsDate:      tt.earnings,
				ScanDate:          scanDate,
			})
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, tt.adjusted, results[0].EarningsAdjusted)
			assert.InDelta(t, tt.ff, results[0].ForwardFactor, 1e-3)
			assert.Equal(t, 45.0, results[0].FrontIV)
		})
	}
}

func TestCompute_InvertedTermStructureIsEdgeCase(t *testing.T) {
	chain := []models.ExpirationSummary{summary(30, 90), summary(90, 40)}
	results, edges, err := Compute("GME", chain, Params{Strategy: models.DTE30to90, ScanDate: scanDate})
	require.NoError(t, err)
	assert.Empty(t, results)
	require.Len(t, edges, 1)
	assert.Equal(t, models.EdgeCaseInvertedTermStructure, edges[0].Kind)
	assert.Less(t, edges[0].ForwardVariance, 0.0)
}

func TestCompute_RejectsBadParams(t *testing.T) {
	chain := []models.ExpirationSummary{summary(30, 45), summary(90, 38)}
	_, _, err := Compute("X", chain, Params{Strategy: "weekly"})
	assert.Error(t, err)

	_, _, err = Compute("X", chain, Params{Strategy: models.DTE30to90, EarningsIVPremium: 1})
	assert.Error(t, err)
}

func TestEarningsInWindow(t *testing.T) {
	front := scanDate.AddDate(0, 0, 30)
	on := front
	before := scanDate.AddDate(0, 0, -1)
	assert.True(t, EarningsInWindow(&on, scanDate, front))
	assert.True(t, EarningsInWindow(&scanDate, scanDate, front))
	assert.False(t, EarningsInWindow(&before, scanDate, front))
	assert.False(t, EarningsInWindow(nil, scanDate, front))
}
