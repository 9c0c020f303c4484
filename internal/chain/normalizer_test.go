package chain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/forward_factor/internal/models"
)

var scanDate = time.Date(2025, 6, 18, 15, 0, 0, 0, time.UTC)

func entry(exp time.Time, typ models.OptionType, strike, iv float64, oi int64) models.OptionChainEntry {
	return models.OptionChainEntry{
		Expiration: exp, Type: typ, Strike: strike,
		Bid: 1.0, Ask: 1.2, ImpliedVol: iv, OpenInterest: oi, Volume: oi / 10,
	}
}

func straddle(exp time.Time, strike, callIV, putIV float64, callOI, putOI int64) []models.OptionChainEntry {
	return []models.OptionChainEntry{
		entry(exp, models.OptionTypeCall, strike, callIV, callOI),
		entry(exp, models.OptionTypePut, strike, putIV, putOI),
	}
}

func TestNormalize_PicksNearestPairedStrike(t *testing.T) {
	front := scanDate.AddDate(0, 0, 30)
	back := scanDate.AddDate(0, 0, 90)

	var entries []models.OptionChainEntry
	entries = append(entries, straddle(front, 25, 0.44, 0.46, 600, 400)...)
	entries = append(entries, straddle(front, 30, 0.40, 0.42, 100, 100)...)
	// nearest strike has only a call: must not be chosen
	entries = append(entries, entry(front, models.OptionTypeCall, 26, 0.45, 900))
	entries = append(entries, straddle(back, 25, 0.37, 0.39, 500, 500)...)

	summaries, err := Normalize("PLTR", entries, 25.8, scanDate)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	f := summaries[0]
	assert.Equal(t, 30, f.DaysToExpiry)
	assert.Equal(t, 25.0, f.ATMStrike)
	assert.InDelta(t, 45.0, f.ATMImpliedVol, 1e-9)
	assert.InDelta(t, 44.0, f.ATMCallIV, 1e-9)
	assert.Equal(t, int64(1000), f.StraddleOI)
	assert.Equal(t, int64(100), f.ATMVolume)
	assert.InDelta(t, 400.0/600.0, f.PutCallRatio, 1e-9)
	assert.InDelta(t, 1.1, f.ATMCallMid, 1e-9)

	assert.Equal(t, 90, summaries[1].DaysToExpiry)
	assert.InDelta(t, 38.0, summaries[1].ATMImpliedVol, 1e-9)
}

func TestNormalize_SkipsExpirationsOutsideTolerance(t *testing.T) {
	e1 := scanDate.AddDate(0, 0, 30)
	e2 := scanDate.AddDate(0, 0, 60)
	e3 := scanDate.AddDate(0, 0, 90)

	var entries []models.OptionChainEntry
	entries = append(entries, straddle(e1, 100, 0.30, 0.30, 100, 100)...)
	entries = append(entries, straddle(e2, 120, 0.30, 0.30, 100, 100)...) // 20% away
	entries = append(entries, straddle(e3, 105, 0.30, 0.30, 100, 100)...)

	summaries, err := Normalize("AAPL", entries, 100, scanDate)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, 30, summaries[0].DaysToExpiry)
	assert.Equal(t, 90, summaries[1].DaysToExpiry)
}

func TestNormalize_FiltersBadIVAndExpired(t *testing.T) {
	past := scanDate.AddDate(0, 0, -1)
	today := scanDate
	front := scanDate.AddDate(0, 0, 30)

	var entries []models.OptionChainEntry
	entries = append(entries, straddle(past, 100, 0.3, 0.3, 10, 10)...)
	entries = append(entries, straddle(today, 100, 0.3, 0.3, 10, 10)...)
	entries = append(entries, straddle(front, 100, 0.3, 0.3, 10, 10)...)
	// IV of 600% and 0 are rejected, so this expiration has no pair
	entries = append(entries, straddle(scanDate.AddDate(0, 0, 60), 100, 6.0, 0, 10, 10)...)

	summaries, err := Normalize("MSFT", entries, 100, scanDate)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDataGap)
	assert.Len(t, summaries, 1)
}

func TestNormalize_DataGaps(t *testing.T) {
	_, err := Normalize("X", nil, 100, scanDate)
	assert.ErrorIs(t, err, models.ErrDataGap)

	_, err = Normalize("X", straddle(scanDate.AddDate(0, 0, 30), 100, 0.3, 0.3, 1, 1), 0, scanDate)
	assert.ErrorIs(t, err, models.ErrDataGap)
}

func TestNormalize_DuplicateContractsKeepMostLiquid(t *testing.T) {
	e1 := scanDate.AddDate(0, 0, 30)
	e2 := scanDate.AddDate(0, 0, 60)
	entries := straddle(e1, 50, 0.30, 0.30, 100, 100)
	entries = append(entries, entry(e1, models.OptionTypeCall, 50, 0.50, 5000))
	entries = append(entries, straddle(e2, 50, 0.30, 0.30, 100, 100)...)

	summaries, err := Normalize("AMD", entries, 50, scanDate)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, summaries[0].ATMCallIV, 1e-9)
	assert.Equal(t, int64(5100), summaries[0].StraddleOI)
}

func TestEstimateSpot(t *testing.T) {
	d := func(v float64) *float64 { return &v }
	exp := scanDate.AddDate(0, 0, 30)
	entries := []models.OptionChainEntry{
		{Expiration: exp, Type: models.OptionTypeCall, Strike: 90, Delta: d(0.81)},
		{Expiration: exp, Type: models.OptionTypeCall, Strike: 100, Delta: d(0.52)},
		{Expiration: exp, Type: models.OptionTypePut, Strike: 105, Delta: d(-0.55)},
		{Expiration: exp, Type: models.OptionTypePut, Strike: 110},
	}
	spot, ok := EstimateSpot(entries)
	require.True(t, ok)
	assert.Equal(t, 100.0, spot)

	_, ok = EstimateSpot([]models.OptionChainEntry{{Strike: 100}})
	assert.False(t, ok)
}

func TestPutCallRatio(t *testing.T) {
	assert.Equal(t, 2.0, PutCallRatio(200, 100))
	assert.Equal(t, 50.0, PutCallRatio(50, 0))
	assert.Equal(t, 0.0, PutCallRatio(0, 0))
}
