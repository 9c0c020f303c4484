package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/forward_factor/internal/models"
)

var day0 = time.Date(2025, 6, 18, 0, 0, 0, 0, time.UTC)

func newTrade(id string, entry time.Time) *models.PaperTrade {
	return &models.PaperTrade{
		ID:                id,
		Ticker:            "PLTR",
		Signal:            models.SignalSell,
		Status:            models.StatusOpen,
		Quantity:          2,
		FrontStrike:       25,
		BackStrike:        25,
		FrontExpiration:   day0.AddDate(0, 0, 30),
		BackExpiration:    day0.AddDate(0, 0, 90),
		EntryDate:         entry,
		EntryNetPrice:     0.59,
		EntryFrontPrice:   1.29,
		EntryBackPrice:    1.88,
		EntryStockPrice:   25,
		EntryFrontIV:      45,
		EntryBackIV:       38,
		StopLossPercent:   50,
		TakeProfitPercent: 25,
	}
}

// TestInterface runs the shared contract against every implementation.
func TestInterface(t *testing.T) {
	t.Run("MockStorage", func(t *testing.T) {
		testInterface(t, NewMockStorage())
	})

	t.Run("JSONStorage", func(t *testing.T) {
		s, err := NewJSONStorage(filepath.Join(t.TempDir(), "ff_data.json"))
		require.NoError(t, err)
		testInterface(t, s)
	})
}

func testInterface(t *testing.T, s Interface) {
	ctx := context.Background()

	t.Run("scans", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			scan := models.Scan{
				ID:             fmt.Sprintf("scan-%d", i),
				Timestamp:      day0.Add(time.Duration(i) * time.Hour),
				TickersScanned: i,
				Opportunities:  []models.Opportunity{{ID: fmt.Sprintf("opp-%d", i)}},
			}
			require.NoError(t, s.SaveScan(ctx, scan))
		}
		assert.ErrorIs(t, s.SaveScan(ctx, models.Scan{ID: "scan-1"}), ErrDuplicate)

		got, err := s.GetScan(ctx, "scan-1")
		require.NoError(t, err)
		assert.Equal(t, 1, got.TickersScanned)
		got.Opportunities[0].ID = "mutated"

		again, err := s.GetScan(ctx, "scan-1")
		require.NoError(t, err)
		assert.Equal(t, "opp-1", again.Opportunities[0].ID)

		_, err = s.GetScan(ctx, "missing")
		assert.ErrorIs(t, err, models.ErrNotFound)

		list, err := s.ListScans(ctx, 2)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "scan-2", list[0].ID)
		assert.Equal(t, "scan-1", list[1].ID)
	})

	t.Run("paper trades", func(t *testing.T) {
		require.NoError(t, s.CreatePaperTrade(ctx, newTrade("t-2", day0.Add(time.Hour))))
		require.NoError(t, s.CreatePaperTrade(ctx, newTrade("t-1", day0)))
		assert.ErrorIs(t, s.CreatePaperTrade(ctx, newTrade("t-1", day0)), ErrDuplicate)

		bad := newTrade("t-bad", day0)
		bad.Quantity = 0
		assert.Error(t, s.CreatePaperTrade(ctx, bad))

		trades, err := s.ListPaperTrades(ctx)
		require.NoError(t, err)
		require.Len(t, trades, 2)
		assert.Equal(t, "t-1", trades[0].ID)

		price := 26.5
		updated, err := s.UpdatePaperTrade(ctx, "t-1", func(tr *models.PaperTrade) error {
			tr.CurrentStockPrice = &price
			tr.ExitSignal = models.ExitGreen
			return nil
		})
		require.NoError(t, err)
		require.NotNil(t, updated.CurrentStockPrice)
		assert.Equal(t, 26.5, *updated.CurrentStockPrice)

		// a failing update leaves the stored trade untouched
		boom := errors.New("boom")
		_, err = s.UpdatePaperTrade(ctx, "t-1", func(tr *models.PaperTrade) error {
			tr.Quantity = 99
			return boom
		})
		assert.ErrorIs(t, err, boom)

		// an update that breaks invariants is rejected
		_, err = s.UpdatePaperTrade(ctx, "t-1", func(tr *models.PaperTrade) error {
			tr.Status = models.StatusClosed
			return nil
		})
		assert.Error(t, err)

		got, err := s.GetPaperTrade(ctx, "t-1")
		require.NoError(t, err)
		assert.Equal(t, 2, got.Quantity)
		assert.Equal(t, models.StatusOpen, got.Status)
		assert.Equal(t, models.ExitGreen, got.ExitSignal)

		*got.CurrentStockPrice = 1
		again, err := s.GetPaperTrade(ctx, "t-1")
		require.NoError(t, err)
		assert.Equal(t, 26.5, *again.CurrentStockPrice)

		_, err = s.UpdatePaperTrade(ctx, "missing", func(*models.PaperTrade) error { return nil })
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("watchlist", func(t *testing.T) {
		require.NoError(t, s.AddWatchlistItem(ctx, models.WatchlistItem{ID: "w1", Ticker: "tsla", AddedAt: day0}))
		require.NoError(t, s.AddWatchlistItem(ctx, models.WatchlistItem{ID: "w2", Ticker: "AAPL", AddedAt: day0}))
		assert.ErrorIs(t, s.AddWatchlistItem(ctx, models.WatchlistItem{ID: "w3", Ticker: "TSLA"}), ErrDuplicate)

		items, err := s.ListWatchlist(ctx)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "AAPL", items[0].Ticker)
		assert.Equal(t, "TSLA", items[1].Ticker)

		require.NoError(t, s.RemoveWatchlistItem(ctx, "w1"))
		assert.ErrorIs(t, s.RemoveWatchlistItem(ctx, "w1"), models.ErrNotFound)
		items, err = s.ListWatchlist(ctx)
		require.NoError(t, err)
		assert.Len(t, items, 1)
	})

	t.Run("iv readings", func(t *testing.T) {
		_, err := s.GetLatestIVReading(ctx, "PLTR")
		assert.ErrorIs(t, err, ErrNoIVReadings)

		for i, iv := range []float64{40, 42, 44} {
			require.NoError(t, s.StoreIVReading(ctx, models.IVReading{
				Symbol: "pltr", Date: day0.AddDate(0, 0, i), IV: iv, Timestamp: day0,
			}))
		}
		// same day replaces
		require.NoError(t, s.StoreIVReading(ctx, models.IVReading{
			Symbol: "PLTR", Date: day0.AddDate(0, 0, 2).Add(5 * time.Hour), IV: 46,
		}))
		assert.Error(t, s.StoreIVReading(ctx, models.IVReading{Symbol: "PLTR", Date: day0, IV: 0}))

		readings, err := s.GetIVReadings(ctx, "PLTR", day0.AddDate(0, 0, 1), day0.AddDate(0, 0, 5))
		require.NoError(t, err)
		require.Len(t, readings, 2)
		assert.Equal(t, 42.0, readings[0].IV)
		assert.Equal(t, 46.0, readings[1].IV)

		latest, err := s.GetLatestIVReading(ctx, "PLTR")
		require.NoError(t, err)
		assert.Equal(t, 46.0, latest.IV)
	})
}

func TestMockStorage_SaveError(t *testing.T) {
	ctx := context.Background()
	m := NewMockStorage()
	m.SetSaveError(errors.New("disk full"))

	err := m.SaveScan(ctx, models.Scan{ID: "s"})
	assert.ErrorIs(t, err, models.ErrPersistence)
	assert.Equal(t, 1, m.SaveCallCount())

	m.SetSaveError(nil)
	require.NoError(t, m.SaveScan(ctx, models.Scan{ID: "s"}))
}
