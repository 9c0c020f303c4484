package papertrade

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/forward_factor/internal/models"
	"github.com/eddiefleurent/forward_factor/internal/payoff"
	"github.com/eddiefleurent/forward_factor/internal/storage"
	"github.com/eddiefleurent/forward_factor/internal/util"
)

var clock = time.Date(2025, 6, 18, 15, 0, 0, 0, time.UTC)

type fakeSpots struct {
	mu     sync.Mutex
	prices map[string]float64
	errs   map[string]error
	calls  map[string]int
}

func (f *fakeSpots) FetchSpotPrice(_ context.Context, ticker string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[ticker]++
	if err := f.errs[ticker]; err != nil {
		return 0, err
	}
	return f.prices[ticker], nil
}

func newTestService(t *testing.T, spots *fakeSpots) (*Service, *storage.MockStorage) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	store := storage.NewMockStorage()
	svc := NewService(store, spots, Config{
		StartingCash:      10000,
		StopLossPercent:   50,
		TakeProfitPercent: 25,
		Concurrency:       2,
	}, logger)
	svc.SetClock(func() time.Time { return clock })
	n := 0
	svc.newID = func() string {
		n++
		return fmt.Sprintf("pt-%d", n)
	}
	return svc, store
}

func testOpportunity(ticker string, signal models.Signal) models.Opportunity {
	return models.Opportunity{
		ID: models.OpportunityID(ticker, clock.AddDate(0, 0, 30), clock.AddDate(0, 0, 90)),
		ForwardFactorResult: models.ForwardFactorResult{
			Ticker:          ticker,
			FrontExpiration: clock.AddDate(0, 0, 30),
			BackExpiration:  clock.AddDate(0, 0, 90),
			FrontDTE:        30,
			BackDTE:         90,
			FrontIV:         45,
			BackIV:          38,
			ForwardFactor:   32.5,
			Signal:          signal,
		},
		StockPrice:     25,
		Strike:         25,
		FrontCallPrice: 1.29,
		BackCallPrice:  1.88,
	}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("quoted prices and config defaults", func(t *testing.T) {
		svc, store := newTestService(t, &fakeSpots{})
		trade, err := svc.Create(ctx, CreateRequest{Opportunity: testOpportunity("pltr", models.SignalSell), Quantity: 2})
		require.NoError(t, err)

		assert.Equal(t, "pt-1", trade.ID)
		assert.Equal(t, "PLTR", trade.Ticker)
		assert.Equal(t, models.StatusOpen, trade.Status)
		assert.InDelta(t, 0.59, trade.EntryNetPrice, 1e-9)
		assert.Equal(t, 50.0, trade.StopLossPercent)
		assert.Equal(t, 25.0, trade.TakeProfitPercent)
		assert.Equal(t, 32.5, trade.EntryFF)
		assert.False(t, trade.UsedActualPrices)

		stored, err := store.GetPaperTrade(ctx, trade.ID)
		require.NoError(t, err)
		assert.Equal(t, trade.EntryNetPrice, stored.EntryNetPrice)
	})

	t.Run("actual fill overrides net on a credit spread", func(t *testing.T) {
		svc, _ := newTestService(t, &fakeSpots{})
		fill := 0.50
		trade, err := svc.Create(ctx, CreateRequest{
			Opportunity:      testOpportunity("PLTR", models.SignalBuy),
			Quantity:         1,
			UseActualPrices:  true,
			ActualEntryPrice: &fill,
			StopLossPercent:  30,
		})
		require.NoError(t, err)
		assert.True(t, trade.UsedActualPrices)
		assert.Equal(t, -0.50, trade.EntryNetPrice)
		assert.Equal(t, 30.0, trade.StopLossPercent)
	})

	t.Run("actual strike reprices the legs", func(t *testing.T) {
		svc, _ := newTestService(t, &fakeSpots{})
		strike := 27.5
		trade, err := svc.Create(ctx, CreateRequest{
			Opportunity:       testOpportunity("PLTR", models.SignalSell),
			Quantity:          1,
			UseActualPrices:   true,
			ActualFrontStrike: &strike,
			ActualBackStrike:  &strike,
		})
		require.NoError(t, err)
		assert.Equal(t, 27.5, trade.FrontStrike)
		assert.Less(t, trade.EntryFrontPrice, 1.29, "out of the money call is cheaper")
		assert.InDelta(t, trade.EntryBackPrice-trade.EntryFrontPrice, trade.EntryNetPrice, 1e-9)
	})

	t.Run("invalid request", func(t *testing.T) {
		svc, store := newTestService(t, &fakeSpots{})
		opp := testOpportunity("PLTR", "")
		_, err := svc.Create(ctx, CreateRequest{Opportunity: opp, Quantity: 0})
		var verr *models.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Len(t, verr.Fields, 2)
		assert.Equal(t, 0, store.SaveCallCount())
	})
}

func TestExitSignalFor(t *testing.T) {
	tests := []struct {
		pct  float64
		want models.ExitSignal
	}{
		{30, models.ExitTakeProfit},
		{25, models.ExitTakeProfit},
		{10, models.ExitGreen},
		{0, models.ExitGreen},
		{-10, models.ExitAmber},
		{-30, models.ExitRed},
		{-50, models.ExitStopLoss},
		{-80, models.ExitStopLoss},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.0f", tt.pct), func(t *testing.T) {
			assert.Equal(t, tt.want, ExitSignalFor(tt.pct, 50, 25))
		})
	}
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	spots := &fakeSpots{
		prices: map[string]float64{"PLTR": 25, "TSLA": 250},
		errs:   map[string]error{"AAPL": errors.New("quote unavailable")},
	}
	svc, store := newTestService(t, spots)

	// entered at model value: flat P&L
	flat, err := svc.Create(ctx, CreateRequest{Opportunity: testOpportunity("PLTR", models.SignalSell), Quantity: 1})
	require.NoError(t, err)
	model := payoff.ValueAt(payoff.FromPaperTrade(flat), 25, clock)
	_, err = store.UpdatePaperTrade(ctx, flat.ID, func(tr *models.PaperTrade) error {
		tr.EntryNetPrice = model
		return nil
	})
	require.NoError(t, err)

	// overpaid badly: stop loss
	rich := 25.0
	tsla := testOpportunity("TSLA", models.SignalSell)
	tsla.StockPrice, tsla.Strike = 250, 250
	stopped, err := svc.Create(ctx, CreateRequest{
		Opportunity: tsla, Quantity: 1, UseActualPrices: true, ActualEntryPrice: &rich,
	})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateRequest{Opportunity: testOpportunity("AAPL", models.SignalSell), Quantity: 1})
	require.NoError(t, err)

	res, err := svc.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, []string{stopped.ID}, res.Stopped)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "AAPL", res.Failed[0].Ticker)

	got, err := store.GetPaperTrade(ctx, flat.ID)
	require.NoError(t, err)
	require.NotNil(t, got.UnrealizedPnL)
	assert.InDelta(t, 0, *got.UnrealizedPnL, 0.01)
	assert.Equal(t, models.ExitGreen, got.ExitSignal)
	require.NotNil(t, got.ThetaDecay)
	assert.Less(t, *got.ThetaDecay, 0.0, "a long calendar gains value as the front decays")
	require.NotNil(t, got.LastUpdated)
	assert.Equal(t, clock, *got.LastUpdated)

	got, err = store.GetPaperTrade(ctx, stopped.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusStopped, got.Status)
	assert.Equal(t, models.ExitStopLoss, got.ExitSignal)

	// one quote per ticker
	assert.Equal(t, 1, spots.calls["PLTR"])
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, &fakeSpots{prices: map[string]float64{"PLTR": 25}})

	trade, err := svc.Create(ctx, CreateRequest{Opportunity: testOpportunity("PLTR", models.SignalSell), Quantity: 2})
	require.NoError(t, err)

	exit := 0.80
	closed, err := svc.Close(ctx, trade.ID, CloseRequest{ExitPrice: &exit})
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, closed.Status)
	require.NotNil(t, closed.RealizedPnL)
	assert.InDelta(t, 42.0, *closed.RealizedPnL, 1e-9)
	assert.Equal(t, "manual close", closed.ExitReason)
	assert.Nil(t, closed.UnrealizedPnL)

	_, err = svc.Close(ctx, trade.ID, CloseRequest{ExitPrice: &exit})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = svc.Close(ctx, "missing", CloseRequest{})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestClose_RepricesWithoutExitPrice(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, &fakeSpots{prices: map[string]float64{"PLTR": 25}})
	trade, err := svc.Create(ctx, CreateRequest{Opportunity: testOpportunity("PLTR", models.SignalSell), Quantity: 1})
	require.NoError(t, err)

	closed, err := svc.Close(ctx, trade.ID, CloseRequest{Reason: "rolled"})
	require.NoError(t, err)
	require.NotNil(t, closed.ExitPrice)
	assert.Greater(t, *closed.ExitPrice, 0.0)
	assert.Equal(t, "rolled", closed.ExitReason)
}

func TestPayoff(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, &fakeSpots{errs: map[string]error{"PLTR": errors.New("down")}})
	trade, err := svc.Create(ctx, CreateRequest{Opportunity: testOpportunity("PLTR", models.SignalSell), Quantity: 1})
	require.NoError(t, err)

	m, err := svc.Payoff(ctx, trade.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 25.0, m.StockPrice, "falls back to the entry stock price")
	assert.False(t, m.IsFallback)

	spot := 26.0
	m, err = svc.Payoff(ctx, trade.ID, &spot)
	require.NoError(t, err)
	assert.Equal(t, 26.0, m.StockPrice)
	require.NotNil(t, m.LowerBreakeven)
	require.NotNil(t, m.UpperBreakeven)
}

func TestSummarize(t *testing.T) {
	exitA, pnlA := 1.50, 50.0
	exitB, pnlB := -0.80, -60.0
	front, back, unrealized := 1.0, 1.8, 20.0
	when := clock

	trades := []*models.PaperTrade{
		{Signal: models.SignalSell, Status: models.StatusClosed, Quantity: 1, EntryNetPrice: 1.00,
			ExitDate: &when, ExitPrice: &exitA, RealizedPnL: &pnlA},
		{Signal: models.SignalBuy, Status: models.StatusClosed, Quantity: 2, EntryNetPrice: -0.50,
			ExitDate: &when, ExitPrice: &exitB, RealizedPnL: &pnlB},
		{Signal: models.SignalSell, Status: models.StatusOpen, Quantity: 1, EntryNetPrice: 0.60,
			CurrentFrontPrice: &front, CurrentBackPrice: &back, UnrealizedPnL: &unrealized},
	}

	s := Summarize(trades, 10000)
	assert.InDelta(t, 9930, s.CashBalance, 1e-9)
	assert.InDelta(t, 80, s.PositionsValue, 1e-9)
	assert.InDelta(t, 10010, s.TotalValue, 1e-9)
	assert.InDelta(t, -10, s.RealizedPnL, 1e-9)
	assert.InDelta(t, 20, s.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 10, s.TotalPnL, 1e-9)
	assert.Equal(t, 1, s.OpenTrades)
	assert.Equal(t, 2, s.ClosedTrades)
	assert.Equal(t, 50.0, s.WinRate)
	assert.Equal(t, 50.0, s.AverageWin)
	assert.Equal(t, -60.0, s.AverageLoss)

	empty := Summarize(nil, 5000)
	assert.Equal(t, 5000.0, empty.CashBalance)
	assert.Equal(t, 5000.0, empty.TotalValue)
	assert.Zero(t, empty.WinRate)
}

// steppingSpots quotes a different price on every call.
type steppingSpots struct {
	n atomic.Int64
}

func (s *steppingSpots) FetchSpotPrice(_ context.Context, _ string) (float64, error) {
	return 20 + float64(s.n.Add(1)%10), nil
}

// assertCoherent checks that the live fields of a trade all come from the
// same repricing pass.
func assertCoherent(t *testing.T, tr *models.PaperTrade) {
	t.Helper()
	if tr.CurrentStockPrice == nil {
		assert.Nil(t, tr.CurrentFrontPrice, tr.ID)
		assert.Nil(t, tr.UnrealizedPnL, tr.ID)
		assert.Nil(t, tr.LastUpdated, tr.ID)
		return
	}
	if !assert.NotNil(t, tr.LastUpdated, tr.ID) ||
		!assert.NotNil(t, tr.CurrentFrontPrice, tr.ID) ||
		!assert.NotNil(t, tr.CurrentBackPrice, tr.ID) ||
		!assert.NotNil(t, tr.UnrealizedPnL, tr.ID) {
		return
	}
	front, back := payoff.LegPrices(payoff.FromPaperTrade(tr), *tr.CurrentStockPrice, *tr.LastUpdated)
	assert.InDelta(t, util.Cents(front), *tr.CurrentFrontPrice, 1e-9, tr.ID)
	assert.InDelta(t, util.Cents(back), *tr.CurrentBackPrice, 1e-9, tr.ID)
	assert.InDelta(t, util.Cents(tr.PnL(front, back)), *tr.UnrealizedPnL, 1e-9, tr.ID)
}

func TestRefresh_ConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	jsonStore, err := storage.NewJSONStorage(filepath.Join(t.TempDir(), "trades.json"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		store storage.Interface
	}{
		{"json", jsonStore},
		{"mock", storage.NewMockStorage()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			logger := logrus.New()
			logger.SetOutput(io.Discard)
			svc := NewService(tt.store, &steppingSpots{}, Config{
				StartingCash:      10000,
				StopLossPercent:   90,
				TakeProfitPercent: 90,
				Concurrency:       2,
			}, logger)
			svc.SetClock(func() time.Time { return clock })

			for _, ticker := range []string{"PLTR", "TSLA", "AAPL"} {
				for _, signal := range []models.Signal{models.SignalSell, models.SignalBuy} {
					_, err := svc.Create(ctx, CreateRequest{Opportunity: testOpportunity(ticker, signal), Quantity: 2})
					require.NoError(t, err)
				}
			}

			done := make(chan struct{})
			var reads atomic.Int64
			var wg sync.WaitGroup
			for range 4 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for {
						select {
						case <-done:
							return
						default:
						}
						trades, err := tt.store.ListPaperTrades(ctx)
						if !assert.NoError(t, err) {
							return
						}
						for _, tr := range trades {
							assertCoherent(t, tr)
						}
						reads.Add(1)
					}
				}()
			}

			for range 20 {
				res, err := svc.Refresh(ctx)
				require.NoError(t, err)
				assert.Equal(t, 6, res.Updated)
			}
			close(done)
			wg.Wait()

			assert.Positive(t, reads.Load())
			trades, err := tt.store.ListPaperTrades(ctx)
			require.NoError(t, err)
			for _, tr := range trades {
				require.NotNil(t, tr.CurrentStockPrice)
				assertCoherent(t, tr)
			}
		})
	}
}
