package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/forward_factor/internal/marketdata"
	"github.com/eddiefleurent/forward_factor/internal/mock"
	"github.com/eddiefleurent/forward_factor/internal/models"
	"github.com/eddiefleurent/forward_factor/internal/retry"
	"github.com/eddiefleurent/forward_factor/internal/storage"
)

var scanClock = time.Date(2025, 6, 18, 15, 0, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestScanner(p marketdata.Provider, store storage.Interface, cfg Config) *Scanner {
	logger := quietLogger()
	fast := retry.NewClient(logger, retry.Config{
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
	s := New(p, store, cfg, logger, WithRetry(fast), WithClock(func() time.Time { return scanClock }))
	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("scan-%d", n)
	}
	return s
}

func openRequest(tickers ...string) models.ScanRequest {
	return models.ScanRequest{
		Tickers:            tickers,
		TopN:               50,
		StrategyFilterMode: models.FilterNone,
		DTEStrategy:        models.DTE30to90,
		FFCalculationMode:  models.FFModeRaw,
	}
}

func TestScan_PartialFailure(t *testing.T) {
	provider := mock.NewDataProvider(scanClock)
	provider.FailTicker("XYZ", errors.New("no such symbol"))
	store := storage.NewMockStorage()
	s := newTestScanner(provider, store, Config{Concurrency: 2})

	resp, err := s.Scan(context.Background(), openRequest("PLTR", "TSLA", "XYZ", "AAPL", "SPY"))
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, 4, resp.TotalTickersScanned)
	require.Len(t, resp.FailedTickers, 1)
	assert.Equal(t, "XYZ", resp.FailedTickers[0].Ticker)
	assert.Contains(t, resp.FailedTickers[0].Reason, "no such symbol")
	assert.Empty(t, resp.TimedOutTickers)
	assert.NotEmpty(t, resp.Opportunities)
	assert.Empty(t, resp.PersistenceError)

	for _, o := range resp.Opportunities {
		assert.NotEqual(t, "XYZ", o.Ticker)
		require.NotNil(t, o.Quality)
		assert.True(t, o.Quality.IsQuality)
		require.NotNil(t, o.Liquidity)
		require.NotNil(t, o.Events)
		assert.Equal(t, models.OpportunityID(o.Ticker, o.FrontExpiration, o.BackExpiration), o.ID)
		assert.Greater(t, o.BackDTE, o.FrontDTE)
	}

	for i := 1; i < len(resp.Opportunities); i++ {
		assert.GreaterOrEqual(t, resp.Opportunities[i-1].Magnitude(), resp.Opportunities[i].Magnitude())
	}

	saved, err := store.GetScan(context.Background(), resp.ScanID)
	require.NoError(t, err)
	assert.Equal(t, 4, saved.TickersScanned)
	assert.Equal(t, resp.TotalOpportunitiesFound, saved.TotalOpportunities)
	assert.Len(t, saved.Opportunities, len(resp.Opportunities))

	latest, err := store.GetLatestIVReading(context.Background(), "PLTR")
	require.NoError(t, err)
	assert.Greater(t, latest.IV, 0.0)
	_, err = store.GetLatestIVReading(context.Background(), "XYZ")
	assert.Error(t, err)
}

func TestScan_Deterministic(t *testing.T) {
	req := openRequest("PLTR", "TSLA", "AAPL")
	a := newTestScanner(mock.NewDataProvider(scanClock), storage.NewMockStorage(), Config{Concurrency: 3})
	b := newTestScanner(mock.NewDataProvider(scanClock), storage.NewMockStorage(), Config{Concurrency: 1})

	first, err := a.Scan(context.Background(), req)
	require.NoError(t, err)
	second, err := b.Scan(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Opportunities, second.Opportunities)
	assert.Equal(t, first.TotalOpportunitiesFound, second.TotalOpportunitiesFound)
	assert.Equal(t, first.EdgeCases, second.EdgeCases)
}

func TestScan_TopNAndFilters(t *testing.T) {
	s := newTestScanner(mock.NewDataProvider(scanClock), storage.NewMockStorage(), Config{})

	all, err := s.Scan(context.Background(), openRequest("PLTR", "TSLA", "AAPL", "SPY"))
	require.NoError(t, err)
	require.Greater(t, len(all.Opportunities), 2)

	req := openRequest("PLTR", "TSLA", "AAPL", "SPY")
	req.TopN = 2
	top, err := s.Scan(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, top.Opportunities, 2)
	assert.Equal(t, all.TotalOpportunitiesFound, top.TotalOpportunitiesFound)
	assert.Equal(t, all.Opportunities[:2], top.Opportunities)

	minFF := 0.0
	req = openRequest("PLTR", "TSLA", "AAPL", "SPY")
	req.MinFF = &minFF
	positive, err := s.Scan(context.Background(), req)
	require.NoError(t, err)
	for _, o := range positive.Opportunities {
		assert.GreaterOrEqual(t, o.ForwardFactor, 0.0)
	}
}

func TestScan_StrictModeRejects(t *testing.T) {
	s := newTestScanner(mock.NewDataProvider(scanClock), storage.NewMockStorage(), Config{})

	req := openRequest("PLTR", "TSLA", "AAPL", "SPY")
	minOI := int64(1_000_000_000)
	req.MinOpenInterest = &minOI
	resp, err := s.Scan(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Empty(t, resp.Opportunities)
	assert.Zero(t, resp.TotalOpportunitiesFound)
	assert.Greater(t, resp.RejectedCount, 0)
	require.Len(t, resp.Rejections, resp.RejectedCount)
	for _, r := range resp.Rejections {
		assert.NotEmpty(t, r.OpportunityID)
		require.NotEmpty(t, r.Reasons, r.OpportunityID)
		assert.Contains(t, r.Reasons[len(r.Reasons)-1], "min straddle OI")
	}
}

func TestScan_Validation(t *testing.T) {
	tooMany := make([]string, 101)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("T%d", i)
	}
	lo, hi := 50.0, 10.0
	premium := 1.5

	tests := []struct {
		name  string
		edit  func(*models.ScanRequest)
		field string
	}{
		{"top_n too large", func(r *models.ScanRequest) { r.TopN = 101 }, "top_n"},
		{"negative top_n", func(r *models.ScanRequest) { r.TopN = -1 }, "top_n"},
		{"bad ticker", func(r *models.ScanRequest) { r.Tickers = []string{"PLTR", "$$$"} }, "tickers[1]"},
		{"too many tickers", func(r *models.ScanRequest) { r.Tickers = tooMany }, "tickers"},
		{"min above max", func(r *models.ScanRequest) { r.MinFF, r.MaxFF = &lo, &hi }, "max_ff"},
		{"unknown filter mode", func(r *models.ScanRequest) { r.StrategyFilterMode = "reckless" }, "strategy_filter_mode"},
		{"unknown dte strategy", func(r *models.ScanRequest) { r.DTEStrategy = "7-14" }, "dte_strategy"},
		{"premium out of range", func(r *models.ScanRequest) { r.EarningsIVPremium = &premium }, "earnings_iv_premium"},
		{"negative open interest", func(r *models.ScanRequest) { v := int64(-5); r.MinOpenInterest = &v }, "min_open_interest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := mock.NewDataProvider(scanClock)
			store := storage.NewMockStorage()
			s := newTestScanner(provider, store, Config{})

			req := openRequest("PLTR")
			tt.edit(&req)
			resp, err := s.Scan(context.Background(), req)

			var verr *models.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)

			var fields []string
			for _, f := range verr.Fields {
				fields = append(fields, f.Field)
			}
			assert.Contains(t, fields, tt.field)

			scans, err := store.ListScans(context.Background(), 10)
			require.NoError(t, err)
			assert.Empty(t, scans)
		})
	}
}

func TestScan_NoTickers(t *testing.T) {
	s := newTestScanner(mock.NewDataProvider(scanClock), storage.NewMockStorage(), Config{})
	_, err := s.Scan(context.Background(), models.ScanRequest{})
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "tickers", verr.Fields[0].Field)
}

func TestWithDefaults(t *testing.T) {
	premium := 0.2
	defaultOI := int64(100)
	s := newTestScanner(mock.NewDataProvider(scanClock), storage.NewMockStorage(), Config{
		Defaults: models.ScanRequest{
			Tickers:            []string{"SPY", "QQQ"},
			StrategyFilterMode: models.FilterModerate,
			DTEStrategy:        models.DTE30to60,
			FFCalculationMode:  models.FFModeExEarnings,
			EarningsIVPremium:  &premium,
			MinOpenInterest:    &defaultOI,
		},
	})

	got := s.WithDefaults(models.ScanRequest{})
	assert.Equal(t, []string{"SPY", "QQQ"}, got.Tickers)
	assert.Equal(t, 20, got.TopN)
	assert.Equal(t, models.FilterModerate, got.StrategyFilterMode)
	assert.Equal(t, models.DTE30to60, got.DTEStrategy)
	assert.Equal(t, models.FFModeExEarnings, got.FFCalculationMode)
	assert.Equal(t, int64(100), got.MinOI())
	assert.InDelta(t, 0.2, got.Premium(), 1e-9)

	got = s.WithDefaults(models.ScanRequest{Tickers: []string{" pltr", "PLTR", "tsla", ""}, TopN: 5})
	assert.Equal(t, []string{"PLTR", "TSLA"}, got.Tickers)
	assert.Equal(t, 5, got.TopN)

	// an explicit zero floor is kept, not replaced by the default
	zero := int64(0)
	got = s.WithDefaults(models.ScanRequest{MinOpenInterest: &zero})
	require.NotNil(t, got.MinOpenInterest)
	assert.Equal(t, int64(0), got.MinOI())
}

func TestScan_PersistenceFailureStillReturnsResults(t *testing.T) {
	store := storage.NewMockStorage()
	store.SetSaveError(errors.New("disk full"))
	s := newTestScanner(mock.NewDataProvider(scanClock), store, Config{})

	resp, err := s.Scan(context.Background(), openRequest("PLTR", "TSLA"))
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Opportunities)
	assert.Contains(t, resp.PersistenceError, "disk full")
	assert.Contains(t, resp.PersistenceError, "save scan")
}

func TestScan_UsesIVHistory(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMockStorage()
	for i := 1; i <= 30; i++ {
		day := time.Date(2025, 6, 18, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -i)
		require.NoError(t, store.StoreIVReading(ctx, models.IVReading{
			Symbol:    "PLTR",
			Date:      day,
			IV:        float64(20 + i),
			Timestamp: day,
		}))
	}
	s := newTestScanner(mock.NewDataProvider(scanClock), store, Config{})

	resp, err := s.Scan(ctx, openRequest("PLTR", "TSLA"))
	require.NoError(t, err)

	var pltr, tsla int
	for _, o := range resp.Opportunities {
		switch o.Ticker {
		case "PLTR":
			pltr++
			require.NotNil(t, o.IVRank)
			assert.Equal(t, 30, o.IVRank.Readings)
			assert.InDelta(t, 21, o.IVRank.Low, 1e-9)
			assert.InDelta(t, 50, o.IVRank.High, 1e-9)
		case "TSLA":
			tsla++
			assert.Nil(t, o.IVRank)
		}
	}
	assert.Greater(t, pltr, 0)
	assert.Greater(t, tsla, 0)
}

// slowProvider blocks chain fetches for one ticker until the context ends.
type slowProvider struct {
	*mock.DataProvider
	slow string
}

func (p slowProvider) FetchOptionChain(ctx context.Context, ticker string, r marketdata.DateRange) ([]models.OptionChainEntry, error) {
	if ticker == p.slow {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return p.DataProvider.FetchOptionChain(ctx, ticker, r)
}

func TestScan_Timeout(t *testing.T) {
	provider := slowProvider{DataProvider: mock.NewDataProvider(scanClock), slow: "TSLA"}
	s := newTestScanner(provider, storage.NewMockStorage(), Config{Concurrency: 4, Timeout: 300 * time.Millisecond})

	resp, err := s.Scan(context.Background(), openRequest("PLTR", "TSLA", "AAPL"))
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, []string{"TSLA"}, resp.TimedOutTickers)
	assert.Empty(t, resp.FailedTickers)
	assert.Equal(t, 2, resp.TotalTickersScanned)
	for _, o := range resp.Opportunities {
		assert.NotEqual(t, "TSLA", o.Ticker)
	}
}

func TestScan_CallerCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newTestScanner(mock.NewDataProvider(scanClock), storage.NewMockStorage(), Config{})

	resp, err := s.Scan(ctx, openRequest("PLTR"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, resp.Success)
}

func TestLocalLimiter(t *testing.T) {
	unlimited := NewLocalLimiter(0)
	for range 100 {
		require.NoError(t, unlimited.Wait(context.Background(), providerKey))
	}

	limited := NewLocalLimiter(1)
	require.NoError(t, limited.Wait(context.Background(), providerKey))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, limited.Wait(ctx, providerKey))
}

// rateLimitedProvider always refuses chain fetches for one ticker.
type rateLimitedProvider struct {
	*mock.DataProvider
	limited string
	calls   atomic.Int32
}

func (p *rateLimitedProvider) FetchOptionChain(ctx context.Context, ticker string, r marketdata.DateRange) ([]models.OptionChainEntry, error) {
	if ticker == p.limited {
		p.calls.Add(1)
		return nil, fmt.Errorf("polygon: %w", models.ErrRateLimited)
	}
	return p.DataProvider.FetchOptionChain(ctx, ticker, r)
}

func TestScan_RateLimitExhaustedBecomesDataGap(t *testing.T) {
	provider := &rateLimitedProvider{DataProvider: mock.NewDataProvider(scanClock), limited: "TSLA"}
	s := newTestScanner(provider, storage.NewMockStorage(), Config{Concurrency: 3})

	resp, err := s.Scan(context.Background(), openRequest("PLTR", "TSLA", "AAPL"))
	require.NoError(t, err)

	assert.True(t, resp.Success)
	// one try plus MaxRetries=1
	assert.Equal(t, int32(2), provider.calls.Load())
	assert.Equal(t, 2, resp.TotalTickersScanned)
	assert.Empty(t, resp.TimedOutTickers)
	require.Len(t, resp.FailedTickers, 1)
	failed := resp.FailedTickers[0]
	assert.Equal(t, "TSLA", failed.Ticker)
	assert.True(t, failed.DataGap)
	assert.Contains(t, failed.Reason, "data gap for TSLA")
	assert.Contains(t, failed.Reason, models.ErrRateLimited.Error())

	require.NotEmpty(t, resp.Opportunities)
	tickers := map[string]bool{}
	for _, o := range resp.Opportunities {
		tickers[o.Ticker] = true
	}
	assert.False(t, tickers["TSLA"])
	assert.True(t, tickers["PLTR"] || tickers["AAPL"])
}

func TestScan_ScanDateIsUTC(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	// 22:30 in New York is already the next day in UTC
	instant := time.Date(2025, 6, 19, 2, 30, 0, 0, time.UTC)
	req := openRequest("PLTR")

	utcStore := storage.NewMockStorage()
	utc := newTestScanner(mock.NewDataProvider(scanClock), utcStore, Config{})
	utc.now = func() time.Time { return instant }
	localStore := storage.NewMockStorage()
	local := newTestScanner(mock.NewDataProvider(scanClock), localStore, Config{})
	local.now = func() time.Time { return instant.In(ny) }

	want, err := utc.Scan(context.Background(), req)
	require.NoError(t, err)
	got, err := local.Scan(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, want.Opportunities)
	assert.Equal(t, want.Opportunities, got.Opportunities)

	reading, err := localStore.GetLatestIVReading(context.Background(), "PLTR")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 19, 0, 0, 0, 0, time.UTC), reading.Date)
}
