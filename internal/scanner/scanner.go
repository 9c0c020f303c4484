// Package scanner runs the Forward Factor pipeline over a list of tickers:
// fetch, normalize, compute, score, annotate, rank and persist.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/forward_factor/internal/chain"
	"github.com/eddiefleurent/forward_factor/internal/events"
	"github.com/eddiefleurent/forward_factor/internal/liquidity"
	"github.com/eddiefleurent/forward_factor/internal/marketdata"
	"github.com/eddiefleurent/forward_factor/internal/models"
	"github.com/eddiefleurent/forward_factor/internal/quality"
	"github.com/eddiefleurent/forward_factor/internal/ranker"
	"github.com/eddiefleurent/forward_factor/internal/retry"
	"github.com/eddiefleurent/forward_factor/internal/storage"
	"github.com/eddiefleurent/forward_factor/internal/volatility"
)

const (
	// chainHorizonDays bounds how far out expirations are requested.
	chainHorizonDays = 200
	// ivReferenceMinDTE is the shortest expiration used for the daily IV reading.
	ivReferenceMinDTE = 7
	providerKey       = "market_data"
)

// Config holds scanner runtime settings.
type Config struct {
	Concurrency int
	Timeout     time.Duration
	Defaults    models.ScanRequest
}

// Scanner runs scans. It is safe for concurrent use.
type Scanner struct {
	provider marketdata.Provider
	store    storage.Interface
	retry    *retry.Client
	limiter  Limiter
	logger   *logrus.Logger
	cfg      Config
	validate *validator.Validate
	now      func() time.Time
	newID    func() string
}

// Option customizes a Scanner.
type Option func(*Scanner)

// WithLimiter meters every provider call.
func WithLimiter(l Limiter) Option {
	return func(s *Scanner) { s.limiter = l }
}

// WithRetry replaces the default retry client.
func WithRetry(c *retry.Client) Option {
	return func(s *Scanner) { s.retry = c }
}

// WithClock fixes the scan date source.
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) { s.now = now }
}

// New creates a Scanner.
func New(provider marketdata.Provider, store storage.Interface, cfg Config, logger *logrus.Logger, opts ...Option) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	s := &Scanner{
		provider: provider,
		store:    store,
		logger:   logger,
		cfg:      cfg,
		validate: newValidator(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retry == nil {
		s.retry = retry.NewClient(logger)
	}
	return s
}

// WithDefaults fills zero-valued request fields from the configured
// defaults and normalizes tickers (upper case, de-duplicated, in order).
func (s *Scanner) WithDefaults(req models.ScanRequest) models.ScanRequest {
	d := s.cfg.Defaults
	if len(req.Tickers) == 0 {
		req.Tickers = d.Tickers
	}
	if req.TopN == 0 {
		req.TopN = d.TopN
	}
	if req.TopN == 0 {
		req.TopN = ranker.DefaultTopN
	}
	if req.MinOpenInterest == nil {
		req.MinOpenInterest = d.MinOpenInterest
	}
	if req.MinFF == nil {
		req.MinFF = d.MinFF
	}
	if req.MaxFF == nil {
		req.MaxFF = d.MaxFF
	}
	if req.StrategyFilterMode == "" {
		req.StrategyFilterMode = d.StrategyFilterMode
	}
	if req.DTEStrategy == "" {
		req.DTEStrategy = d.DTEStrategy
	}
	if req.FFCalculationMode == "" {
		req.FFCalculationMode = d.FFCalculationMode
	}
	if req.EarningsIVPremium == nil {
		req.EarningsIVPremium = d.EarningsIVPremium
	}
	if req.SortBy == "" {
		req.SortBy = d.SortBy
	}
	if req.Order == "" {
		req.Order = d.Order
	}

	seen := make(map[string]bool, len(req.Tickers))
	tickers := make([]string, 0, len(req.Tickers))
	for _, t := range req.Tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tickers = append(tickers, t)
	}
	req.Tickers = tickers
	return req
}

// tickerOutcome is what one ticker's pipeline produced.
type tickerOutcome struct {
	ticker        string
	opportunities []models.Opportunity
	edgeCases     []models.EdgeCase
	currentIV     float64
	err           error
}

// Scan validates req, runs every ticker with bounded parallelism under the
// overall timeout, ranks the quality opportunities and persists the scan.
// Per-ticker failures never fail the scan. A persistence failure is reported
// in the response while the computed opportunities are still returned.
func (s *Scanner) Scan(ctx context.Context, req models.ScanRequest) (models.ScanResponse, error) {
	req = s.WithDefaults(req)
	if err := s.Validate(req); err != nil {
		return models.ScanResponse{Success: false, Opportunities: []models.Opportunity{}, Error: err.Error()}, err
	}

	started := s.now().UTC()
	scanDate := time.Date(started.Year(), started.Month(), started.Day(), 0, 0, 0, 0, time.UTC)
	log := s.logger.WithFields(logrus.Fields{
		"tickers":      len(req.Tickers),
		"dte_strategy": req.DTEStrategy,
		"filter_mode":  req.StrategyFilterMode,
		"ff_mode":      req.FFCalculationMode,
	})
	log.Info("Scan started")

	scanCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	fed := s.fedCalendar(scanCtx, scanDate)

	outcomes := make([]tickerOutcome, len(req.Tickers))
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)
	for i, ticker := range req.Tickers {
		g.Go(func() error {
			outcomes[i] = s.scanTicker(scanCtx, ticker, req, scanDate, fed)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return models.ScanResponse{Success: false, Opportunities: []models.Opportunity{}, Error: err.Error()}, err
	}

	resp := models.ScanResponse{Success: true}
	var candidates []models.Opportunity
	for _, out := range outcomes {
		if out.err != nil {
			if scanCtx.Err() != nil && (errors.Is(out.err, context.DeadlineExceeded) || errors.Is(out.err, context.Canceled)) {
				resp.TimedOutTickers = append(resp.TimedOutTickers, out.ticker)
				continue
			}
			resp.FailedTickers = append(resp.FailedTickers, models.TickerFailure{
				Ticker:  out.ticker,
				Reason:  out.err.Error(),
				DataGap: errors.Is(out.err, models.ErrDataGap),
			})
			continue
		}
		resp.TotalTickersScanned++
		resp.EdgeCases = append(resp.EdgeCases, out.edgeCases...)
		for _, o := range out.opportunities {
			if o.Quality != nil && o.Quality.IsQuality {
				candidates = append(candidates, o)
			} else {
				resp.RejectedCount++
				resp.Rejections = append(resp.Rejections, rejectionOf(o))
			}
		}
	}

	filters := req.Filters()
	resp.TotalOpportunitiesFound = len(ranker.Filter(candidates, filters))
	resp.Opportunities = ranker.Rank(candidates, filters)

	scan := models.Scan{
		ID:                 s.newID(),
		Timestamp:          started,
		Request:            req,
		TickersScanned:     resp.TotalTickersScanned,
		TotalOpportunities: resp.TotalOpportunitiesFound,
		Opportunities:      resp.Opportunities,
	}
	resp.ScanID = scan.ID
	if err := s.persist(ctx, scan, outcomes, started); err != nil {
		resp.PersistenceError = err.Error()
		log.WithError(err).Error("Scan results computed but not persisted")
	}

	log.WithFields(logrus.Fields{
		"scan_id":       resp.ScanID,
		"scanned":       resp.TotalTickersScanned,
		"failed":        len(resp.FailedTickers),
		"timed_out":     len(resp.TimedOutTickers),
		"opportunities": resp.TotalOpportunitiesFound,
		"rejected":      resp.RejectedCount,
		"elapsed":       s.now().Sub(started),
	}).Info("Scan complete")
	return resp, nil
}

// persist saves the scan and today's IV readings. Every write is attempted.
func (s *Scanner) persist(ctx context.Context, scan models.Scan, outcomes []tickerOutcome, at time.Time) error {
	var errs []error
	at = at.UTC()
	day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	if err := s.store.SaveScan(ctx, scan); err != nil {
		errs = append(errs, fmt.Errorf("save scan: %w", err))
	}
	for _, out := range outcomes {
		if out.err != nil || out.currentIV <= 0 {
			continue
		}
		reading := models.IVReading{Symbol: out.ticker, Date: day, IV: out.currentIV, Timestamp: at}
		if err := s.store.StoreIVReading(ctx, reading); err != nil {
			errs = append(errs, fmt.Errorf("store IV reading for %s: %w", out.ticker, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scanner) fedCalendar(ctx context.Context, scanDate time.Time) []time.Time {
	r := marketdata.DateRange{From: scanDate, To: scanDate.AddDate(0, 0, chainHorizonDays)}
	dates, err := retry.Do(ctx, s.retry, "fed calendar", func(ctx context.Context) ([]time.Time, error) {
		return s.provider.FetchFedCalendar(ctx, r)
	})
	if err != nil {
		s.logger.WithError(err).Warn("Fed calendar unavailable, continuing without Fed annotations")
		return nil
	}
	return dates
}

// call meters and retries one provider call.
func call[T any](ctx context.Context, s *Scanner, name string, fn func(context.Context) (T, error)) (T, error) {
	return retry.Do(ctx, s.retry, name, func(ctx context.Context) (T, error) {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx, providerKey); err != nil {
				var zero T
				return zero, err
			}
		}
		return fn(ctx)
	})
}

func (s *Scanner) scanTicker(ctx context.Context, ticker string, req models.ScanRequest, scanDate time.Time, fed []time.Time) tickerOutcome {
	out := tickerOutcome{ticker: ticker}
	if err := ctx.Err(); err != nil {
		out.err = err
		return out
	}
	log := s.logger.WithField("ticker", ticker)

	window := marketdata.DateRange{From: scanDate, To: scanDate.AddDate(0, 0, chainHorizonDays)}
	entries, err := call(ctx, s, "option chain "+ticker, func(ctx context.Context) ([]models.OptionChainEntry, error) {
		return s.provider.FetchOptionChain(ctx, ticker, window)
	})
	if err != nil {
		out.err = asGap(ctx, ticker, "option chain unavailable", err)
		log.WithError(out.err).Warn("Skipping ticker")
		return out
	}

	spot, err := call(ctx, s, "spot "+ticker, func(ctx context.Context) (float64, error) {
		return s.provider.FetchSpotPrice(ctx, ticker)
	})
	if err != nil || spot <= 0 {
		if ctx.Err() != nil {
			out.err = ctx.Err()
			return out
		}
		estimate, ok := chain.EstimateSpot(entries)
		if !ok {
			out.err = asGap(ctx, ticker, "no spot price and no deltas to estimate one", err)
			log.WithError(out.err).Warn("Skipping ticker")
			return out
		}
		log.WithError(err).WithField("estimate", estimate).Debug("Spot estimated from deltas")
		spot = estimate
	}

	summaries, err := chain.Normalize(ticker, entries, spot, scanDate)
	if err != nil {
		out.err = err
		log.WithError(err).Warn("Skipping ticker")
		return out
	}

	earnings, err := call(ctx, s, "earnings "+ticker, func(ctx context.Context) (*time.Time, error) {
		return s.provider.FetchEarningsDate(ctx, ticker)
	})
	if err != nil {
		if ctx.Err() != nil {
			out.err = ctx.Err()
			return out
		}
		log.WithError(err).Warn("Earnings date unavailable")
		earnings = nil
	}

	results, edgeCases, err := volatility.Compute(ticker, summaries, volatility.Params{
		Strategy:          req.DTEStrategy,
		Mode:              req.FFCalculationMode,
		EarningsIVPremium: req.Premium(),
		EarningsDate:      earnings,
		ScanDate:          scanDate,
	})
	if err != nil {
		out.err = err
		return out
	}
	out.edgeCases = edgeCases

	out.currentIV = referenceIV(summaries)
	ivRank := s.ivRank(ctx, ticker, out.currentIV, scanDate)

	byExp := make(map[time.Time]models.ExpirationSummary, len(summaries))
	for _, sum := range summaries {
		byExp[sum.Expiration] = sum
	}
	cfg := quality.Config{Mode: req.StrategyFilterMode, MinOpenInterest: req.MinOI()}
	for _, r := range results {
		front, back := byExp[r.FrontExpiration], byExp[r.BackExpiration]
		liq := liquidity.Assess(front, back)
		ev := events.Annotate(events.Window{
			ScanDate:        scanDate,
			FrontExpiration: r.FrontExpiration,
			BackExpiration:  r.BackExpiration,
		}, earnings, fed)
		q := quality.Evaluate(quality.Input{
			Result:          r,
			Liquidity:       liq,
			Strike:          front.ATMStrike,
			IVRank:          ivRank,
			EarningsInFront: ev.HasEarningsSoon,
			EarningsInTrade: ev.EarningsInTrade,
		}, cfg)

		opp := models.Opportunity{
			ID:                  models.OpportunityID(ticker, r.FrontExpiration, r.BackExpiration),
			ForwardFactorResult: r,
			StockPrice:          spot,
			Strike:              front.ATMStrike,
			FrontCallPrice:      front.ATMCallMid,
			BackCallPrice:       back.ATMCallMid,
			Liquidity:           &liq,
			Quality:             &q,
			Events:              &ev,
		}
		if ivRank != nil {
			rank := *ivRank
			opp.IVRank = &rank
		}
		out.opportunities = append(out.opportunities, opp)
	}

	log.WithFields(logrus.Fields{
		"pairs":      len(results),
		"edge_cases": len(edgeCases),
	}).Debug("Ticker scanned")
	return out
}

// ivRank reads the trailing IV history. Storage errors only drop the rank.
func (s *Scanner) ivRank(ctx context.Context, ticker string, current float64, scanDate time.Time) *models.IVRank {
	if current <= 0 {
		return nil
	}
	readings, err := s.store.GetIVReadings(ctx, ticker, scanDate.Add(-volatility.RankLookback), scanDate)
	if err != nil {
		s.logger.WithError(err).WithField("ticker", ticker).Warn("IV history unavailable")
		return nil
	}
	return volatility.Rank(current, readings, scanDate)
}

// referenceIV is the ATM IV of the nearest expiration at least a week out.
func referenceIV(summaries []models.ExpirationSummary) float64 {
	for _, sum := range summaries {
		if sum.DaysToExpiry >= ivReferenceMinDTE {
			return sum.ATMImpliedVol
		}
	}
	return 0
}

func rejectionOf(o models.Opportunity) models.Rejection {
	r := models.Rejection{
		OpportunityID: o.ID,
		Ticker:        o.Ticker,
		ForwardFactor: o.ForwardFactor,
		Signal:        o.Signal,
		Reasons:       []string{},
	}
	if o.Quality != nil {
		r.Reasons = append(r.Reasons, o.Quality.RejectionReasons...)
	}
	return r
}

// asGap turns an exhausted fetch into a DataGapError unless the scan itself
// ran out of time.
func asGap(ctx context.Context, ticker, reason string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return models.NewDataGap(ticker, reason, err)
}
