// Package papertrade opens, reprices and closes hypothetical calendar
// spreads and rolls them up into a portfolio summary.
package papertrade

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/forward_factor/internal/models"
	"github.com/eddiefleurent/forward_factor/internal/payoff"
	"github.com/eddiefleurent/forward_factor/internal/storage"
	"github.com/eddiefleurent/forward_factor/internal/util"
)

// SpotSource quotes the underlying. marketdata.Provider satisfies it.
type SpotSource interface {
	FetchSpotPrice(ctx context.Context, ticker string) (float64, error)
}

// Config holds paper trading defaults.
type Config struct {
	StartingCash      float64
	StopLossPercent   float64
	TakeProfitPercent float64
	Concurrency       int
}

// CreateRequest opens a trade from an opportunity. Actual* fields override
// the quoted values when UseActualPrices is set. ActualEntryPrice is the
// absolute per-share fill of the spread.
type CreateRequest struct {
	Opportunity       models.Opportunity `json:"opportunity"`
	Quantity          int                `json:"quantity"`
	StopLossPercent   float64            `json:"stop_loss_percent"`
	TakeProfitPercent float64            `json:"take_profit_percent"`
	UseActualPrices   bool               `json:"use_actual_prices"`
	ActualEntryPrice  *float64           `json:"actual_entry_price,omitempty"`
	ActualStockPrice  *float64           `json:"actual_stock_price,omitempty"`
	ActualFrontStrike *float64           `json:"actual_front_strike,omitempty"`
	ActualBackStrike  *float64           `json:"actual_back_strike,omitempty"`
}

// CloseRequest closes a trade. Without ExitPrice the spread is repriced
// from the current spot.
type CloseRequest struct {
	ExitPrice *float64 `json:"exit_price,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// RefreshResult summarizes one refresh pass.
type RefreshResult struct {
	Updated int                    `json:"updated"`
	Stopped []string               `json:"stopped,omitempty"`
	Failed  []models.TickerFailure `json:"failed,omitempty"`
}

// Service manages paper trades on top of a storage backend.
type Service struct {
	store  storage.Interface
	spots  SpotSource
	cfg    Config
	logger *logrus.Logger
	now    func() time.Time
	newID  func() string
}

// NewService creates a Service.
func NewService(store storage.Interface, spots SpotSource, cfg Config, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Service{
		store:  store,
		spots:  spots,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// signed turns an absolute spread price into the signed entry/exit value:
// a debit for SELL calendars, a credit for BUY reverse calendars.
func signed(signal models.Signal, price float64) float64 {
	price = math.Abs(price)
	if signal == models.SignalBuy {
		return -price
	}
	return price
}

func ptr(v float64) *float64 { return &v }

// Create builds and stores a new OPEN trade.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.PaperTrade, error) {
	opp := req.Opportunity
	verr := &models.ValidationError{}
	if strings.TrimSpace(opp.Ticker) == "" {
		verr.Add("opportunity.ticker", "is required")
	}
	if !opp.Signal.Valid() {
		verr.Add("opportunity.signal", "must be BUY or SELL")
	}
	if req.Quantity <= 0 {
		verr.Add("quantity", "must be > 0")
	}
	if req.StopLossPercent < 0 || req.StopLossPercent > 100 {
		verr.Add("stop_loss_percent", "must be in [0,100]")
	}
	if req.TakeProfitPercent < 0 {
		verr.Add("take_profit_percent", "must be >= 0")
	}
	if req.UseActualPrices {
		for field, v := range map[string]*float64{
			"actual_entry_price":  req.ActualEntryPrice,
			"actual_stock_price":  req.ActualStockPrice,
			"actual_front_strike": req.ActualFrontStrike,
			"actual_back_strike":  req.ActualBackStrike,
		} {
			if v != nil && *v <= 0 {
				verr.Add(field, "must be > 0")
			}
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	trade := &models.PaperTrade{
		ID:                s.newID(),
		OpportunityID:     opp.ID,
		Ticker:            strings.ToUpper(opp.Ticker),
		Signal:            opp.Signal,
		Status:            models.StatusOpen,
		Quantity:          req.Quantity,
		FrontStrike:       opp.Strike,
		BackStrike:        opp.Strike,
		FrontExpiration:   opp.FrontExpiration,
		BackExpiration:    opp.BackExpiration,
		EntryDate:         now,
		EntryFrontPrice:   opp.FrontCallPrice,
		EntryBackPrice:    opp.BackCallPrice,
		EntryStockPrice:   opp.StockPrice,
		EntryFrontIV:      opp.FrontIV,
		EntryBackIV:       opp.BackIV,
		EntryFF:           opp.ForwardFactor,
		StopLossPercent:   req.StopLossPercent,
		TakeProfitPercent: req.TakeProfitPercent,
	}
	if trade.StopLossPercent == 0 {
		trade.StopLossPercent = s.cfg.StopLossPercent
	}
	if trade.TakeProfitPercent == 0 {
		trade.TakeProfitPercent = s.cfg.TakeProfitPercent
	}

	if req.UseActualPrices {
		trade.UsedActualPrices = true
		repriced := false
		if req.ActualStockPrice != nil {
			trade.EntryStockPrice = *req.ActualStockPrice
			repriced = true
		}
		if req.ActualFrontStrike != nil {
			trade.FrontStrike = *req.ActualFrontStrike
			repriced = true
		}
		if req.ActualBackStrike != nil {
			trade.BackStrike = *req.ActualBackStrike
			repriced = true
		}
		if repriced {
			front, back := payoff.LegPrices(payoff.FromPaperTrade(trade), trade.EntryStockPrice, now)
			trade.EntryFrontPrice = util.Cents(front)
			trade.EntryBackPrice = util.Cents(back)
		}
	}

	trade.EntryNetPrice = models.SpreadValue(trade.Signal, trade.EntryFrontPrice, trade.EntryBackPrice)
	if req.UseActualPrices && req.ActualEntryPrice != nil {
		trade.EntryNetPrice = signed(trade.Signal, *req.ActualEntryPrice)
	}

	if err := s.store.CreatePaperTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("failed to save paper trade: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"trade_id": trade.ID,
		"ticker":   trade.Ticker,
		"signal":   trade.Signal,
		"quantity": trade.Quantity,
		"net":      trade.EntryNetPrice,
	}).Info("Paper trade opened")
	return trade, nil
}

// ExitSignalFor classifies P&L% against the trade's thresholds.
func ExitSignalFor(pnlPercent, stopLoss, takeProfit float64) models.ExitSignal {
	switch {
	case takeProfit > 0 && pnlPercent >= takeProfit:
		return models.ExitTakeProfit
	case stopLoss > 0 && pnlPercent <= -stopLoss:
		return models.ExitStopLoss
	case pnlPercent >= 0:
		return models.ExitGreen
	case pnlPercent > -stopLoss/2:
		return models.ExitAmber
	default:
		return models.ExitRed
	}
}

// reprice sets the live fields of t from spot at asOf.
func reprice(t *models.PaperTrade, spot float64, asOf time.Time) {
	pos := payoff.FromPaperTrade(t)
	front, back := payoff.LegPrices(pos, spot, asOf)
	pnl := util.Cents(t.PnL(front, back))
	pct := t.PnLPercent(pnl)
	theta := payoff.Theta(pos, spot, asOf) * models.SharesPerContract * float64(t.Quantity)
	updated := asOf

	t.CurrentStockPrice = ptr(spot)
	t.CurrentFrontPrice = ptr(util.Cents(front))
	t.CurrentBackPrice = ptr(util.Cents(back))
	t.UnrealizedPnL = ptr(pnl)
	t.UnrealizedPnLPercent = ptr(pct)
	t.ThetaDecay = ptr(util.Cents(theta))
	t.LastUpdated = &updated
	t.ExitSignal = ExitSignalFor(pct, t.StopLossPercent, t.TakeProfitPercent)
}

// RefreshTrade reprices one active trade and applies the stop-loss transition.
func (s *Service) RefreshTrade(ctx context.Context, id string, spot float64) (*models.PaperTrade, error) {
	asOf := s.now().UTC()
	return s.store.UpdatePaperTrade(ctx, id, func(t *models.PaperTrade) error {
		if !t.Status.IsActive() {
			return fmt.Errorf("paper trade %s is %s: %w", t.ID, t.Status, models.ErrInvalidTransition)
		}
		reprice(t, spot, asOf)
		if t.ExitSignal == models.ExitStopLoss && t.Status == models.StatusOpen {
			return t.Transition(models.StatusStopped, models.ConditionStopLossHit)
		}
		return nil
	})
}

// Refresh reprices every active trade, one spot fetch per ticker, with
// bounded parallelism. A ticker whose quote fails is reported and skipped.
func (s *Service) Refresh(ctx context.Context) (RefreshResult, error) {
	trades, err := s.store.ListPaperTrades(ctx)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("failed to list paper trades: %w", err)
	}

	byTicker := make(map[string][]*models.PaperTrade)
	for _, t := range trades {
		if t.Status.IsActive() {
			byTicker[t.Ticker] = append(byTicker[t.Ticker], t)
		}
	}

	var (
		mu     sync.Mutex
		result RefreshResult
	)
	fail := func(ticker string, err error) {
		mu.Lock()
		defer mu.Unlock()
		result.Failed = append(result.Failed, models.TickerFailure{Ticker: ticker, Reason: err.Error()})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for ticker, group := range byTicker {
		g.Go(func() error {
			log := s.logger.WithField("ticker", ticker)
			spot, err := s.spots.FetchSpotPrice(gctx, ticker)
			if err == nil && spot <= 0 {
				err = fmt.Errorf("non-positive spot %.4f", spot)
			}
			if err != nil {
				log.WithError(err).Warn("Failed to quote underlying, skipping refresh")
				fail(ticker, err)
				return nil
			}
			for _, t := range group {
				updated, err := s.RefreshTrade(gctx, t.ID, spot)
				if err != nil {
					log.WithError(err).WithField("trade_id", t.ID).Warn("Failed to refresh paper trade")
					fail(ticker, err)
					continue
				}
				mu.Lock()
				result.Updated++
				if updated.Status == models.StatusStopped && t.Status == models.StatusOpen {
					result.Stopped = append(result.Stopped, updated.ID)
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	sort.Strings(result.Stopped)
	sort.Slice(result.Failed, func(i, j int) bool {
		if result.Failed[i].Ticker != result.Failed[j].Ticker {
			return result.Failed[i].Ticker < result.Failed[j].Ticker
		}
		return result.Failed[i].Reason < result.Failed[j].Reason
	})
	s.logger.WithFields(logrus.Fields{
		"updated": result.Updated,
		"stopped": len(result.Stopped),
		"failed":  len(result.Failed),
	}).Info("Paper trade refresh complete")
	return result, ctx.Err()
}

// Close realizes P&L and moves the trade to CLOSED.
func (s *Service) Close(ctx context.Context, id string, req CloseRequest) (*models.PaperTrade, error) {
	current, err := s.store.GetPaperTrade(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return nil, fmt.Errorf("paper trade %s already closed: %w", id, models.ErrInvalidTransition)
	}

	var exitValue float64
	if req.ExitPrice != nil {
		if *req.ExitPrice < 0 {
			verr := &models.ValidationError{}
			verr.Add("exit_price", "must be >= 0")
			return nil, verr
		}
		exitValue = signed(current.Signal, *req.ExitPrice)
	} else {
		spot, err := s.spots.FetchSpotPrice(ctx, current.Ticker)
		if err != nil {
			return nil, fmt.Errorf("failed to quote %s for close: %w", current.Ticker, err)
		}
		exitValue = util.Cents(payoff.ValueAt(payoff.FromPaperTrade(current), spot, s.now().UTC()))
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "manual close"
	}
	exitAt := s.now().UTC()

	closed, err := s.store.UpdatePaperTrade(ctx, id, func(t *models.PaperTrade) error {
		if err := t.Transition(models.StatusClosed, models.ConditionClosed); err != nil {
			return err
		}
		realized := decimal.NewFromFloat(exitValue).
			Sub(decimal.NewFromFloat(t.EntryNetPrice)).
			Mul(decimal.NewFromFloat(models.SharesPerContract)).
			Mul(decimal.NewFromInt(int64(t.Quantity))).
			Round(2).InexactFloat64()
		t.ExitDate = &exitAt
		t.ExitPrice = ptr(exitValue)
		t.RealizedPnL = ptr(realized)
		t.ExitReason = reason
		t.UnrealizedPnL = nil
		t.UnrealizedPnLPercent = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"trade_id": closed.ID,
		"ticker":   closed.Ticker,
		"realized": *closed.RealizedPnL,
		"reason":   reason,
	}).Info("Paper trade closed")
	return closed, nil
}

// Payoff analyzes a stored trade. Without an override the last refreshed
// spot is used, then a live quote, then the entry stock price.
func (s *Service) Payoff(ctx context.Context, id string, spotOverride *float64) (payoff.Metrics, error) {
	t, err := s.store.GetPaperTrade(ctx, id)
	if err != nil {
		return payoff.Metrics{}, err
	}
	spot := t.EntryStockPrice
	switch {
	case spotOverride != nil:
		spot = *spotOverride
	case t.CurrentStockPrice != nil:
		spot = *t.CurrentStockPrice
	default:
		if live, err := s.spots.FetchSpotPrice(ctx, t.Ticker); err == nil && live > 0 {
			spot = live
		} else if err != nil {
			s.logger.WithError(err).WithField("ticker", t.Ticker).Debug("Using entry stock price for payoff")
		}
	}
	return payoff.Analyze(payoff.FromPaperTrade(t), spot, s.now().UTC()), nil
}

// Summary rolls every trade into a PortfolioSummary. Cash starts at
// StartingCash, pays entry debits, receives entry credits and exit values.
func (s *Service) Summary(ctx context.Context) (models.PortfolioSummary, error) {
	trades, err := s.store.ListPaperTrades(ctx)
	if err != nil {
		return models.PortfolioSummary{}, fmt.Errorf("failed to list paper trades: %w", err)
	}
	return Summarize(trades, s.cfg.StartingCash), nil
}

// Summarize is the pure rollup behind Summary.
func Summarize(trades []*models.PaperTrade, startingCash float64) models.PortfolioSummary {
	multiplier := decimal.NewFromFloat(models.SharesPerContract)
	cash := decimal.NewFromFloat(startingCash)
	positions := decimal.Zero
	realized := decimal.Zero
	unrealized := decimal.Zero
	wins, losses := decimal.Zero, decimal.Zero

	sum := models.PortfolioSummary{StartingCash: startingCash}
	for _, t := range trades {
		contracts := multiplier.Mul(decimal.NewFromInt(int64(t.Quantity)))
		cash = cash.Sub(decimal.NewFromFloat(t.EntryNetPrice).Mul(contracts))

		switch t.Status {
		case models.StatusClosed:
			sum.ClosedTrades++
			if t.ExitPrice != nil {
				cash = cash.Add(decimal.NewFromFloat(*t.ExitPrice).Mul(contracts))
			}
			if t.RealizedPnL != nil {
				pnl := decimal.NewFromFloat(*t.RealizedPnL)
				realized = realized.Add(pnl)
				if pnl.IsPositive() {
					sum.Wins++
					wins = wins.Add(pnl)
				} else {
					sum.Losses++
					losses = losses.Add(pnl)
				}
			}
		default:
			if t.Status == models.StatusStopped {
				sum.StoppedTrades++
			} else {
				sum.OpenTrades++
			}
			value := decimal.NewFromFloat(t.EntryNetPrice)
			if t.CurrentFrontPrice != nil && t.CurrentBackPrice != nil {
				value = decimal.NewFromFloat(models.SpreadValue(t.Signal, *t.CurrentFrontPrice, *t.CurrentBackPrice))
			}
			positions = positions.Add(value.Mul(contracts))
			if t.UnrealizedPnL != nil {
				unrealized = unrealized.Add(decimal.NewFromFloat(*t.UnrealizedPnL))
			}
		}
	}

	sum.CashBalance = cash.Round(2).InexactFloat64()
	sum.PositionsValue = positions.Round(2).InexactFloat64()
	sum.TotalValue = cash.Add(positions).Round(2).InexactFloat64()
	sum.RealizedPnL = realized.Round(2).InexactFloat64()
	sum.UnrealizedPnL = unrealized.Round(2).InexactFloat64()
	sum.TotalPnL = realized.Add(unrealized).Round(2).InexactFloat64()
	if closed := sum.Wins + sum.Losses; closed > 0 {
		sum.WinRate = decimal.NewFromInt(int64(sum.Wins)).
			Div(decimal.NewFromInt(int64(closed))).
			Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
	}
	if sum.Wins > 0 {
		sum.AverageWin = wins.Div(decimal.NewFromInt(int64(sum.Wins))).Round(2).InexactFloat64()
	}
	if sum.Losses > 0 {
		sum.AverageLoss = losses.Div(decimal.NewFromInt(int64(sum.Losses))).Round(2).InexactFloat64()
	}
	return sum
}
