package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// SharesPerContract is the standard equity option multiplier.
const SharesPerContract = 100.0

// ExitSignal is the traffic-light status of an open paper trade.
type ExitSignal string

const (
	ExitGreen      ExitSignal = "GREEN"
	ExitAmber      ExitSignal = "AMBER"
	ExitRed        ExitSignal = "RED"
	ExitTakeProfit ExitSignal = "TAKE_PROFIT"
	ExitStopLoss   ExitSignal = "STOP_LOSS"
)

// PaperTrade is a hypothetical calendar spread opened from an opportunity.
// Live fields are nil until the first refresh; exit fields are nil until close.
// Prices are per share; P&L figures are in dollars for the whole position.
type PaperTrade struct {
	ID            string      `json:"id"`
	OpportunityID string      `json:"opportunity_id,omitempty"`
	Ticker        string      `json:"ticker"`
	Signal        Signal      `json:"signal"`
	Status        TradeStatus `json:"status"`
	Quantity      int         `json:"quantity"`

	FrontStrike     float64   `json:"front_strike"`
	BackStrike      float64   `json:"back_strike"`
	FrontExpiration time.Time `json:"front_expiration"`
	BackExpiration  time.Time `json:"back_expiration"`

	EntryDate        time.Time `json:"entry_date"`
	EntryNetPrice    float64   `json:"entry_net_price"`
	EntryFrontPrice  float64   `json:"entry_front_price"`
	EntryBackPrice   float64   `json:"entry_back_price"`
	EntryStockPrice  float64   `json:"entry_stock_price"`
	EntryFrontIV     float64   `json:"entry_front_iv"`
	EntryBackIV      float64   `json:"entry_back_iv"`
	EntryFF          float64   `json:"entry_forward_factor"`
	UsedActualPrices bool      `json:"used_actual_prices"`

	StopLossPercent   float64 `json:"stop_loss_percent"`
	TakeProfitPercent float64 `json:"take_profit_percent"`

	CurrentStockPrice    *float64   `json:"current_stock_price,omitempty"`
	CurrentFrontPrice    *float64   `json:"current_front_price,omitempty"`
	CurrentBackPrice     *float64   `json:"current_back_price,omitempty"`
	UnrealizedPnL        *float64   `json:"unrealized_pnl,omitempty"`
	UnrealizedPnLPercent *float64   `json:"unrealized_pnl_percent,omitempty"`
	ThetaDecay           *float64   `json:"theta_decay,omitempty"`
	LastUpdated          *time.Time `json:"last_updated,omitempty"`
	ExitSignal           ExitSignal `json:"exit_signal,omitempty"`

	ExitDate    *time.Time `json:"exit_date,omitempty"`
	ExitPrice   *float64   `json:"exit_price,omitempty"`
	RealizedPnL *float64   `json:"realized_pnl,omitempty"`
	ExitReason  string     `json:"exit_reason,omitempty"`
}

// SpreadValue is the signed per-share value of the position given leg prices:
// back minus front for a SELL (long back), front minus back for a BUY.
func SpreadValue(signal Signal, front, back float64) float64 {
	if signal == SignalBuy {
		return front - back
	}
	return back - front
}

// EntryValue is the signed per-share value at entry: positive for a debit
// paid, negative for a credit received.
func (p *PaperTrade) EntryValue() float64 {
	return p.EntryNetPrice
}

// PnL returns dollar P&L for the position at the given leg prices.
func (p *PaperTrade) PnL(front, back float64) float64 {
	return (SpreadValue(p.Signal, front, back) - p.EntryValue()) * SharesPerContract * float64(p.Quantity)
}

// PnLPercent returns P&L as a percentage of the entry capital at risk.
func (p *PaperTrade) PnLPercent(pnl float64) float64 {
	denom := math.Abs(p.EntryNetPrice * SharesPerContract * float64(p.Quantity))
	if denom == 0 {
		return 0
	}
	return pnl / denom * 100
}

// DTE returns days to front expiration as of now, clamped to 0.
func (p *PaperTrade) DTE(now time.Time) int {
	d := DaysBetween(now, p.FrontExpiration)
	if d < 0 {
		return 0
	}
	return d
}

// Transition moves the trade to a new status
func (p *PaperTrade) Transition(to TradeStatus, condition string) error {
	if err := CheckTransition(p.Status, to, condition); err != nil {
		return fmt.Errorf("paper trade %s status transition failed: %w", p.ID, err)
	}
	p.Status = to
	return nil
}

// Clone returns a deep copy so callers never share pointer fields.
func (p *PaperTrade) Clone() *PaperTrade {
	if p == nil {
		return nil
	}
	c := *p
	c.CurrentStockPrice = cloneFloat(p.CurrentStockPrice)
	c.CurrentFrontPrice = cloneFloat(p.CurrentFrontPrice)
	c.CurrentBackPrice = cloneFloat(p.CurrentBackPrice)
	c.UnrealizedPnL = cloneFloat(p.UnrealizedPnL)
	c.UnrealizedPnLPercent = cloneFloat(p.UnrealizedPnLPercent)
	c.ThetaDecay = cloneFloat(p.ThetaDecay)
	c.ExitPrice = cloneFloat(p.ExitPrice)
	c.RealizedPnL = cloneFloat(p.RealizedPnL)
	c.LastUpdated = cloneTime(p.LastUpdated)
	c.ExitDate = cloneTime(p.ExitDate)
	return &c
}

// ValidateState ensures the trade fields are consistent with its status
func (p *PaperTrade) ValidateState() error {
	if !p.Status.Valid() {
		return fmt.Errorf("paper trade %s: unknown status %q", p.ID, p.Status)
	}
	if !p.Signal.Valid() {
		return fmt.Errorf("paper trade %s: unknown signal %q", p.ID, p.Signal)
	}
	if p.Quantity <= 0 {
		return fmt.Errorf("paper trade %s in status %s: Quantity must be > 0 (current: %d)",
			p.ID, p.Status, p.Quantity)
	}
	if p.EntryDate.IsZero() {
		return fmt.Errorf("paper trade %s in status %s: EntryDate must be set", p.ID, p.Status)
	}
	if !p.FrontExpiration.Before(p.BackExpiration) {
		return fmt.Errorf("paper trade %s: front expiration %s must be before back expiration %s",
			p.ID, p.FrontExpiration.Format(DateLayout), p.BackExpiration.Format(DateLayout))
	}

	switch p.Status {
	case StatusOpen, StatusStopped:
		if p.ExitDate != nil {
			return fmt.Errorf("paper trade %s in status %s: ExitDate must be nil for active trades (current: %v)",
				p.ID, p.Status, *p.ExitDate)
		}
		if p.RealizedPnL != nil {
			return fmt.Errorf("paper trade %s in status %s: RealizedPnL must be nil for active trades", p.ID, p.Status)
		}
		if strings.TrimSpace(p.ExitReason) != "" && p.Status == StatusOpen {
			return fmt.Errorf("paper trade %s in status %s: ExitReason must be empty (current: %s)",
				p.ID, p.Status, p.ExitReason)
		}
	case StatusClosed:
		if p.ExitDate == nil || p.ExitPrice == nil || p.RealizedPnL == nil {
			return fmt.Errorf("paper trade %s in status %s: exit date, price and realized P&L must be set",
				p.ID, p.Status)
		}
		if p.ExitDate.Before(p.EntryDate) {
			return fmt.Errorf("paper trade %s in status %s: EntryDate (%v) must not be after ExitDate (%v)",
				p.ID, p.Status, p.EntryDate, *p.ExitDate)
		}
	}
	return nil
}

// DaysBetween returns whole calendar days from `from` to `to` (UTC dates).
func DaysBetween(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(math.Round(t.Sub(f).Hours() / 24))
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
