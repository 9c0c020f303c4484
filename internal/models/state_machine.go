package models

import (
	"fmt"
)

// TradeStatus represents the lifecycle status of a paper trade
type TradeStatus string

const (
	StatusOpen    TradeStatus = "OPEN"    // Position tracked and repriced
	StatusStopped TradeStatus = "STOPPED" // Stop loss breached, awaiting close
	StatusClosed  TradeStatus = "CLOSED"  // Terminal
)

// Valid returns true if the TradeStatus is one of the defined constants
func (s TradeStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusStopped, StatusClosed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible.
func (s TradeStatus) IsTerminal() bool {
	return s == StatusClosed
}

// IsActive reports whether the trade still gets price refreshes.
func (s TradeStatus) IsActive() bool {
	return s == StatusOpen || s == StatusStopped
}

const (
	ConditionStopLossHit = "stop_loss_hit"
	ConditionClosed      = "closed"
)

// StatusTransition defines valid status transitions
type StatusTransition struct {
	From        TradeStatus
	To          TradeStatus
	Condition   string
	Description string
}

// ValidTransitions lists every allowed paper-trade transition.
var ValidTransitions = []StatusTransition{
	{StatusOpen, StatusStopped, ConditionStopLossHit, "Unrealized loss reached the stop-loss threshold"},
	{StatusOpen, StatusClosed, ConditionClosed, "Position closed by the user"},
	{StatusStopped, StatusClosed, ConditionClosed, "Stopped position closed by the user"},
}

// CheckTransition returns ErrInvalidTransition when from -> to is not in
// ValidTransitions. An empty condition matches any condition.
func CheckTransition(from, to TradeStatus, condition string) error {
	for _, tr := range ValidTransitions {
		if tr.From != from || tr.To != to {
			continue
		}
		if condition == "" || condition == tr.Condition {
			return nil
		}
	}
	return fmt.Errorf("%w: from %s to %s with condition '%s'", ErrInvalidTransition, from, to, condition)
}

// Description returns a human-readable description of the status
func (s TradeStatus) Description() string {
	switch s {
	case StatusOpen:
		return "Open paper position, repriced on every refresh"
	case StatusStopped:
		return "Stop loss breached, still repriced until closed"
	case StatusClosed:
		return "Closed with realized P&L"
	default:
		return "Unknown status"
	}
}
