package models

// PortfolioSummary is computed on demand from all paper trades and is never
// stored as ground truth.
type PortfolioSummary struct {
	StartingCash   float64 `json:"starting_cash"`
	CashBalance    float64 `json:"cash_balance"`
	PositionsValue float64 `json:"positions_value"`
	TotalValue     float64 `json:"total_value"`
	RealizedPnL    float64 `json:"realized_pnl"`
	UnrealizedPnL  float64 `json:"unrealized_pnl"`
	TotalPnL       float64 `json:"total_pnl"`
	OpenTrades     int     `json:"open_trades"`
	StoppedTrades  int     `json:"stopped_trades"`
	ClosedTrades   int     `json:"closed_trades"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	WinRate        float64 `json:"win_rate"`
	AverageWin     float64 `json:"average_win"`
	AverageLoss    float64 `json:"average_loss"`
}

