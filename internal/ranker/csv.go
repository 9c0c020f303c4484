package ranker

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/eddiefleurent/forward_factor/internal/models"
)

// Probability and risk/reward come from the tier model, not from backtests,
// and their column names say so.
var csvHeader = []string{
	"ticker", "forward_factor", "signal",
	"front_date", "front_dte", "front_iv",
	"back_date", "back_dte", "back_iv",
	"forward_vol",
	"liquidity_score", "quality_score", "probability_model_estimate", "risk_reward_model_estimate",
	"position_size", "earnings_date",
}

func ffmt(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// WriteCSV writes opps in the given order with a header row.
func WriteCSV(w io.Writer, opps []models.Opportunity) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, o := range opps {
		var quality, prob, rr, size string
		if o.Quality != nil {
			quality = ffmt(o.Quality.Score)
			prob = ffmt(o.Quality.Probability)
			rr = ffmt(o.Quality.RiskReward)
			size = strconv.Itoa(o.Quality.PositionSize)
		}
		var liquidity string
		if o.Liquidity != nil {
			liquidity = ffmt(o.Liquidity.Score)
		}
		var earnings string
		if o.Events != nil && o.Events.EarningsDate != nil {
			earnings = o.Events.EarningsDate.Format(models.DateLayout)
		}
		row := []string{
			o.Ticker, ffmt(o.ForwardFactor), string(o.Signal),
			o.FrontExpiration.Format(models.DateLayout), strconv.Itoa(o.FrontDTE), ffmt(o.FrontIV),
			o.BackExpiration.Format(models.DateLayout), strconv.Itoa(o.BackDTE), ffmt(o.BackIV),
			ffmt(o.ForwardVol),
			liquidity, quality, prob, rr,
			size, earnings,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row for %s: %w", o.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
