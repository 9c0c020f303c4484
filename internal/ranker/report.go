package ranker

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/eddiefleurent/forward_factor/internal/models"
)

// maxRejectionsPerCategory bounds the rejected list printed per category.
const maxRejectionsPerCategory = 5

// Rejection categories, in report order.
const (
	CategoryFFTooLow      = "Forward Factor Too Low"
	CategoryOpenInterest  = "Insufficient Open Interest"
	CategoryOtherRejected = "Other"
)

// RejectionCategory groups a rejection by its first reason.
func RejectionCategory(r models.Rejection) string {
	if len(r.Reasons) == 0 {
		return CategoryOtherRejected
	}
	switch reason := r.Reasons[0]; {
	case strings.HasPrefix(reason, "|FF|"):
		return CategoryFFTooLow
	case strings.HasPrefix(reason, "min straddle OI"):
		return CategoryOpenInterest
	default:
		return CategoryOtherRejected
	}
}

// WriteMarkdown renders a scan as a markdown report: summary, one section
// per ranked opportunity, rejected setups by category and a disclaimer.
func WriteMarkdown(w io.Writer, resp models.ScanResponse, generated time.Time) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# Forward Factor Scan Report\n\n")
	fmt.Fprintf(&b, "**Date**: %s  \n", generated.Format("Monday, January 2, 2006"))
	fmt.Fprintf(&b, "**Scan ID**: %s  \n", resp.ScanID)
	fmt.Fprintf(&b, "**Generated**: %s\n\n", generated.Format("15:04 MST"))

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- **Tickers Scanned**: %d\n", resp.TotalTickersScanned)
	fmt.Fprintf(&b, "- **Quality Setups Found**: %d (showing %d)\n", resp.TotalOpportunitiesFound, len(resp.Opportunities))
	fmt.Fprintf(&b, "- **Setups Rejected**: %d\n", resp.RejectedCount)
	if len(resp.FailedTickers) > 0 {
		failed := make([]string, 0, len(resp.FailedTickers))
		for _, f := range resp.FailedTickers {
			failed = append(failed, f.Ticker)
		}
		fmt.Fprintf(&b, "- **Failed Tickers**: %s\n", strings.Join(failed, ", "))
	}
	if len(resp.TimedOutTickers) > 0 {
		fmt.Fprintf(&b, "- **Timed Out Tickers**: %s\n", strings.Join(resp.TimedOutTickers, ", "))
	}
	b.WriteString("\n")

	if len(resp.Opportunities) == 0 {
		b.WriteString("### No Quality Setups Found\n\n")
		b.WriteString("Every candidate failed the quality filters for this scan.\n")
	} else {
		b.WriteString("# Recommended Trades\n")
		for i, o := range resp.Opportunities {
			writeOpportunity(&b, i+1, o)
		}
	}

	writeRejections(&b, resp.Rejections)
	b.WriteString(disclaimer)

	_, err := io.WriteString(w, b.String())
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func writeOpportunity(b *strings.Builder, rank int, o models.Opportunity) {
	fmt.Fprintf(b, "\n---\n\n## %d. %s - %s Signal\n\n", rank, o.Ticker, o.Signal)
	if q := o.Quality; q != nil {
		fmt.Fprintf(b, "**Rating**: %d/10  \n", q.Rating)
		fmt.Fprintf(b, "**Forward Factor**: %+.1f%%  \n", o.ForwardFactor)
		fmt.Fprintf(b, "**Quality Score**: %.1f  \n", q.Score)
		fmt.Fprintf(b, "**Probability (model estimate)**: %.0f%%  \n", q.Probability)
		fmt.Fprintf(b, "**Risk/Reward (model estimate)**: %.1f:1  \n", q.RiskReward)
		fmt.Fprintf(b, "**Suggested Size**: %d contracts\n\n", q.PositionSize)
	} else {
		fmt.Fprintf(b, "**Forward Factor**: %+.1f%%\n\n", o.ForwardFactor)
	}

	b.WriteString("| Parameter | Front | Back |\n|---|---|---|\n")
	fmt.Fprintf(b, "| Expiration | %s | %s |\n", o.FrontExpiration.Format(models.DateLayout), o.BackExpiration.Format(models.DateLayout))
	fmt.Fprintf(b, "| DTE | %d | %d |\n", o.FrontDTE, o.BackDTE)
	fmt.Fprintf(b, "| Implied Vol | %.1f%% | %.1f%% |\n", o.FrontIV, o.BackIV)
	fmt.Fprintf(b, "| Forward Vol | %.1f%% | - |\n", o.ForwardVol)
	if l := o.Liquidity; l != nil {
		fmt.Fprintf(b, "| Straddle OI | %d | %d |\n", l.Front.StraddleOI, l.Back.StraddleOI)
		fmt.Fprintf(b, "\n**Liquidity**: %.1f/10 (%s)\n", l.Score, l.Rating)
	}

	structure := "NORMAL (front IV < back IV)"
	if o.FrontIV > o.BackIV {
		structure = "INVERTED (front IV > back IV)"
	}
	fmt.Fprintf(b, "\n**Term Structure**: %s\n", structure)

	if q := o.Quality; q != nil {
		if q.Thesis != "" {
			fmt.Fprintf(b, "\n### Thesis\n\n%s\n", q.Thesis)
		}
		if q.TradeStructure != "" {
			fmt.Fprintf(b, "\n### Trade Structure\n\n%s\n", q.TradeStructure)
		}
	}

	var warnings []string
	if o.Quality != nil {
		warnings = append(warnings, o.Quality.ExecutionWarnings...)
	}
	if o.Events != nil {
		warnings = append(warnings, o.Events.Warnings...)
	}
	if len(warnings) > 0 {
		b.WriteString("\n### Warnings\n\n")
		for _, w := range warnings {
			fmt.Fprintf(b, "- %s\n", w)
		}
	}
}

func writeRejections(b *strings.Builder, rejections []models.Rejection) {
	if len(rejections) == 0 {
		return
	}
	grouped := make(map[string][]models.Rejection)
	for _, r := range rejections {
		c := RejectionCategory(r)
		grouped[c] = append(grouped[c], r)
	}

	b.WriteString("\n---\n\n## Rejected Setups\n")
	for _, category := range []string{CategoryFFTooLow, CategoryOpenInterest, CategoryOtherRejected} {
		items := grouped[category]
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(b, "\n### %s (%d)\n\n", category, len(items))
		for i, r := range items {
			if i == maxRejectionsPerCategory {
				fmt.Fprintf(b, "- *...and %d more*\n", len(items)-maxRejectionsPerCategory)
				break
			}
			reason := "no reason recorded"
			if len(r.Reasons) > 0 {
				reason = strings.Join(r.Reasons, "; ")
			}
			fmt.Fprintf(b, "- **%s** (FF: %+.1f%%): %s\n", r.Ticker, r.ForwardFactor, reason)
		}
	}
}

const disclaimer = `
---

## Disclaimer

This report is for educational and informational purposes only. It is not financial advice.

- Probability and risk/reward figures are **model estimates** from fixed Forward Factor tiers. They are not measured backtest statistics.
- Verify earnings dates and option liquidity before entering any trade.
- Options carry significant risk of loss. Paper trade first.
`
