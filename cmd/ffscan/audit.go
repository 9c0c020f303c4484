package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/urfave/cli"

	"github.com/eddiefleurent/forward_factor/internal/models"
)

var auditCMD = cli.Command{
	Name:   "audit",
	Usage:  "check stored paper trades for inconsistent or stale state",
	Action: auditAction,
	Flags: []cli.Flag{
		cli.BoolFlag{Name: "json", Usage: "output results as JSON"},
	},
}

// staleRefresh is how old a live price may get before an active trade is flagged.
const staleRefresh = 24 * time.Hour

// AuditIssue is one problem found in stored trades.
type AuditIssue struct {
	TradeID string `json:"trade_id"`
	Ticker  string `json:"ticker"`
	Problem string `json:"problem"`
}

// AuditReport summarizes stored trades and the issues found.
type AuditReport struct {
	Trades  int          `json:"trades"`
	Open    int          `json:"open"`
	Stopped int          `json:"stopped"`
	Closed  int          `json:"closed"`
	Issues  []AuditIssue `json:"issues"`
}

// auditTrades checks every trade's internal consistency plus the
// lifecycle problems a refresh loop would not fix by itself.
func auditTrades(trades []*models.PaperTrade, now time.Time) AuditReport {
	report := AuditReport{Trades: len(trades), Issues: []AuditIssue{}}
	add := func(t *models.PaperTrade, format string, args ...any) {
		report.Issues = append(report.Issues, AuditIssue{TradeID: t.ID, Ticker: t.Ticker, Problem: fmt.Sprintf(format, args...)})
	}

	activeByOpportunity := make(map[string][]string)
	for _, t := range trades {
		switch t.Status {
		case models.StatusOpen:
			report.Open++
		case models.StatusStopped:
			report.Stopped++
		case models.StatusClosed:
			report.Closed++
		}

		if err := t.ValidateState(); err != nil {
			add(t, "invalid state: %v", err)
		}
		if t.Status.IsTerminal() {
			continue
		}

		if models.DaysBetween(now, t.FrontExpiration) < 0 {
			add(t, "front leg expired on %s but the trade is still %s", t.FrontExpiration.Format(models.DateLayout), t.Status)
		}
		switch {
		case t.LastUpdated == nil:
			add(t, "never refreshed")
		case now.Sub(*t.LastUpdated) > staleRefresh:
			add(t, "last refreshed %s ago", now.Sub(*t.LastUpdated).Round(time.Minute))
		}
		if t.Status == models.StatusStopped {
			add(t, "stop loss hit, waiting to be closed")
		}
		if t.OpportunityID != "" {
			activeByOpportunity[t.OpportunityID] = append(activeByOpportunity[t.OpportunityID], t.ID)
		}
	}

	ids := make([]string, 0, len(activeByOpportunity))
	for id, tradeIDs := range activeByOpportunity {
		if len(tradeIDs) > 1 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		report.Issues = append(report.Issues, AuditIssue{
			TradeID: activeByOpportunity[id][0],
			Problem: fmt.Sprintf("%d active trades share opportunity %s", len(activeByOpportunity[id]), id),
		})
	}
	return report
}

func printAudit(w io.Writer, r AuditReport) {
	fmt.Fprintf(w, "Trades: %d (open %d, stopped %d, closed %d)\n", r.Trades, r.Open, r.Stopped, r.Closed)
	if len(r.Issues) == 0 {
		fmt.Fprintln(w, "No issues detected.")
		return
	}
	fmt.Fprintln(w, "POTENTIAL ISSUES FOUND:")
	for i, issue := range r.Issues {
		fmt.Fprintf(w, "  %d. %s %s: %s\n", i+1, issue.TradeID, issue.Ticker, issue.Problem)
	}
}

func auditAction(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app) error {
		trades, err := a.store.ListPaperTrades(ctx)
		if err != nil {
			return err
		}
		report := auditTrades(trades, time.Now().UTC())
		if c.Bool("json") {
			return printJSON(c.App.Writer, report)
		}
		printAudit(c.App.Writer, report)
		return nil
	})
}
