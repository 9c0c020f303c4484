package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli"

	"github.com/eddiefleurent/forward_factor/internal/config"
	"github.com/eddiefleurent/forward_factor/internal/models"
	"github.com/eddiefleurent/forward_factor/internal/papertrade"
	"github.com/eddiefleurent/forward_factor/internal/query"
	"github.com/eddiefleurent/forward_factor/internal/ranker"
)

var Version = "dev"

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	app := cli.NewApp()
	app.Name = "ffscan"
	app.Usage = "Forward Factor calendar spread scanner"
	app.Version = Version

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Value:  "config.yaml",
			Usage:  "path to the YAML configuration file",
			EnvVar: "FF_CONFIG",
		},
	}

	app.Commands = []cli.Command{
		scanCMD,
		serveCMD,
		refreshCMD,
		closeCMD,
		payoffCMD,
		portfolioCMD,
		auditCMD,
	}
	return app
}

var (
	scanCMD = cli.Command{
		Name:      "scan",
		Usage:     "scan tickers for Forward Factor opportunities",
		Action:    scanAction,
		ArgsUsage: " ",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "tickers, t", Usage: "comma-separated tickers (default: scan.tickers)"},
			cli.IntFlag{Name: "top", Usage: "number of opportunities to return"},
			cli.Int64Flag{Name: "min-oi", Usage: "minimum straddle open interest per leg"},
			cli.StringFlag{Name: "filter-mode", Usage: "aggressive|moderate|balanced|minimal|none"},
			cli.StringFlag{Name: "dte", Usage: "30-90|30-60|60-90|all"},
			cli.StringFlag{Name: "ff-mode", Usage: "raw|ex-earnings"},
			cli.Float64Flag{Name: "premium", Usage: "earnings IV premium in [0,1)"},
			cli.Float64Flag{Name: "min-ff", Usage: "minimum signed FF"},
			cli.Float64Flag{Name: "max-ff", Usage: "maximum signed FF"},
			cli.StringFlag{Name: "sort", Usage: "ff_magnitude|quality|liquidity|dte|probability"},
			cli.StringFlag{Name: "query, q", Usage: `free-text filter, e.g. "sell signals with ff above 30 for $PLTR"`},
			cli.StringFlag{Name: "csv", Usage: "also write the opportunities to this CSV file"},
			cli.StringFlag{Name: "report", Usage: "also write a markdown report to this file"},
			cli.BoolFlag{Name: "json", Usage: "print the full response as JSON"},
		},
	}
	serveCMD = cli.Command{
		Name:   "serve",
		Usage:  "run the HTTP API and refresh paper trades periodically",
		Action: serveAction,
		Flags: []cli.Flag{
			cli.IntFlag{Name: "port, p", Usage: "listen port (default: dashboard.port)"},
			cli.BoolFlag{Name: "no-refresh", Usage: "disable the periodic paper trade refresh"},
		},
	}
	refreshCMD = cli.Command{
		Name:   "refresh",
		Usage:  "reprice open paper trades once",
		Action: refreshAction,
	}
	closeCMD = cli.Command{
		Name:      "close",
		Usage:     "close a paper trade",
		ArgsUsage: "TRADE_ID",
		Action:    closeAction,
		Flags: []cli.Flag{
			cli.Float64Flag{Name: "price", Usage: "absolute per-share exit price (default: reprice from spot)"},
			cli.StringFlag{Name: "reason", Usage: "exit reason"},
		},
	}
	payoffCMD = cli.Command{
		Name:      "payoff",
		Usage:     "analyze the payoff of a paper trade",
		ArgsUsage: "TRADE_ID",
		Action:    payoffAction,
		Flags: []cli.Flag{
			cli.Float64Flag{Name: "spot", Usage: "underlying price to analyze at"},
		},
	}
	portfolioCMD = cli.Command{
		Name:   "portfolio",
		Usage:  "print the paper portfolio summary",
		Action: portfolioAction,
	}
)

// withApp loads config, wires the app and tears it down after fn.
func withApp(c *cli.Context, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	if c.App.ErrWriter != nil {
		a.logger.SetOutput(c.App.ErrWriter)
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close resources")
		}
	}()
	return fn(ctx, a)
}

func splitTickers(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// scanRequestFromFlags builds a request. Unset flags stay zero so the
// scanner applies the configured defaults.
func scanRequestFromFlags(c *cli.Context) models.ScanRequest {
	req := models.ScanRequest{
		Tickers:            splitTickers(c.String("tickers")),
		TopN:               c.Int("top"),
		StrategyFilterMode: models.StrategyFilterMode(c.String("filter-mode")),
		DTEStrategy:        models.DTEStrategy(c.String("dte")),
		FFCalculationMode:  models.FFCalculationMode(c.String("ff-mode")),
		SortBy:             models.SortKey(c.String("sort")),
	}
	if c.IsSet("min-oi") {
		v := c.Int64("min-oi")
		req.MinOpenInterest = &v
	}
	if c.IsSet("premium") {
		v := c.Float64("premium")
		req.EarningsIVPremium = &v
	}
	if c.IsSet("min-ff") {
		v := c.Float64("min-ff")
		req.MinFF = &v
	}
	if c.IsSet("max-ff") {
		v := c.Float64("max-ff")
		req.MaxFF = &v
	}
	return req
}

func scanAction(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app) error {
		req := scanRequestFromFlags(c)
		var filters *models.SearchFilters
		if q := c.String("query"); q != "" {
			f := query.Parse(q)
			filters = &f
			if len(req.Tickers) == 0 {
				req.Tickers = f.Tickers
			}
		}

		resp, err := a.scanner.Scan(ctx, req)
		if err != nil {
			return err
		}
		if filters != nil {
			resp.Opportunities = ranker.Filter(resp.Opportunities, *filters)
		}

		if path := c.String("csv"); path != "" {
			if err := writeCSVFile(path, resp.Opportunities); err != nil {
				return err
			}
			a.logger.WithField("path", path).Info("Wrote opportunities CSV")
		}

		if path := c.String("report"); path != "" {
			if err := writeReportFile(path, resp, time.Now()); err != nil {
				return err
			}
			a.logger.WithField("path", path).Info("Wrote scan report")
		}

		if c.Bool("json") {
			return printJSON(c.App.Writer, resp)
		}
		printScan(c.App.Writer, resp)
		return nil
	})
}

func writeCSVFile(path string, opps []models.Opportunity) error {
	f, err := os.Create(path) // #nosec G304 -- user-chosen output path
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := ranker.WriteCSV(f, opps); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func writeReportFile(path string, resp models.ScanResponse, generated time.Time) error {
	f, err := os.Create(path) // #nosec G304 -- user-chosen output path
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := ranker.WriteMarkdown(f, resp, generated); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printScan(w io.Writer, resp models.ScanResponse) {
	fmt.Fprintf(w, "Scan %s: %d tickers scanned, %d opportunities (%d rejected)\n",
		resp.ScanID, resp.TotalTickersScanned, resp.TotalOpportunitiesFound, resp.RejectedCount)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TICKER\tSIGNAL\tFF%\tFRONT\tBACK\tFRONT IV\tBACK IV\tSTRIKE\tQUALITY\tLIQUIDITY\tEARNINGS")
	for _, o := range resp.Opportunities {
		var quality float64
		if o.Quality != nil {
			quality = o.Quality.Score
		}
		var liq string
		if o.Liquidity != nil {
			liq = string(o.Liquidity.Rating)
		}
		earnings := "-"
		if o.Events != nil && o.Events.EarningsDate != nil {
			earnings = o.Events.EarningsDate.Format(models.DateLayout)
		}
		fmt.Fprintf(tw, "%s\t%s\t%.1f\t%s (%dd)\t%s (%dd)\t%.1f\t%.1f\t%.2f\t%.1f\t%s\t%s\n",
			o.Ticker, o.Signal, o.ForwardFactor,
			o.FrontExpiration.Format(models.DateLayout), o.FrontDTE,
			o.BackExpiration.Format(models.DateLayout), o.BackDTE,
			o.FrontIV, o.BackIV, o.Strike, quality, liq, earnings)
	}
	_ = tw.Flush()

	for _, f := range resp.FailedTickers {
		fmt.Fprintf(w, "failed: %s: %s\n", f.Ticker, f.Reason)
	}
	if len(resp.TimedOutTickers) > 0 {
		fmt.Fprintf(w, "timed out: %s\n", strings.Join(resp.TimedOutTickers, ", "))
	}
	if resp.PersistenceError != "" {
		fmt.Fprintf(w, "warning: results not saved: %s\n", resp.PersistenceError)
	}
}

func refreshAction(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app) error {
		result, err := a.trades.Refresh(ctx)
		if err != nil {
			return err
		}
		return printJSON(c.App.Writer, result)
	})
}

func tradeID(c *cli.Context) (string, error) {
	id := c.Args().First()
	if id == "" {
		return "", fmt.Errorf("%s: TRADE_ID is required", c.Command.Name)
	}
	return id, nil
}

func closeAction(c *cli.Context) error {
	id, err := tradeID(c)
	if err != nil {
		return err
	}
	return withApp(c, func(ctx context.Context, a *app) error {
		req := papertrade.CloseRequest{Reason: c.String("reason")}
		if c.IsSet("price") {
			v := c.Float64("price")
			req.ExitPrice = &v
		}
		trade, err := a.trades.Close(ctx, id, req)
		if err != nil {
			return err
		}
		return printJSON(c.App.Writer, trade)
	})
}

func payoffAction(c *cli.Context) error {
	id, err := tradeID(c)
	if err != nil {
		return err
	}
	return withApp(c, func(ctx context.Context, a *app) error {
		var spot *float64
		if c.IsSet("spot") {
			v := c.Float64("spot")
			spot = &v
		}
		metrics, err := a.trades.Payoff(ctx, id, spot)
		if err != nil {
			return err
		}
		return printJSON(c.App.Writer, metrics)
	})
}

func portfolioAction(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app) error {
		summary, err := a.trades.Summary(ctx)
		if err != nil {
			return err
		}
		return printJSON(c.App.Writer, summary)
	})
}
