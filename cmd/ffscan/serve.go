package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/forward_factor/internal/dashboard"
	"github.com/eddiefleurent/forward_factor/internal/papertrade"
)

// refresher reprices open paper trades on a fixed interval.
type refresher struct {
	trades   *papertrade.Service
	interval time.Duration
	logger   *logrus.Logger
}

// Run refreshes once immediately, then on every tick until ctx is done.
func (r *refresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.cycle(ctx)
		}
	}
}

func (r *refresher) cycle(ctx context.Context) {
	result, err := r.trades.Refresh(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.WithError(err).Error("Paper trade refresh failed")
		}
		return
	}
	r.logger.WithFields(logrus.Fields{
		"updated": result.Updated,
		"stopped": len(result.Stopped),
		"failed":  len(result.Failed),
	}).Debug("Paper trade refresh cycle complete")
}

func serveAction(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app) error {
		port := a.cfg.Dashboard.Port
		if c.IsSet("port") {
			port = c.Int("port")
		}
		server := dashboard.NewServer(dashboard.Config{
			Port:           port,
			AuthToken:      a.cfg.Dashboard.AuthToken,
			RequestTimeout: a.cfg.ScanTimeout() + 30*time.Second,
		}, a.scanner, a.trades, a.store, a.logger)
		if a.cfg.Dashboard.AuthToken == "" {
			a.logger.Warn("dashboard.auth_token not set, API is unauthenticated")
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			a.logger.Info("Shutdown signal received, stopping server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
		if !c.Bool("no-refresh") {
			r := &refresher{trades: a.trades, interval: a.cfg.RefreshInterval(), logger: a.logger}
			g.Go(func() error { return r.Run(gctx) })
		}

		if err := g.Wait(); err != nil {
			return err
		}
		a.logger.Info("Server stopped")
		return nil
	})
}
