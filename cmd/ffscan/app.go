package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	cacheredis "github.com/eddiefleurent/forward_factor/internal/cache/redis"
	"github.com/eddiefleurent/forward_factor/internal/config"
	"github.com/eddiefleurent/forward_factor/internal/marketdata"
	"github.com/eddiefleurent/forward_factor/internal/mock"
	"github.com/eddiefleurent/forward_factor/internal/papertrade"
	"github.com/eddiefleurent/forward_factor/internal/retry"
	"github.com/eddiefleurent/forward_factor/internal/scanner"
	"github.com/eddiefleurent/forward_factor/internal/storage"
	"github.com/eddiefleurent/forward_factor/internal/storage/postgres"
)

// app holds the wired components shared by every command.
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	store    storage.Interface
	provider marketdata.Provider
	scanner  *scanner.Scanner
	trades   *papertrade.Service
	closers  []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, logger: cfg.NewLogger()}

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	var rc *cacheredis.Client
	if cfg.Cache.RedisAddr != "" {
		rc, err = cacheredis.New(ctx, cacheredis.ClientConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err != nil {
			a.logger.WithError(err).Warn("Redis unavailable, using in-process rate limiting and no earnings cache")
			rc = nil
		} else {
			a.closers = append(a.closers, rc.Close)
		}
	}

	opts := []scanner.Option{
		scanner.WithRetry(retry.NewClient(a.logger, retry.Config{
			MaxRetries:     cfg.Provider.MaxRetries,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
			Timeout:        cfg.ScanTimeout(),
		})),
	}

	if cfg.IsLive() {
		a.provider = liveProvider(cfg, rc, a.logger)
		if rc != nil {
			opts = append(opts, scanner.WithLimiter(cacheredis.NewRateLimiter(rc, cfg.Provider.RequestsPerMinute, time.Minute, time.Now)))
		} else {
			opts = append(opts, scanner.WithLimiter(scanner.NewLocalLimiter(cfg.Provider.RequestsPerMinute)))
		}
		a.logger.Info("Using live market data")
	} else {
		a.provider = mock.NewDataProvider(time.Now())
		a.logger.Info("Using synthetic market data")
	}

	a.scanner = scanner.New(a.provider, a.store, scanner.Config{
		Concurrency: cfg.Scan.Concurrency,
		Timeout:     cfg.ScanTimeout(),
		Defaults:    cfg.DefaultScanRequest(),
	}, a.logger, opts...)

	a.trades = papertrade.NewService(a.store, a.provider, papertrade.Config{
		StartingCash:      cfg.Paper.StartingCash,
		StopLossPercent:   cfg.Paper.StopLossPct,
		TakeProfitPercent: cfg.Paper.TakeProfitPct,
		Concurrency:       cfg.Paper.RefreshConcurrency,
	}, a.logger)

	return a, nil
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.Interface, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		store, err := postgres.Open(ctx, postgres.ClientConfig{DSN: cfg.Storage.PostgresDSN})
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres storage: %w", err)
		}
		return store, nil
	default:
		store, err := storage.NewStorage(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage %s: %w", cfg.Storage.Path, err)
		}
		return store, nil
	}
}

// liveProvider chains Polygon quotes, Finnhub earnings (optionally cached in
// Redis) and the FOMC calendar behind a circuit breaker.
func liveProvider(cfg *config.Config, rc *cacheredis.Client, logger *logrus.Logger) marketdata.Provider {
	timeout := cfg.ProviderTimeout()
	composite := &marketdata.Composite{
		Chains: marketdata.NewPolygonClient(cfg.Provider.PolygonAPIKey, cfg.Provider.PolygonBaseURL, timeout, logger),
		Fed:    marketdata.NewFOMCCalendar(),
	}
	if cfg.Provider.FinnhubAPIKey != "" {
		var earnings marketdata.EarningsSource = marketdata.NewFinnhubClient(
			cfg.Provider.FinnhubAPIKey, cfg.Provider.FinnhubBaseURL, timeout, time.Now)
		if rc != nil {
			earnings = cacheredis.NewEarningsCache(rc, earnings, cfg.EarningsTTL())
		}
		composite.Earnings = earnings
	} else {
		logger.Warn("provider.finnhub_api_key not set, earnings dates unavailable")
	}
	return marketdata.NewCircuitBreakerProvider(composite, marketdata.DefaultCircuitBreakerSettings, logger)
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
