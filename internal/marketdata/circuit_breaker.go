package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/forward_factor/internal/models"
)

// CircuitBreakerProvider wraps a Provider with circuit breaker functionality.
// Chain, spot and earnings calls share one breaker per upstream.
type CircuitBreakerProvider struct {
	provider Provider
	chains   *gobreaker.CircuitBreaker
	earnings *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerProvider implements Provider at compile time.
var _ Provider = (*CircuitBreakerProvider)(nil)

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// DefaultCircuitBreakerSettings trips after 60% failures over at least 5 calls.
var DefaultCircuitBreakerSettings = CircuitBreakerSettings{
	MaxRequests:  3,
	Interval:     60 * time.Second,
	Timeout:      30 * time.Second,
	MinRequests:  5,
	FailureRatio: 0.6,
}

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](breaker *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%s: %w", breaker.Name(), errors.Join(models.ErrDataGap, err))
		}
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// NewCircuitBreakerProvider wraps provider with the given settings.
func NewCircuitBreakerProvider(provider Provider, settings CircuitBreakerSettings, logger logrus.FieldLogger) *CircuitBreakerProvider {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	build := func(name string) *gobreaker.CircuitBreaker {
		return gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: settings.MaxRequests,
			Interval:    settings.Interval,
			Timeout:     settings.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests == 0 || counts.Requests < settings.MinRequests {
					return false
				}
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return failureRatio >= settings.FailureRatio
			},
			// Bad tickers and missing data are not upstream outages
			IsSuccessful: func(err error) bool {
				return err == nil || isPermanentAPIError(err) || errors.Is(err, models.ErrDataGap)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
					Warn("Circuit breaker state changed")
			},
		})
	}
	return &CircuitBreakerProvider{
		provider: provider,
		chains:   build("ChainCircuitBreaker"),
		earnings: build("EarningsCircuitBreaker"),
	}
}

// FetchOptionChain wraps the underlying provider call with circuit breaker
func (c *CircuitBreakerProvider) FetchOptionChain(ctx context.Context, ticker string, r DateRange) ([]models.OptionChainEntry, error) {
	return execCircuitBreaker(c.chains, func() ([]models.OptionChainEntry, error) {
		return c.provider.FetchOptionChain(ctx, ticker, r)
	})
}

// FetchSpotPrice wraps the underlying provider call with circuit breaker
func (c *CircuitBreakerProvider) FetchSpotPrice(ctx context.Context, ticker string) (float64, error) {
	return execCircuitBreaker(c.chains, func() (float64, error) {
		return c.provider.FetchSpotPrice(ctx, ticker)
	})
}

// FetchEarningsDate wraps the underlying provider call with circuit breaker
func (c *CircuitBreakerProvider) FetchEarningsDate(ctx context.Context, ticker string) (*time.Time, error) {
	return execCircuitBreaker(c.earnings, func() (*time.Time, error) {
		return c.provider.FetchEarningsDate(ctx, ticker)
	})
}

// FetchFedCalendar is served from a static schedule and bypasses the breakers.
func (c *CircuitBreakerProvider) FetchFedCalendar(ctx context.Context, r DateRange) ([]time.Time, error) {
	return c.provider.FetchFedCalendar(ctx, r)
}
