// Package marketdata defines the market data provider contract and its
// Polygon, Finnhub, FOMC and circuit-breaker implementations.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eddiefleurent/forward_factor/internal/models"
)

// DateRange is an inclusive range of calendar dates.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether d falls on or between From and To (by date).
func (r DateRange) Contains(d time.Time) bool {
	return models.DaysBetween(r.From, d) >= 0 && models.DaysBetween(d, r.To) >= 0
}

// Provider defines the market data needed by one scan.
// FetchEarningsDate returns nil, nil when no upcoming earnings are known.
type Provider interface {
	FetchOptionChain(ctx context.Context, ticker string, expirations DateRange) ([]models.OptionChainEntry, error)
	FetchSpotPrice(ctx context.Context, ticker string) (float64, error)
	FetchEarningsDate(ctx context.Context, ticker string) (*time.Time, error)
	FetchFedCalendar(ctx context.Context, dates DateRange) ([]time.Time, error)
}

// ChainSource supplies option chains and spot quotes.
type ChainSource interface {
	FetchOptionChain(ctx context.Context, ticker string, expirations DateRange) ([]models.OptionChainEntry, error)
	FetchSpotPrice(ctx context.Context, ticker string) (float64, error)
}

// EarningsSource supplies the next earnings date.
type EarningsSource interface {
	FetchEarningsDate(ctx context.Context, ticker string) (*time.Time, error)
}

// FedSource supplies FOMC decision dates.
type FedSource interface {
	FetchFedCalendar(ctx context.Context, dates DateRange) ([]time.Time, error)
}

// Composite assembles a Provider from independent sources. A nil Earnings
// source reports no earnings; a nil Fed source reports no meetings.
type Composite struct {
	Chains   ChainSource
	Earnings EarningsSource
	Fed      FedSource
}

// Ensure Composite implements Provider at compile time.
var _ Provider = (*Composite)(nil)

// FetchOptionChain delegates to the chain source
func (c *Composite) FetchOptionChain(ctx context.Context, ticker string, r DateRange) ([]models.OptionChainEntry, error) {
	return c.Chains.FetchOptionChain(ctx, ticker, r)
}

// FetchSpotPrice delegates to the chain source
func (c *Composite) FetchSpotPrice(ctx context.Context, ticker string) (float64, error) {
	return c.Chains.FetchSpotPrice(ctx, ticker)
}

// FetchEarningsDate delegates to the earnings source
func (c *Composite) FetchEarningsDate(ctx context.Context, ticker string) (*time.Time, error) {
	if c.Earnings == nil {
		return nil, nil
	}
	return c.Earnings.FetchEarningsDate(ctx, ticker)
}

// FetchFedCalendar delegates to the Fed source
func (c *Composite) FetchFedCalendar(ctx context.Context, r DateRange) ([]time.Time, error) {
	if c.Fed == nil {
		return nil, nil
	}
	return c.Fed.FetchFedCalendar(ctx, r)
}

// APIError represents an API error with status code and response body
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// Is lets errors.Is(err, models.ErrRateLimited) match HTTP 429 responses.
func (e *APIError) Is(target error) bool {
	return target == models.ErrRateLimited && e.Status == 429
}

// isPermanentAPIError checks if an error is a 4xx that retrying cannot fix
func isPermanentAPIError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != 429
	}
	return false
}
