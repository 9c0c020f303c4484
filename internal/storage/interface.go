// Package storage persists scans, paper trades, the watchlist and IV history.
package storage

import (
	"context"
	"time"

	"github.com/eddiefleurent/forward_factor/internal/models"
)

// TradeUpdate mutates a copy of a paper trade. Returning an error aborts the
// update and leaves the stored trade untouched.
type TradeUpdate func(trade *models.PaperTrade) error

// Interface defines the contract for scanner and paper-trade persistence.
//
// Implementations must be safe for concurrent use. Values returned are copies;
// mutating them never changes stored state.
type Interface interface {
	// Scan history
	SaveScan(ctx context.Context, scan models.Scan) error
	GetScan(ctx context.Context, id string) (models.Scan, error)
	ListScans(ctx context.Context, limit int) ([]models.Scan, error)

	// Paper trades
	CreatePaperTrade(ctx context.Context, trade *models.PaperTrade) error
	GetPaperTrade(ctx context.Context, id string) (*models.PaperTrade, error)
	ListPaperTrades(ctx context.Context) ([]*models.PaperTrade, error)
	// UpdatePaperTrade applies fn atomically: readers observe either the old
	// or the new trade, never a partial write.
	UpdatePaperTrade(ctx context.Context, id string, fn TradeUpdate) (*models.PaperTrade, error)

	// Watchlist
	AddWatchlistItem(ctx context.Context, item models.WatchlistItem) error
	ListWatchlist(ctx context.Context) ([]models.WatchlistItem, error)
	RemoveWatchlistItem(ctx context.Context, id string) error

	// IV data storage
	StoreIVReading(ctx context.Context, reading models.IVReading) error
	GetIVReadings(ctx context.Context, symbol string, startDate, endDate time.Time) ([]models.IVReading, error)
	GetLatestIVReading(ctx context.Context, symbol string) (*models.IVReading, error)

	Close() error
}

// NewStorage creates the file-backed implementation.
func NewStorage(filepath string) (Interface, error) {
	return NewJSONStorage(filepath)
}

// Ensure JSONStorage implements Interface
var _ Interface = (*JSONStorage)(nil)

// Ensure MockStorage implements Interface
var _ Interface = (*MockStorage)(nil)
