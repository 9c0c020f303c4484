package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/eddiefleurent/forward_factor/internal/models"
)

// JSONStorage keeps all state in memory and writes it to a single JSON file
// after every mutation. A failed write rolls the in-memory state back.
type JSONStorage struct {
	mu       sync.RWMutex
	filepath string
	data     *StorageData
	now      func() time.Time
}

// NewJSONStorage opens (or creates on first write) the file at path.
func NewJSONStorage(path string) (*JSONStorage, error) {
	s := &JSONStorage{
		filepath: path,
		data:     newStorageData(),
		now:      time.Now,
	}

	// Load existing data if file exists
	if _, err := os.Stat(path); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	}
	return s, nil
}

// Load replaces in-memory state with the file contents.
func (s *JSONStorage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}
	data := newStorageData()
	if err := json.Unmarshal(raw, data); err != nil {
		return fmt.Errorf("failed to decode %s: %w", s.filepath, err)
	}
	if data.IVReadings == nil {
		data.IVReadings = make(map[string][]models.IVReading)
	}
	s.data = data
	return nil
}

// save writes the state atomically. Caller must hold the write lock.
func (s *JSONStorage) save() error {
	s.data.LastUpdated = s.now().UTC()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.filepath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	// Write to temp file first
	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0o600); err != nil {
		return err
	}

	// Atomic rename
	return os.Rename(tmpFile, s.filepath)
}

// mutate applies fn under the write lock and persists. On any failure the
// previous state is restored.
func (s *JSONStorage) mutate(ctx context.Context, fn func(d *StorageData) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	backup := s.data.clone()
	if err := fn(s.data); err != nil {
		s.data = backup
		return err
	}
	if err := s.save(); err != nil {
		s.data = backup
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	return nil
}

func (s *JSONStorage) read(ctx context.Context) (*StorageData, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	return s.data, s.mu.RUnlock, nil
}

// SaveScan stores a completed scan.
func (s *JSONStorage) SaveScan(ctx context.Context, scan models.Scan) error {
	return s.mutate(ctx, func(d *StorageData) error { return d.saveScan(scan) })
}

// GetScan returns a scan by id.
func (s *JSONStorage) GetScan(ctx context.Context, id string) (models.Scan, error) {
	d, unlock, err := s.read(ctx)
	if err != nil {
		return models.Scan{}, err
	}
	defer unlock()
	return d.getScan(id)
}

// ListScans returns up to limit scans, newest first. limit <= 0 means all.
func (s *JSONStorage) ListScans(ctx context.Context, limit int) ([]models.Scan, error) {
	d, unlock, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return d.listScans(limit), nil
}

// CreatePaperTrade stores a new trade.
func (s *JSONStorage) CreatePaperTrade(ctx context.Context, trade *models.PaperTrade) error {
	return s.mutate(ctx, func(d *StorageData) error { return d.createTrade(trade) })
}

// GetPaperTrade returns a copy of the trade.
func (s *JSONStorage) GetPaperTrade(ctx context.Context, id string) (*models.PaperTrade, error) {
	d, unlock, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return d.getTrade(id)
}

// ListPaperTrades returns copies of every trade.
func (s *JSONStorage) ListPaperTrades(ctx context.Context) ([]*models.PaperTrade, error) {
	d, unlock, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return d.listTrades(), nil
}

// UpdatePaperTrade applies fn to a copy and swaps it in under the write lock.
func (s *JSONStorage) UpdatePaperTrade(ctx context.Context, id string, fn TradeUpdate) (*models.PaperTrade, error) {
	var updated *models.PaperTrade
	err := s.mutate(ctx, func(d *StorageData) error {
		t, err := d.updateTrade(id, fn)
		updated = t
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// AddWatchlistItem adds a ticker; tickers are unique.
func (s *JSONStorage) AddWatchlistItem(ctx context.Context, item models.WatchlistItem) error {
	return s.mutate(ctx, func(d *StorageData) error { return d.addWatch(item) })
}

// ListWatchlist returns the watchlist ordered by ticker.
func (s *JSONStorage) ListWatchlist(ctx context.Context) ([]models.WatchlistItem, error) {
	d, unlock, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return d.listWatch(), nil
}

// RemoveWatchlistItem deletes an item by id.
func (s *JSONStorage) RemoveWatchlistItem(ctx context.Context, id string) error {
	return s.mutate(ctx, func(d *StorageData) error { return d.removeWatch(id) })
}

// StoreIVReading records one reading per symbol and day.
func (s *JSONStorage) StoreIVReading(ctx context.Context, reading models.IVReading) error {
	return s.mutate(ctx, func(d *StorageData) error { return d.storeIV(reading) })
}

// GetIVReadings returns readings between the two dates inclusive, oldest first.
func (s *JSONStorage) GetIVReadings(ctx context.Context, symbol string, startDate, endDate time.Time) ([]models.IVReading, error) {
	d, unlock, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return d.getIV(symbol, startDate, endDate), nil
}

// GetLatestIVReading returns the most recent reading or ErrNoIVReadings.
func (s *JSONStorage) GetLatestIVReading(ctx context.Context, symbol string) (*models.IVReading, error) {
	d, unlock, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return d.latestIV(symbol)
}

// Close is a no-op; every mutation is already on disk.
func (s *JSONStorage) Close() error { return nil }
