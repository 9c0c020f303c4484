package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eddiefleurent/forward_factor/internal/models"
)

// MockStorage is an in-memory Interface for tests. Write failures can be
// injected with SetSaveError.
type MockStorage struct {
	mu            sync.RWMutex
	data          *StorageData
	saveError     error
	saveCallCount int
}

// NewMockStorage creates a new mock storage for testing
func NewMockStorage() *MockStorage {
	return &MockStorage{data: newStorageData()}
}

// SetSaveError makes every subsequent write fail with err (nil clears it).
func (m *MockStorage) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveError = err
}

// SaveCallCount returns how many writes were attempted.
func (m *MockStorage) SaveCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saveCallCount
}

func (m *MockStorage) write(fn func(d *StorageData) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCallCount++
	if m.saveError != nil {
		return fmt.Errorf("%w: %v", models.ErrPersistence, m.saveError)
	}
	return fn(m.data)
}

func (m *MockStorage) SaveScan(_ context.Context, scan models.Scan) error {
	return m.write(func(d *StorageData) error { return d.saveScan(scan) })
}

func (m *MockStorage) GetScan(_ context.Context, id string) (models.Scan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.getScan(id)
}

func (m *MockStorage) ListScans(_ context.Context, limit int) ([]models.Scan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.listScans(limit), nil
}

func (m *MockStorage) CreatePaperTrade(_ context.Context, trade *models.PaperTrade) error {
	return m.write(func(d *StorageData) error { return d.createTrade(trade) })
}

func (m *MockStorage) GetPaperTrade(_ context.Context, id string) (*models.PaperTrade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.getTrade(id)
}

func (m *MockStorage) ListPaperTrades(_ context.Context) ([]*models.PaperTrade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.listTrades(), nil
}

func (m *MockStorage) UpdatePaperTrade(_ context.Context, id string, fn TradeUpdate) (*models.PaperTrade, error) {
	var updated *models.PaperTrade
	err := m.write(func(d *StorageData) error {
		t, err := d.updateTrade(id, fn)
		updated = t
		return err
	})
	return updated, err
}

func (m *MockStorage) AddWatchlistItem(_ context.Context, item models.WatchlistItem) error {
	return m.write(func(d *StorageData) error { return d.addWatch(item) })
}

func (m *MockStorage) ListWatchlist(_ context.Context) ([]models.WatchlistItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.listWatch(), nil
}

func (m *MockStorage) RemoveWatchlistItem(_ context.Context, id string) error {
	return m.write(func(d *StorageData) error { return d.removeWatch(id) })
}

func (m *MockStorage) StoreIVReading(_ context.Context, reading models.IVReading) error {
	return m.write(func(d *StorageData) error { return d.storeIV(reading) })
}

func (m *MockStorage) GetIVReadings(_ context.Context, symbol string, startDate, endDate time.Time) ([]models.IVReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.getIV(symbol, startDate, endDate), nil
}

func (m *MockStorage) GetLatestIVReading(_ context.Context, symbol string) (*models.IVReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.latestIV(symbol)
}

func (m *MockStorage) Close() error { return nil }
