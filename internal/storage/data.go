package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/eddiefleurent/forward_factor/internal/models"
)

// MaxScanHistory bounds how many scans are kept; the oldest are dropped first.
const MaxScanHistory = 200

// StorageData is the whole persisted state. Methods assume the caller holds
// the owning lock and return copies.
type StorageData struct {
	Scans       []models.Scan                 `json:"scans"`
	PaperTrades []*models.PaperTrade          `json:"paper_trades"`
	Watchlist   []models.WatchlistItem        `json:"watchlist"`
	IVReadings  map[string][]models.IVReading `json:"iv_readings"`
	LastUpdated time.Time                     `json:"last_updated"`
}

func newStorageData() *StorageData {
	return &StorageData{IVReadings: make(map[string][]models.IVReading)}
}

func (d *StorageData) clone() *StorageData {
	c := &StorageData{
		Scans:       make([]models.Scan, len(d.Scans)),
		PaperTrades: make([]*models.PaperTrade, len(d.PaperTrades)),
		Watchlist:   append([]models.WatchlistItem(nil), d.Watchlist...),
		IVReadings:  make(map[string][]models.IVReading, len(d.IVReadings)),
		LastUpdated: d.LastUpdated,
	}
	for i, s := range d.Scans {
		c.Scans[i] = s.Clone()
	}
	for i, t := range d.PaperTrades {
		c.PaperTrades[i] = t.Clone()
	}
	for k, v := range d.IVReadings {
		c.IVReadings[k] = append([]models.IVReading(nil), v...)
	}
	return c
}

func (d *StorageData) saveScan(scan models.Scan) error {
	if scan.ID == "" {
		return fmt.Errorf("scan id is required")
	}
	for _, s := range d.Scans {
		if s.ID == scan.ID {
			return fmt.Errorf("scan %s: %w", scan.ID, ErrDuplicate)
		}
	}
	d.Scans = append(d.Scans, scan.Clone())
	if over := len(d.Scans) - MaxScanHistory; over > 0 {
		d.Scans = append([]models.Scan(nil), d.Scans[over:]...)
	}
	return nil
}

func (d *StorageData) getScan(id string) (models.Scan, error) {
	for _, s := range d.Scans {
		if s.ID == id {
			return s.Clone(), nil
		}
	}
	return models.Scan{}, fmt.Errorf("scan %s: %w", id, models.ErrNotFound)
}

// listScans returns newest first.
func (d *StorageData) listScans(limit int) []models.Scan {
	out := make([]models.Scan, 0, len(d.Scans))
	for _, s := range d.Scans {
		out = append(out, s.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (d *StorageData) tradeIndex(id string) int {
	for i, t := range d.PaperTrades {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (d *StorageData) createTrade(trade *models.PaperTrade) error {
	if trade == nil {
		return fmt.Errorf("paper trade is nil")
	}
	if err := trade.ValidateState(); err != nil {
		return err
	}
	if d.tradeIndex(trade.ID) >= 0 {
		return fmt.Errorf("paper trade %s: %w", trade.ID, ErrDuplicate)
	}
	d.PaperTrades = append(d.PaperTrades, trade.Clone())
	return nil
}

func (d *StorageData) getTrade(id string) (*models.PaperTrade, error) {
	i := d.tradeIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("paper trade %s: %w", id, models.ErrNotFound)
	}
	return d.PaperTrades[i].Clone(), nil
}

// listTrades returns trades by entry date, then id.
func (d *StorageData) listTrades() []*models.PaperTrade {
	out := make([]*models.PaperTrade, len(d.PaperTrades))
	for i, t := range d.PaperTrades {
		out[i] = t.Clone()
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].EntryDate.Equal(out[j].EntryDate) {
			return out[i].EntryDate.Before(out[j].EntryDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// updateTrade runs fn on a copy and swaps it in only if fn and validation succeed.
func (d *StorageData) updateTrade(id string, fn TradeUpdate) (*models.PaperTrade, error) {
	i := d.tradeIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("paper trade %s: %w", id, models.ErrNotFound)
	}
	next := d.PaperTrades[i].Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if next.ID != id {
		return nil, fmt.Errorf("paper trade %s: id cannot change", id)
	}
	if err := next.ValidateState(); err != nil {
		return nil, err
	}
	d.PaperTrades[i] = next
	return next.Clone(), nil
}

func (d *StorageData) addWatch(item models.WatchlistItem) error {
	item.Ticker = strings.ToUpper(strings.TrimSpace(item.Ticker))
	if item.ID == "" || item.Ticker == "" {
		return fmt.Errorf("watchlist item needs an id and a ticker")
	}
	for _, w := range d.Watchlist {
		if w.Ticker == item.Ticker {
			return fmt.Errorf("watchlist ticker %s: %w", item.Ticker, ErrDuplicate)
		}
	}
	d.Watchlist = append(d.Watchlist, item)
	return nil
}

func (d *StorageData) listWatch() []models.WatchlistItem {
	out := append([]models.WatchlistItem{}, d.Watchlist...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

func (d *StorageData) removeWatch(id string) error {
	for i, w := range d.Watchlist {
		if w.ID == id {
			d.Watchlist = append(d.Watchlist[:i:i], d.Watchlist[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("watchlist item %s: %w", id, models.ErrNotFound)
}

func ivDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// storeIV keeps one reading per symbol and day; a later reading replaces an earlier one.
func (d *StorageData) storeIV(reading models.IVReading) error {
	reading.Symbol = strings.ToUpper(reading.Symbol)
	if reading.Symbol == "" || reading.IV <= 0 {
		return fmt.Errorf("invalid IV reading for %q", reading.Symbol)
	}
	reading.Date = ivDay(reading.Date)
	readings := d.IVReadings[reading.Symbol]
	for i, r := range readings {
		if r.Date.Equal(reading.Date) {
			readings[i] = reading
			return nil
		}
	}
	readings = append(readings, reading)
	sort.Slice(readings, func(i, j int) bool { return readings[i].Date.Before(readings[j].Date) })
	d.IVReadings[reading.Symbol] = readings
	return nil
}

func (d *StorageData) getIV(symbol string, start, end time.Time) []models.IVReading {
	start, end = ivDay(start), ivDay(end)
	var out []models.IVReading
	for _, r := range d.IVReadings[strings.ToUpper(symbol)] {
		if r.Date.Before(start) || r.Date.After(end) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (d *StorageData) latestIV(symbol string) (*models.IVReading, error) {
	readings := d.IVReadings[strings.ToUpper(symbol)]
	if len(readings) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, ErrNoIVReadings)
	}
	r := readings[len(readings)-1]
	return &r, nil
}
