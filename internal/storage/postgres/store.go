package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eddiefleurent/forward_factor/internal/models"
	"github.com/eddiefleurent/forward_factor/internal/storage"
)

const uniqueViolation = "23505"

// Store implements storage.Interface. Scans and paper trades are stored as
// JSONB documents next to the columns used for lookup and ordering.
type Store struct {
	client *Client
	pool   *pgxpool.Pool
}

var _ storage.Interface = (*Store)(nil)

// NewStore wraps a connected client. Call Client.RunMigrations first.
func NewStore(client *Client) *Store {
	return &Store{client: client, pool: client.Pool()}
}

// Open connects, migrates and returns a ready Store.
func Open(ctx context.Context, cfg ClientConfig) (*Store, error) {
	client, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := client.RunMigrations(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return NewStore(client), nil
}

func writeErr(op, id string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s %s: %w", op, id, storage.ErrDuplicate)
	}
	return fmt.Errorf("%w: postgres: %s %s: %v", models.ErrPersistence, op, id, err)
}

func (s *Store) SaveScan(ctx context.Context, scan models.Scan) error {
	if scan.ID == "" {
		return fmt.Errorf("scan id is required")
	}
	payload, err := json.Marshal(scan)
	if err != nil {
		return fmt.Errorf("postgres: encode scan %s: %w", scan.ID, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return writeErr("begin save scan", scan.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO scans (id, scanned_at, tickers_scanned, total_opportunities, payload)
		VALUES ($1, $2, $3, $4, $5)`,
		scan.ID, scan.Timestamp, scan.TickersScanned, scan.TotalOpportunities, payload,
	)
	if err != nil {
		return writeErr("save scan", scan.ID, err)
	}
	_, err = tx.Exec(ctx, `
		DELETE FROM scans WHERE id IN (
			SELECT id FROM scans ORDER BY scanned_at DESC, id OFFSET $1
		)`, storage.MaxScanHistory)
	if err != nil {
		return writeErr("trim scans", scan.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return writeErr("commit scan", scan.ID, err)
	}
	return nil
}

func (s *Store) GetScan(ctx context.Context, id string) (models.Scan, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM scans WHERE id = $1`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Scan{}, fmt.Errorf("scan %s: %w", id, models.ErrNotFound)
		}
		return models.Scan{}, fmt.Errorf("postgres: get scan %s: %w", id, err)
	}
	var scan models.Scan
	if err := json.Unmarshal(payload, &scan); err != nil {
		return models.Scan{}, fmt.Errorf("postgres: decode scan %s: %w", id, err)
	}
	return scan, nil
}

func (s *Store) ListScans(ctx context.Context, limit int) ([]models.Scan, error) {
	query := `SELECT payload FROM scans ORDER BY scanned_at DESC, id`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list scans: %w", err)
	}
	defer rows.Close()

	scans := []models.Scan{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		var scan models.Scan
		if err := json.Unmarshal(payload, &scan); err != nil {
			return nil, fmt.Errorf("postgres: decode scan: %w", err)
		}
		scans = append(scans, scan)
	}
	return scans, rows.Err()
}

func (s *Store) CreatePaperTrade(ctx context.Context, trade *models.PaperTrade) error {
	if trade == nil {
		return fmt.Errorf("paper trade is nil")
	}
	if err := trade.ValidateState(); err != nil {
		return err
	}
	payload, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("postgres: encode paper trade %s: %w", trade.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO paper_trades (id, ticker, status, entry_date, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`,
		trade.ID, trade.Ticker, string(trade.Status), trade.EntryDate, payload,
	)
	if err != nil {
		return writeErr("create paper trade", trade.ID, err)
	}
	return nil
}

func scanTrade(row pgx.Row, id string) (*models.PaperTrade, error) {
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("paper trade %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("postgres: get paper trade %s: %w", id, err)
	}
	var trade models.PaperTrade
	if err := json.Unmarshal(payload, &trade); err != nil {
		return nil, fmt.Errorf("postgres: decode paper trade %s: %w", id, err)
	}
	return &trade, nil
}

func (s *Store) GetPaperTrade(ctx context.Context, id string) (*models.PaperTrade, error) {
	return scanTrade(s.pool.QueryRow(ctx, `SELECT payload FROM paper_trades WHERE id = $1`, id), id)
}

func (s *Store) ListPaperTrades(ctx context.Context) ([]*models.PaperTrade, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, payload FROM paper_trades ORDER BY entry_date, id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list paper trades: %w", err)
	}
	defer rows.Close()

	trades := []*models.PaperTrade{}
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("postgres: scan paper trade row: %w", err)
		}
		var trade models.PaperTrade
		if err := json.Unmarshal(payload, &trade); err != nil {
			return nil, fmt.Errorf("postgres: decode paper trade %s: %w", id, err)
		}
		trades = append(trades, &trade)
	}
	return trades, rows.Err()
}

// UpdatePaperTrade locks the row, applies fn and writes the result in one
// transaction.
func (s *Store) UpdatePaperTrade(ctx context.Context, id string, fn storage.TradeUpdate) (*models.PaperTrade, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, writeErr("begin update paper trade", id, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	trade, err := scanTrade(tx.QueryRow(ctx, `SELECT payload FROM paper_trades WHERE id = $1 FOR UPDATE`, id), id)
	if err != nil {
		return nil, err
	}
	if err := fn(trade); err != nil {
		return nil, err
	}
	if trade.ID != id {
		return nil, fmt.Errorf("paper trade %s: id cannot change", id)
	}
	if err := trade.ValidateState(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(trade)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode paper trade %s: %w", id, err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE paper_trades SET status = $2, payload = $3, updated_at = NOW()
		WHERE id = $1`, id, string(trade.Status), payload)
	if err != nil {
		return nil, writeErr("update paper trade", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, writeErr("commit paper trade", id, err)
	}
	return trade, nil
}

func (s *Store) AddWatchlistItem(ctx context.Context, item models.WatchlistItem) error {
	item.Ticker = strings.ToUpper(strings.TrimSpace(item.Ticker))
	if item.ID == "" || item.Ticker == "" {
		return fmt.Errorf("watchlist item needs an id and a ticker")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO watchlist (id, ticker, notes, added_at) VALUES ($1, $2, $3, $4)`,
		item.ID, item.Ticker, item.Notes, item.AddedAt,
	)
	if err != nil {
		return writeErr("add watchlist ticker", item.Ticker, err)
	}
	return nil
}

func (s *Store) ListWatchlist(ctx context.Context) ([]models.WatchlistItem, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, ticker, notes, added_at FROM watchlist ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list watchlist: %w", err)
	}
	defer rows.Close()

	items := []models.WatchlistItem{}
	for rows.Next() {
		var w models.WatchlistItem
		if err := rows.Scan(&w.ID, &w.Ticker, &w.Notes, &w.AddedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan watchlist row: %w", err)
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

func (s *Store) RemoveWatchlistItem(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM watchlist WHERE id = $1`, id)
	if err != nil {
		return writeErr("remove watchlist item", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("watchlist item %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (s *Store) StoreIVReading(ctx context.Context, reading models.IVReading) error {
	reading.Symbol = strings.ToUpper(reading.Symbol)
	if reading.Symbol == "" || reading.IV <= 0 {
		return fmt.Errorf("invalid IV reading for %q", reading.Symbol)
	}
	day := time.Date(reading.Date.Year(), reading.Date.Month(), reading.Date.Day(), 0, 0, 0, 0, time.UTC)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO iv_readings (symbol, day, iv, recorded_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (symbol, day) DO UPDATE SET iv = EXCLUDED.iv, recorded_at = EXCLUDED.recorded_at`,
		reading.Symbol, day, reading.IV, reading.Timestamp,
	)
	if err != nil {
		return writeErr("store iv reading", reading.Symbol, err)
	}
	return nil
}

func scanReadings(rows pgx.Rows) ([]models.IVReading, error) {
	var out []models.IVReading
	for rows.Next() {
		var r models.IVReading
		if err := rows.Scan(&r.Symbol, &r.Date, &r.IV, &r.Timestamp); err != nil {
			return nil, err
		}
		r.Date = r.Date.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) GetIVReadings(ctx context.Context, symbol string, startDate, endDate time.Time) ([]models.IVReading, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT symbol, day, iv, recorded_at FROM iv_readings
		WHERE symbol = $1 AND day BETWEEN $2::date AND $3::date
		ORDER BY day`,
		strings.ToUpper(symbol), startDate.UTC(), endDate.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: get iv readings %s: %w", symbol, err)
	}
	defer rows.Close()
	readings, err := scanReadings(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan iv readings %s: %w", symbol, err)
	}
	return readings, nil
}

func (s *Store) GetLatestIVReading(ctx context.Context, symbol string) (*models.IVReading, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT symbol, day, iv, recorded_at FROM iv_readings
		WHERE symbol = $1 ORDER BY day DESC LIMIT 1`, strings.ToUpper(symbol))
	if err != nil {
		return nil, fmt.Errorf("postgres: latest iv reading %s: %w", symbol, err)
	}
	defer rows.Close()
	readings, err := scanReadings(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan iv reading %s: %w", symbol, err)
	}
	if len(readings) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, storage.ErrNoIVReadings)
	}
	return &readings[0], nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}
