package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	_ "github.com/glebarez/go-sqlite"

	"maker_go/internal/domain"
	"maker_go/pkg/quant"
	"maker_go/pkg/safe"
)

const peakAccountValueKey = "peak_account_value"

// HistoryStore persists risk events and fills in SQLite. Prices and
// amounts are stored as fixed-point integers (micros/sats) so aggregates
// stay exact.
type HistoryStore struct {
	db *sql.DB
}

// NewHistoryStore opens the database with WAL mode enabled and creates
// the schema.
func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;", // 2MB cache
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS risk_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			data BLOB,
			ts INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS fills (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			price_micros INTEGER NOT NULL,
			amount_sats INTEGER NOT NULL,
			pnl_micros INTEGER NOT NULL,
			ts INTEGER NOT NULL
		);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &HistoryStore{db: db}, nil
}

// SaveRiskEvent appends a risk event to history.
func (s *HistoryStore) SaveRiskEvent(ctx context.Context, ev domain.RiskEvent) error {
	var data []byte
	if ev.Data != nil {
		var err error
		data, err = json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO risk_events (kind, severity, message, data, ts) VALUES (?, ?, ?, ?, ?)",
		ev.Kind, string(ev.Severity), ev.Message, data, ev.TsUnixM,
	)
	if err != nil {
		return fmt.Errorf("failed to insert risk event: %w", err)
	}
	return nil
}

// RecentRiskEvents returns up to limit most recent risk events, newest
// first.
func (s *HistoryStore) RecentRiskEvents(ctx context.Context, limit int) ([]domain.RiskEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT kind, severity, message, data, ts FROM risk_events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk events: %w", err)
	}
	defer rows.Close()

	var events []domain.RiskEvent
	for rows.Next() {
		var ev domain.RiskEvent
		var severity string
		var data []byte
		if err := rows.Scan(&ev.Kind, &severity, &ev.Message, &data, &ev.TsUnixM); err != nil {
			return nil, fmt.Errorf("failed to scan risk event: %w", err)
		}
		ev.Severity = domain.Severity(severity)
		if len(data) > 0 {
			if err := json.Unmarshal(data, &ev.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// SaveFill records one fill with its realized-PnL estimate.
func (s *HistoryStore) SaveFill(ctx context.Context, o domain.Order, pnl float64) error {
	amount := o.FilledAmount
	if amount <= 0 {
		amount = o.Amount
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO fills (order_id, symbol, side, price_micros, amount_sats, pnl_micros, ts) VALUES (?, ?, ?, ?, ?, ?, ?)",
		o.ID, o.Symbol, string(o.Side),
		int64(quant.ToPriceMicros(o.Price)),
		int64(quant.ToQtySats(amount)),
		int64(quant.ToPriceMicros(pnl)),
		o.LastSeenUnixM,
	)
	if err != nil {
		return fmt.Errorf("failed to insert fill: %w", err)
	}
	return nil
}

// FillStats aggregates fill history for one symbol. All sums are exact
// fixed-point integers.
type FillStats struct {
	Count          int
	TotalQtySats   int64
	TotalPnLMicros int64
}

// FillStatsFor sums the fill history for a symbol. Sums are computed with
// overflow-checked arithmetic rather than SQL aggregates so an overflow
// halts loudly instead of wrapping.
func (s *HistoryStore) FillStatsFor(ctx context.Context, symbol string) (FillStats, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT amount_sats, pnl_micros FROM fills WHERE symbol = ?", symbol,
	)
	if err != nil {
		return FillStats{}, fmt.Errorf("failed to query fills: %w", err)
	}
	defer rows.Close()

	var stats FillStats
	for rows.Next() {
		var amountSats, pnlMicros int64
		if err := rows.Scan(&amountSats, &pnlMicros); err != nil {
			return FillStats{}, fmt.Errorf("failed to scan fill: %w", err)
		}
		stats.Count++
		stats.TotalQtySats = safe.SafeAdd(stats.TotalQtySats, amountSats)
		stats.TotalPnLMicros = safe.SafeAdd(stats.TotalPnLMicros, pnlMicros)
	}
	return stats, rows.Err()
}

// SavePeakAccountValue persists the monotonic account peak for restart
// recovery.
func (s *HistoryStore) SavePeakAccountValue(ctx context.Context, peak float64, ts int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at",
		peakAccountValueKey, strconv.FormatFloat(peak, 'f', -1, 64), ts,
	)
	return err
}

// LoadPeakAccountValue returns the persisted peak, 0 when none exists.
func (s *HistoryStore) LoadPeakAccountValue(ctx context.Context) (float64, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM metadata WHERE key = ?", peakAccountValueKey).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(value, 64)
}

// Close closes the database connection.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}
