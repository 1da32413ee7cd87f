// Package store is the SQLite-backed operational store: a trade-result
// archive, a decision/risk-event audit log, an idempotency-key
// persistence fallback, and a generic key-value table backing the
// paper-wallet state (spec.md §6 KV key layout); no orderbook snapshot
// is written to or read from it. Grounded on the teacher's store/strategy.go: raw
// database/sql with inline SQL, an initTables schema migration run once
// at construction, and an updated_at trigger.
package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"tradeengine/internal/logger"
	"tradeengine/internal/model"
)

// Store wraps a single SQLite database file.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

// Open creates/migrates the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, log: logger.With("component", "store")}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initTables() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS trade_results (
			trade_id TEXT PRIMARY KEY,
			scrip_code TEXT NOT NULL,
			direction TEXT NOT NULL,
			entry_price TEXT NOT NULL,
			exit_price TEXT NOT NULL,
			entry_time DATETIME NOT NULL,
			exit_time DATETIME NOT NULL,
			position_size INTEGER NOT NULL,
			pnl TEXT NOT NULL,
			r_multiple TEXT NOT NULL,
			exit_reason TEXT NOT NULL,
			duration_minutes REAL NOT NULL,
			max_favorable_excursion TEXT NOT NULL,
			max_adverse_excursion TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_results_scrip ON trade_results(scrip_code)`,
		`CREATE TABLE IF NOT EXISTS risk_events (
			event_id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			current_value TEXT,
			limit_value TEXT,
			threshold_percent REAL,
			scope TEXT,
			occurred_at DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_risk_events_severity ON risk_events(severity)`,
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			key TEXT PRIMARY KEY,
			seen_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS kv_store (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TRIGGER IF NOT EXISTS update_kv_store_updated_at
			AFTER UPDATE ON kv_store
			BEGIN
				UPDATE kv_store SET updated_at = CURRENT_TIMESTAMP WHERE key = NEW.key;
			END`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveTradeResult archives a completed trade.
func (s *Store) SaveTradeResult(tr model.TradeResult) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO trade_results (
			trade_id, scrip_code, direction, entry_price, exit_price, entry_time,
			exit_time, position_size, pnl, r_multiple, exit_reason, duration_minutes,
			max_favorable_excursion, max_adverse_excursion
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tr.TradeID, tr.ScripCode, tr.Direction, tr.EntryPrice.String(), tr.ExitPrice.String(),
		tr.EntryTime, tr.ExitTime, tr.PositionSize, tr.PnL.String(), tr.RMultiple.String(),
		tr.ExitReason, tr.DurationMinutes, tr.MaxFavorableExcursion.String(), tr.MaxAdverseExcursion.String())
	return err
}

// ListTradeResults returns the most recently closed trades, most recent
// first.
func (s *Store) ListTradeResults(limit int) ([]model.TradeResult, error) {
	rows, err := s.db.Query(`
		SELECT trade_id, scrip_code, direction, entry_price, exit_price, entry_time,
			exit_time, position_size, pnl, r_multiple, exit_reason, duration_minutes,
			max_favorable_excursion, max_adverse_excursion
		FROM trade_results ORDER BY exit_time DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TradeResult
	for rows.Next() {
		var tr model.TradeResult
		var entryPrice, exitPrice, pnl, rMultiple, mfe, mae string
		if err := rows.Scan(&tr.TradeID, &tr.ScripCode, &tr.Direction, &entryPrice, &exitPrice,
			&tr.EntryTime, &tr.ExitTime, &tr.PositionSize, &pnl, &rMultiple, &tr.ExitReason,
			&tr.DurationMinutes, &mfe, &mae); err != nil {
			return nil, err
		}
		tr.EntryPrice = mustDecimal(entryPrice)
		tr.ExitPrice = mustDecimal(exitPrice)
		tr.PnL = mustDecimal(pnl)
		tr.RMultiple = mustDecimal(rMultiple)
		tr.MaxFavorableExcursion = mustDecimal(mfe)
		tr.MaxAdverseExcursion = mustDecimal(mae)
		out = append(out, tr)
	}
	return out, rows.Err()
}

// SaveRiskEvent appends an entry to the risk/decision audit log.
func (s *Store) SaveRiskEvent(ev model.RiskEvent) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO risk_events (
			event_id, type, severity, message, current_value, limit_value,
			threshold_percent, scope, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.EventID, ev.Type, ev.Severity, ev.Message, ev.CurrentValue.String(), ev.LimitValue.String(),
		ev.ThresholdPercent, ev.Scope, ev.Timestamp)
	return err
}

// ListRiskEvents returns the most recent audit-log entries, most recent
// first.
func (s *Store) ListRiskEvents(limit int) ([]model.RiskEvent, error) {
	rows, err := s.db.Query(`
		SELECT event_id, type, severity, message, current_value, limit_value,
			threshold_percent, scope, occurred_at
		FROM risk_events ORDER BY occurred_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RiskEvent
	for rows.Next() {
		var ev model.RiskEvent
		var current, limitVal string
		if err := rows.Scan(&ev.EventID, &ev.Type, &ev.Severity, &ev.Message, &current, &limitVal,
			&ev.ThresholdPercent, &ev.Scope, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.CurrentValue = mustDecimal(current)
		ev.LimitValue = mustDecimal(limitVal)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// MarkIdempotencyKey persists a dedup key as seen, the durable fallback
// for the in-memory idempotency cache across process restarts (spec.md
// §4.1 step 2).
func (s *Store) MarkIdempotencyKey(key string, seenAt time.Time) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO idempotency_keys (key, seen_at) VALUES (?, ?)`, key, seenAt)
	return err
}

// SeenIdempotencyKey reports whether key was marked seen within ttl of
// now.
func (s *Store) SeenIdempotencyKey(key string, ttl time.Duration, now time.Time) (bool, error) {
	var seenAt time.Time
	err := s.db.QueryRow(`SELECT seen_at FROM idempotency_keys WHERE key = ?`, key).Scan(&seenAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return now.Sub(seenAt) <= ttl, nil
}

// EvictIdempotencyKeysBefore deletes dedup keys last seen before cutoff.
func (s *Store) EvictIdempotencyKeysBefore(cutoff time.Time) error {
	_, err := s.db.Exec(`DELETE FROM idempotency_keys WHERE seen_at < ?`, cutoff)
	return err
}

// KVSet stores a JSON-encodable value under key (spec.md §6 KV layout).
func (s *Store) KVSet(key string, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO kv_store (key, value) VALUES (?, ?)`, key, string(payload))
	return err
}

// KVGet reads and decodes the value stored under key into dest.
func (s *Store) KVGet(key string, dest interface{}) (bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM kv_store WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal([]byte(raw), dest)
}

// KVDelete removes key, if present.
func (s *Store) KVDelete(key string) error {
	_, err := s.db.Exec(`DELETE FROM kv_store WHERE key = ?`, key)
	return err
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
