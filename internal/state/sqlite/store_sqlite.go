package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"candlebot/internal/state"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

var _ state.Journal = (*Store)(nil)

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pair TEXT NOT NULL,
			client_order_id TEXT NOT NULL UNIQUE,
			order_id TEXT NOT NULL,
			side TEXT NOT NULL,
			reason TEXT NOT NULL,
			quantity REAL NOT NULL,
			price REAL NOT NULL,
			result_pct REAL NOT NULL,
			candle_time_ms INTEGER NOT NULL,
			executed_at_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS executions_pair_idx ON executions (pair, id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

// RecordExecution appends a fill. Recording the same client order id twice
// is a no-op.
func (s *Store) RecordExecution(ctx context.Context, rec state.ExecutionRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO executions
		(pair, client_order_id, order_id, side, reason, quantity, price, result_pct, candle_time_ms, executed_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_order_id) DO NOTHING`,
		rec.Pair, rec.ClientOrderID, rec.OrderID, rec.Side, rec.Reason,
		rec.Quantity, rec.Price, rec.ResultPct,
		rec.CandleTime.UnixMilli(), rec.ExecutedAt.UnixMilli(),
	)
	return err
}

// Executions returns the most recent fills of pair, newest first.
func (s *Store) Executions(ctx context.Context, pair string, limit int) ([]state.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT pair, client_order_id, order_id, side, reason, quantity, price, result_pct, candle_time_ms, executed_at_ms
		FROM executions WHERE pair = ? ORDER BY id DESC LIMIT ?`, pair, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []state.ExecutionRecord
	for rows.Next() {
		var rec state.ExecutionRecord
		var candleMS, executedMS int64
		if err := rows.Scan(&rec.Pair, &rec.ClientOrderID, &rec.OrderID, &rec.Side, &rec.Reason,
			&rec.Quantity, &rec.Price, &rec.ResultPct, &candleMS, &executedMS); err != nil {
			return nil, err
		}
		rec.CandleTime = time.UnixMilli(candleMS).UTC()
		rec.ExecutedAt = time.UnixMilli(executedMS).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
