package state

import (
	"context"
	"time"
)

type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// ExecutionRecord is one filled order as kept in the journal.
type ExecutionRecord struct {
	Pair          string    `json:"pair"`
	ClientOrderID string    `json:"client_order_id"`
	OrderID       string    `json:"order_id"`
	Side          string    `json:"side"`
	Reason        string    `json:"reason"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price"`
	ResultPct     float64   `json:"result_pct"`
	CandleTime    time.Time `json:"candle_time"`
	ExecutedAt    time.Time `json:"executed_at"`
}

// Journal is implemented by stores that keep an append-only execution log.
type Journal interface {
	RecordExecution(ctx context.Context, rec ExecutionRecord) error
	Executions(ctx context.Context, pair string, limit int) ([]ExecutionRecord, error)
}
