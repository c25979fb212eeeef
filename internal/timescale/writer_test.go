package timescale

import (
	"testing"
	"time"

	"candlebot/internal/config"
	"candlebot/internal/position"
	"candlebot/internal/strategy"
)

func TestNewDisabled(t *testing.T) {
	w, err := New(config.TimescaleConfig{Enabled: false}, nil)
	if err != nil || w != nil {
		t.Fatalf("expected nil writer without error, got %v %v", w, err)
	}
	if _, err := New(config.TimescaleConfig{Enabled: true}, nil); err == nil {
		t.Fatalf("expected error for missing dsn")
	}
}

func TestNilWriterIsSafe(t *testing.T) {
	var w *Writer
	w.EnqueueCycle(CycleRecord{})
	w.EnqueueCandle(Candle{})
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if c, k := w.Dropped(); c != 0 || k != 0 {
		t.Fatalf("expected no drops")
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	w := newWriter(nil, "", 1, nil)
	w.EnqueueCycle(CycleRecord{Pair: "BTCUSDT"})
	w.EnqueueCycle(CycleRecord{Pair: "BTCUSDT"})
	w.EnqueueCandle(Candle{Pair: "BTCUSDT"})
	w.EnqueueCandle(Candle{Pair: "BTCUSDT"})
	w.EnqueueCandle(Candle{Pair: "BTCUSDT"})
	cycles, candles := w.Dropped()
	if cycles != 1 || candles != 2 {
		t.Fatalf("expected 1 and 2 drops, got %d and %d", cycles, candles)
	}
	if w.schema != "public" || w.table("market_ohlc") != "public.market_ohlc" {
		t.Fatalf("unexpected default schema %s", w.schema)
	}
}

func TestCycleRecordFromOutcome(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	outcome := position.Outcome{
		Pair:       "ETHUSDT",
		Action:     position.ActionBought,
		Decision:   strategy.Buy,
		Source:     "rsi",
		Fallback:   true,
		Price:      2000,
		Executions: []position.Execution{{}},
	}
	rec := CycleRecordFromOutcome(now, outcome, position.State{Status: position.StatusOpen, Quantity: 0.5})
	if rec.Action != "bought" || rec.Decision != "BUY" || rec.Status != "OPEN" || rec.Executions != 1 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Time.Location() != time.UTC || !rec.Time.Equal(now) {
		t.Fatalf("expected utc time, got %s", rec.Time)
	}
}
