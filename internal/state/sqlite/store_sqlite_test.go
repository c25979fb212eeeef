package sqlite

import (
	"context"
	"testing"
	"time"

	"candlebot/internal/state"
)

func TestStoreRoundTrip(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Set(ctx, "key", "value"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	val, ok, err := store.Get(ctx, "key")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ok || val != "value" {
		t.Fatalf("unexpected value: %v (ok=%v)", val, ok)
	}
	if err := store.Delete(ctx, "key"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	_, ok, err = store.Get(ctx, "key")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok {
		t.Fatalf("expected key to be deleted")
	}
}

func TestExecutionJournal(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	candle := time.Date(2024, 2, 1, 10, 15, 0, 0, time.UTC)
	records := []state.ExecutionRecord{
		{Pair: "BTCUSDT", ClientOrderID: "BTCUSDT-buy-1-0", OrderID: "11", Side: "BUY", Reason: "strategy_signal", Quantity: 0.01, Price: 42000, CandleTime: candle, ExecutedAt: candle.Add(time.Minute)},
		{Pair: "BTCUSDT", ClientOrderID: "BTCUSDT-sl-2-1", OrderID: "12", Side: "SELL", Reason: "stop_loss", Quantity: 0.01, Price: 40000, ResultPct: -4.76, CandleTime: candle.Add(15 * time.Minute), ExecutedAt: candle.Add(16 * time.Minute)},
		{Pair: "ETHUSDT", ClientOrderID: "ETHUSDT-buy-1-0", OrderID: "13", Side: "BUY", Reason: "strategy_signal", Quantity: 1, Price: 2500, CandleTime: candle, ExecutedAt: candle},
	}
	for _, rec := range records {
		if err := store.RecordExecution(ctx, rec); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := store.RecordExecution(ctx, records[0]); err != nil {
		t.Fatalf("duplicate record should be ignored, got %v", err)
	}

	got, err := store.Executions(ctx, "BTCUSDT", 10)
	if err != nil {
		t.Fatalf("executions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(got))
	}
	if got[0].Reason != "stop_loss" || got[1].Reason != "strategy_signal" {
		t.Fatalf("expected newest first, got %+v", got)
	}
	if !got[0].CandleTime.Equal(records[1].CandleTime) || got[0].ResultPct != -4.76 {
		t.Fatalf("unexpected record: %+v", got[0])
	}

	limited, err := store.Executions(ctx, "BTCUSDT", 1)
	if err != nil {
		t.Fatalf("executions: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}
