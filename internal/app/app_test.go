package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"candlebot/internal/config"
	"candlebot/internal/market"
	"candlebot/internal/metrics"
	"candlebot/internal/position"
	"candlebot/internal/state"
	"candlebot/internal/strategy"
	"candlebot/internal/trader"

	"go.uber.org/zap"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
	recs []state.ExecutionRecord
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]string)}
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) Close() error {
	return nil
}

func (m *memoryStore) RecordExecution(ctx context.Context, rec state.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memoryStore) Executions(ctx context.Context, pair string, limit int) ([]state.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []state.ExecutionRecord
	for i := len(m.recs) - 1; i >= 0 && len(out) < limit; i-- {
		if m.recs[i].Pair == pair {
			out = append(out, m.recs[i])
		}
	}
	return out, nil
}

type stubSource struct {
	candles []market.Candle
}

func (s *stubSource) Klines(ctx context.Context, pair, interval string, limit int) ([]market.Candle, error) {
	return s.candles, nil
}

var testStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func testCandles(closes ...float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{OpenTime: testStart.Add(time.Duration(i) * 15 * time.Minute), Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	return out
}

func testAsset(pair string) config.AssetConfig {
	return config.AssetConfig{
		Asset:              strings.TrimSuffix(pair, "USDT"),
		Pair:               pair,
		Quote:              "USDT",
		TradedQuantity:     1,
		CandleInterval:     "15m",
		CandleWindow:       3,
		MainStrategy:       config.StrategyConfig{Kind: "moving_average"},
		StopLossPercentage: 3.5,
		PollInterval:       time.Minute,
		PostOrderDelay:     time.Minute,
	}
}

func newTestApp(t *testing.T, pairs ...string) *App {
	t.Helper()
	cfg := &config.Config{ExecutionMode: config.ModeSerialized}
	a := &App{
		cfg:     cfg,
		log:     zap.NewNop(),
		store:   newMemoryStore(),
		feed:    market.NewFeed(&stubSource{candles: testCandles(100, 101, 102)}, zap.NewNop()),
		metrics: metrics.NewNoop(),
	}
	for _, pair := range pairs {
		asset := testAsset(pair)
		cfg.Assets = append(cfg.Assets, asset)
		main, err := strategy.New(asset.MainStrategy)
		if err != nil {
			t.Fatalf("strategy: %v", err)
		}
		engine := position.NewEngine(asset, main, nil, nil)
		a.feed.Track(pair, asset.CandleInterval, 15*time.Minute, 3)
		a.traders = append(a.traders, trader.New(asset, engine, trader.Deps{Candles: a.feed, Store: a.store, Journal: a.store}))
	}
	return a
}

func openPosition(t *testing.T, a *App, pair string, entry, qty float64) {
	t.Helper()
	for _, tr := range a.traders {
		if tr.Name() == pair {
			err := tr.Engine().Restore(position.State{
				Status:           position.StatusOpen,
				EntryPrice:       entry,
				Quantity:         qty,
				OriginalQuantity: qty,
				TiersRemaining:   []position.Tier{{Trigger: 10, Exit: 50}},
			})
			if err != nil {
				t.Fatalf("restore: %v", err)
			}
			return
		}
	}
	t.Fatalf("unknown pair %s", pair)
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthzSetsRequestID(t *testing.T) {
	a := newTestApp(t, "BTCUSDT")
	rec := get(t, a.router(), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected generated request id")
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["assets"] != float64(1) {
		t.Fatalf("unexpected body %v", body)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "abc")
	rec = httptest.NewRecorder()
	a.router().ServeHTTP(rec, req)
	if got := rec.Header().Get(requestIDHeader); got != "abc" {
		t.Fatalf("expected request id to be echoed, got %q", got)
	}
}

func TestPositionsEndpoints(t *testing.T) {
	a := newTestApp(t, "BTCUSDT", "ETHUSDT")
	openPosition(t, a, "ETHUSDT", 2000, 0.5)
	h := a.router()

	rec := get(t, h, "/positions")
	var all []state.PositionSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &all); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(all) != 2 || all[0].Position.Status != position.StatusFlat || all[1].Position.Status != position.StatusOpen {
		t.Fatalf("unexpected positions %+v", all)
	}

	rec = get(t, h, "/positions/ethusdt")
	var one state.PositionSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &one); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if one.Pair != "ETHUSDT" || one.Position.EntryPrice != 2000 {
		t.Fatalf("unexpected position %+v", one)
	}

	if rec := get(t, h, "/positions/XRPUSDT"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestExecutionsEndpoint(t *testing.T) {
	a := newTestApp(t, "BTCUSDT")
	store := a.store.(*memoryStore)
	for i := 0; i < 3; i++ {
		_ = store.RecordExecution(context.Background(), state.ExecutionRecord{Pair: "BTCUSDT", ClientOrderID: "id-" + string(rune('a'+i)), Side: "BUY"})
	}
	h := a.router()

	rec := get(t, h, "/executions/btcusdt?limit=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var records []state.ExecutionRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 2 || records[0].ClientOrderID != "id-c" {
		t.Fatalf("unexpected records %+v", records)
	}
	if rec := get(t, h, "/executions/BTCUSDT?limit=zero"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	a := newTestApp(t, "BTCUSDT")
	if rec := get(t, a.router(), "/metrics"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected no metrics route without prometheus, got %d", rec.Code)
	}
	a.prom = metrics.NewPrometheus()
	a.prom.Metrics.OrdersPlaced.Inc()
	rec := get(t, a.router(), "/metrics")
	if !strings.Contains(rec.Body.String(), "candlebot_orders_placed_total 1") {
		t.Fatalf("expected orders counter, got %s", rec.Body.String())
	}
}

func TestHandleKlineUpdatesFeed(t *testing.T) {
	a := newTestApp(t, "BTCUSDT")
	if _, err := a.feed.Candles(context.Background(), "BTCUSDT", "15m", 3); err != nil {
		t.Fatalf("backfill: %v", err)
	}
	next := market.Candle{OpenTime: testStart.Add(45 * time.Minute), Open: 102, High: 110, Low: 101, Close: 109, Volume: 4}
	a.handleKline("BTCUSDT", "15m", next, true)

	latest, ok := a.feed.Latest("BTCUSDT", "15m")
	if !ok || latest.Close != 109 {
		t.Fatalf("expected streamed candle, got %+v ok=%v", latest, ok)
	}
}
