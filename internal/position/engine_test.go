package position

import (
	"context"
	"errors"
	"testing"
	"time"

	"candlebot/internal/config"
	"candlebot/internal/market"
	"candlebot/internal/strategy"
)

type fakeStrategy struct {
	name     string
	min      int
	decision strategy.Decision
	calls    int
}

func (f *fakeStrategy) Name() string   { return f.name }
func (f *fakeStrategy) MinWindow() int { return f.min }

func (f *fakeStrategy) Evaluate(candles []market.Candle) (strategy.Signal, error) {
	f.calls++
	if len(candles) < f.min {
		return strategy.Signal{Decision: strategy.None}, &strategy.InsufficientDataError{Strategy: f.name, Have: len(candles), Need: f.min}
	}
	return strategy.Signal{Decision: f.decision}, nil
}

type fakeVenue struct {
	balance float64
	err     error
	partial float64
	intents []OrderIntent
}

func (v *fakeVenue) Submit(ctx context.Context, intent OrderIntent) (Fill, error) {
	if v.err != nil {
		return Fill{}, v.err
	}
	v.intents = append(v.intents, intent)
	qty := intent.Quantity
	if v.partial > 0 {
		qty = v.partial
	}
	return Fill{OrderID: intent.ClientOrderID(), Quantity: qty, Price: intent.ReferencePrice}, nil
}

func (v *fakeVenue) QuoteBalance(ctx context.Context) (float64, error) {
	return v.balance, nil
}

var candleStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// window returns three candles whose last close is price; step moves the
// open time so consecutive cycles look like consecutive candles.
func window(step int, price float64) []market.Candle {
	out := make([]market.Candle, 3)
	for i := range out {
		ts := candleStart.Add(time.Duration(step+i) * 15 * time.Minute)
		out[i] = market.Candle{OpenTime: ts, Open: price, High: price, Low: price, Close: price, Volume: 1}
	}
	return out
}

func testAsset() config.AssetConfig {
	acceptable := -1.0
	return config.AssetConfig{
		Asset:                    "BTC",
		Pair:                     "BTCUSDT",
		Quote:                    "USDT",
		TradedQuantity:           1,
		CandleInterval:           "15m",
		CandleWindow:             3,
		MainStrategy:             config.StrategyConfig{Kind: "rsi"},
		StopLossPercentage:       3.5,
		AcceptableLossPercentage: &acceptable,
		TakeProfit:               []config.TakeProfitLevel{{Trigger: 10, Exit: 50}, {Trigger: 25, Exit: 50}},
		PollInterval:             15 * time.Minute,
		PostOrderDelay:           30 * time.Minute,
	}
}

func openAt(t *testing.T, e *Engine, main *fakeStrategy, venue *fakeVenue, price float64) {
	t.Helper()
	main.decision = strategy.Buy
	out, err := e.Cycle(context.Background(), window(0, price), venue)
	if err != nil {
		t.Fatalf("open cycle: %v", err)
	}
	if out.Action != ActionBought {
		t.Fatalf("expected bought, got %s", out.Action)
	}
	main.decision = strategy.Hold
}

func TestBuyOpensPositionWithFullLadder(t *testing.T) {
	main := &fakeStrategy{name: "main", min: 1}
	venue := &fakeVenue{}
	e := NewEngine(testAsset(), main, nil, nil)
	openAt(t, e, main, venue, 100)

	pos := e.Position()
	if pos.Status != StatusOpen {
		t.Fatalf("expected open, got %s", pos.Status)
	}
	if pos.EntryPrice != 100 || pos.Quantity != 1 || pos.OriginalQuantity != 1 {
		t.Fatalf("unexpected position: %+v", pos)
	}
	if len(pos.TiersRemaining) != 2 || pos.HighWaterMark != 100 {
		t.Fatalf("unexpected ladder or high water mark: %+v", pos)
	}
	if !pos.EntryTime.Equal(window(0, 100)[2].OpenTime) {
		t.Fatalf("unexpected entry time %s", pos.EntryTime)
	}
	if len(venue.intents) != 1 || venue.intents[0].Side != SideBuy || venue.intents[0].Reason != ReasonStrategySignal {
		t.Fatalf("unexpected intents: %+v", venue.intents)
	}
}

func TestBuyWhileOpenHolds(t *testing.T) {
	main := &fakeStrategy{name: "main", min: 1}
	venue := &fakeVenue{}
	e := NewEngine(testAsset(), main, nil, nil)
	openAt(t, e, main, venue, 100)
	main.decision = strategy.Buy
	out, err := e.Cycle(context.Background(), window(1, 101), venue)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if out.Action != ActionHold || out.OrderSubmitted() {
		t.Fatalf("expected hold without orders, got %s", out.Action)
	}
}

func TestTakeProfitFirstTier(t *testing.T) {
	main := &fakeStrategy{name: "main", min: 1}
	venue := &fakeVenue{}
	e := NewEngine(testAsset(), main, nil, nil)
	openAt(t, e, main, venue, 100)

	out, err := e.Cycle(context.Background(), window(1, 112), venue)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if out.Action != ActionTakeProfit || len(out.Executions) != 1 {
		t.Fatalf("expected one take profit execution, got %s %d", out.Action, len(out.Executions))
	}
	exec := out.Executions[0]
	if exec.Intent.Quantity != 0.5 || exec.Intent.Tier != 1 || exec.Intent.Reason != ReasonTakeProfit {
		t.Fatalf("unexpected intent: %+v", exec.Intent)
	}
	pos := e.Position()
	if pos.Quantity != 0.5 || len(pos.TiersRemaining) != 1 || pos.TiersRemaining[0].Trigger != 25 {
		t.Fatalf("unexpected position after tier: %+v", pos)
	}
	if main.calls != 1 {
		t.Fatalf("strategy should be skipped once a tier fires, calls=%d", main.calls)
	}
}

func TestTakeProfitTierDoesNotRetrigger(t *testing.T) {
	main := &fakeStrategy{name: "main", min: 1}
	venue := &fakeVenue{}
	e := NewEngine(testAsset(), main, nil, nil)
	openAt(t, e, main, venue, 100)

	for step, price := range []float64{112, 105, 112, 111} {
		if _, err := e.Cycle(context.Background(), window(step+1, price), venue); err != nil {
			t.Fatalf("cycle %d: %v", step, err)
		}
	}
	sells := 0
	for _, intent := range venue.intents {
		if intent.Side == SideSell {
			sells++
		}
	}
	if sells != 1 {
		t.Fatalf("expected a single take profit sell, got %d", sells)
	}
	if pos := e.Position(); pos.Quantity != 0.5 {
		t.Fatalf("expected 0.5 held, got %v", pos.Quantity)
	}
}

func TestTakeProfitSeveralTiersInOneCycle(t *testing.T) {
	main := &fakeStrategy{name: "main", min: 1}
	venue := &fakeVenue{}
	e := NewEngine(testAsset(), main, nil, nil)
	openAt(t, e, main, venue, 100)

	out, err := e.Cycle(context.Background(), window(1, 130), venue)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(out.Executions) != 2 {
		t.Fatalf("expected two tier exits, got %d", len(out.Executions))
	}
	if out.Executions[0].Intent.Tier != 1 || out.Executions[1].Intent.Tier != 2 {
		t.Fatalf("tiers must fire in ascending order: %+v", out.Executions)
	}
	if out.Status != StatusFlat || e.Position().Status != StatusFlat {
		t.Fatalf("expected flat after ladder exhausted, got %s", out.Status)
	}
}

func TestStopLossOverridesBuySignal(t *testing.T) {
	main := &fakeStrategy{name: "main", min: 1}
	venue := &fakeVenue{}
	e := NewEngine(testAsset(), main, nil, nil)
	openAt(t, e, main, venue, 100)

	main.decision = strategy.Buy
	out, err := e.Cycle(context.Background(), window(1, 96), venue)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if out.Action != ActionStopLoss {
		t.Fatalf("expected stop loss, got %s", out.Action)
	}
	if len(out.Executions) != 1 || out.Executions[0].Intent.Quantity != 1 || out.Executions[0].Intent.Reason != ReasonStopLoss {
		t.Fatalf("expected full stop loss sell, got %+v", out.Executions)
	}
	if e.Position().Status != StatusFlat {
		t.Fatalf("expected flat after stop loss")
	}
	if main.calls != 1 {
		t.Fatalf("strategy should not run on a stop loss cycle, calls=%d", main.calls)
	}
}

func TestTrailingStopTakesPriorityOverTakeProfit(t *testing.T) {
	cfg := testAsset()
	cfg.TrailingStop = true
	main := &fakeStrategy{name: "main", min: 1, decision: strategy.Hold}
	venue := &fakeVenue{}
	e := NewEngine(cfg, main, nil, nil)
	err := e.Restore(State{
		Status:           StatusOpen,
		EntryPrice:       100,
		Quantity:         1,
		OriginalQuantity: 1,
		HighWaterMark:    130,
		TiersRemaining:   []Tier{{Trigger: 10, Exit: 50}},
	})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	// +20% clears the first tier, but -7.7% from the high water mark breaches the stop
	out, err := e.Cycle(context.Background(), window(1, 120), venue)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if out.Action != ActionStopLoss || len(out.Executions) != 1 {
		t.Fatalf("expected only the stop loss exit, got %s %+v", out.Action, out.Executions)
	}
	if out.Executions[0].Intent.Quantity != 1 {
		t.Fatalf("expected full exit, got %v", out.Executions[0].Intent.Quantity)
	}
}

func TestFixedStopIgnoresHighWaterMark(t *testing.T) {
	main := &fakeStrategy{name: "main", min: 1, decision: strategy.Hold}
	venue := &fakeVenue{}
	e := NewEngine(testAsset(), main, nil, nil)
	if err := e.Restore(State{Status: StatusOpen, EntryPrice: 100, Quantity: 1, HighWaterMark: 130}); err != nil {
		t.Fatalf("restore: %v", err)
	}
	out, err := e.Cycle(context.Background(), window(1, 120), venue)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if out.Action != ActionHold {
		t.Fatalf("expected hold, got %s", out.Action)
	}
}

func TestSellWhileFlatIsNoop(t *testing.T) {
	main := &fakeStrategy{name: "main", min: 1, decision: strategy.Sell}
	venue := &fakeVenue{}
	e := NewEngine(testAsset(), main, nil, nil)
	out, err := e.Cycle(context.Background(), window(0, 100), venue)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if out.Action != ActionNoPosition || out.OrderSubmitted() || len(venue.intents) != 0 {
		t.Fatalf("expected no order, got %s", out.Action)
	}
	if e.Position().Status != StatusFlat {
		t.Fatalf("expected flat")
	}
}

func TestFallbackBuysWhenMainLacksData(t *testing.T) {
	cfg := testAsset()
	cfg.FallbackEnabled = true
	main := &fakeStrategy{name: "main", min: 50, decision: strategy.Sell}
	fallback := &fakeStrategy{name: "fallback", min: 2, decision: strategy.Buy}
	venue := &fakeVenue{}
	e := NewEngine(cfg, main, fallback, nil)

	out, err := e.Cycle(context.Background(), window(0, 100), venue)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if out.Action != ActionBought || !out.Fallback || out.Source != "fallback" || out.Decision != strategy.Buy {
		t.Fatalf("expected fallback buy, got %+v", out)
	}
	if e.MinWindow() != 50 {
		t.Fatalf("expected min window 50, got %d", e.MinWindow())
	}
}

func TestFallbackDisabledReportsInsufficientData(t *testing.T) {
	main := &fakeStrategy{name: "main", min: 50}
	fallback := &fakeStrategy{name: "fallback", min: 2, decision: strategy.Buy}
	venue := &fakeVenue{}
	e := NewEngine(testAsset(), main, fallback, nil)

	out, err := e.Cycle(context.Background(), window(0, 100), venue)
	if !errors.Is(err, strategy.ErrInsufficientData) {
		t.Fatalf("expected insufficient data, got %v", err)
	}
	if out.Action != ActionInsufficientData || fallback.calls != 0 {
		t.Fatalf("fallback must not run when disabled")
	}
}

func TestBothStrategiesLackingDataIsReported(t *testing.T) {
	cfg := testAsset()
	cfg.FallbackEnabled = true
	main := &fakeStrategy{name: "main", min: 50}
	fallback := &fakeStrategy{name: "fallback", min: 40}
	venue := &fakeVenue{}
	e := NewEngine(cfg, main, fallback, nil)

	out, err := e.Cycle(context.Background(), window(0, 100), venue)
	if !errors.Is(err, strategy.ErrInsufficientData) {
		t.Fatalf("expected insufficient data, got %v", err)
	}
	var detail *strategy.InsufficientDataError
	if !errors.As(err, &detail) {
		t.Fatalf("expected detail in %v", err)
	}
	if out.Action != ActionInsufficientData || out.OrderSubmitted() {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestEmptyWindowIsInsufficientData(t *testing.T) {
	e := NewEngine(testAsset(), &fakeStrategy{name: "main", min: 1}, nil, nil)
	_, err := e.Cycle(context.Background(), nil, &fakeVenue{})
	if !errors.Is(err, strategy.ErrInsufficientData) {
		t.Fatalf("expected insufficient data, got %v", err)
	}
}

func TestLossGateSuppressesDiscretionarySell(t *testing.T) {
	main := &fakeStrategy{name: "main", min: 1}
	venue := &fakeVenue{}
	e := NewEngine(testAsset(), main, nil, nil)
	openAt(t, e, main, venue, 100)

	main.decision = strategy.Sell
	out, err := e.Cycle(context.Background(), window(1, 98), venue)
	if err != nil {
		t.Fatalf("loss gate must not be an error, got %v", err)
	}
	if out.Action != ActionLossGate || out.OrderSubmitted() {
		t.Fatalf("expected suppressed sell, got %s", out.Action)
	}
	if e.Position().Status != StatusOpen {
		t.Fatalf("position must stay open")
	}

	out, err = e.Cycle(context.Background(), window(2, 101), venue)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if out.Action != ActionSold || out.Executions[0].Intent.Reason != ReasonStrategySignal {
		t.Fatalf("expected profitable sell, got %s", out.Action)
	}
	if e.Position().Status != StatusFlat {
		t.Fatalf("expected flat after sell")
	}
}

func TestLossGateAcceptsConfiguredLoss(t *testing.T) {
	cfg := testAsset()
	acceptable := 2.5
	cfg.AcceptableLossPercentage = &acceptable
	main := &fakeStrategy{name: "main", min: 1}
	venue := &fakeVenue{}
	e := NewEngine(cfg, main, nil, nil)
	openAt(t, e, main, venue, 100)

	main.decision = strategy.Sell
	out, err := e.Cycle(context.Background(), window(1, 98), venue)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if out.Action != ActionSold || out.Executions[0].Intent.Reason != ReasonLossGate {
		t.Fatalf("expected accepted loss exit, got %s %+v", out.Action, out.Executions)
	}
	if out.Executions[0].ResultPct >= 0 {
		t.Fatalf("expected negative result, got %v", out.Executions[0].ResultPct)
	}
}

func TestOrderFailureDoesNotAdvanceState(t *testing.T) {
	main := &fakeStrategy{name: "main", min: 1, decision: strategy.Buy}
	venue := &fakeVenue{err: errors.New("exchange down")}
	e := NewEngine(testAsset(), main, nil, nil)

	out, err := e.Cycle(context.Background(), window(0, 100), venue)
	if !errors.Is(err, ErrOrderExecution) {
		t.Fatalf("expected order execution error, got %v", err)
	}
	if out.OrderSubmitted() || e.Position().Status != StatusFlat {
		t.Fatalf("state must not advance on failure")
	}

	venue.err = nil
	out, err = e.Cycle(context.Background(), window(0, 100), venue)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if out.Action != ActionBought {
		t.Fatalf("expected the same decision to be retried, got %s", out.Action)
	}
}

func TestFailedTierIsRetried(t *testing.T) {
	main := &fakeStrategy{name: "main", min: 1}
	venue := &fakeVenue{}
	e := NewEngine(testAsset(), main, nil, nil)
	openAt(t, e, main, venue, 100)

	venue.err = errors.New("timeout")
	if _, err := e.Cycle(context.Background(), window(1, 112), venue); !errors.Is(err, ErrOrderExecution) {
		t.Fatalf("expected order execution error, got %v", err)
	}
	if pos := e.Position(); len(pos.TiersRemaining) != 2 || pos.Quantity != 1 {
		t.Fatalf("tier must survive a failed exit: %+v", pos)
	}
	venue.err = nil
	out, err := e.Cycle(context.Background(), window(2, 112), venue)
	if err != nil || out.Action != ActionTakeProfit {
		t.Fatalf("expected tier retry, got %s %v", out.Action, err)
	}
}

func TestPartialFillReducesPosition(t *testing.T) {
	main := &fakeStrategy{name: "main", min: 1}
	venue := &fakeVenue{}
	e := NewEngine(testAsset(), main, nil, nil)
	openAt(t, e, main, venue, 100)

	venue.partial = 0.4
	out, err := e.Cycle(context.Background(), window(1, 96), venue)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if out.Action != ActionStopLoss {
		t.Fatalf("expected stop loss, got %s", out.Action)
	}
	pos := e.Position()
	if pos.Status != StatusOpen || pos.Quantity != 0.6 {
		t.Fatalf("expected 0.6 left open, got %+v", pos)
	}
}

func TestPercentageSizing(t *testing.T) {
	cfg := testAsset()
	cfg.TradedQuantity = 0
	cfg.TradedPercentage = 50
	decimals := 3
	cfg.QuantityDecimals = &decimals
	main := &fakeStrategy{name: "main", min: 1, decision: strategy.Buy}
	venue := &fakeVenue{balance: 1000}
	e := NewEngine(cfg, main, nil, nil)

	if _, err := e.Cycle(context.Background(), window(0, 300), venue); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if got := venue.intents[0].Quantity; got != 1.666 {
		t.Fatalf("expected 1.666, got %v", got)
	}
}

func TestPercentageSizingWithoutBalance(t *testing.T) {
	cfg := testAsset()
	cfg.TradedQuantity = 0
	cfg.TradedPercentage = 100
	main := &fakeStrategy{name: "main", min: 1, decision: strategy.Buy}
	e := NewEngine(cfg, main, nil, nil)

	_, err := e.Cycle(context.Background(), window(0, 100), &fakeVenue{})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}

func TestClientOrderIDsAreUniquePerFill(t *testing.T) {
	main := &fakeStrategy{name: "main", min: 1}
	venue := &fakeVenue{}
	e := NewEngine(testAsset(), main, nil, nil)
	openAt(t, e, main, venue, 100)
	if _, err := e.Cycle(context.Background(), window(1, 130), venue); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	seen := map[string]bool{}
	for _, intent := range venue.intents {
		id := intent.ClientOrderID()
		if seen[id] {
			t.Fatalf("duplicate client order id %s", id)
		}
		seen[id] = true
	}
	want := "BTCUSDT-buy-1709253000-0"
	if got := venue.intents[0].ClientOrderID(); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestRestoreRejectsBrokenSnapshot(t *testing.T) {
	e := NewEngine(testAsset(), &fakeStrategy{name: "main", min: 1}, nil, nil)
	if err := e.Restore(State{Status: StatusOpen}); err == nil {
		t.Fatalf("expected error for open position without entry")
	}
	if err := e.Restore(State{Status: "HALF"}); err == nil {
		t.Fatalf("expected error for unknown status")
	}
	if err := e.Restore(State{Status: StatusFlat, Seq: 7}); err != nil {
		t.Fatalf("restore flat: %v", err)
	}
	if e.Position().Seq != 7 {
		t.Fatalf("expected sequence to survive restore")
	}
}

func TestNewBuildsConfiguredStrategies(t *testing.T) {
	cfg := testAsset()
	cfg.FallbackEnabled = true
	cfg.FallbackStrategy = config.StrategyConfig{Kind: "moving_average"}
	e, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if e.MinWindow() != 42 {
		t.Fatalf("expected fallback window 42, got %d", e.MinWindow())
	}
	cfg.MainStrategy.Kind = "unknown"
	if _, err := New(cfg, nil); !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
}
