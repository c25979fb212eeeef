package position

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"candlebot/internal/config"
	"candlebot/internal/market"
	"candlebot/internal/strategy"

	"go.uber.org/zap"
)

// Engine is the position and risk state machine of one asset. Every decision,
// live or replayed, goes through Cycle.
type Engine struct {
	cfg      config.AssetConfig
	ladder   []Tier
	main     strategy.Strategy
	fallback strategy.Strategy
	log      *zap.Logger

	mu    sync.Mutex
	state State
}

// New builds the engine and its strategies from the asset configuration.
func New(cfg config.AssetConfig, log *zap.Logger) (*Engine, error) {
	if err := config.ValidateAsset(cfg); err != nil {
		return nil, err
	}
	main, err := strategy.New(cfg.MainStrategy)
	if err != nil {
		return nil, fmt.Errorf("main strategy: %w", err)
	}
	var fallback strategy.Strategy
	if cfg.FallbackEnabled {
		fallback, err = strategy.New(cfg.FallbackStrategy)
		if err != nil {
			return nil, fmt.Errorf("fallback strategy: %w", err)
		}
	}
	return NewEngine(cfg, main, fallback, log), nil
}

// NewEngine wires already built strategies. A nil fallback disables the
// fallback path regardless of cfg.FallbackEnabled.
func NewEngine(cfg config.AssetConfig, main, fallback strategy.Strategy, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	ladder := make([]Tier, 0, len(cfg.TakeProfit))
	for _, level := range cfg.TakeProfit {
		ladder = append(ladder, Tier{Trigger: level.Trigger, Exit: level.Exit})
	}
	if !cfg.FallbackEnabled {
		fallback = nil
	}
	return &Engine{
		cfg:      cfg,
		ladder:   ladder,
		main:     main,
		fallback: fallback,
		log:      log,
		state:    State{Status: StatusFlat},
	}
}

func (e *Engine) Pair() string {
	return e.cfg.Pair
}

// MinWindow is the candle count needed by the main strategy, and by the
// fallback when it is enabled.
func (e *Engine) MinWindow() int {
	n := e.main.MinWindow()
	if e.fallback != nil && e.fallback.MinWindow() > n {
		n = e.fallback.MinWindow()
	}
	return n
}

// Position returns a copy of the current state.
func (e *Engine) Position() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

// Restore replaces the state, typically with a persisted snapshot.
func (e *Engine) Restore(s State) error {
	switch s.Status {
	case StatusFlat:
		e.mu.Lock()
		e.state = State{Status: StatusFlat, Seq: s.Seq}
		e.mu.Unlock()
		return nil
	case StatusOpen:
		if s.EntryPrice <= 0 || s.Quantity <= 0 {
			return fmt.Errorf("restore %s: open position needs entry price and quantity", e.cfg.Pair)
		}
	default:
		return fmt.Errorf("restore %s: unknown status %q", e.cfg.Pair, s.Status)
	}
	s = s.clone()
	sort.SliceStable(s.TiersRemaining, func(i, j int) bool {
		return s.TiersRemaining[i].Trigger < s.TiersRemaining[j].Trigger
	})
	if s.OriginalQuantity < s.Quantity {
		s.OriginalQuantity = s.Quantity
	}
	if s.HighWaterMark < s.EntryPrice {
		s.HighWaterMark = s.EntryPrice
	}
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	return nil
}

// Cycle runs one evaluation against the latest candle of the window, in
// priority order: stop-loss, take-profit ladder, strategy decision. Failed
// orders leave the state where it was so the same decision is retried on the
// next cycle.
func (e *Engine) Cycle(ctx context.Context, candles []market.Candle, venue Venue) (Outcome, error) {
	if len(candles) == 0 {
		return Outcome{Pair: e.cfg.Pair, Action: ActionInsufficientData}, fmt.Errorf("%s: %w: empty candle window", e.cfg.Pair, strategy.ErrInsufficientData)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out, err := e.cycle(ctx, candles, venue)
	out.Status = e.state.Status
	return out, err
}

func (e *Engine) cycle(ctx context.Context, candles []market.Candle, venue Venue) (Outcome, error) {
	last := candles[len(candles)-1]
	out := Outcome{
		Pair:       e.cfg.Pair,
		Action:     ActionHold,
		Price:      last.Close,
		CandleTime: last.OpenTime,
	}

	if e.state.Status == StatusOpen {
		if last.Close > e.state.HighWaterMark {
			e.state.HighWaterMark = last.Close
		}
		out.PnLPct = UnrealizedPct(e.state.EntryPrice, last.Close)
		if stopLossHit(e.state, last.Close, e.cfg.StopLossPercentage, e.cfg.TrailingStop) {
			out.Action = ActionStopLoss
			e.log.Warn("stop loss triggered",
				zap.Float64("price", last.Close),
				zap.Float64("entry", e.state.EntryPrice),
				zap.Float64("pnl_pct", out.PnLPct),
			)
			err := e.exit(ctx, venue, &out, e.state.Quantity, ReasonStopLoss, 0, last)
			return out, err
		}
		fired, err := e.takeProfit(ctx, venue, &out, last)
		if fired {
			out.Action = ActionTakeProfit
		}
		if fired || err != nil {
			return out, err
		}
	}

	sig, err := e.evaluate(candles, &out)
	if err != nil {
		return out, err
	}
	e.log.Debug("strategy evaluated",
		zap.String("strategy", out.Source),
		zap.String("decision", sig.Decision.String()),
		zap.Any("indicators", sig.Indicators),
	)

	switch sig.Decision {
	case strategy.Buy:
		if e.state.Status == StatusFlat {
			return out, e.enter(ctx, venue, &out, last)
		}
	case strategy.Sell:
		if e.state.Status == StatusFlat {
			out.Action = ActionNoPosition
			e.log.Info("sell signal without position", zap.Float64("price", last.Close))
			return out, nil
		}
		if !LossGate(e.acceptableLoss(), out.PnLPct) {
			out.Action = ActionLossGate
			e.log.Info("sell suppressed by loss gate",
				zap.String("action", string(ActionLossGate)),
				zap.Float64("pnl_pct", out.PnLPct),
				zap.Float64("acceptable_loss_pct", e.acceptableLoss()),
			)
			return out, nil
		}
		reason := ReasonStrategySignal
		if out.PnLPct < 0 {
			reason = ReasonLossGate
		}
		out.Action = ActionSold
		return out, e.exit(ctx, venue, &out, e.state.Quantity, reason, 0, last)
	}
	return out, nil
}

func (e *Engine) acceptableLoss() float64 {
	if e.cfg.AcceptableLossPercentage == nil {
		return -1
	}
	return *e.cfg.AcceptableLossPercentage
}

// evaluate runs the main strategy and, when it lacks data, the fallback.
func (e *Engine) evaluate(candles []market.Candle, out *Outcome) (strategy.Signal, error) {
	sig, err := e.main.Evaluate(candles)
	out.Source = e.main.Name()
	if sig.Decision != strategy.None {
		out.Decision, out.Indicators = sig.Decision, sig.Indicators
		return sig, nil
	}
	if err == nil {
		err = &strategy.InsufficientDataError{Strategy: e.main.Name(), Have: len(candles), Need: e.main.MinWindow()}
	}
	if !errors.Is(err, strategy.ErrInsufficientData) || e.fallback == nil {
		out.Action = ActionInsufficientData
		return sig, err
	}

	fsig, ferr := e.fallback.Evaluate(candles)
	if fsig.Decision != strategy.None {
		e.log.Info("main strategy lacks data, using fallback",
			zap.String("main", e.main.Name()),
			zap.String("fallback", e.fallback.Name()),
			zap.Error(err),
		)
		out.Source, out.Fallback = e.fallback.Name(), true
		out.Decision, out.Indicators = fsig.Decision, fsig.Indicators
		return fsig, nil
	}
	if ferr == nil {
		ferr = &strategy.InsufficientDataError{Strategy: e.fallback.Name(), Have: len(candles), Need: e.fallback.MinWindow()}
	}
	e.log.Warn("main and fallback strategies returned no signal",
		zap.String("main", e.main.Name()),
		zap.String("fallback", e.fallback.Name()),
		zap.Int("candles", len(candles)),
	)
	out.Source, out.Fallback = e.fallback.Name(), true
	out.Action = ActionInsufficientData
	return fsig, errors.Join(err, ferr)
}

func (e *Engine) takeProfit(ctx context.Context, venue Venue, out *Outcome, last market.Candle) (bool, error) {
	fired := false
	for len(e.state.TiersRemaining) > 0 && e.state.Status == StatusOpen {
		tier := e.state.TiersRemaining[0]
		if out.PnLPct < tier.Trigger {
			break
		}
		qty := roundDown(e.state.OriginalQuantity*tier.Exit/100, e.cfg.Decimals())
		if qty > e.state.Quantity || qty <= 0 || roundDown(e.state.Quantity-qty, e.cfg.Decimals()) <= 0 {
			qty = e.state.Quantity
		}
		rung := len(e.ladder) - len(e.state.TiersRemaining) + 1
		e.log.Info("take profit tier reached",
			zap.Int("tier", rung),
			zap.Float64("trigger_pct", tier.Trigger),
			zap.Float64("pnl_pct", out.PnLPct),
			zap.Float64("quantity", qty),
		)
		if err := e.exit(ctx, venue, out, qty, ReasonTakeProfit, rung, last); err != nil {
			return fired, err
		}
		fired = true
		if len(e.state.TiersRemaining) > 0 {
			e.state.TiersRemaining = e.state.TiersRemaining[1:]
		}
	}
	return fired, nil
}

func (e *Engine) enter(ctx context.Context, venue Venue, out *Outcome, last market.Candle) error {
	qty, err := e.buyQuantity(ctx, venue, last.Close)
	if err != nil {
		return err
	}
	intent := OrderIntent{
		Pair:           e.cfg.Pair,
		Side:           SideBuy,
		Quantity:       qty,
		ReferencePrice: last.Close,
		Reason:         ReasonStrategySignal,
		CandleTime:     last.OpenTime,
		Seq:            e.state.Seq,
	}
	fill, err := venue.Submit(ctx, intent)
	if err != nil {
		return fmt.Errorf("%w: %s buy %s: %w", ErrOrderExecution, e.cfg.Pair, intent.ClientOrderID(), err)
	}
	if fill.Quantity <= 0 || fill.Price <= 0 {
		return fmt.Errorf("%w: %s buy %s: empty fill", ErrOrderExecution, e.cfg.Pair, intent.ClientOrderID())
	}
	e.state.Seq++
	e.apply(EventEntryFilled)
	e.state.EntryPrice = fill.Price
	e.state.Quantity = fill.Quantity
	e.state.OriginalQuantity = fill.Quantity
	e.state.EntryTime = last.OpenTime
	e.state.HighWaterMark = fill.Price
	e.state.TiersRemaining = append([]Tier(nil), e.ladder...)

	out.Action = ActionBought
	out.Executions = append(out.Executions, Execution{Intent: intent, Fill: fill})
	e.log.Info("position opened",
		zap.String("source", out.Source),
		zap.Float64("price", fill.Price),
		zap.Float64("quantity", fill.Quantity),
		zap.String("order_id", fill.OrderID),
	)
	return nil
}

func (e *Engine) buyQuantity(ctx context.Context, venue Venue, price float64) (float64, error) {
	qty := e.cfg.TradedQuantity
	if qty <= 0 {
		if price <= 0 {
			return 0, fmt.Errorf("%w: %s: non-positive price %v", ErrInsufficientBalance, e.cfg.Pair, price)
		}
		balance, err := venue.QuoteBalance(ctx)
		if err != nil {
			return 0, fmt.Errorf("%w: %s quote balance: %w", ErrOrderExecution, e.cfg.Pair, err)
		}
		qty = balance * e.cfg.TradedPercentage / 100 / price
	}
	qty = roundDown(qty, e.cfg.Decimals())
	if qty <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrInsufficientBalance, e.cfg.Pair)
	}
	return qty, nil
}

// exit sells qty of the open position. A partial fill reduces the position by
// what was filled.
func (e *Engine) exit(ctx context.Context, venue Venue, out *Outcome, qty float64, reason Reason, tier int, last market.Candle) error {
	intent := OrderIntent{
		Pair:           e.cfg.Pair,
		Side:           SideSell,
		Quantity:       qty,
		ReferencePrice: last.Close,
		Reason:         reason,
		Tier:           tier,
		CandleTime:     last.OpenTime,
		Seq:            e.state.Seq,
	}
	fill, err := venue.Submit(ctx, intent)
	if err != nil {
		return fmt.Errorf("%w: %s sell %s: %w", ErrOrderExecution, e.cfg.Pair, intent.ClientOrderID(), err)
	}
	if fill.Quantity <= 0 {
		return fmt.Errorf("%w: %s sell %s: empty fill", ErrOrderExecution, e.cfg.Pair, intent.ClientOrderID())
	}
	if fill.Quantity > e.state.Quantity {
		fill.Quantity = e.state.Quantity
	}
	result := UnrealizedPct(e.state.EntryPrice, fill.Price)
	out.Executions = append(out.Executions, Execution{Intent: intent, Fill: fill, ResultPct: result})
	e.state.Seq++
	e.state.Quantity = roundDown(e.state.Quantity-fill.Quantity, e.cfg.Decimals())
	e.log.Info("position reduced",
		zap.String("reason", string(reason)),
		zap.Float64("price", fill.Price),
		zap.Float64("quantity", fill.Quantity),
		zap.Float64("result_pct", result),
		zap.Float64("remaining", e.state.Quantity),
		zap.String("order_id", fill.OrderID),
	)
	if e.state.Quantity <= 0 {
		e.apply(EventClosed)
		return nil
	}
	e.apply(EventReduced)
	return nil
}
