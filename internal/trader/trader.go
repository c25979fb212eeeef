package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"candlebot/internal/alerts"
	"candlebot/internal/config"
	"candlebot/internal/market"
	"candlebot/internal/metrics"
	"candlebot/internal/position"
	"candlebot/internal/state"
	"candlebot/internal/strategy"
	"candlebot/internal/timescale"

	"go.uber.org/zap"
)

// CandleSource supplies the candle window of one pair.
type CandleSource interface {
	Candles(ctx context.Context, pair, interval string, limit int) ([]market.Candle, error)
}

type CycleRecorder interface {
	EnqueueCycle(rec timescale.CycleRecord)
}

// Deps are the collaborators of one trader. Only Candles and Venue are
// required.
type Deps struct {
	Candles  CandleSource
	Venue    position.Venue
	Store    state.Store
	Journal  state.Journal
	Notifier alerts.Notifier
	Recorder CycleRecorder
	Metrics  *metrics.Metrics
	Log      *zap.Logger

	// Paused, when set and true, skips whole cycles.
	Paused func() bool
}

// Trader is the scheduling unit of one asset: one cycle fetches candles, runs
// the engine once and records what happened.
type Trader struct {
	cfg    config.AssetConfig
	engine *position.Engine
	deps   Deps
	log    *zap.Logger
	now    func() time.Time

	// savedPeak is the high-water mark of the last persisted snapshot.
	savedPeak float64
}

func New(cfg config.AssetConfig, engine *position.Engine, deps Deps) *Trader {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoop()
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Trader{
		cfg:    cfg,
		engine: engine,
		deps:   deps,
		log:    log.With(zap.String("pair", cfg.Pair)),
		now:    time.Now,
	}
}

func (t *Trader) Name() string {
	return t.cfg.Pair
}

func (t *Trader) Engine() *position.Engine {
	return t.engine
}

// Restore loads the last persisted position of the pair into the engine.
func (t *Trader) Restore(ctx context.Context) (bool, error) {
	snapshot, ok, err := state.LoadPositionSnapshot(ctx, t.deps.Store, t.cfg.Pair)
	if err != nil || !ok {
		return false, err
	}
	if err := t.engine.Restore(snapshot.Position); err != nil {
		return false, err
	}
	t.savedPeak = t.engine.Position().HighWaterMark
	t.log.Info("position restored",
		zap.String("status", string(snapshot.Position.Status)),
		zap.Float64("entry", snapshot.Position.EntryPrice),
		zap.Float64("quantity", snapshot.Position.Quantity),
	)
	return true, nil
}

// Cycle runs one trading cycle and returns how long to sleep before the next:
// the post-order delay after an execution, the poll interval otherwise.
func (t *Trader) Cycle(ctx context.Context) (time.Duration, error) {
	if t.deps.Paused != nil && t.deps.Paused() {
		t.log.Debug("trading paused, cycle skipped")
		return t.cfg.PollInterval, nil
	}
	limit := max(t.cfg.CandleWindow, t.engine.MinWindow())
	candles, err := t.deps.Candles.Candles(ctx, t.cfg.Pair, t.cfg.CandleInterval, limit)
	if err != nil {
		t.deps.Metrics.DataFetchFailed.Inc()
		return t.cfg.PollInterval, err
	}

	outcome, err := t.engine.Cycle(ctx, candles, t.deps.Venue)
	t.record(ctx, outcome)
	if err != nil {
		switch {
		case errors.Is(err, strategy.ErrInsufficientData):
			t.deps.Metrics.InsufficientData.Inc()
		case errors.Is(err, position.ErrOrderExecution):
			t.deps.Metrics.OrdersFailed.Inc()
			t.deps.Metrics.CycleFailures.Inc()
		default:
			t.deps.Metrics.CycleFailures.Inc()
		}
	}
	if outcome.OrderSubmitted() {
		return t.cfg.PostOrderDelay, err
	}
	return t.cfg.PollInterval, err
}

func (t *Trader) record(ctx context.Context, outcome position.Outcome) {
	switch outcome.Action {
	case position.ActionStopLoss:
		if outcome.OrderSubmitted() {
			t.deps.Metrics.StopLosses.Inc()
		}
	case position.ActionLossGate:
		t.deps.Metrics.LossGateSuppressed.Inc()
	}
	pos := t.engine.Position()
	if t.deps.Recorder != nil && outcome.Pair != "" {
		t.deps.Recorder.EnqueueCycle(timescale.CycleRecordFromOutcome(t.now(), outcome, pos))
	}
	// A moving peak is persisted so a restart keeps the trailing stop reference.
	peakMoved := pos.Status == position.StatusOpen && pos.HighWaterMark != t.savedPeak
	if !outcome.OrderSubmitted() {
		if peakMoved {
			t.saveSnapshot(ctx, pos)
		}
		return
	}
	for _, exec := range outcome.Executions {
		t.deps.Metrics.OrdersPlaced.Inc()
		if exec.Intent.Reason == position.ReasonTakeProfit {
			t.deps.Metrics.TakeProfits.Inc()
		}
		if t.deps.Journal != nil {
			if err := t.deps.Journal.RecordExecution(ctx, executionRecord(t.now(), exec)); err != nil {
				t.log.Warn("failed to journal execution", zap.Error(err))
			}
		}
	}
	t.saveSnapshot(ctx, pos)
	if t.deps.Notifier != nil {
		if err := t.deps.Notifier.NotifyOutcome(ctx, outcome); err != nil {
			t.log.Warn("failed to send alert", zap.Error(err))
		}
	}
}

func (t *Trader) saveSnapshot(ctx context.Context, pos position.State) {
	snapshot := state.PositionSnapshot{Pair: t.cfg.Pair, Position: pos, UpdatedAtMS: t.now().UnixMilli()}
	if err := state.SavePositionSnapshot(ctx, t.deps.Store, snapshot); err != nil {
		t.log.Warn("failed to persist position", zap.Error(err))
		return
	}
	t.savedPeak = pos.HighWaterMark
}

func executionRecord(now time.Time, exec position.Execution) state.ExecutionRecord {
	executedAt := exec.Fill.Time
	if executedAt.IsZero() {
		executedAt = now
	}
	return state.ExecutionRecord{
		Pair:          exec.Intent.Pair,
		ClientOrderID: exec.Intent.ClientOrderID(),
		OrderID:       exec.Fill.OrderID,
		Side:          string(exec.Intent.Side),
		Reason:        reasonLabel(exec.Intent),
		Quantity:      exec.Fill.Quantity,
		Price:         exec.Fill.Price,
		ResultPct:     exec.ResultPct,
		CandleTime:    exec.Intent.CandleTime,
		ExecutedAt:    executedAt,
	}
}

func reasonLabel(intent position.OrderIntent) string {
	if intent.Reason == position.ReasonTakeProfit {
		return fmt.Sprintf("%s_%d", intent.Reason, intent.Tier)
	}
	return string(intent.Reason)
}
