package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"candlebot/internal/config"
	"candlebot/internal/market"
	"candlebot/internal/position"
	"candlebot/internal/strategy"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Simulator replays a candle series through the same position engine the live
// loop uses, against a Ledger instead of the exchange.
type Simulator struct {
	asset    config.AssetConfig
	cfg      config.BacktestConfig
	main     strategy.Strategy
	fallback strategy.Strategy
	interval time.Duration
	log      *zap.Logger
}

func NewSimulator(asset config.AssetConfig, cfg config.BacktestConfig, log *zap.Logger) (*Simulator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := config.ValidateAsset(asset); err != nil {
		return nil, err
	}
	if cfg.InitialBalance <= 0 {
		return nil, fmt.Errorf("%w: backtest initial balance must be > 0", config.ErrInvalidConfig)
	}
	if cfg.Periods < 0 || cfg.FeeBps < 0 {
		return nil, fmt.Errorf("%w: backtest periods and fee must be >= 0", config.ErrInvalidConfig)
	}
	interval, err := config.IntervalDuration(asset.CandleInterval)
	if err != nil {
		return nil, err
	}
	main, err := strategy.New(asset.MainStrategy)
	if err != nil {
		return nil, fmt.Errorf("main strategy: %w", err)
	}
	var fallback strategy.Strategy
	if asset.FallbackEnabled {
		if fallback, err = strategy.New(asset.FallbackStrategy); err != nil {
			return nil, fmt.Errorf("fallback strategy: %w", err)
		}
	}
	return &Simulator{
		asset:    asset,
		cfg:      cfg,
		main:     main,
		fallback: fallback,
		interval: interval,
		log:      log.With(zap.String("pair", asset.Pair), zap.String("mode", "backtest")),
	}, nil
}

// Run replays candles with a fresh engine and ledger. Identical inputs give
// identical reports.
func (s *Simulator) Run(ctx context.Context, candles []market.Candle) (Report, error) {
	ledger := NewLedger(s.cfg.InitialBalance, s.cfg.FeeBps, s.asset.Decimals())
	return s.replay(ctx, candles, ledger, ledger)
}

// replay drives the engine over candles. Orders go to venue; ledger values the
// account and must be what venue ultimately fills against.
func (s *Simulator) replay(ctx context.Context, candles []market.Candle, ledger *Ledger, venue position.Venue) (Report, error) {
	if err := market.Validate(candles); err != nil {
		return Report{}, err
	}
	engine := position.NewEngine(s.asset, s.main, s.fallback, s.log)
	window := max(s.asset.CandleWindow, engine.MinWindow())
	if len(candles) < window {
		return Report{}, fmt.Errorf("%w: %d candles, need %d", strategy.ErrInsufficientData, len(candles), window)
	}
	first := window - 1
	if s.cfg.Periods > 0 && len(candles)-s.cfg.Periods > first {
		first = len(candles) - s.cfg.Periods
	}

	initial := decimal.NewFromFloat(s.cfg.InitialBalance)
	report := Report{
		Pair:           s.asset.Pair,
		Strategy:       s.main.Name(),
		Interval:       s.asset.CandleInterval,
		Start:          candles[first].OpenTime,
		End:            candles[len(candles)-1].OpenTime,
		InitialBalance: s.cfg.InitialBalance,
		BuyAndHoldPct:  percentChange(candles[first].Close, candles[len(candles)-1].Close),
	}
	t := newTally(&report, initial)
	s.log.Info("backtest started",
		zap.Int("candles", len(candles)-first),
		zap.Int("window", window),
		zap.String("strategy", s.main.Name()),
	)

	for i := first; i < len(candles); {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		out, err := engine.Cycle(ctx, candles[i-window+1:i+1], venue)
		if err != nil {
			switch {
			case errors.Is(err, strategy.ErrInsufficientData):
				report.SkippedCycles++
			case errors.Is(err, position.ErrOrderExecution), errors.Is(err, position.ErrInsufficientBalance):
				report.FailedOrders++
				s.log.Debug("simulated order failed", zap.Time("candle", candles[i].OpenTime), zap.Error(err))
			default:
				return Report{}, err
			}
		}
		t.observe(out, ledger.Equity(candles[i].Close))

		wait := s.asset.PollInterval
		if out.OrderSubmitted() {
			wait = s.asset.PostOrderDelay
		}
		i += candlesFor(wait, s.interval)
	}

	t.finish(ledger, initial, candles[len(candles)-1].Close)
	s.log.Info("backtest finished",
		zap.Int("executions", report.Executions),
		zap.Int("round_trips", report.RoundTrips),
		zap.Float64("return_pct", report.ReturnPct),
		zap.Float64("buy_and_hold_pct", report.BuyAndHoldPct),
	)
	return report, nil
}

// candlesFor is the number of candles the live loop would see pass while
// sleeping for wait, at least one.
func candlesFor(wait, interval time.Duration) int {
	if interval <= 0 || wait <= interval {
		return 1
	}
	n := int(wait / interval)
	if wait%interval != 0 {
		n++
	}
	return n
}
