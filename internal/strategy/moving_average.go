package strategy

import (
	"errors"
	"math"

	"candlebot/internal/indicator"
	"candlebot/internal/market"
)

type MovingAverageParams struct {
	FastWindow int `yaml:"fast_window"`
	SlowWindow int `yaml:"slow_window"`
}

func (p *MovingAverageParams) Kind() Kind { return KindMovingAverage }

func (p *MovingAverageParams) validate() error {
	if err := positive("fast_window", p.FastWindow); err != nil {
		return err
	}
	if p.FastWindow >= p.SlowWindow {
		return errors.New("fast_window must be below slow_window")
	}
	return nil
}

func (p *MovingAverageParams) build() Strategy { return &MovingAverage{p: *p} }

// MovingAverage follows the side of the fast average relative to the slow one.
type MovingAverage struct {
	p MovingAverageParams
}

func (s *MovingAverage) Name() string { return string(KindMovingAverage) }

func (s *MovingAverage) MinWindow() int { return s.p.SlowWindow + settlingMargin }

func (s *MovingAverage) Evaluate(candles []market.Candle) (Signal, error) {
	if len(candles) < s.MinWindow() {
		return insufficient(s, len(candles))
	}
	closes := market.Closes(candles)
	fast := indicator.Last(indicator.SMA(closes, s.p.FastWindow))
	slow := indicator.Last(indicator.SMA(closes, s.p.SlowWindow))
	sig := Signal{Decision: Hold, Indicators: map[string]float64{"fast_ma": fast, "slow_ma": slow}}
	switch {
	case fast > slow:
		sig.Decision = Buy
	case fast < slow:
		sig.Decision = Sell
	}
	return sig, nil
}

type AnticipationParams struct {
	VolatilityFactor float64 `yaml:"volatility_factor"`
	FastWindow       int     `yaml:"fast_window"`
	SlowWindow       int     `yaml:"slow_window"`
}

func (p *AnticipationParams) Kind() Kind { return KindMAAnticipation }

func (p *AnticipationParams) validate() error {
	if err := positive("fast_window", p.FastWindow); err != nil {
		return err
	}
	if p.FastWindow >= p.SlowWindow {
		return errors.New("fast_window must be below slow_window")
	}
	if p.VolatilityFactor < 0 {
		return errors.New("volatility_factor must be >= 0")
	}
	return nil
}

func (p *AnticipationParams) build() Strategy { return &Anticipation{p: *p} }

// Anticipation acts before the averages cross: a fast average moving toward
// the slow one and already within volatility_factor standard deviations of it
// counts as a cross.
type Anticipation struct {
	p AnticipationParams
}

func (s *Anticipation) Name() string { return string(KindMAAnticipation) }

func (s *Anticipation) MinWindow() int { return s.p.SlowWindow + settlingMargin }

func (s *Anticipation) Evaluate(candles []market.Candle) (Signal, error) {
	if len(candles) < s.MinWindow() {
		return insufficient(s, len(candles))
	}
	closes := market.Closes(candles)
	fastPrev, fast := lastTwo(indicator.SMA(closes, s.p.FastWindow))
	slow := indicator.Last(indicator.SMA(closes, s.p.SlowWindow))
	volatility := indicator.Last(indicator.StdDev(closes, s.p.SlowWindow))

	gap := fast - slow
	slope := fast - fastPrev
	near := math.Abs(gap) < volatility*s.p.VolatilityFactor

	sig := Signal{Decision: Hold, Indicators: map[string]float64{
		"fast_ma":    fast,
		"slow_ma":    slow,
		"volatility": volatility,
		"slope":      slope,
	}}
	switch {
	case slope > 0 && (gap > 0 || near):
		sig.Decision = Buy
	case slope < 0 && (gap < 0 || near):
		sig.Decision = Sell
	}
	return sig, nil
}
