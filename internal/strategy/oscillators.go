package strategy

import (
	"errors"

	"candlebot/internal/indicator"
	"candlebot/internal/market"
)

type RSIParams struct {
	Period int     `yaml:"period"`
	Low    float64 `yaml:"low"`
	High   float64 `yaml:"high"`
}

func (p *RSIParams) Kind() Kind { return KindRSI }

func (p *RSIParams) validate() error {
	if err := positive("period", p.Period); err != nil {
		return err
	}
	if p.Low >= p.High || p.Low < 0 || p.High > 100 {
		return errors.New("low and high must satisfy 0 <= low < high <= 100")
	}
	return nil
}

func (p *RSIParams) build() Strategy { return &RSI{p: *p} }

type RSI struct {
	p RSIParams
}

func (s *RSI) Name() string { return string(KindRSI) }

func (s *RSI) MinWindow() int { return s.p.Period + settlingMargin }

func (s *RSI) Evaluate(candles []market.Candle) (Signal, error) {
	if len(candles) < s.MinWindow() {
		return insufficient(s, len(candles))
	}
	rsi := indicator.Last(indicator.RSI(market.Closes(candles), s.p.Period))
	sig := Signal{Decision: Hold, Indicators: map[string]float64{"rsi": rsi}}
	switch {
	case rsi < s.p.Low:
		sig.Decision = Buy
	case rsi > s.p.High:
		sig.Decision = Sell
	}
	return sig, nil
}

type VortexParams struct {
	Period int `yaml:"period"`
}

func (p *VortexParams) Kind() Kind { return KindVortex }

func (p *VortexParams) validate() error { return positive("period", p.Period) }

func (p *VortexParams) build() Strategy { return &Vortex{p: *p} }

// Vortex buys when VI+ leads VI- and is still rising, and sells on the mirror.
type Vortex struct {
	p VortexParams
}

func (s *Vortex) Name() string { return string(KindVortex) }

func (s *Vortex) MinWindow() int { return s.p.Period + settlingMargin }

func (s *Vortex) Evaluate(candles []market.Candle) (Signal, error) {
	if len(candles) < s.MinWindow() {
		return insufficient(s, len(candles))
	}
	plus, minus := indicator.Vortex(market.Highs(candles), market.Lows(candles), market.Closes(candles), s.p.Period)
	plusPrev, plusLast := lastTwo(plus)
	minusPrev, minusLast := lastTwo(minus)
	if !indicator.Defined(plusPrev, plusLast, minusPrev, minusLast) {
		return insufficient(s, len(candles))
	}
	sig := Signal{Decision: Hold, Indicators: map[string]float64{"vi_plus": plusLast, "vi_minus": minusLast}}
	switch {
	case plusLast > minusLast && plusLast > plusPrev:
		sig.Decision = Buy
	case minusLast > plusLast && minusLast > minusPrev:
		sig.Decision = Sell
	}
	return sig, nil
}

type MARSIVolumeParams struct {
	FastWindow       int     `yaml:"fast_window"`
	SlowWindow       int     `yaml:"slow_window"`
	RSIWindow        int     `yaml:"rsi_window"`
	RSIOverbought    float64 `yaml:"rsi_overbought"`
	RSIOversold      float64 `yaml:"rsi_oversold"`
	VolumeMultiplier float64 `yaml:"volume_multiplier"`
}

func (p *MARSIVolumeParams) Kind() Kind { return KindMARSIVolume }

func (p *MARSIVolumeParams) validate() error {
	if err := positive("fast_window", p.FastWindow); err != nil {
		return err
	}
	if err := positive("rsi_window", p.RSIWindow); err != nil {
		return err
	}
	if p.FastWindow >= p.SlowWindow {
		return errors.New("fast_window must be below slow_window")
	}
	if p.RSIOversold >= p.RSIOverbought {
		return errors.New("rsi_oversold must be below rsi_overbought")
	}
	if p.VolumeMultiplier <= 0 {
		return errors.New("volume_multiplier must be > 0")
	}
	return nil
}

func (p *MARSIVolumeParams) build() Strategy { return &MARSIVolume{p: *p} }

// MARSIVolume requires the moving average trend, a non-exhausted RSI and a
// volume spike to agree.
type MARSIVolume struct {
	p MARSIVolumeParams
}

func (s *MARSIVolume) Name() string { return string(KindMARSIVolume) }

func (s *MARSIVolume) MinWindow() int { return max(s.p.SlowWindow, s.p.RSIWindow) + settlingMargin }

func (s *MARSIVolume) Evaluate(candles []market.Candle) (Signal, error) {
	if len(candles) < s.MinWindow() {
		return insufficient(s, len(candles))
	}
	closes := market.Closes(candles)
	volumes := market.Volumes(candles)
	fast := indicator.Last(indicator.SMA(closes, s.p.FastWindow))
	slow := indicator.Last(indicator.SMA(closes, s.p.SlowWindow))
	rsi := indicator.Last(indicator.RSI(closes, s.p.RSIWindow))
	avgVolume := indicator.Last(indicator.SMA(volumes, s.p.SlowWindow))
	volume := volumes[len(volumes)-1]

	spike := volume > avgVolume*s.p.VolumeMultiplier
	sig := Signal{Decision: Hold, Indicators: map[string]float64{
		"fast_ma":    fast,
		"slow_ma":    slow,
		"rsi":        rsi,
		"volume":     volume,
		"avg_volume": avgVolume,
	}}
	switch {
	case fast > slow && rsi < s.p.RSIOverbought && spike:
		sig.Decision = Buy
	case fast < slow && rsi > s.p.RSIOversold && spike:
		sig.Decision = Sell
	}
	return sig, nil
}

type UTBotParams struct {
	ATRPeriod     int     `yaml:"atr_period"`
	ATRMultiplier float64 `yaml:"atr_multiplier"`
}

func (p *UTBotParams) Kind() Kind { return KindUTBot }

func (p *UTBotParams) validate() error {
	if err := positive("atr_period", p.ATRPeriod); err != nil {
		return err
	}
	if p.ATRMultiplier <= 0 {
		return errors.New("atr_multiplier must be > 0")
	}
	return nil
}

func (p *UTBotParams) build() Strategy { return &UTBot{p: *p} }

// UTBot trades crossings of the close over its ATR trailing stop.
type UTBot struct {
	p UTBotParams
}

func (s *UTBot) Name() string { return string(KindUTBot) }

func (s *UTBot) MinWindow() int { return s.p.ATRPeriod + 1 + settlingMargin }

func (s *UTBot) Evaluate(candles []market.Candle) (Signal, error) {
	if len(candles) < s.MinWindow() {
		return insufficient(s, len(candles))
	}
	closes := market.Closes(candles)
	atr := indicator.ATR(market.Highs(candles), market.Lows(candles), closes, s.p.ATRPeriod)
	stop := indicator.TrailingStop(closes, atr, s.p.ATRMultiplier)
	stopPrev, stopLast := lastTwo(stop)
	closePrev, closeLast := lastTwo(closes)
	if !indicator.Defined(stopPrev, stopLast) {
		return insufficient(s, len(candles))
	}
	sig := Signal{Decision: Hold, Indicators: map[string]float64{"close": closeLast, "trailing_stop": stopLast}}
	switch {
	case closeLast > stopLast && closePrev <= stopPrev:
		sig.Decision = Buy
	case closeLast < stopLast && closePrev >= stopPrev:
		sig.Decision = Sell
	}
	return sig, nil
}
