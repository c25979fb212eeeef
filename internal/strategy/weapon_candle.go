package strategy

import (
	"errors"

	"candlebot/internal/indicator"
	"candlebot/internal/market"
)

// WeaponCandleParams configures the EMA + MACD + RSI + volume confirmation
// strategy.
type WeaponCandleParams struct {
	RSIPeriod       int     `yaml:"rsi_period"`
	EMAPeriod       int     `yaml:"ema_period"`
	MACDFast        int     `yaml:"macd_fast"`
	MACDSlow        int     `yaml:"macd_slow"`
	MACDSignal      int     `yaml:"macd_signal"`
	VolumeSMAPeriod int     `yaml:"volume_sma_period"`
	RSIOversold     float64 `yaml:"rsi_oversold"`
	RSIOverbought   float64 `yaml:"rsi_overbought"`
}

func (p *WeaponCandleParams) Kind() Kind { return KindWeaponCandle }

func (p *WeaponCandleParams) validate() error {
	for name, v := range map[string]int{
		"rsi_period":        p.RSIPeriod,
		"ema_period":        p.EMAPeriod,
		"macd_fast":         p.MACDFast,
		"macd_slow":         p.MACDSlow,
		"macd_signal":       p.MACDSignal,
		"volume_sma_period": p.VolumeSMAPeriod,
	} {
		if err := positive(name, v); err != nil {
			return err
		}
	}
	if p.MACDFast >= p.MACDSlow {
		return errors.New("macd_fast must be below macd_slow")
	}
	if p.RSIOversold >= p.RSIOverbought {
		return errors.New("rsi_oversold must be below rsi_overbought")
	}
	return nil
}

func (p *WeaponCandleParams) build() Strategy { return &WeaponCandle{p: *p} }

// WeaponCandle buys on a bullish MACD crossover confirmed by the previous close
// above its EMA, above-average volume and an oversold RSI; sells on the mirror
// image. Anything less is Hold.
type WeaponCandle struct {
	p WeaponCandleParams
}

func (s *WeaponCandle) Name() string { return string(KindWeaponCandle) }

func (s *WeaponCandle) MinWindow() int {
	return max(s.p.RSIPeriod, s.p.EMAPeriod, s.p.MACDSlow+s.p.MACDSignal, s.p.VolumeSMAPeriod) + settlingMargin
}

func (s *WeaponCandle) Evaluate(candles []market.Candle) (Signal, error) {
	if len(candles) < s.MinWindow() {
		return insufficient(s, len(candles))
	}
	closes := market.Closes(candles)
	volumes := market.Volumes(candles)

	ema := indicator.EMA(closes, s.p.EMAPeriod)
	macd, signalLine := indicator.MACD(closes, s.p.MACDFast, s.p.MACDSlow, s.p.MACDSignal)
	rsi := indicator.RSI(closes, s.p.RSIPeriod)
	volumeSMA := indicator.SMA(volumes, s.p.VolumeSMAPeriod)
	vwap := indicator.VWAP(closes, volumes)

	n := len(candles)
	last, prev := n-1, n-2
	if !indicator.Defined(volumeSMA[prev], volumeSMA[last], vwap[prev], vwap[last]) {
		return insufficient(s, len(candles))
	}

	buyCrossover := macd[prev] < signalLine[prev] && macd[last] > signalLine[last]
	sellCrossover := macd[prev] > signalLine[prev] && macd[last] < signalLine[last]
	emaBuy := closes[prev] > ema[prev]
	emaSell := closes[prev] < ema[prev]
	volumeOK := volumes[last] > volumeSMA[last]
	rsiBuy := rsi[last] < s.p.RSIOversold
	rsiSell := rsi[last] > s.p.RSIOverbought

	sig := Signal{Decision: Hold, Indicators: map[string]float64{
		"close":      closes[last],
		"ema":        ema[last],
		"macd":       macd[last],
		"signal":     signalLine[last],
		"rsi":        rsi[last],
		"volume":     volumes[last],
		"volume_sma": volumeSMA[last],
		"vwap":       vwap[last],
	}}
	switch {
	case buyCrossover && emaBuy && volumeOK && rsiBuy:
		sig.Decision = Buy
	case sellCrossover && emaSell && volumeOK && rsiSell:
		sig.Decision = Sell
	}
	return sig, nil
}
