package strategy

import (
	"bytes"
	"fmt"

	"candlebot/internal/config"

	"gopkg.in/yaml.v3"
)

type Kind string

const (
	KindWeaponCandle   Kind = "weapon_candle"
	KindMovingAverage  Kind = "moving_average"
	KindMAAnticipation Kind = "moving_average_anticipation"
	KindRSI            Kind = "rsi"
	KindVortex         Kind = "vortex"
	KindMARSIVolume    Kind = "ma_rsi_volume"
	KindUTBot          Kind = "ut_bot"
)

// Params is implemented by the typed parameter struct of every strategy kind.
type Params interface {
	Kind() Kind
	validate() error
	build() Strategy
}

// Spec is a parsed strategy selection: one kind and its typed parameters.
type Spec struct {
	Kind   Kind
	Params Params
}

func defaultParams(kind Kind) (Params, bool) {
	switch kind {
	case KindWeaponCandle:
		return &WeaponCandleParams{RSIPeriod: 14, EMAPeriod: 9, MACDFast: 12, MACDSlow: 24, MACDSignal: 9, VolumeSMAPeriod: 5, RSIOversold: 30, RSIOverbought: 70}, true
	case KindMovingAverage:
		return &MovingAverageParams{FastWindow: 7, SlowWindow: 40}, true
	case KindMAAnticipation:
		return &AnticipationParams{VolatilityFactor: 0.5, FastWindow: 7, SlowWindow: 25}, true
	case KindRSI:
		return &RSIParams{Period: 14, Low: 30, High: 70}, true
	case KindVortex:
		return &VortexParams{Period: 14}, true
	case KindMARSIVolume:
		return &MARSIVolumeParams{FastWindow: 7, SlowWindow: 25, RSIWindow: 14, RSIOverbought: 70, RSIOversold: 30, VolumeMultiplier: 1.5}, true
	case KindUTBot:
		return &UTBotParams{ATRPeriod: 1, ATRMultiplier: 2}, true
	}
	return nil, false
}

// ParseSpec resolves the kind and decodes params over the kind's defaults.
// Unknown kinds, unknown parameter names and invalid values are configuration
// errors.
func ParseSpec(cfg config.StrategyConfig) (Spec, error) {
	kind := Kind(cfg.Kind)
	params, ok := defaultParams(kind)
	if !ok {
		return Spec{}, fmt.Errorf("%w: unknown strategy kind %q", config.ErrInvalidConfig, cfg.Kind)
	}
	if cfg.Params.Kind != 0 {
		raw, err := yaml.Marshal(&cfg.Params)
		if err != nil {
			return Spec{}, fmt.Errorf("%w: %s params: %v", config.ErrInvalidConfig, kind, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(params); err != nil {
			return Spec{}, fmt.Errorf("%w: %s params: %v", config.ErrInvalidConfig, kind, err)
		}
	}
	if err := params.validate(); err != nil {
		return Spec{}, fmt.Errorf("%w: %s params: %v", config.ErrInvalidConfig, kind, err)
	}
	return Spec{Kind: kind, Params: params}, nil
}

func (s Spec) Build() Strategy {
	return s.Params.build()
}

func New(cfg config.StrategyConfig) (Strategy, error) {
	spec, err := ParseSpec(cfg)
	if err != nil {
		return nil, err
	}
	return spec.Build(), nil
}

func positive(name string, v int) error {
	if v < 1 {
		return fmt.Errorf("%s must be >= 1, got %d", name, v)
	}
	return nil
}
