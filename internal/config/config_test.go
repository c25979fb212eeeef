package config

import (
	"errors"
	"testing"
	"time"
)

const sampleConfig = `
log:
  level: debug
execution_mode: concurrent
assets:
  - asset: btc
    pair: btcusdt
    traded_quantity: 0.0017
    quantity_decimals: 5
    main_strategy:
      kind: weapon_candle
      params:
        rsi_period: 14
    fallback_enabled: true
    take_profit:
      - {trigger: 10, exit: 50}
      - {trigger: 25, exit: 50}
`

func TestParseAppliesAssetDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.ExecutionMode != ModeConcurrent {
		t.Fatalf("expected concurrent mode, got %q", cfg.ExecutionMode)
	}
	asset := cfg.Assets[0]
	if asset.Pair != "BTCUSDT" || asset.Asset != "BTC" {
		t.Fatalf("expected upper-cased codes, got %q/%q", asset.Asset, asset.Pair)
	}
	if asset.Quote != "USDT" {
		t.Fatalf("expected quote derived from pair, got %q", asset.Quote)
	}
	if asset.Decimals() != 5 {
		t.Fatalf("expected 5 decimals, got %d", asset.Decimals())
	}
	if asset.StopLossPercentage != 3.5 {
		t.Fatalf("expected stop loss default 3.5, got %v", asset.StopLossPercentage)
	}
	if asset.AcceptableLossPercentage == nil || *asset.AcceptableLossPercentage != -1 {
		t.Fatalf("expected acceptable loss default -1")
	}
	if asset.FallbackStrategy.Kind != "moving_average" {
		t.Fatalf("expected moving_average fallback default, got %q", asset.FallbackStrategy.Kind)
	}
	if asset.PollInterval != 15*time.Minute || asset.PostOrderDelay != 30*time.Minute {
		t.Fatalf("unexpected intervals: %v / %v", asset.PollInterval, asset.PostOrderDelay)
	}
	if len(asset.TakeProfit) != 2 {
		t.Fatalf("expected explicit ladder to be kept, got %v", asset.TakeProfit)
	}
	if asset.MainStrategy.Params.Kind == 0 {
		t.Fatalf("expected strategy params node to be captured")
	}
}

func TestDefaultLadder(t *testing.T) {
	cfg := &Config{Assets: []AssetConfig{{Pair: "ETHUSDT", Asset: "ETH", TradedQuantity: 1}}}
	applyDefaults(cfg)
	ladder := cfg.Assets[0].TakeProfit
	if len(ladder) != 3 || ladder[0].Trigger != 10 || ladder[2].Exit != 100 {
		t.Fatalf("unexpected default ladder: %v", ladder)
	}
	if cfg.ExecutionMode != ModeSerialized {
		t.Fatalf("expected serialized default, got %q", cfg.ExecutionMode)
	}
}

func TestValidateAssetRejections(t *testing.T) {
	base := func() AssetConfig {
		a := AssetConfig{Asset: "BTC", Pair: "BTCUSDT", TradedQuantity: 1}
		applyAssetDefaults(&a)
		return a
	}
	tooLoose := 5.0
	cases := map[string]func(*AssetConfig){
		"missing pair":          func(a *AssetConfig) { a.Pair = "" },
		"both sizing modes":     func(a *AssetConfig) { a.TradedPercentage = 50 },
		"no sizing":             func(a *AssetConfig) { a.TradedQuantity = 0 },
		"percentage above 100":  func(a *AssetConfig) { a.TradedQuantity = 0; a.TradedPercentage = 150 },
		"negative stop loss":    func(a *AssetConfig) { a.StopLossPercentage = -1 },
		"descending ladder":     func(a *AssetConfig) { a.TakeProfit = []TakeProfitLevel{{25, 50}, {10, 50}} },
		"zero exit":             func(a *AssetConfig) { a.TakeProfit = []TakeProfitLevel{{10, 0}} },
		"gate beyond stop loss": func(a *AssetConfig) { a.AcceptableLossPercentage = &tooLoose },
		"unknown interval":      func(a *AssetConfig) { a.CandleInterval = "7m" },
		"fallback without kind": func(a *AssetConfig) { a.FallbackEnabled = true; a.FallbackStrategy.Kind = "" },
		"negative poll":         func(a *AssetConfig) { a.PollInterval = -time.Second },
	}
	for name, mutate := range cases {
		a := base()
		mutate(&a)
		err := ValidateAsset(a)
		if err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
		if !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}
	if err := ValidateAsset(base()); err != nil {
		t.Fatalf("expected base asset to be valid, got %v", err)
	}
}

func TestValidateRejectsDuplicatePairs(t *testing.T) {
	cfg := &Config{Assets: []AssetConfig{
		{Asset: "BTC", Pair: "BTCUSDT", TradedQuantity: 1},
		{Asset: "BTC", Pair: "btcusdt", TradedQuantity: 2},
	}}
	applyDefaults(cfg)
	if err := validate(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected duplicate pair error, got %v", err)
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := &Config{ExecutionMode: "parallel", Assets: []AssetConfig{{Asset: "BTC", Pair: "BTCUSDT", TradedQuantity: 1}}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for unknown execution mode")
	}
}

func TestIntervalDuration(t *testing.T) {
	d, err := IntervalDuration("4h")
	if err != nil || d != 4*time.Hour {
		t.Fatalf("expected 4h, got %v (%v)", d, err)
	}
	if _, err := IntervalDuration("2w"); err == nil {
		t.Fatalf("expected error for unsupported interval")
	}
}

func TestLoadBundledConfig(t *testing.T) {
	cfg, err := Load("config.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Assets) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(cfg.Assets))
	}
	eth := cfg.Assets[1]
	if eth.CandleWindow != 500 || len(eth.TakeProfit) != 3 || *eth.AcceptableLossPercentage != -1 {
		t.Fatalf("expected defaults on second asset, got %+v", eth)
	}
	if cfg.Assets[0].PostOrderDelay != 30*time.Minute {
		t.Fatalf("expected 30m post order delay, got %s", cfg.Assets[0].PostOrderDelay)
	}
}
