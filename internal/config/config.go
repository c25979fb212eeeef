package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig marks configuration that must stop the process before any
// trading loop starts.
var ErrInvalidConfig = errors.New("invalid configuration")

type ExecutionMode string

const (
	ModeSerialized ExecutionMode = "serialized"
	ModeConcurrent ExecutionMode = "concurrent"
)

type Config struct {
	Log           LoggingConfig   `yaml:"log"`
	Binance       BinanceConfig   `yaml:"binance"`
	State         StateConfig     `yaml:"state"`
	Metrics       MetricsConfig   `yaml:"metrics"`
	Telegram      TelegramConfig  `yaml:"telegram"`
	Timescale     TimescaleConfig `yaml:"timescale"`
	ExecutionMode ExecutionMode   `yaml:"execution_mode"`
	Backtest      BacktestConfig  `yaml:"backtest"`
	Assets        []AssetConfig   `yaml:"assets"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type BinanceConfig struct {
	BaseURL        string        `yaml:"base_url"`
	WSURL          string        `yaml:"ws_url"`
	Timeout        time.Duration `yaml:"timeout"`
	RecvWindow     time.Duration `yaml:"recv_window"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	StreamEnabled  bool          `yaml:"stream_enabled"`
}

type StateConfig struct {
	SQLitePath       string `yaml:"sqlite_path"`
	RestorePositions bool   `yaml:"restore_positions"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type TelegramConfig struct {
	Enabled                bool          `yaml:"enabled"`
	Token                  string        `yaml:"token"`
	ChatID                 string        `yaml:"chat_id"`
	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type BacktestConfig struct {
	InitialBalance float64 `yaml:"initial_balance"`
	Periods        int     `yaml:"periods"`
	FeeBps         float64 `yaml:"fee_bps"`
}

// StrategyConfig selects one strategy variant. Params is decoded into the
// typed parameter struct of Kind by the strategy package.
type StrategyConfig struct {
	Kind   string    `yaml:"kind"`
	Params yaml.Node `yaml:"params"`
}

type TakeProfitLevel struct {
	Trigger float64 `yaml:"trigger"`
	Exit    float64 `yaml:"exit"`
}

// AssetConfig is the immutable per-asset trading configuration handed to one
// trading loop.
type AssetConfig struct {
	Asset                    string            `yaml:"asset"`
	Pair                     string            `yaml:"pair"`
	Quote                    string            `yaml:"quote"`
	TradedQuantity           float64           `yaml:"traded_quantity"`
	TradedPercentage         float64           `yaml:"traded_percentage"`
	QuantityDecimals         *int              `yaml:"quantity_decimals"`
	CandleInterval           string            `yaml:"candle_interval"`
	CandleWindow             int               `yaml:"candle_window"`
	MainStrategy             StrategyConfig    `yaml:"main_strategy"`
	FallbackStrategy         StrategyConfig    `yaml:"fallback_strategy"`
	FallbackEnabled          bool              `yaml:"fallback_enabled"`
	StopLossPercentage       float64           `yaml:"stop_loss_percentage"`
	TrailingStop             bool              `yaml:"trailing_stop"`
	AcceptableLossPercentage *float64          `yaml:"acceptable_loss_percentage"`
	TakeProfit               []TakeProfitLevel `yaml:"take_profit"`
	PollInterval             time.Duration     `yaml:"poll_interval"`
	PostOrderDelay           time.Duration     `yaml:"post_order_delay"`
}

// Decimals returns the quantity precision used when sizing orders.
func (a AssetConfig) Decimals() int {
	if a.QuantityDecimals == nil {
		return defaultQuantityDecimals
	}
	return *a.QuantityDecimals
}

const (
	defaultStopLoss         = 3.5
	defaultAcceptableLoss   = -1.0
	defaultQuantityDecimals = 8
	defaultCandleInterval   = "15m"
)

func defaultLadder() []TakeProfitLevel {
	return []TakeProfitLevel{{Trigger: 10, Exit: 50}, {Trigger: 25, Exit: 50}, {Trigger: 50, Exit: 100}}
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	ApplyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Binance.BaseURL == "" {
		cfg.Binance.BaseURL = "https://api.binance.com"
	}
	if cfg.Binance.WSURL == "" {
		cfg.Binance.WSURL = "wss://stream.binance.com:9443"
	}
	if cfg.Binance.Timeout == 0 {
		cfg.Binance.Timeout = 10 * time.Second
	}
	if cfg.Binance.RecvWindow == 0 {
		cfg.Binance.RecvWindow = 5 * time.Second
	}
	if cfg.Binance.ReconnectDelay == 0 {
		cfg.Binance.ReconnectDelay = 3 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/candlebot.db"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.ExecutionMode == "" {
		cfg.ExecutionMode = ModeSerialized
	}
	if cfg.Backtest.InitialBalance == 0 {
		cfg.Backtest.InitialBalance = 1000
	}
	for i := range cfg.Assets {
		applyAssetDefaults(&cfg.Assets[i])
	}
}

func applyAssetDefaults(a *AssetConfig) {
	a.Asset = strings.ToUpper(strings.TrimSpace(a.Asset))
	a.Pair = strings.ToUpper(strings.TrimSpace(a.Pair))
	a.Quote = strings.ToUpper(strings.TrimSpace(a.Quote))
	if a.Quote == "" && a.Asset != "" && strings.HasPrefix(a.Pair, a.Asset) {
		a.Quote = strings.TrimPrefix(a.Pair, a.Asset)
	}
	if a.CandleInterval == "" {
		a.CandleInterval = defaultCandleInterval
	}
	if a.CandleWindow == 0 {
		a.CandleWindow = 500
	}
	if a.MainStrategy.Kind == "" {
		a.MainStrategy.Kind = "weapon_candle"
	}
	if a.FallbackEnabled && a.FallbackStrategy.Kind == "" {
		a.FallbackStrategy.Kind = "moving_average"
	}
	if a.StopLossPercentage == 0 {
		a.StopLossPercentage = defaultStopLoss
	}
	if a.AcceptableLossPercentage == nil {
		v := defaultAcceptableLoss
		a.AcceptableLossPercentage = &v
	}
	if a.TakeProfit == nil {
		a.TakeProfit = defaultLadder()
	}
	if a.PollInterval == 0 {
		a.PollInterval = 15 * time.Minute
	}
	if a.PostOrderDelay == 0 {
		a.PostOrderDelay = 30 * time.Minute
	}
}

func validate(cfg *Config) error {
	switch cfg.ExecutionMode {
	case ModeSerialized, ModeConcurrent:
	default:
		return invalid("execution_mode must be serialized or concurrent, got %q", cfg.ExecutionMode)
	}
	if len(cfg.Assets) == 0 {
		return invalid("assets must contain at least one entry")
	}
	if cfg.Backtest.InitialBalance <= 0 {
		return invalid("backtest.initial_balance must be > 0")
	}
	if cfg.Backtest.Periods < 0 || cfg.Backtest.FeeBps < 0 {
		return invalid("backtest.periods and backtest.fee_bps must be >= 0")
	}
	if cfg.Telegram.OperatorEnabled && !cfg.Telegram.Enabled {
		return invalid("telegram.operator_enabled requires telegram.enabled")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return invalid("timescale.dsn is required when timescale is enabled")
	}
	seen := make(map[string]struct{}, len(cfg.Assets))
	for i := range cfg.Assets {
		if err := ValidateAsset(cfg.Assets[i]); err != nil {
			return fmt.Errorf("assets[%d]: %w", i, err)
		}
		if _, dup := seen[cfg.Assets[i].Pair]; dup {
			return invalid("assets[%d].pair %s is configured twice", i, cfg.Assets[i].Pair)
		}
		seen[cfg.Assets[i].Pair] = struct{}{}
	}
	return nil
}

// ValidateAsset checks thresholds, sizing and the take-profit ladder of one
// asset. Strategy kinds and params are validated when strategies are built.
func ValidateAsset(a AssetConfig) error {
	if a.Pair == "" {
		return invalid("pair is required")
	}
	if a.Quote == "" {
		return invalid("quote is required for %s", a.Pair)
	}
	hasQty := a.TradedQuantity > 0
	hasPct := a.TradedPercentage > 0
	if hasQty == hasPct {
		return invalid("exactly one of traded_quantity or traded_percentage must be > 0")
	}
	if a.TradedQuantity < 0 || a.TradedPercentage < 0 || a.TradedPercentage > 100 {
		return invalid("traded_percentage must be within (0, 100]")
	}
	if a.QuantityDecimals != nil && (*a.QuantityDecimals < 0 || *a.QuantityDecimals > 12) {
		return invalid("quantity_decimals must be within [0, 12]")
	}
	if _, err := parseInterval(a.CandleInterval); err != nil {
		return err
	}
	if a.CandleWindow < 2 {
		return invalid("candle_window must be >= 2")
	}
	if a.StopLossPercentage <= 0 {
		return invalid("stop_loss_percentage must be > 0")
	}
	if a.AcceptableLossPercentage != nil && *a.AcceptableLossPercentage >= 0 && *a.AcceptableLossPercentage >= a.StopLossPercentage {
		return invalid("acceptable_loss_percentage %.2f must be below stop_loss_percentage %.2f", *a.AcceptableLossPercentage, a.StopLossPercentage)
	}
	prev := 0.0
	for i, level := range a.TakeProfit {
		if level.Trigger <= prev {
			return invalid("take_profit[%d].trigger must be > 0 and strictly ascending", i)
		}
		if level.Exit <= 0 || level.Exit > 100 {
			return invalid("take_profit[%d].exit must be within (0, 100]", i)
		}
		prev = level.Trigger
	}
	if a.FallbackEnabled && a.FallbackStrategy.Kind == "" {
		return invalid("fallback_strategy.kind is required when fallback is enabled")
	}
	if a.PollInterval <= 0 || a.PostOrderDelay <= 0 {
		return invalid("poll_interval and post_order_delay must be > 0")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func parseInterval(interval string) (time.Duration, error) {
	d, ok := intervals[interval]
	if !ok {
		return 0, invalid("unsupported candle_interval %q", interval)
	}
	return d, nil
}

// IntervalDuration maps an exchange kline interval ("1m", "4h", "1d") to its
// duration.
func IntervalDuration(interval string) (time.Duration, error) {
	return parseInterval(interval)
}

var intervals = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  72 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}
