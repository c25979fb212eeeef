package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"candlebot/internal/backtest"
	"candlebot/internal/binance"
	"candlebot/internal/config"
	"candlebot/internal/logging"
	"candlebot/internal/market"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type backtestOptions struct {
	pair      string
	dataset   string
	record    bool
	limit     int
	periods   int
	output    string
	maxTrades int
}

func newBacktestCmd() *cobra.Command {
	opts := backtestOptions{}
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay historical candles through the live decision path",
		Long: `Replay historical candles for one configured asset against a simulated
balance. Candles come from --dataset when it exists, otherwise they are fetched
from Binance and optionally recorded to --dataset with --record.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := logging.New(cfg.Log)
			defer func() { _ = log.Sync() }()
			return runBacktest(cmd.Context(), cmd, cfg, opts, log)
		},
	}
	cmd.Flags().StringVar(&opts.pair, "pair", "", "asset pair to replay (first configured asset if empty)")
	cmd.Flags().StringVar(&opts.dataset, "dataset", "", "msgpack candle dataset to replay or record")
	cmd.Flags().BoolVar(&opts.record, "record", false, "save fetched candles to --dataset")
	cmd.Flags().IntVar(&opts.limit, "limit", 1000, "candles to fetch when no dataset is replayed, paged past the 1000 per request limit")
	cmd.Flags().IntVar(&opts.periods, "periods", 0, "replay only the last N candles (overrides backtest.periods)")
	cmd.Flags().StringVar(&opts.output, "json", "", "write the full report as JSON to this path")
	cmd.Flags().IntVar(&opts.maxTrades, "trades", 20, "trades shown in the summary")
	return cmd
}

func runBacktest(ctx context.Context, cmd *cobra.Command, cfg *config.Config, opts backtestOptions, log *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.record && opts.dataset == "" {
		return errors.New("--record needs --dataset")
	}
	asset, err := selectAsset(cfg, opts.pair)
	if err != nil {
		return err
	}
	candles, err := loadCandles(ctx, cfg, asset, opts, log)
	if err != nil {
		return err
	}

	btCfg := cfg.Backtest
	if opts.periods > 0 {
		btCfg.Periods = opts.periods
	}
	sim, err := backtest.NewSimulator(asset, btCfg, log)
	if err != nil {
		return err
	}
	report, err := sim.Run(ctx, candles)
	if err != nil {
		return err
	}
	if err := backtest.Render(cmd.OutOrStdout(), report, opts.maxTrades); err != nil {
		return err
	}
	if opts.output != "" {
		if err := report.WriteJSON(opts.output); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		log.Info("backtest report written", zap.String("path", opts.output))
	}
	return nil
}

func loadCandles(ctx context.Context, cfg *config.Config, asset config.AssetConfig, opts backtestOptions, log *zap.Logger) ([]market.Candle, error) {
	if opts.dataset != "" && !opts.record {
		ds, err := market.LoadDataset(opts.dataset)
		if err == nil {
			if ds.Pair != asset.Pair || ds.Interval != asset.CandleInterval {
				return nil, fmt.Errorf("dataset %s holds %s %s, expected %s %s", opts.dataset, ds.Pair, ds.Interval, asset.Pair, asset.CandleInterval)
			}
			log.Info("dataset loaded", zap.String("path", opts.dataset), zap.Int("candles", len(ds.Candles)))
			return ds.Candles, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		log.Info("dataset missing, fetching candles", zap.String("path", opts.dataset))
	}

	// Klines is public, so a backtest needs no API credentials.
	client := binance.New(cfg.Binance, config.BinanceCredentials(), log)
	candles, err := client.Klines(ctx, asset.Pair, asset.CandleInterval, opts.limit)
	if err != nil {
		return nil, err
	}
	// The last kline is still forming.
	if len(candles) > 1 {
		candles = candles[:len(candles)-1]
	}
	if err := market.Validate(candles); err != nil {
		return nil, err
	}
	if opts.record {
		ds := market.Dataset{Pair: asset.Pair, Interval: asset.CandleInterval, RecordedAt: time.Now().UTC(), Candles: candles}
		if err := market.SaveDataset(opts.dataset, ds); err != nil {
			return nil, fmt.Errorf("record dataset: %w", err)
		}
		log.Info("dataset recorded", zap.String("path", opts.dataset), zap.Int("candles", len(candles)))
	}
	return candles, nil
}
