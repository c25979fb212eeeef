package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"candlebot/internal/binance"
	"candlebot/internal/config"
	"candlebot/internal/logging"
	"candlebot/internal/market"

	"github.com/spf13/cobra"
)

const verifyTimeout = 30 * time.Second

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check credentials, balances and market data for every asset",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := logging.New(cfg.Log)
			defer func() { _ = log.Sync() }()

			creds := config.BinanceCredentials()
			if creds.APIKey == "" || creds.SecretKey == "" {
				return errors.New("BINANCE_API_KEY and BINANCE_SECRET_KEY are required")
			}
			ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
			defer cancel()
			return verify(ctx, cmd.OutOrStdout(), binance.New(cfg.Binance, creds, log), cfg.Assets)
		},
	}
}

type verifyClient interface {
	Klines(ctx context.Context, pair, interval string, limit int) ([]market.Candle, error)
	FreeBalance(ctx context.Context, asset string) (float64, error)
}

// verify reports one line per asset and fails if any asset cannot trade.
func verify(ctx context.Context, out io.Writer, client verifyClient, assets []config.AssetConfig) error {
	failed := 0
	for _, asset := range assets {
		candles, err := client.Klines(ctx, asset.Pair, asset.CandleInterval, 2)
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s: klines failed: %v\n", asset.Pair, err)
			continue
		}
		if len(candles) == 0 {
			failed++
			fmt.Fprintf(out, "%s: no klines returned\n", asset.Pair)
			continue
		}
		quote, err := client.FreeBalance(ctx, asset.Quote)
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s: balance failed: %v\n", asset.Pair, err)
			continue
		}
		base, err := client.FreeBalance(ctx, asset.Asset)
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s: balance failed: %v\n", asset.Pair, err)
			continue
		}
		last := candles[len(candles)-1]
		fmt.Fprintf(out, "%s: close=%g at %s free %s=%g %s=%g\n",
			asset.Pair, last.Close, last.OpenTime.UTC().Format(time.RFC3339), asset.Quote, quote, asset.Asset, base)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d assets failed verification", failed, len(assets))
	}
	return nil
}
