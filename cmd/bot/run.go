package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"candlebot/internal/app"
	"candlebot/internal/config"
	"candlebot/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Trade every configured asset until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, configPath, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := logging.New(cfg.Log)
			defer func() { _ = log.Sync() }()
			log.Info("config loaded", zap.String("path", configPath), zap.Int("assets", len(cfg.Assets)))

			application, err := app.New(cfg, log)
			if err != nil {
				return fmt.Errorf("initialize app: %w", err)
			}
			log.Info("app initialized")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

// loadConfig applies the dotenv file and environment overrides on top of the
// YAML config named by the persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadEnv(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", envFile, err)
	}
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, err
	}
	return cfg, configPath, nil
}

func selectAsset(cfg *config.Config, pair string) (config.AssetConfig, error) {
	if len(cfg.Assets) == 0 {
		return config.AssetConfig{}, errors.New("no assets configured")
	}
	if pair == "" {
		return cfg.Assets[0], nil
	}
	for _, asset := range cfg.Assets {
		if strings.EqualFold(asset.Pair, pair) {
			return asset, nil
		}
	}
	return config.AssetConfig{}, fmt.Errorf("pair %s is not configured", pair)
}
