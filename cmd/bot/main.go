package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "internal/config/config.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "candlebot",
		Short:         "Candle-driven spot trading bot for Binance",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", defaultConfigPath, "path to config file")
	root.PersistentFlags().String("env-file", ".env", "dotenv file loaded before the config")

	root.AddCommand(newRunCmd())
	root.AddCommand(newBacktestCmd())
	root.AddCommand(newVerifyCmd())
	return root
}
