// Command backtest runs the channel-breakout backtester from the shell.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"channel-backtest/services/config"
	"channel-backtest/services/monitoring"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Channel-breakout backtester",
	Long: `Backtests a Donchian channel breakout strategy on OHLCV bars.

Signals raised on a bar fill at the next bar's open; one position is held
at a time and results are reported in R multiples of the entry risk.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format override (console, json)")
}

// loadConfig reads the configuration layers shared by every subcommand.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Monitoring.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.Monitoring.LogFormat = logFormat
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return monitoring.NewLogger(cfg.Monitoring.LogLevel, cfg.Monitoring.LogFormat)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
