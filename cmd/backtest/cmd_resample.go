package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"channel-backtest/services/engine"
	"channel-backtest/services/marketdata"
)

var resampleCmd = &cobra.Command{
	Use:   "resample",
	Short: "Aggregate bars to a coarser cadence",
	Long: `Aggregate bars into epoch-aligned buckets: first open, highest high,
lowest low, last close and summed volume. Input and output formats follow
the file extensions.

Examples:
  backtest resample --in BTCUSDT_5m.csv --out BTCUSDT_15m.csv --dst 15m
  backtest resample --in BTCUSDT_1m.parquet --out BTCUSDT_1h.arrow --dst 1h`,
	RunE: runResample,
}

var (
	resampleIn  string
	resampleOut string
	resampleDst string
)

func init() {
	rootCmd.AddCommand(resampleCmd)

	f := resampleCmd.Flags()
	f.StringVar(&resampleIn, "in", "", "Input bar file")
	f.StringVar(&resampleOut, "out", "", "Output bar file")
	f.StringVar(&resampleDst, "dst", "15m", "Target cadence (e.g. 15m, 1h, 1d)")
	_ = resampleCmd.MarkFlagRequired("in")
	_ = resampleCmd.MarkFlagRequired("out")
}

func runResample(cmd *cobra.Command, _ []string) error {
	dst, err := marketdata.ParseCadence(resampleDst)
	if err != nil {
		return engine.Invalid("dst", "%v", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	bars, stats, err := marketdata.LoadFile(resampleIn)
	if err != nil {
		return err
	}
	src := engine.DescribeSeries(bars)
	if src.Cadence > dst {
		return engine.Invalid("dst", "%s is finer than the input cadence %s", dst, src.Cadence)
	}

	out := marketdata.Resample(bars, dst)
	if err := marketdata.SaveFile(resampleOut, marketdata.SymbolFromPath(resampleOut), out); err != nil {
		return err
	}
	logger.Info("Resampled bars",
		zap.String("in", resampleIn),
		zap.String("out", resampleOut),
		zap.Duration("from", src.Cadence),
		zap.Duration("to", dst),
		zap.Int("dropped_rows", stats.Dropped()),
		zap.Int("gaps", src.Gaps),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "%d bars -> %d bars\n", len(bars), len(out))
	return nil
}
