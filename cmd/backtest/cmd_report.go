package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"channel-backtest/services/ledger"
	"channel-backtest/services/report"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize a trade ledger",
	Long: `Read a CSV trade ledger and write metrics.json, equity_curve.csv,
drawdown.csv and pnl_hist.csv into --out.

Examples:
  backtest report --trades out/trades_donchian_BTCUSDT.csv --out out/report
  backtest report --trades trades.csv --out rpt --meta symbol=BTCUSDT --meta note=baseline`,
	RunE: runReport,
}

var (
	reportTrades string
	reportOut    string
	reportMeta   map[string]string
	reportBins   int
	reportAnnual float64
)

func init() {
	rootCmd.AddCommand(reportCmd)

	f := reportCmd.Flags()
	f.StringVar(&reportTrades, "trades", "", "Trade ledger CSV")
	f.StringVar(&reportOut, "out", "report", "Output directory")
	f.StringToStringVar(&reportMeta, "meta", nil, "Extra key=value pairs merged into metrics.json")
	f.IntVar(&reportBins, "bins", report.DefaultHistogramBins, "Histogram bins")
	f.Float64Var(&reportAnnual, "annualization", report.DefaultAnnualization, "Periods per year for the Sharpe ratio")
	_ = reportCmd.MarkFlagRequired("trades")
}

func runReport(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	trades, err := ledger.LoadTradesCSV(reportTrades)
	if err != nil {
		return fmt.Errorf("%s: %w", reportTrades, err)
	}
	summary := report.Summarize(trades, report.Options{Annualization: reportAnnual, HistogramBins: reportBins})

	meta := make(map[string]any, len(reportMeta))
	for k, v := range reportMeta {
		meta[k] = v
	}
	if err := ledger.WriteReport(reportOut, summary, meta); err != nil {
		return err
	}
	logger.Info("Report written", zap.String("dir", reportOut), zap.Int("trades", summary.Trades))

	metrics, err := summary.Metrics().WithMeta(meta)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(metrics)
}
