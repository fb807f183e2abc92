package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"channel-backtest/services/arrowpipeline"
	"channel-backtest/services/backtest"
	"channel-backtest/services/clickhouse"
	"channel-backtest/services/config"
	"channel-backtest/services/engine"
	"channel-backtest/services/ledger"
	"channel-backtest/services/marketdata"
	"channel-backtest/strategies"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Backtest a file, a directory of files, or a ClickHouse series",
	Long: `Backtest every bar file under --data (csv, parquet or arrow) and write
one ledger, metrics and manifest file per input into --output.

Examples:
  backtest run --data ./data/BTCUSDT_1h.csv --output ./out
  backtest run --data ./data --donch-len 55 --trigger close_beyond --workers 8
  backtest run --source clickhouse --symbol BTCUSDT --interval 1h --from 2023-01-01 --to 2024-01-01
  backtest run --data ./data --sink clickhouse --format parquet --trace`,
	RunE: runBacktest,
}

var (
	runData     string
	runOutput   string
	runSource   string
	runSink     string
	runSymbol   string
	runInterval string
	runFrom     string
	runTo       string
)

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.StringVar(&runData, "data", "", "Bar file or directory of bar files")
	f.StringVarP(&runOutput, "output", "o", "out", "Output directory")
	f.StringVar(&runSource, "source", "file", "Bar source: file or clickhouse")
	f.StringVar(&runSink, "sink", "", "Also insert ledgers into: clickhouse")
	f.StringVar(&runSymbol, "symbol", "", "Symbol to read from ClickHouse")
	f.StringVar(&runInterval, "interval", "1h", "Bar interval to read from ClickHouse")
	f.StringVar(&runFrom, "from", "", "Start of the ClickHouse range (inclusive)")
	f.StringVar(&runTo, "to", "", "End of the ClickHouse range (exclusive)")
	addRunFlags(f)
}

// addRunFlags declares the flags that override configuration values.
func addRunFlags(f *pflag.FlagSet) {
	f.String("strategy", string(strategies.KindDonchian), "Strategy name")
	f.Int("donch-len", 20, "Channel length in bars")
	f.Int("atr-len", 14, "Volatility (ATR) length in bars")
	f.Float64("min-atr-pct", 0, "Minimum ATR as a percentage of close")
	f.String("trigger", string(strategies.TriggerCross), "Trigger mode: cross or close_beyond")
	f.Float64("size", 1, "Position size")
	f.String("format", "csv", "Ledger format: "+strings.Join(ledger.Formats(), ", "))
	f.Bool("trace", false, "Write the signaled series as Arrow IPC")
	f.Int("workers", 0, "Parallel files (default from config)")
}

// applyRunFlags overrides cfg with the flags set on the command line.
func applyRunFlags(flags *pflag.FlagSet, cfg *config.Config) error {
	var err error
	set := func(name string, apply func() error) {
		if err == nil && flags.Changed(name) {
			err = apply()
		}
	}
	set("strategy", func() error {
		v, e := flags.GetString("strategy")
		cfg.Strategy.Kind = strategies.Kind(v)
		return e
	})
	set("donch-len", func() (e error) {
		cfg.Strategy.Donchian.ChannelLength, e = flags.GetInt("donch-len")
		return
	})
	set("atr-len", func() (e error) {
		cfg.Strategy.Donchian.VolatilityLength, e = flags.GetInt("atr-len")
		return
	})
	set("min-atr-pct", func() (e error) {
		cfg.Strategy.Donchian.MinVolatilityPct, e = flags.GetFloat64("min-atr-pct")
		return
	})
	set("trigger", func() error {
		v, e := flags.GetString("trigger")
		cfg.Strategy.Donchian.Trigger = strategies.TriggerMode(v)
		return e
	})
	set("size", func() (e error) {
		cfg.Run.PositionSize, e = flags.GetFloat64("size")
		return
	})
	set("format", func() (e error) {
		cfg.Run.OutputFormat, e = flags.GetString("format")
		return
	})
	set("trace", func() (e error) {
		cfg.Run.Trace, e = flags.GetBool("trace")
		return
	})
	set("workers", func() (e error) {
		cfg.Engine.MaxWorkers, e = flags.GetInt("workers")
		return
	})
	return err
}

func runBacktest(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd.Flags(), cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, err := backtest.NewRunner(backtest.Options{
		Strategy:     cfg.Strategy,
		PositionSize: cfg.Run.PositionSize,
		Trace:        cfg.Run.Trace,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	artifacts, err := backtest.NewArtifacts(runOutput, cfg.Run.OutputFormat, arrowpipeline.NewPipeline(cfg.Arrow, logger))
	if err != nil {
		return err
	}

	emit := artifacts.Write
	needCH := runSource == "clickhouse" || runSink == "clickhouse"
	var ch *clickhouse.Client
	if needCH {
		ch, err = clickhouse.Open(ctx, clickhouseOptions(cfg))
		if err != nil {
			return err
		}
		defer ch.Close()
	}
	switch runSink {
	case "":
	case "clickhouse":
		if err := ch.EnsureTradesTable(ctx); err != nil {
			return fmt.Errorf("create trades table: %w", err)
		}
		emit = func(res *backtest.Result) error {
			if err := artifacts.Write(res); err != nil {
				return err
			}
			return ch.InsertTrades(ctx, res.Manifest.RunID, res.Trades)
		}
	default:
		return engine.Invalid("sink", "unknown sink %q", runSink)
	}

	var outcomes []backtest.Outcome
	switch runSource {
	case "file":
		if runData == "" {
			return engine.Invalid("data", "--data is required")
		}
		paths, err := marketdata.ListInputs(runData)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return fmt.Errorf("%s: no bar files found", runData)
		}
		outcomes = runner.RunFiles(ctx, paths, cfg.Engine.MaxWorkers, emit)
	case "clickhouse":
		out, err := runClickHouse(ctx, ch, runner, emit)
		if err != nil {
			return err
		}
		outcomes = []backtest.Outcome{out}
	default:
		return engine.Invalid("source", "unknown source %q", runSource)
	}

	printOutcomes(cmd.OutOrStdout(), outcomes)
	if n := backtest.Failed(outcomes); n > 0 {
		return fmt.Errorf("%d of %d inputs failed", n, len(outcomes))
	}
	logger.Info("Outputs written", zap.String("dir", runOutput), zap.Int("runs", len(outcomes)))
	return nil
}

func clickhouseOptions(cfg *config.Config) clickhouse.Options {
	return clickhouse.Options{
		Addr:        cfg.ClickHouse.Addr,
		Database:    cfg.ClickHouse.Database,
		Username:    cfg.ClickHouse.Username,
		Password:    cfg.ClickHouse.Password,
		BarsTable:   cfg.ClickHouse.BarsTable,
		TradesTable: cfg.ClickHouse.TradesTable,
	}
}

func runClickHouse(ctx context.Context, ch *clickhouse.Client, runner *backtest.Runner, emit backtest.EmitFunc) (backtest.Outcome, error) {
	if runSymbol == "" {
		return backtest.Outcome{}, engine.Invalid("symbol", "--symbol is required with --source clickhouse")
	}
	from, to, err := parseRange(runFrom, runTo)
	if err != nil {
		return backtest.Outcome{}, err
	}

	out := backtest.Outcome{Path: "clickhouse:" + runSymbol, Symbol: runSymbol}
	bars, err := ch.LoadBars(ctx, runSymbol, runInterval, from, to)
	if err != nil {
		return out, err
	}
	bars, out.Stats = marketdata.Clean(bars)
	if len(bars) == 0 {
		return out, fmt.Errorf("%s %s: %w", runSymbol, runInterval, marketdata.ErrNoBars)
	}

	res, err := runner.Run(ctx, runSymbol, bars)
	if err != nil {
		out.Err = err
		return out, nil
	}
	out.Result = res
	out.Err = emit(res)
	return out, nil
}

func parseRange(from, to string) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error
	if from != "" {
		if start, err = marketdata.ParseTimestamp(from); err != nil {
			return start, end, engine.Invalid("from", "%v", err)
		}
	}
	if to != "" {
		if end, err = marketdata.ParseTimestamp(to); err != nil {
			return start, end, engine.Invalid("to", "%v", err)
		}
		if !end.After(start) {
			return start, end, engine.Invalid("to", "must be after --from")
		}
	}
	return start, end, nil
}

func fmtMetric(p *float64) string {
	if p == nil {
		return "null"
	}
	return fmt.Sprintf("%.4f", *p)
}

func printOutcomes(w io.Writer, outcomes []backtest.Outcome) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tTRADES\tWIN_RATE\tPROFIT_FACTOR\tEXPECTANCY_R\tMAX_DD_R\tSHARPE\tSTATUS")
	for _, o := range outcomes {
		if o.Result == nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t-\t-\t-\t%s\n", o.Symbol, errorStatus(o.Err))
			continue
		}
		m := o.Result.Summary.Metrics()
		status := "ok"
		if o.Err != nil {
			status = errorStatus(o.Err)
		}
		fmt.Fprintf(tw, "%s\t%d\t%.4f\t%.4f\t%s\t%.4f\t%s\t%s\n",
			o.Symbol, m.Trades, m.WinRate, m.ProfitFactor, fmtMetric(m.ExpectancyR), m.MaxDrawdownR, fmtMetric(m.Sharpe), status)
	}
	tw.Flush()
}

func errorStatus(err error) string {
	switch {
	case errors.Is(err, marketdata.ErrMissingColumns):
		return "error: missing columns"
	case errors.Is(err, marketdata.ErrNoBars):
		return "error: no valid bars"
	default:
		return "error: " + err.Error()
	}
}
