package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel-backtest/services/config"
	"channel-backtest/services/engine"
	"channel-backtest/services/ledger"
	"channel-backtest/services/marketdata"
	"channel-backtest/strategies"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestApplyRunFlagsOnlyChanged(t *testing.T) {
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	addRunFlags(flags)
	require.NoError(t, flags.Parse([]string{"--donch-len", "55", "--trigger", "close_beyond", "--format", "parquet"}))

	cfg := config.Default()
	cfg.Run.PositionSize = 3
	require.NoError(t, applyRunFlags(flags, cfg))

	assert.Equal(t, 55, cfg.Strategy.Donchian.ChannelLength)
	assert.Equal(t, strategies.TriggerCloseBeyond, cfg.Strategy.Donchian.Trigger)
	assert.Equal(t, "parquet", cfg.Run.OutputFormat)
	assert.Equal(t, 3.0, cfg.Run.PositionSize, "unset flags keep the config value")
	assert.Equal(t, 14, cfg.Strategy.Donchian.VolatilityLength)
}

func TestParseRange(t *testing.T) {
	from, to, err := parseRange("2024-01-01", "2024-02-01")
	require.NoError(t, err)
	assert.True(t, to.After(from))

	_, _, err = parseRange("2024-02-01", "2024-01-01")
	assert.ErrorIs(t, err, engine.ErrInvalidConfig)

	from, to, err = parseRange("", "")
	require.NoError(t, err)
	assert.True(t, from.IsZero() && to.IsZero())
}

func TestRunCommandBatch(t *testing.T) {
	in := t.TempDir()
	var sb strings.Builder
	sb.WriteString("timestamp,open,high,low,close,volume\n")
	for _, b := range engine.BreakoutReversalBars() {
		sb.WriteString(b.Timestamp.Format("2006-01-02T15:04:05Z"))
		for _, v := range []float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
			sb.WriteString("," + ledger.FormatFloat(v))
		}
		sb.WriteString("\n")
	}
	require.NoError(t, os.WriteFile(filepath.Join(in, "GOLD.csv"), []byte(sb.String()), 0o644))
	out := t.TempDir()

	stdout, err := execute(t, "run", "--data", in, "--output", out, "--donch-len", "10", "--workers", "2")
	require.NoError(t, err, stdout)
	assert.Contains(t, stdout, "GOLD")
	assert.FileExists(t, filepath.Join(out, "trades_donchian_GOLD.csv"))
	assert.FileExists(t, filepath.Join(out, "manifest_GOLD.json"))

	require.NoError(t, os.WriteFile(filepath.Join(in, "BAD.csv"), []byte("a,b\n1,2\n"), 0o644))
	stdout, err = execute(t, "run", "--data", in, "--output", out, "--donch-len", "10")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 inputs failed")
	assert.Contains(t, stdout, "missing columns")

	_, err = execute(t, "run", "--data", in, "--output", out, "--donch-len", "0")
	assert.ErrorIs(t, err, engine.ErrInvalidConfig)
}

func TestReportCommand(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "trades.csv")
	f, err := os.Create(ledgerPath)
	require.NoError(t, err)
	require.NoError(t, ledger.WriteTradesCSV(f, engine.BreakoutReversalCase().Expected))
	require.NoError(t, f.Close())

	outDir := filepath.Join(dir, "rpt")
	stdout, err := execute(t, "report", "--trades", ledgerPath, "--out", outDir, "--meta", "symbol=GOLD")
	require.NoError(t, err)

	var metrics map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &metrics))
	assert.Equal(t, float64(1), metrics["trades"])
	assert.Equal(t, "GOLD", metrics["symbol"])
	assert.Nil(t, metrics["sharpe"])
	for _, name := range []string{ledger.MetricsFile, ledger.EquityFile, ledger.DrawdownFile, ledger.HistFile} {
		assert.FileExists(t, filepath.Join(outDir, name))
	}
}

func TestResampleCommand(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.parquet")
	f := filepath.Join(dir, "out.csv")
	require.NoError(t, marketdata.SaveFile(in, "in", engine.FlatBars(48)))

	stdout, err := execute(t, "resample", "--in", in, "--out", f, "--dst", "1d")
	require.NoError(t, err)
	assert.Contains(t, stdout, "48 bars -> 2 bars")

	_, err = execute(t, "resample", "--in", in, "--out", f, "--dst", "15m")
	assert.ErrorIs(t, err, engine.ErrInvalidConfig)
}

func TestParityCommand(t *testing.T) {
	stdout, err := execute(t, "parity")
	require.NoError(t, err)
	assert.Contains(t, stdout, "PASS  breakout_reversal")
	assert.Equal(t, 3, strings.Count(stdout, "PASS"))
}
