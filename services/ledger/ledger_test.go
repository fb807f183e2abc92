package ledger

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel-backtest/services/engine"
	"channel-backtest/services/report"
)

func sampleTrades() []engine.Trade {
	tc := engine.BreakoutReversalCase()
	bars := tc.Bars
	return []engine.Trade{
		tc.Expected[0],
		engine.NewTrade(engine.TradeSideShort, bars[40].Timestamp, bars[45].Timestamp, 100.25, 99, 2, math.NaN()),
	}
}

func TestTradesCSVRoundTrip(t *testing.T) {
	trades := sampleTrades()
	var buf bytes.Buffer
	require.NoError(t, WriteTradesCSV(&buf, trades))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "side,entry_time,exit_time,entry_price,exit_price,size,risk_price,pnl_abs,pnl_r", lines[0])
	assert.True(t, strings.HasSuffix(lines[2], ",2,,2.5,"), lines[2])

	got, err := ReadTradesCSV(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, trades[0], got[0])
	assert.True(t, math.IsNaN(got[1].RiskPrice))
	assert.True(t, math.IsNaN(got[1].PnlR))
	assert.Equal(t, 2.5, got[1].PnlAbs)
}

func TestReadTradesCSVSpaceSeparatedOffsets(t *testing.T) {
	in := "side,entry_time,exit_time,entry_price,exit_price,size,risk_price,pnl_abs,pnl_r,symbol\n" +
		"long,2024-01-01 00:00:00+00:00,2024-01-01 05:30:00+02:00,100,104,1,2,4,2,BTCUSDT\n"

	got, err := ReadTradesCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].EntryTime.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, got[0].ExitTime.Equal(time.Date(2024, 1, 1, 3, 30, 0, 0, time.UTC)))
	assert.Equal(t, "BTCUSDT", got[0].Symbol)
	assert.Equal(t, 2.0, got[0].PnlR)
}

func TestSymbolColumnOnlyWhenLabelled(t *testing.T) {
	trades := sampleTrades()
	trades[0].Symbol = "WINM25"
	var buf bytes.Buffer
	require.NoError(t, WriteTradesCSV(&buf, trades))
	assert.True(t, strings.HasPrefix(buf.String(), strings.Join(TradeColumns, ",")+",symbol\n"))

	got, err := ReadTradesCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, "WINM25", got[0].Symbol)
}

func TestEmptyLedgerIsHeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTradesCSV(&buf, nil))
	assert.Equal(t, strings.Join(TradeColumns, ",")+"\n", buf.String())
}

func TestWriterFactory(t *testing.T) {
	dir := t.TempDir()
	trades := sampleTrades()
	for _, format := range Formats() {
		w := NewTradeWriter(format)
		require.NotNil(t, w, format)
		path := filepath.Join(dir, "trades."+w.Extension())
		require.NoError(t, w.Write(path, trades), format)
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Positive(t, info.Size(), format)
	}
	assert.Nil(t, NewTradeWriter("xlsx"))

	rows, err := parquet.ReadFile[TradeRecord](filepath.Join(dir, "trades.parquet"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Nil(t, rows[1].PnlR)

	b, err := os.ReadFile(filepath.Join(dir, "trades.json"))
	require.NoError(t, err)
	var recs []map[string]any
	require.NoError(t, json.Unmarshal(b, &recs))
	assert.Nil(t, recs[1]["pnl_r"])
}

func TestWriteReport(t *testing.T) {
	dir := t.TempDir()
	s := report.Summarize(sampleTrades(), report.DefaultOptions())
	require.NoError(t, WriteReport(dir, s, map[string]any{"symbol": "TEST"}))

	b, err := os.ReadFile(filepath.Join(dir, MetricsFile))
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "TEST", m["symbol"])
	assert.EqualValues(t, 2, m["trades"])

	eq, err := os.ReadFile(filepath.Join(dir, EquityFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(eq)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasSuffix(lines[2], ","), "undefined equity is blank")

	hist, err := os.ReadFile(filepath.Join(dir, HistFile))
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(hist)), "\n"), report.DefaultHistogramBins+1)
}
