// Package ledger persists trade ledgers, metrics and report series.
package ledger

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"channel-backtest/services/arrowpipeline"
	"channel-backtest/services/engine"
	"channel-backtest/services/marketdata"
)

var TradeColumns = []string{"side", "entry_time", "exit_time", "entry_price", "exit_price", "size", "risk_price", "pnl_abs", "pnl_r"}

const timeLayout = time.RFC3339Nano

// TradeWriter stores one ledger in a single file.
type TradeWriter interface {
	Write(path string, trades []engine.Trade) error
	Extension() string
}

// NewTradeWriter returns the writer for format (csv, json, parquet, arrow),
// or nil if the format is not supported.
func NewTradeWriter(format string) TradeWriter {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "csv":
		return CSVWriter{}
	case "json":
		return JSONWriter{}
	case "parquet":
		return ParquetWriter{}
	case "arrow":
		return ArrowWriter{}
	default:
		return nil
	}
}

func Formats() []string { return []string{"csv", "json", "parquet", "arrow"} }

// FormatFloat renders v in its shortest exact decimal form; undefined
// values are empty.
func FormatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return decimal.NewFromFloat(v).String()
}

func hasSymbol(trades []engine.Trade) bool {
	for _, t := range trades {
		if t.Symbol != "" {
			return true
		}
	}
	return false
}

type CSVWriter struct{}

func (CSVWriter) Extension() string { return "csv" }

func (w CSVWriter) Write(path string, trades []engine.Trade) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteTradesCSV(f, trades); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteTradesCSV writes the ledger with a header row. The symbol column is
// present only when some trade carries one.
func WriteTradesCSV(out io.Writer, trades []engine.Trade) error {
	w := csv.NewWriter(out)
	withSymbol := hasSymbol(trades)
	header := TradeColumns
	if withSymbol {
		header = append(append([]string(nil), TradeColumns...), "symbol")
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, t := range trades {
		rec := []string{
			string(t.Side),
			t.EntryTime.UTC().Format(timeLayout),
			t.ExitTime.UTC().Format(timeLayout),
			FormatFloat(t.EntryPrice),
			FormatFloat(t.ExitPrice),
			FormatFloat(t.Size),
			FormatFloat(t.RiskPrice),
			FormatFloat(t.PnlAbs),
			FormatFloat(t.PnlR),
		}
		if withSymbol {
			rec = append(rec, t.Symbol)
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// ReadTradesCSV parses a ledger written by WriteTradesCSV. Times may use any
// layout marketdata.ParseTimestamp accepts. Empty numeric cells read back
// as NaN.
func ReadTradesCSV(in io.Reader) ([]engine.Trade, error) {
	r := csv.NewReader(in)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read ledger header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range TradeColumns {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("ledger missing column %q", c)
		}
	}

	trades := make([]engine.Trade, 0)
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		get := func(c string) string {
			i, ok := idx[c]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		num := func(c string) (float64, error) {
			s := get(c)
			if s == "" {
				return math.NaN(), nil
			}
			return strconv.ParseFloat(s, 64)
		}

		t := engine.Trade{Side: engine.TradeSide(get("side")), Symbol: get("symbol")}
		if t.EntryTime, err = marketdata.ParseTimestamp(get("entry_time")); err != nil {
			return nil, fmt.Errorf("line %d: entry_time: %w", line, err)
		}
		if t.ExitTime, err = marketdata.ParseTimestamp(get("exit_time")); err != nil {
			return nil, fmt.Errorf("line %d: exit_time: %w", line, err)
		}
		for c, dst := range map[string]*float64{
			"entry_price": &t.EntryPrice, "exit_price": &t.ExitPrice, "size": &t.Size,
			"risk_price": &t.RiskPrice, "pnl_abs": &t.PnlAbs, "pnl_r": &t.PnlR,
		} {
			if *dst, err = num(c); err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, c, err)
			}
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// LoadTradesCSV opens path and reads it with ReadTradesCSV.
func LoadTradesCSV(path string) ([]engine.Trade, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadTradesCSV(f)
}

// TradeRecord is the JSON and Parquet row for a trade. Undefined numbers
// are null.
type TradeRecord struct {
	Side       string   `json:"side" parquet:"side"`
	EntryTime  string   `json:"entry_time" parquet:"entry_time"`
	ExitTime   string   `json:"exit_time" parquet:"exit_time"`
	EntryPrice float64  `json:"entry_price" parquet:"entry_price"`
	ExitPrice  float64  `json:"exit_price" parquet:"exit_price"`
	Size       float64  `json:"size" parquet:"size"`
	RiskPrice  *float64 `json:"risk_price" parquet:"risk_price,optional"`
	PnlAbs     float64  `json:"pnl_abs" parquet:"pnl_abs"`
	PnlR       *float64 `json:"pnl_r" parquet:"pnl_r,optional"`
	Symbol     string   `json:"symbol,omitempty" parquet:"symbol,optional"`
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func ToRecords(trades []engine.Trade) []TradeRecord {
	out := make([]TradeRecord, len(trades))
	for i, t := range trades {
		out[i] = TradeRecord{
			Side:       string(t.Side),
			EntryTime:  t.EntryTime.UTC().Format(timeLayout),
			ExitTime:   t.ExitTime.UTC().Format(timeLayout),
			EntryPrice: t.EntryPrice,
			ExitPrice:  t.ExitPrice,
			Size:       t.Size,
			RiskPrice:  nullable(t.RiskPrice),
			PnlAbs:     t.PnlAbs,
			PnlR:       nullable(t.PnlR),
			Symbol:     t.Symbol,
		}
	}
	return out
}

type JSONWriter struct{}

func (JSONWriter) Extension() string { return "json" }

func (JSONWriter) Write(path string, trades []engine.Trade) error {
	return WriteJSON(path, ToRecords(trades))
}

type ParquetWriter struct{}

func (ParquetWriter) Extension() string { return "parquet" }

func (ParquetWriter) Write(path string, trades []engine.Trade) error {
	return parquet.WriteFile(path, ToRecords(trades))
}

type ArrowWriter struct{}

func (ArrowWriter) Extension() string { return "arrow" }

func (ArrowWriter) Write(path string, trades []engine.Trade) error {
	p := arrowpipeline.NewPipeline(arrowpipeline.DefaultConfig(), nil)
	return arrowpipeline.WriteFile(path, func(w io.Writer) error { return p.WriteTrades(w, trades) })
}

// WriteJSON writes v indented, with a trailing newline.
func WriteJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}
