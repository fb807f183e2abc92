// Package arrowpipeline reads and writes bars, signal traces and trades as
// Apache Arrow IPC streams.
package arrowpipeline

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"go.uber.org/zap"

	"channel-backtest/services/engine"
)

var ErrSchema = errors.New("unexpected arrow schema")

// Config holds Arrow pipeline configuration
type Config struct {
	BatchSize int `yaml:"batch_size"`
}

func DefaultConfig() Config { return Config{BatchSize: 64 * 1024} }

// Pipeline handles Arrow IPC streaming
type Pipeline struct {
	config     Config
	memoryPool memory.Allocator
	logger     *zap.Logger
}

// NewPipeline creates a new Arrow pipeline; logger may be nil.
func NewPipeline(config Config, logger *zap.Logger) *Pipeline {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{config: config, memoryPool: memory.NewGoAllocator(), logger: logger}
}

var tsType = &arrow.TimestampType{Unit: arrow.Nanosecond, TimeZone: "UTC"}

var BarSchema = arrow.NewSchema([]arrow.Field{
	{Name: "symbol", Type: arrow.BinaryTypes.String},
	{Name: "timestamp", Type: tsType},
	{Name: "open", Type: arrow.PrimitiveTypes.Float64},
	{Name: "high", Type: arrow.PrimitiveTypes.Float64},
	{Name: "low", Type: arrow.PrimitiveTypes.Float64},
	{Name: "close", Type: arrow.PrimitiveTypes.Float64},
	{Name: "volume", Type: arrow.PrimitiveTypes.Float64},
}, nil)

var SignalSchema = arrow.NewSchema([]arrow.Field{
	{Name: "timestamp", Type: tsType},
	{Name: "open", Type: arrow.PrimitiveTypes.Float64},
	{Name: "high", Type: arrow.PrimitiveTypes.Float64},
	{Name: "low", Type: arrow.PrimitiveTypes.Float64},
	{Name: "close", Type: arrow.PrimitiveTypes.Float64},
	{Name: "volume", Type: arrow.PrimitiveTypes.Float64},
	{Name: "upper", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "lower", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "basis", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "atr", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "atr_pct", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "vol_ok", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "entry_long", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "entry_short", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "exit_long", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "exit_short", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "risk_long", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "risk_short", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
}, nil)

var TradeSchema = arrow.NewSchema([]arrow.Field{
	{Name: "side", Type: arrow.BinaryTypes.String},
	{Name: "entry_time", Type: tsType},
	{Name: "exit_time", Type: tsType},
	{Name: "entry_price", Type: arrow.PrimitiveTypes.Float64},
	{Name: "exit_price", Type: arrow.PrimitiveTypes.Float64},
	{Name: "size", Type: arrow.PrimitiveTypes.Float64},
	{Name: "risk_price", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "pnl_abs", Type: arrow.PrimitiveTypes.Float64},
	{Name: "pnl_r", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "symbol", Type: arrow.BinaryTypes.String},
}, nil)

func ts(t time.Time) arrow.Timestamp { return arrow.Timestamp(t.UnixNano()) }

func appendNullable(b *array.Float64Builder, v float64) {
	if math.IsNaN(v) {
		b.AppendNull()
		return
	}
	b.Append(v)
}

func nullable(a *array.Float64, i int) float64 {
	if a.IsNull(i) {
		return math.NaN()
	}
	return a.Value(i)
}

// writeBatched emits n rows in record batches of BatchSize; fill appends
// row i to the builder.
func (p *Pipeline) writeBatched(w io.Writer, schema *arrow.Schema, n int, fill func(b *array.RecordBuilder, i int)) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(p.memoryPool))
	builder := array.NewRecordBuilder(p.memoryPool, schema)
	defer builder.Release()

	batches := 0
	for start := 0; start < n || (n == 0 && batches == 0); start += p.config.BatchSize {
		end := start + p.config.BatchSize
		if end > n {
			end = n
		}
		for i := start; i < end; i++ {
			fill(builder, i)
		}
		rec := builder.NewRecord()
		err := writer.Write(rec)
		rec.Release()
		if err != nil {
			writer.Close()
			return fmt.Errorf("failed to write Arrow record: %w", err)
		}
		batches++
	}
	p.logger.Debug("arrow stream written", zap.String("schema", schema.Field(0).Name), zap.Int("rows", n), zap.Int("batches", batches))
	return writer.Close()
}

// WriteBars serializes bars for one symbol.
func (p *Pipeline) WriteBars(w io.Writer, symbol string, bars []engine.Bar) error {
	return p.writeBatched(w, BarSchema, len(bars), func(b *array.RecordBuilder, i int) {
		bar := bars[i]
		b.Field(0).(*array.StringBuilder).Append(symbol)
		b.Field(1).(*array.TimestampBuilder).Append(ts(bar.Timestamp))
		b.Field(2).(*array.Float64Builder).Append(bar.Open)
		b.Field(3).(*array.Float64Builder).Append(bar.High)
		b.Field(4).(*array.Float64Builder).Append(bar.Low)
		b.Field(5).(*array.Float64Builder).Append(bar.Close)
		b.Field(6).(*array.Float64Builder).Append(bar.Volume)
	})
}

// ReadBars decodes a stream written by WriteBars. The symbol is taken from
// the first row.
func (p *Pipeline) ReadBars(r io.Reader) (string, []engine.Bar, error) {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(p.memoryPool))
	if err != nil {
		return "", nil, fmt.Errorf("open arrow stream: %w", err)
	}
	defer rdr.Release()
	if !rdr.Schema().Equal(BarSchema) {
		return "", nil, fmt.Errorf("%w: %s", ErrSchema, rdr.Schema())
	}

	var symbol string
	var bars []engine.Bar
	for rdr.Next() {
		rec := rdr.Record()
		syms := rec.Column(0).(*array.String)
		times := rec.Column(1).(*array.Timestamp)
		opens := rec.Column(2).(*array.Float64)
		highs := rec.Column(3).(*array.Float64)
		lows := rec.Column(4).(*array.Float64)
		closes := rec.Column(5).(*array.Float64)
		vols := rec.Column(6).(*array.Float64)
		for i := 0; i < int(rec.NumRows()); i++ {
			if symbol == "" {
				symbol = syms.Value(i)
			}
			bars = append(bars, engine.Bar{
				Timestamp: time.Unix(0, int64(times.Value(i))).UTC(),
				Open:      opens.Value(i),
				High:      highs.Value(i),
				Low:       lows.Value(i),
				Close:     closes.Value(i),
				Volume:    vols.Value(i),
			})
		}
	}
	if err := rdr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return "", nil, fmt.Errorf("read arrow stream: %w", err)
	}
	return symbol, bars, nil
}

// WriteSignals dumps the full signal trace. Undefined values become nulls.
func (p *Pipeline) WriteSignals(w io.Writer, bars []engine.SignaledBar) error {
	return p.writeBatched(w, SignalSchema, len(bars), func(b *array.RecordBuilder, i int) {
		sb := bars[i]
		b.Field(0).(*array.TimestampBuilder).Append(ts(sb.Timestamp))
		for j, v := range []float64{sb.Open, sb.High, sb.Low, sb.Close, sb.Volume} {
			b.Field(1 + j).(*array.Float64Builder).Append(v)
		}
		for j, v := range []float64{sb.Upper, sb.Lower, sb.Basis, sb.ATR, sb.ATRPct} {
			appendNullable(b.Field(6+j).(*array.Float64Builder), v)
		}
		for j, v := range []bool{sb.VolOK, sb.EntryLong, sb.EntryShort, sb.ExitLong, sb.ExitShort} {
			b.Field(11 + j).(*array.BooleanBuilder).Append(v)
		}
		appendNullable(b.Field(16).(*array.Float64Builder), sb.RiskLong)
		appendNullable(b.Field(17).(*array.Float64Builder), sb.RiskShort)
	})
}

// WriteTrades serializes a trade ledger.
func (p *Pipeline) WriteTrades(w io.Writer, trades []engine.Trade) error {
	return p.writeBatched(w, TradeSchema, len(trades), func(b *array.RecordBuilder, i int) {
		t := trades[i]
		b.Field(0).(*array.StringBuilder).Append(string(t.Side))
		b.Field(1).(*array.TimestampBuilder).Append(ts(t.EntryTime))
		b.Field(2).(*array.TimestampBuilder).Append(ts(t.ExitTime))
		b.Field(3).(*array.Float64Builder).Append(t.EntryPrice)
		b.Field(4).(*array.Float64Builder).Append(t.ExitPrice)
		b.Field(5).(*array.Float64Builder).Append(t.Size)
		appendNullable(b.Field(6).(*array.Float64Builder), t.RiskPrice)
		b.Field(7).(*array.Float64Builder).Append(t.PnlAbs)
		appendNullable(b.Field(8).(*array.Float64Builder), t.PnlR)
		b.Field(9).(*array.StringBuilder).Append(t.Symbol)
	})
}

// ReadTrades decodes a stream written by WriteTrades.
func (p *Pipeline) ReadTrades(r io.Reader) ([]engine.Trade, error) {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(p.memoryPool))
	if err != nil {
		return nil, fmt.Errorf("open arrow stream: %w", err)
	}
	defer rdr.Release()
	if !rdr.Schema().Equal(TradeSchema) {
		return nil, fmt.Errorf("%w: %s", ErrSchema, rdr.Schema())
	}

	trades := make([]engine.Trade, 0)
	for rdr.Next() {
		rec := rdr.Record()
		sides := rec.Column(0).(*array.String)
		entries := rec.Column(1).(*array.Timestamp)
		exits := rec.Column(2).(*array.Timestamp)
		entryPx := rec.Column(3).(*array.Float64)
		exitPx := rec.Column(4).(*array.Float64)
		sizes := rec.Column(5).(*array.Float64)
		risks := rec.Column(6).(*array.Float64)
		pnlAbs := rec.Column(7).(*array.Float64)
		pnlR := rec.Column(8).(*array.Float64)
		syms := rec.Column(9).(*array.String)
		for i := 0; i < int(rec.NumRows()); i++ {
			trades = append(trades, engine.Trade{
				Side:       engine.TradeSide(sides.Value(i)),
				EntryTime:  time.Unix(0, int64(entries.Value(i))).UTC(),
				ExitTime:   time.Unix(0, int64(exits.Value(i))).UTC(),
				EntryPrice: entryPx.Value(i),
				ExitPrice:  exitPx.Value(i),
				Size:       sizes.Value(i),
				RiskPrice:  nullable(risks, i),
				PnlAbs:     pnlAbs.Value(i),
				PnlR:       nullable(pnlR, i),
				Symbol:     syms.Value(i),
			})
		}
	}
	if err := rdr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read arrow stream: %w", err)
	}
	return trades, nil
}

// LoadBarsFile reads a bar stream from disk.
func (p *Pipeline) LoadBarsFile(path string) (string, []engine.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()
	return p.ReadBars(f)
}

// WriteFile creates path and hands it to write.
func WriteFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
