package marketdata

import (
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"

	"channel-backtest/services/engine"
)

// ParquetBar is the on-disk row layout for bar files. Timestamp is Unix
// milliseconds.
type ParquetBar struct {
	Timestamp int64   `parquet:"timestamp"`
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

func LoadParquet(path string) ([]engine.Bar, LoadStats, error) {
	rows, err := parquet.ReadFile[ParquetBar](path)
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("%s: %w", path, err)
	}
	st := LoadStats{Rows: len(rows)}
	bars := make([]engine.Bar, 0, len(rows))
	for _, r := range rows {
		b := engine.Bar{
			Timestamp: time.UnixMilli(r.Timestamp).UTC(),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		}
		if !ValidBar(b) {
			st.BadPrices++
			continue
		}
		bars = append(bars, b)
	}
	bars, st.Duplicates = Normalize(bars)
	if len(bars) == 0 {
		return nil, st, fmt.Errorf("%s: %w", path, ErrNoBars)
	}
	return bars, st, nil
}

func WriteParquet(path string, bars []engine.Bar) error {
	rows := make([]ParquetBar, len(bars))
	for i, b := range bars {
		rows[i] = ParquetBar{
			Timestamp: b.Timestamp.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		}
	}
	return parquet.WriteFile(path, rows)
}
