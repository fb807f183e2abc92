package ledger

import (
	"encoding/csv"
	"os"
	"path/filepath"

	"channel-backtest/services/report"
)

// Report artifacts written next to metrics.json.
const (
	MetricsFile  = "metrics.json"
	EquityFile   = "equity_curve.csv"
	DrawdownFile = "drawdown.csv"
	HistFile     = "pnl_hist.csv"
)

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteSeries writes a time, value CSV.
func WriteSeries(path, valueColumn string, points []report.Point) error {
	rows := make([][]string, len(points))
	for i, p := range points {
		rows[i] = []string{p.Time.UTC().Format(timeLayout), FormatFloat(p.Value)}
	}
	return writeCSV(path, []string{"time", valueColumn}, rows)
}

// WriteHistogram writes one row per bin.
func WriteHistogram(path string, h report.Histogram) error {
	rows := make([][]string, len(h.Counts))
	for i, c := range h.Counts {
		rows[i] = []string{FormatFloat(h.Edges[i]), FormatFloat(h.Edges[i+1]), FormatFloat(float64(c))}
	}
	return writeCSV(path, []string{"bin_start", "bin_end", "count"}, rows)
}

// WriteReport writes metrics.json (merged with meta) and the three series
// files into dir.
func WriteReport(dir string, s report.Summary, meta map[string]any) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	metrics, err := s.Metrics().WithMeta(meta)
	if err != nil {
		return err
	}
	if err := WriteJSON(filepath.Join(dir, MetricsFile), metrics); err != nil {
		return err
	}
	if err := WriteSeries(filepath.Join(dir, EquityFile), "equity_r", s.Equity); err != nil {
		return err
	}
	if err := WriteSeries(filepath.Join(dir, DrawdownFile), "drawdown_r", s.Drawdown); err != nil {
		return err
	}
	return WriteHistogram(filepath.Join(dir, HistFile), s.Histogram)
}
