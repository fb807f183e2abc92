package marketdata

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"channel-backtest/services/arrowpipeline"
	"channel-backtest/services/engine"
)

// Extensions recognised as bar inputs in directory mode.
var Extensions = []string{".csv", ".parquet", ".arrow"}

// LoadFile picks a loader from the file extension.
func LoadFile(path string) ([]engine.Bar, LoadStats, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return LoadCSV(path)
	case ".parquet":
		return LoadParquet(path)
	case ".arrow", ".ipc":
		_, bars, err := arrowpipeline.NewPipeline(arrowpipeline.DefaultConfig(), nil).LoadBarsFile(path)
		if err != nil {
			return nil, LoadStats{}, fmt.Errorf("%s: %w", path, err)
		}
		bars, st := Clean(bars)
		if len(bars) == 0 {
			return nil, st, fmt.Errorf("%s: %w", path, ErrNoBars)
		}
		return bars, st, nil
	}
	return nil, LoadStats{}, fmt.Errorf("%s: unsupported input format", path)
}

// SaveFile writes bars in the format named by the file extension.
func SaveFile(path, symbol string, bars []engine.Bar) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return arrowpipeline.WriteFile(path, func(w io.Writer) error { return WriteCSV(w, bars) })
	case ".parquet":
		return WriteParquet(path, bars)
	case ".arrow", ".ipc":
		p := arrowpipeline.NewPipeline(arrowpipeline.DefaultConfig(), nil)
		return arrowpipeline.WriteFile(path, func(w io.Writer) error { return p.WriteBars(w, symbol, bars) })
	}
	return fmt.Errorf("%s: unsupported output format", path)
}

// ListInputs expands path into the bar files to run: the file itself, or
// every recognised file directly inside a directory, sorted by name.
func ListInputs(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		for _, want := range Extensions {
			if ext == want {
				files = append(files, filepath.Join(path, e.Name()))
				break
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// SymbolFromPath is the file name without its extension.
func SymbolFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
