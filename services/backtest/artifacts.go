package backtest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"channel-backtest/services/arrowpipeline"
	"channel-backtest/services/engine"
	"channel-backtest/services/ledger"
)

// Artifacts writes the files of a run into Dir:
//
//	trades_<strategy>_<symbol>.<ext>
//	metrics_<symbol>.json
//	manifest_<symbol>.json
//	signals_<symbol>.arrow   (traced runs only)
type Artifacts struct {
	Dir    string
	Format ledger.TradeWriter
	Arrow  *arrowpipeline.Pipeline
}

// NewArtifacts checks the ledger format up front.
func NewArtifacts(dir, format string, arrow *arrowpipeline.Pipeline) (*Artifacts, error) {
	w := ledger.NewTradeWriter(format)
	if w == nil {
		return nil, engine.Invalid("output_format", "unsupported format %q", format)
	}
	if arrow == nil {
		arrow = arrowpipeline.NewPipeline(arrowpipeline.DefaultConfig(), nil)
	}
	return &Artifacts{Dir: dir, Format: w, Arrow: arrow}, nil
}

func (a *Artifacts) TradesPath(strategy, symbol string) string {
	return filepath.Join(a.Dir, fmt.Sprintf("trades_%s_%s.%s", strategy, symbol, a.Format.Extension()))
}

func (a *Artifacts) MetricsPath(symbol string) string {
	return filepath.Join(a.Dir, "metrics_"+symbol+".json")
}

func (a *Artifacts) ManifestPath(symbol string) string {
	return filepath.Join(a.Dir, "manifest_"+symbol+".json")
}

func (a *Artifacts) SignalsPath(symbol string) string {
	return filepath.Join(a.Dir, "signals_"+symbol+".arrow")
}

// Write stores every artifact of res. It matches EmitFunc.
func (a *Artifacts) Write(res *Result) error {
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return err
	}
	if err := a.Format.Write(a.TradesPath(res.Manifest.Strategy, res.Symbol), res.Trades); err != nil {
		return fmt.Errorf("write trades: %w", err)
	}

	metrics, err := res.Summary.Metrics().WithMeta(res.Meta())
	if err != nil {
		return err
	}
	if err := ledger.WriteJSON(a.MetricsPath(res.Symbol), metrics); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	if err := ledger.WriteJSON(a.ManifestPath(res.Symbol), res.Manifest); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	if res.Signals != nil {
		err := arrowpipeline.WriteFile(a.SignalsPath(res.Symbol), func(w io.Writer) error {
			return a.Arrow.WriteSignals(w, res.Signals)
		})
		if err != nil {
			return fmt.Errorf("write signals: %w", err)
		}
	}
	return nil
}
