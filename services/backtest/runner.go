// Package backtest wires the signal generator, the simulator and the
// summarizer into single-series and batch runs.
package backtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"channel-backtest/services/cache"
	"channel-backtest/services/engine"
	"channel-backtest/services/ledger"
	"channel-backtest/services/monitoring"
	"channel-backtest/services/report"
	"channel-backtest/strategies"
)

// ErrInvalidSeries marks bars that break the ordering or price
// preconditions of the engine.
var ErrInvalidSeries = errors.New("invalid bar series")

type Options struct {
	Strategy     strategies.Config
	PositionSize float64
	Report       report.Options
	// Trace keeps the signaled series and fill events on every result.
	// Traced runs bypass the cache.
	Trace bool

	Logger  *zap.Logger
	Metrics *monitoring.Metrics
	Cache   cache.Cache
}

// Runner executes one configured strategy. It holds no per-run state and
// is safe for concurrent use.
type Runner struct {
	strategy engine.Strategy
	config   strategies.Config
	size     float64
	report   report.Options
	trace    bool

	logger  *zap.Logger
	metrics *monitoring.Metrics
	cache   cache.Cache
}

// NewRunner resolves the strategy and checks the position size. Every
// configuration error is reported here, before any data is read.
func NewRunner(opts Options) (*Runner, error) {
	strat, err := opts.Strategy.Build()
	if err != nil {
		return nil, err
	}
	if err := engine.ValidateSize(opts.PositionSize); err != nil {
		return nil, err
	}

	cfg := opts.Strategy
	cfg.Kind, _ = strategies.ParseKind(string(cfg.Kind))
	cfg.Donchian.Trigger, _ = strategies.ParseTriggerMode(string(cfg.Donchian.Trigger))

	r := &Runner{
		strategy: strat,
		config:   cfg,
		size:     opts.PositionSize,
		report:   opts.Report,
		trace:    opts.Trace,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		cache:    opts.Cache,
	}
	if r.report.HistogramBins == 0 {
		r.report = report.DefaultOptions()
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.cache == nil {
		r.cache = cache.Nop{}
	}
	return r, nil
}

func (r *Runner) StrategyName() string { return r.strategy.Name() }

// Result is everything one run produced.
type Result struct {
	Symbol   string
	Manifest *engine.RunManifest
	Series   engine.SeriesStats
	Trades   []engine.Trade
	Summary  report.Summary
	Cached   bool

	// Set only for traced runs.
	Signals []engine.SignaledBar
	Events  []engine.Event
}

// Sides counts the long and short trades.
func (res *Result) Sides() (longs, shorts int) {
	for _, t := range res.Trades {
		if t.Side == engine.TradeSideLong {
			longs++
		} else {
			shorts++
		}
	}
	return longs, shorts
}

// Meta is merged into the metrics record. It only holds values derived
// from the inputs so repeated runs render identical metrics.
func (res *Result) Meta() map[string]any {
	m := res.Manifest
	return map[string]any{
		"symbol":         res.Symbol,
		"strategy":       m.Strategy,
		"params":         m.Params,
		"position_size":  m.PositionSize,
		"config_hash":    m.ConfigHash,
		"data_checksum":  m.DataChecksum,
		"engine_version": m.EngineVersion,
		"bars":           m.Bars,
	}
}

// Run backtests one chronologically ordered series.
func (r *Runner) Run(ctx context.Context, symbol string, bars []engine.Bar) (res *Result, err error) {
	start := time.Now()
	r.metrics.InFlightAdd(1)
	defer func() {
		r.metrics.InFlightAdd(-1)
		var longs, shorts int
		if res != nil {
			longs, shorts = res.Sides()
		}
		r.metrics.RunFinished(err, len(bars), longs, shorts)
		r.metrics.ObserveStage("total", start)
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := engine.CheckSeries(bars); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeries, err)
	}

	manifest, err := engine.NewManifest(symbol, r.strategy.Name(), r.config.Params(), r.size, bars)
	if err != nil {
		return nil, err
	}
	res = &Result{Symbol: symbol, Manifest: manifest, Series: engine.DescribeSeries(bars)}
	if res.Series.Gaps > 0 {
		r.logger.Warn("Series has gaps",
			zap.String("symbol", symbol),
			zap.Int("gaps", res.Series.Gaps),
			zap.Duration("cadence", res.Series.Cadence),
		)
	}

	key := manifest.CacheKey()
	if !r.trace {
		if trades, ok := r.lookup(ctx, key); ok {
			// the key ignores the symbol, so entries are shared across instruments
			for i := range trades {
				trades[i].Symbol = symbol
			}
			res.Trades, res.Cached = trades, true
		}
	}

	if !res.Cached {
		t0 := time.Now()
		signals, err := r.strategy.Generate(bars)
		if err != nil {
			return nil, fmt.Errorf("generate signals: %w", err)
		}
		r.metrics.ObserveStage("signals", t0)

		t0 = time.Now()
		var events *engine.EventLog
		if r.trace {
			events = &engine.EventLog{}
		}
		trades := engine.NewSimulator(engine.SimConfig{Size: r.size}, events).Run(signals)
		r.metrics.ObserveStage("simulate", t0)
		for i := range trades {
			trades[i].Symbol = symbol
		}
		res.Trades = trades

		if r.trace {
			res.Signals = signals
			res.Events = events.Events
			r.logger.Debug("Fill events recorded", zap.String("symbol", symbol), zap.Int("events", events.Len()))
		} else {
			r.store(ctx, key, trades)
		}
	}

	t0 := time.Now()
	res.Summary = report.Summarize(res.Trades, r.report)
	r.metrics.ObserveStage("summarize", t0)

	r.logger.Info("Backtest completed",
		zap.String("symbol", symbol),
		zap.String("run_id", manifest.RunID),
		zap.Int("bars", len(bars)),
		zap.Int("trades", res.Summary.Trades),
		zap.Bool("cached", res.Cached),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// lookup returns the cached ledger for key. Cache failures degrade to a
// miss.
func (r *Runner) lookup(ctx context.Context, key string) ([]engine.Trade, bool) {
	b, err := r.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			r.logger.Warn("Cache lookup failed", zap.String("key", key), zap.Error(err))
		}
		r.metrics.CacheResult(false)
		return nil, false
	}
	trades, err := ledger.ReadTradesCSV(bytes.NewReader(b))
	if err != nil {
		r.logger.Warn("Discarding unreadable cache entry", zap.String("key", key), zap.Error(err))
		r.metrics.CacheResult(false)
		return nil, false
	}
	r.metrics.CacheResult(true)
	return trades, true
}

func (r *Runner) store(ctx context.Context, key string, trades []engine.Trade) {
	var buf bytes.Buffer
	if err := ledger.WriteTradesCSV(&buf, trades); err != nil {
		r.logger.Warn("Encoding cache entry failed", zap.Error(err))
		return
	}
	if err := r.cache.Set(ctx, key, buf.Bytes()); err != nil {
		r.logger.Warn("Cache store failed", zap.String("key", key), zap.Error(err))
	}
}
