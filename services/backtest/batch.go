package backtest

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"channel-backtest/services/marketdata"
)

// Outcome is the result of one input file. Err is set when loading,
// running or emitting failed; other files are unaffected.
type Outcome struct {
	Path   string
	Symbol string
	Stats  marketdata.LoadStats
	Result *Result
	Err    error
}

// EmitFunc persists a finished run. It is called from worker goroutines,
// once per file.
type EmitFunc func(*Result) error

type job struct {
	index int
	path  string
}

type indexed struct {
	index int
	out   Outcome
}

// RunFiles backtests every path on a pool of workers. The symbol of each
// run is the file stem. Outcomes are returned in input order.
func (r *Runner) RunFiles(ctx context.Context, paths []string, workers int, emit EmitFunc) []Outcome {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(paths) {
		workers = len(paths)
	}

	r.logger.Info("Starting batch",
		zap.Int("files", len(paths)),
		zap.Int("workers", workers),
		zap.String("strategy", r.strategy.Name()),
	)

	jobs := make(chan job, len(paths))
	results := make(chan indexed, len(paths))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := range jobs {
				r.logger.Debug("Worker processing file", zap.Int("worker_id", workerID), zap.String("path", j.path))
				results <- indexed{j.index, r.runFile(ctx, j.path, emit)}
			}
		}(i)
	}

	for i, p := range paths {
		jobs <- job{index: i, path: p}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]Outcome, len(paths))
	for res := range results {
		outcomes[res.index] = res.out
	}
	return outcomes
}

func (r *Runner) runFile(ctx context.Context, path string, emit EmitFunc) Outcome {
	out := Outcome{Path: path, Symbol: marketdata.SymbolFromPath(path)}
	if err := ctx.Err(); err != nil {
		out.Err = err
		return out
	}

	bars, stats, err := marketdata.LoadFile(path)
	out.Stats = stats
	if err != nil {
		out.Err = err
		r.logger.Error("Loading bars failed", zap.String("path", path), zap.Error(err))
		return out
	}
	if stats.Dropped() > 0 {
		r.logger.Info("Dropped input rows",
			zap.String("path", path),
			zap.Int("bad_timestamps", stats.BadTimestamps),
			zap.Int("bad_prices", stats.BadPrices),
			zap.Int("duplicates", stats.Duplicates),
		)
	}

	res, err := r.Run(ctx, out.Symbol, bars)
	if err != nil {
		out.Err = fmt.Errorf("%s: %w", path, err)
		r.logger.Error("Backtest failed", zap.String("path", path), zap.Error(err))
		return out
	}
	out.Result = res

	if emit != nil {
		if err := emit(res); err != nil {
			out.Err = fmt.Errorf("%s: write outputs: %w", path, err)
			r.logger.Error("Writing outputs failed", zap.String("path", path), zap.Error(err))
		}
	}
	return out
}

// Failed counts the outcomes that carry an error.
func Failed(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}
