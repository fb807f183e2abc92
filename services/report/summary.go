package report

import (
	"math"

	"channel-backtest/services/engine"
)

const (
	DefaultAnnualization = 252
	DefaultHistogramBins = 40

	// floor under the loss sum so a ledger without losers stays finite
	profitFactorFloor = 1e-12
)

type Options struct {
	Annualization float64
	HistogramBins int
}

func DefaultOptions() Options {
	return Options{Annualization: DefaultAnnualization, HistogramBins: DefaultHistogramBins}
}

// Summary holds the aggregate statistics together with the series they
// were computed from. Undefined statistics are NaN.
type Summary struct {
	Trades       int
	WinRate      float64
	ProfitFactor float64
	ExpectancyR  float64
	MaxDrawdownR float64
	Sharpe       float64

	Equity    []Point
	Drawdown  []Point
	Daily     []Point
	Histogram Histogram
}

// Summarize is pure: the input ledger is not modified.
//
// With no trades, win rate and profit factor are 0, expectancy and Sharpe
// are undefined and the drawdown is 0.
func Summarize(trades []engine.Trade, opts Options) Summary {
	if opts.Annualization <= 0 {
		opts.Annualization = DefaultAnnualization
	}
	if opts.HistogramBins <= 0 {
		opts.HistogramBins = DefaultHistogramBins
	}

	s := Summary{Trades: len(trades), ExpectancyR: math.NaN(), Sharpe: math.NaN()}
	s.Equity = EquityCurve(trades)
	s.Drawdown = Drawdown(s.Equity)
	s.MaxDrawdownR = MaxDrawdown(s.Drawdown)
	s.Daily = DailyEquity(s.Equity)
	s.Sharpe = Sharpe(s.Daily, opts.Annualization)

	rs := make([]float64, 0, len(trades))
	for _, t := range trades {
		rs = append(rs, t.PnlR)
	}
	s.Histogram = NewHistogram(rs, opts.HistogramBins)
	if len(trades) == 0 {
		return s
	}

	var wins, defined int
	var gross, loss, total float64
	for _, r := range rs {
		if math.IsNaN(r) {
			continue
		}
		defined++
		total += r
		switch {
		case r > 0:
			wins++
			gross += r
		case r < 0:
			loss -= r
		}
	}
	// undefined R counts as a non-win
	s.WinRate = float64(wins) / float64(len(trades))
	s.ProfitFactor = gross / math.Max(profitFactorFloor, loss)
	if defined > 0 {
		s.ExpectancyR = total / float64(defined)
	}
	return s
}
