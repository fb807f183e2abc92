package report

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel-backtest/services/engine"
)

var day0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func trade(exit time.Time, r float64) engine.Trade {
	return engine.Trade{Side: engine.TradeSideLong, EntryTime: exit.Add(-time.Hour), ExitTime: exit, Size: 1, RiskPrice: 1, PnlAbs: r, PnlR: r}
}

func TestSummarizeEmptyLedger(t *testing.T) {
	s := Summarize(nil, DefaultOptions())
	assert.Equal(t, 0, s.Trades)
	assert.Equal(t, 0.0, s.WinRate)
	assert.Equal(t, 0.0, s.ProfitFactor)
	assert.Equal(t, 0.0, s.MaxDrawdownR)
	assert.True(t, math.IsNaN(s.ExpectancyR))
	assert.True(t, math.IsNaN(s.Sharpe))

	b, err := json.Marshal(s.Metrics())
	require.NoError(t, err)
	assert.JSONEq(t, `{"trades":0,"win_rate":0,"profit_factor":0,"expectancy_R":null,"max_drawdown_R":0,"sharpe":null}`, string(b))
}

func TestSummarizeBasicStats(t *testing.T) {
	trades := []engine.Trade{
		trade(day0.Add(48*time.Hour), -1),
		trade(day0, 2),
		trade(day0.Add(24*time.Hour), -0.5),
		trade(day0.Add(72*time.Hour), 1.5),
	}
	s := Summarize(trades, DefaultOptions())

	assert.Equal(t, 4, s.Trades)
	assert.InDelta(t, 0.5, s.WinRate, 1e-12)
	assert.InDelta(t, 3.5/1.5, s.ProfitFactor, 1e-12)
	assert.InDelta(t, 0.5, s.ExpectancyR, 1e-12)

	// equity by exit time: 2, 1.5, 0.5, 2
	require.Len(t, s.Equity, 4)
	assert.InDelta(t, 0.5, s.Equity[2].Value, 1e-12)
	assert.InDelta(t, -1.5, s.MaxDrawdownR, 1e-12)
	assert.Equal(t, []engine.Trade{trades[0], trades[1], trades[2], trades[3]}, trades, "input must not be reordered")
}

func TestProfitFactorWithoutLosses(t *testing.T) {
	s := Summarize([]engine.Trade{trade(day0, 1), trade(day0.Add(time.Hour), 2)}, DefaultOptions())
	assert.InDelta(t, 3e12, s.ProfitFactor, 1)
	assert.Equal(t, 0.0, s.MaxDrawdownR)
}

func TestUndefinedRSkipped(t *testing.T) {
	trades := []engine.Trade{trade(day0, 1), trade(day0.Add(time.Hour), math.NaN()), trade(day0.Add(2*time.Hour), -2)}
	s := Summarize(trades, DefaultOptions())
	assert.InDelta(t, 1.0/3.0, s.WinRate, 1e-12)
	assert.InDelta(t, -0.5, s.ExpectancyR, 1e-12)
	assert.True(t, math.IsNaN(s.Equity[1].Value))
	assert.InDelta(t, -1.0, s.Equity[2].Value, 1e-12)
	assert.InDelta(t, -2.0, s.MaxDrawdownR, 1e-12)
	assert.Equal(t, 2, s.Histogram.Total())
}

func TestDrawdownPeakStartsAtFirstTrade(t *testing.T) {
	s := Summarize([]engine.Trade{trade(day0, -1), trade(day0.Add(time.Hour), -1)}, DefaultOptions())
	assert.InDelta(t, -1.0, s.MaxDrawdownR, 1e-12)
}

func TestDailyEquityForwardFills(t *testing.T) {
	eq := []Point{
		{Time: day0, Value: 1},
		{Time: day0.Add(2 * time.Hour), Value: 3},
		{Time: day0.Add(72 * time.Hour), Value: 2},
	}
	daily := DailyEquity(eq)
	require.Len(t, daily, 4)
	assert.Equal(t, []float64{3, 3, 3, 2}, []float64{daily[0].Value, daily[1].Value, daily[2].Value, daily[3].Value})
	assert.Equal(t, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), daily[1].Time)
}

func TestSharpe(t *testing.T) {
	daily := []Point{{Value: 0}, {Value: 1}, {Value: 3}}
	// returns 1, 2: mean 1.5, sample sd sqrt(0.5)
	assert.InDelta(t, 1.5/math.Sqrt(0.5)*math.Sqrt(252), Sharpe(daily, 252), 1e-9)

	assert.True(t, math.IsNaN(Sharpe(daily[:2], 252)), "one return has no sample deviation")
	assert.True(t, math.IsNaN(Sharpe([]Point{{Value: 1}, {Value: 2}, {Value: 3}}, 252)), "constant returns")
}

func TestSameDayTradesHaveUndefinedSharpe(t *testing.T) {
	s := Summarize([]engine.Trade{trade(day0, 1), trade(day0.Add(time.Hour), -1)}, DefaultOptions())
	assert.True(t, math.IsNaN(s.Sharpe))
	assert.Nil(t, s.Metrics().Sharpe)
}

func TestHistogram(t *testing.T) {
	h := NewHistogram([]float64{-1, 0, 1, 1, math.NaN()}, 4)
	require.Len(t, h.Edges, 5)
	assert.Equal(t, -1.0, h.Edges[0])
	assert.Equal(t, 1.0, h.Edges[4])
	assert.Equal(t, []int{1, 0, 1, 2}, h.Counts)

	single := NewHistogram([]float64{2}, 40)
	assert.Equal(t, 1, single.Total())
	assert.InDelta(t, 1.5, single.Edges[0], 1e-12)
}

func TestMetricsWithMeta(t *testing.T) {
	m := Summarize([]engine.Trade{trade(day0, 1)}, DefaultOptions()).Metrics()
	out, err := m.WithMeta(map[string]any{"symbol": "WINM25", "trades": "overridden"})
	require.NoError(t, err)
	assert.Equal(t, "WINM25", out["symbol"])
	assert.Equal(t, "overridden", out["trades"])
	assert.Nil(t, out["sharpe"])
}
