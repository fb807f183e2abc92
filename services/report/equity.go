package report

import (
	"math"
	"sort"
	"time"

	"channel-backtest/services/engine"
)

// Point is one sample of a time-indexed series in R units. Value is NaN for
// trades whose R multiple is undefined.
type Point struct {
	Time  time.Time
	Value float64
}

// ByExitTime returns a copy of trades ordered by exit time. Ties keep their
// ledger order.
func ByExitTime(trades []engine.Trade) []engine.Trade {
	out := append([]engine.Trade(nil), trades...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExitTime.Before(out[j].ExitTime) })
	return out
}

// EquityCurve is the running sum of pnl_r by exit time. Undefined R values
// contribute nothing to the sum and show up as NaN points.
func EquityCurve(trades []engine.Trade) []Point {
	sorted := ByExitTime(trades)
	out := make([]Point, len(sorted))
	var sum float64
	for i, t := range sorted {
		if math.IsNaN(t.PnlR) {
			out[i] = Point{Time: t.ExitTime, Value: math.NaN()}
			continue
		}
		sum += t.PnlR
		out[i] = Point{Time: t.ExitTime, Value: sum}
	}
	return out
}

// Drawdown is equity minus its running peak. The peak starts at the first
// defined equity value and never resets.
func Drawdown(equity []Point) []Point {
	out := make([]Point, len(equity))
	peak := math.NaN()
	for i, p := range equity {
		if math.IsNaN(p.Value) {
			out[i] = Point{Time: p.Time, Value: math.NaN()}
			continue
		}
		if math.IsNaN(peak) || p.Value > peak {
			peak = p.Value
		}
		out[i] = Point{Time: p.Time, Value: p.Value - peak}
	}
	return out
}

// MaxDrawdown is the most negative drawdown, 0 when equity never declines.
func MaxDrawdown(drawdown []Point) float64 {
	worst := 0.0
	for _, p := range drawdown {
		if p.Value < worst {
			worst = p.Value
		}
	}
	return worst
}

// DailyEquity resamples equity to one value per UTC calendar day: the last
// defined value of the day, carried forward across days without one.
// Leading days with no defined value are skipped.
func DailyEquity(equity []Point) []Point {
	if len(equity) == 0 {
		return nil
	}
	lastOfDay := make(map[time.Time]float64)
	first, last := dayOf(equity[0].Time), dayOf(equity[0].Time)
	for _, p := range equity {
		d := dayOf(p.Time)
		if d.Before(first) {
			first = d
		}
		if d.After(last) {
			last = d
		}
		if !math.IsNaN(p.Value) {
			lastOfDay[d] = p.Value
		}
	}

	var out []Point
	carry := math.NaN()
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		if v, ok := lastOfDay[d]; ok {
			carry = v
		}
		if !math.IsNaN(carry) {
			out = append(out, Point{Time: d, Value: carry})
		}
	}
	return out
}

func dayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Sharpe annualizes the mean over the sample standard deviation of daily
// equity changes. NaN when fewer than two returns exist or they have no
// spread.
func Sharpe(daily []Point, annualization float64) float64 {
	if len(daily) < 3 {
		return math.NaN()
	}
	rets := make([]float64, len(daily)-1)
	for i := 1; i < len(daily); i++ {
		rets[i-1] = daily[i].Value - daily[i-1].Value
	}
	m := mean(rets)
	var ss float64
	for _, r := range rets {
		ss += (r - m) * (r - m)
	}
	sd := math.Sqrt(ss / float64(len(rets)-1))
	if sd == 0 || math.IsNaN(sd) {
		return math.NaN()
	}
	return m / sd * math.Sqrt(annualization)
}

func mean(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}
