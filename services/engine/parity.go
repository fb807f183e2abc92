package engine

import (
	"fmt"
	"math"
	"time"
)

// Golden parity suite: synthetic series with hand-checked outcomes.

var goldenStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// synthBars turns a close path into bars: open is the previous close and the
// wicks sit wick above/below the body.
func synthBars(closes []float64, wick float64) []Bar {
	bars := make([]Bar, len(closes))
	for i, c := range closes {
		o := c
		if i > 0 {
			o = closes[i-1]
		}
		bars[i] = Bar{
			Timestamp: goldenStart.Add(time.Duration(i) * time.Hour),
			Open:      o,
			High:      math.Max(o, c) + wick,
			Low:       math.Min(o, c) - wick,
			Close:     c,
			Volume:    1000,
		}
	}
	return bars
}

// BreakoutReversalBars is a 50-bar path: flat at 100, a break up through
// the channel at bar 20, a steady climb, and a collapse to 100 at bar 35.
func BreakoutReversalBars() []Bar {
	closes := make([]float64, 50)
	for i := range closes {
		switch {
		case i < 20:
			closes[i] = 100
		case i < 35:
			closes[i] = 105 + 2*float64(i-20)
		default:
			closes[i] = 100
		}
	}
	return synthBars(closes, 0.5)
}

// RisingBars closes one point higher every bar.
func RisingBars(n int) []Bar {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	return synthBars(closes, 0.6)
}

// FlatBars never moves.
func FlatBars(n int) []Bar {
	bars := make([]Bar, n)
	for i := range bars {
		bars[i] = Bar{Timestamp: goldenStart.Add(time.Duration(i) * time.Hour), Open: 100, High: 100, Low: 100, Close: 100, Volume: 1000}
	}
	return bars
}

type ParityTestCase struct {
	Name     string
	Bars     []Bar
	Size     float64
	Expected []Trade
}

// BreakoutReversalCase expects a single losing long: in at bar 21's open
// (105), out at bar 36's open (100), risk 105-99.5.
func BreakoutReversalCase() ParityTestCase {
	bars := BreakoutReversalBars()
	return ParityTestCase{
		Name: "breakout_reversal",
		Bars: bars,
		Size: 1,
		Expected: []Trade{
			NewTrade(TradeSideLong, bars[21].Timestamp, bars[36].Timestamp, 105, 100, 1, 5.5),
		},
	}
}

// ParityCases is the built-in suite. It assumes a 10-bar channel; the
// monotone and flat series must not produce a closed trade in either
// trigger mode.
func ParityCases() []ParityTestCase {
	return []ParityTestCase{
		BreakoutReversalCase(),
		{Name: "rising", Bars: RisingBars(60), Size: 1},
		{Name: "flat", Bars: FlatBars(60), Size: 1},
	}
}

// RunParitySuite runs every case through s and reports mismatches.
func RunParitySuite(s Strategy, cases []ParityTestCase) []string {
	var failures []string
	for _, tc := range cases {
		signaled, err := s.Generate(tc.Bars)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", tc.Name, err))
			continue
		}
		got := Simulate(signaled, tc.Size)
		if len(got) != len(tc.Expected) {
			failures = append(failures, fmt.Sprintf("%s: %d trades, want %d", tc.Name, len(got), len(tc.Expected)))
			continue
		}
		for i := range got {
			if !sameTrade(got[i], tc.Expected[i]) {
				failures = append(failures, fmt.Sprintf("%s: trade %d = %+v, want %+v", tc.Name, i, got[i], tc.Expected[i]))
			}
		}
	}
	return failures
}

func sameTrade(a, b Trade) bool {
	const eps = 1e-9
	near := func(x, y float64) bool {
		if math.IsNaN(x) || math.IsNaN(y) {
			return math.IsNaN(x) && math.IsNaN(y)
		}
		return math.Abs(x-y) <= eps
	}
	return a.Side == b.Side &&
		a.EntryTime.Equal(b.EntryTime) && a.ExitTime.Equal(b.ExitTime) &&
		near(a.EntryPrice, b.EntryPrice) && near(a.ExitPrice, b.ExitPrice) &&
		near(a.Size, b.Size) && near(a.RiskPrice, b.RiskPrice) &&
		near(a.PnlAbs, b.PnlAbs) && near(a.PnlR, b.PnlR)
}
