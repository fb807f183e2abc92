package engine

import (
	"math"
	"testing"
	"time"
)

// signaled builds n quiet bars whose open is 100+i so fills are easy to read.
func signaled(n int) []SignaledBar {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]SignaledBar, n)
	for i := range out {
		p := 100 + float64(i)
		out[i] = SignaledBar{
			Bar:       Bar{Timestamp: start.Add(time.Duration(i) * time.Minute), Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 1},
			ATR:       2,
			RiskLong:  4,
			RiskShort: 3,
		}
	}
	return out
}

func TestFillsAtNextBarOpen(t *testing.T) {
	bars := signaled(10)
	bars[2].EntryLong = true
	bars[5].ExitLong = true

	var log EventLog
	trades := NewSimulator(SimConfig{Size: 2}, &log).Run(bars)
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	tr := trades[0]
	if tr.Side != TradeSideLong || tr.EntryPrice != 103 || tr.ExitPrice != 106 {
		t.Fatalf("unexpected trade %+v", tr)
	}
	if !tr.EntryTime.Equal(bars[3].Timestamp) || !tr.ExitTime.Equal(bars[6].Timestamp) {
		t.Fatalf("fills not on next bar: %+v", tr)
	}
	if tr.PnlAbs != 6 || math.Abs(tr.PnlR-6.0/8.0) > 1e-12 {
		t.Fatalf("pnl = %v / %v", tr.PnlAbs, tr.PnlR)
	}
	if log.Len() != 2 || log.Events[0].FillIndex != 3 || log.Events[1].SignalIndex != 5 {
		t.Fatalf("unexpected events %+v", log.Events)
	}
}

func TestExitConsumesBar(t *testing.T) {
	bars := signaled(10)
	bars[2].EntryLong = true
	// flip: exit long and entry short on the same bar
	bars[4].ExitLong = true
	bars[4].EntryShort = true
	bars[6].ExitShort = true

	trades := Simulate(bars, 1)
	if len(trades) != 1 || trades[0].Side != TradeSideLong {
		t.Fatalf("expected only the long, got %+v", trades)
	}
}

func TestShortRoundTrip(t *testing.T) {
	bars := signaled(10)
	bars[1].EntryShort = true
	bars[3].ExitShort = true
	trades := Simulate(bars, 1)
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	tr := trades[0]
	if tr.Side != TradeSideShort || tr.EntryPrice != 102 || tr.ExitPrice != 104 || tr.PnlAbs != -2 || tr.RiskPrice != 3 {
		t.Fatalf("unexpected short %+v", tr)
	}
}

func TestLongTakesPrecedenceWhenBothEntriesFire(t *testing.T) {
	bars := signaled(6)
	bars[1].EntryLong = true
	bars[1].EntryShort = true
	bars[3].ExitLong = true
	trades := Simulate(bars, 1)
	if len(trades) != 1 || trades[0].Side != TradeSideLong {
		t.Fatalf("unexpected trades %+v", trades)
	}
}

func TestOpenPositionAtEndIsDropped(t *testing.T) {
	bars := signaled(8)
	bars[3].EntryLong = true
	if trades := Simulate(bars, 1); len(trades) != 0 {
		t.Fatalf("expected no trades, got %+v", trades)
	}
}

func TestSignalsOnEdgeBarsIgnored(t *testing.T) {
	bars := signaled(6)
	bars[0].EntryLong = true
	bars[4].EntryShort = true
	bars[5].ExitShort = true // last bar has nothing to fill on
	if trades := Simulate(bars, 1); len(trades) != 0 {
		t.Fatalf("expected no trades, got %+v", trades)
	}
}

func TestRiskFallsBackToATR(t *testing.T) {
	bars := signaled(6)
	bars[1].EntryLong = true
	bars[1].RiskLong = 0
	bars[1].ATR = 2.5
	bars[3].ExitLong = true
	trades := Simulate(bars, 1)
	if len(trades) != 1 || trades[0].RiskPrice != 2.5 {
		t.Fatalf("expected ATR risk, got %+v", trades)
	}
}

func TestUndefinedRiskGivesNaNR(t *testing.T) {
	bars := signaled(6)
	bars[1].EntryLong = true
	bars[1].RiskLong = math.NaN()
	bars[1].ATR = math.NaN()
	bars[3].ExitLong = true
	trades := Simulate(bars, 1)
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if !math.IsNaN(trades[0].PnlR) || trades[0].PnlAbs != 2 {
		t.Fatalf("expected NaN R with finite pnl, got %+v", trades[0])
	}
}

func TestEntryRisk(t *testing.T) {
	cases := []struct {
		band, atr, want float64
	}{
		{3, 1, 3},
		{0, 1, 1},
		{-1, 2, 2},
		{math.Inf(1), 2, 2},
		{math.NaN(), -1, 0},
	}
	for _, c := range cases {
		if got := entryRisk(c.band, c.atr); got != c.want {
			t.Errorf("entryRisk(%v, %v) = %v, want %v", c.band, c.atr, got, c.want)
		}
	}
	if !math.IsNaN(entryRisk(0, math.NaN())) {
		t.Error("expected NaN")
	}
}

func TestPnlR(t *testing.T) {
	if got := PnlR(10, 5, 2); got != 1 {
		t.Fatalf("PnlR = %v", got)
	}
	if !math.IsNaN(PnlR(10, 0, 2)) || !math.IsNaN(PnlR(10, math.NaN(), 2)) {
		t.Fatal("expected NaN for degenerate risk")
	}
	if PnlAbs(TradeSideShort, 10, 7, 3) != 9 {
		t.Fatal("short pnl sign")
	}
}

func TestCheckSeries(t *testing.T) {
	bars := RisingBars(5)
	if err := CheckSeries(bars); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bars[3].Timestamp = bars[2].Timestamp
	if err := CheckSeries(bars); err == nil {
		t.Fatal("expected duplicate timestamp error")
	}
	bars = RisingBars(5)
	bars[1].Low = 0
	if err := CheckSeries(bars); err == nil {
		t.Fatal("expected price error")
	}
}

func TestDescribeSeries(t *testing.T) {
	bars := RisingBars(6)
	bars = append(bars[:3], bars[4:]...)
	st := DescribeSeries(bars)
	if st.Cadence != time.Hour || st.Gaps != 1 || st.Bars != 5 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if gaps := DetectGaps(bars, time.Hour); len(gaps) != 1 || gaps[0] != 3 {
		t.Fatalf("unexpected gaps %v", gaps)
	}
}

func TestDataChecksumIsStable(t *testing.T) {
	a, b := RisingBars(20), RisingBars(20)
	if DataChecksum(a) != DataChecksum(b) {
		t.Fatal("identical input must hash identically")
	}
	b[7].Close += 1e-9
	if DataChecksum(a) == DataChecksum(b) {
		t.Fatal("checksum must change with the data")
	}
}

func TestManifestHashIgnoresRunID(t *testing.T) {
	params := map[string]int{"channel_length": 20}
	m1, err := NewManifest("BTC", "donchian", params, 1, RisingBars(3))
	if err != nil {
		t.Fatal(err)
	}
	m2, _ := NewManifest("BTC", "donchian", params, 1, RisingBars(3))
	if m1.RunID == m2.RunID {
		t.Fatal("run ids must differ")
	}
	if m1.CacheKey() != m2.CacheKey() {
		t.Fatal("cache keys must match for identical inputs")
	}
	m3, _ := NewManifest("BTC", "donchian", params, 2, RisingBars(3))
	if m3.ConfigHash == m1.ConfigHash {
		t.Fatal("size must be part of the config hash")
	}
}
