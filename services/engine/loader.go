package engine

import (
	"sort"
	"time"
)

// Series diagnostics: cadence and gap detection. Gaps are reported, never
// repaired.

type SeriesStats struct {
	Bars    int
	First   time.Time
	Last    time.Time
	Cadence time.Duration // most common positive delta
	Gaps    int           // deltas larger than Cadence
}

// DescribeSeries inspects a sorted series.
func DescribeSeries(bars []Bar) SeriesStats {
	st := SeriesStats{Bars: len(bars)}
	if len(bars) == 0 {
		return st
	}
	st.First = bars[0].Timestamp
	st.Last = bars[len(bars)-1].Timestamp
	if len(bars) < 2 {
		return st
	}

	counts := make(map[time.Duration]int)
	for i := 1; i < len(bars); i++ {
		if d := bars[i].Timestamp.Sub(bars[i-1].Timestamp); d > 0 {
			counts[d]++
		}
	}
	deltas := make([]time.Duration, 0, len(counts))
	for d := range counts {
		deltas = append(deltas, d)
	}
	// ties resolve to the shorter delta so the result is deterministic
	sort.Slice(deltas, func(i, j int) bool { return deltas[i] < deltas[j] })
	best := -1
	for _, d := range deltas {
		if counts[d] > best {
			best = counts[d]
			st.Cadence = d
		}
	}
	st.Gaps = len(DetectGaps(bars, st.Cadence))
	return st
}

// DetectGaps returns the indices i where bars[i] follows bars[i-1] by more
// than the expected step.
func DetectGaps(bars []Bar, expected time.Duration) (gaps []int) {
	if expected <= 0 {
		return nil
	}
	for i := 1; i < len(bars); i++ {
		if bars[i].Timestamp.Sub(bars[i-1].Timestamp) > expected {
			gaps = append(gaps, i)
		}
	}
	return gaps
}
