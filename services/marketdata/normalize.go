package marketdata

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"channel-backtest/services/engine"
)

// Normalize sorts bars by timestamp and drops repeated timestamps, keeping
// the first occurrence in input order. It returns the number dropped.
func Normalize(bars []engine.Bar) ([]engine.Bar, int) {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	out := bars[:0]
	dups := 0
	for i, b := range bars {
		if i > 0 && b.Timestamp.Equal(out[len(out)-1].Timestamp) {
			dups++
			continue
		}
		out = append(out, b)
	}
	return out, dups
}

// Clean applies the file loaders' row policy to bars from any other
// source: invalid prices are dropped, then the rest normalized.
func Clean(bars []engine.Bar) ([]engine.Bar, LoadStats) {
	st := LoadStats{Rows: len(bars)}
	valid := make([]engine.Bar, 0, len(bars))
	for _, b := range bars {
		if !ValidBar(b) {
			st.BadPrices++
			continue
		}
		valid = append(valid, b)
	}
	valid, st.Duplicates = Normalize(valid)
	return valid, st
}

// ParseCadence accepts "15m", "15min", "1h", "1d", a plain number of minutes,
// or anything time.ParseDuration understands.
func ParseCadence(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	var d time.Duration
	switch {
	case strings.HasSuffix(s, "min"):
		n, err := strconv.Atoi(strings.TrimSuffix(s, "min"))
		if err != nil {
			return 0, fmt.Errorf("unsupported cadence: %s", s)
		}
		d = time.Duration(n) * time.Minute
	case strings.HasSuffix(s, "d"):
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, fmt.Errorf("unsupported cadence: %s", s)
		}
		d = time.Duration(n) * 24 * time.Hour
	default:
		if n, err := strconv.Atoi(s); err == nil {
			d = time.Duration(n) * time.Minute
			break
		}
		var err error
		if d, err = time.ParseDuration(s); err != nil {
			return 0, fmt.Errorf("unsupported cadence: %s", s)
		}
	}
	if d <= 0 {
		return 0, fmt.Errorf("cadence must be positive: %s", s)
	}
	return d, nil
}

// Resample aggregates sorted bars into buckets of width dst aligned to the
// Unix epoch in UTC. Open is the first open, close the last close, volume
// the sum.
func Resample(bars []engine.Bar, dst time.Duration) []engine.Bar {
	out := make([]engine.Bar, 0, len(bars))
	var cur *engine.Bar
	for _, b := range bars {
		bucket := epochFloor(b.Timestamp, dst)
		if cur == nil || !bucket.Equal(cur.Timestamp) {
			out = append(out, engine.Bar{Timestamp: bucket, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume})
			cur = &out[len(out)-1]
			continue
		}
		if b.High > cur.High {
			cur.High = b.High
		}
		if b.Low < cur.Low {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume += b.Volume
	}
	return out
}

func epochFloor(t time.Time, d time.Duration) time.Time {
	n := t.UnixNano()
	step := int64(d)
	floor := n / step * step
	if n < 0 && n%step != 0 {
		floor -= step
	}
	return time.Unix(0, floor).UTC()
}
