package engine

import (
	"fmt"
	"math"
	"time"
)

// Bar represents a single OHLCV bar
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// SignaledBar is a Bar extended with the channel, volatility and signal
// columns derived by a Strategy. Bounds at index i only use bars < i.
type SignaledBar struct {
	Bar

	Upper  float64
	Lower  float64
	Basis  float64
	ATR    float64
	ATRPct float64
	VolOK  bool

	EntryLong  bool
	EntryShort bool
	ExitLong   bool
	ExitShort  bool

	RiskLong  float64
	RiskShort float64
}

// Strategy derives signals from a chronologically ordered series.
type Strategy interface {
	Name() string
	Generate(bars []Bar) ([]SignaledBar, error)
}

// CheckSeries verifies the preconditions the strategies and the simulator
// rely on: strictly increasing timestamps and positive, finite prices.
func CheckSeries(bars []Bar) error {
	for i, b := range bars {
		if !validPrice(b.Open) || !validPrice(b.High) || !validPrice(b.Low) || !validPrice(b.Close) {
			return fmt.Errorf("bar %d (%s): prices must be positive and finite", i, b.Timestamp.Format(time.RFC3339))
		}
		if math.IsNaN(b.Volume) || math.IsInf(b.Volume, 0) || b.Volume < 0 {
			return fmt.Errorf("bar %d (%s): volume must be finite and non-negative", i, b.Timestamp.Format(time.RFC3339))
		}
		if i > 0 && !b.Timestamp.After(bars[i-1].Timestamp) {
			return fmt.Errorf("bar %d (%s): timestamps must be strictly increasing", i, b.Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}

func validPrice(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
