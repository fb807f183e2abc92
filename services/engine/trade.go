package engine

import (
	"math"
	"time"
)

// TradeSide is the direction of a closed trade.
type TradeSide string

const (
	TradeSideLong  TradeSide = "long"
	TradeSideShort TradeSide = "short"
)

// Trade is a closed round trip. Trades exist only once their exit has
// filled and are never modified afterwards.
type Trade struct {
	Side       TradeSide
	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice float64
	ExitPrice  float64
	Size       float64
	RiskPrice  float64 // distance in price units used for R
	PnlAbs     float64
	PnlR       float64
	Symbol     string
}

// NewTrade fills in the derived P&L fields.
func NewTrade(side TradeSide, entryTime, exitTime time.Time, entryPrice, exitPrice, size, risk float64) Trade {
	t := Trade{
		Side:       side,
		EntryTime:  entryTime,
		ExitTime:   exitTime,
		EntryPrice: entryPrice,
		ExitPrice:  exitPrice,
		Size:       size,
		RiskPrice:  risk,
	}
	t.PnlAbs = PnlAbs(side, entryPrice, exitPrice, size)
	t.PnlR = PnlR(t.PnlAbs, risk, size)
	return t
}

// PnlAbs is the realized profit in price units times size.
func PnlAbs(side TradeSide, entry, exit, size float64) float64 {
	sign := 1.0
	if side == TradeSideShort {
		sign = -1.0
	}
	return (exit - entry) * sign * size
}

// PnlR normalizes pnl by the risk taken; NaN when the risk is not positive.
func PnlR(pnlAbs, risk, size float64) float64 {
	if math.IsNaN(risk) || risk <= 0 {
		return math.NaN()
	}
	return pnlAbs / (risk * size)
}
