package engine

import "math"

// Single-position simulator. Signals raised on bar i fill at the open of
// bar i+1; an exit consumes the bar so no re-entry happens on the same bar.

type PositionSide int

const (
	SideFlat PositionSide = iota
	SideLong
	SideShort
)

func (s PositionSide) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return "flat"
	}
}

type PositionState struct {
	Side       PositionSide
	EntryIndex int
	EntryPrice float64
	RiskPrice  float64
}

type SimConfig struct {
	Size float64
}

type Simulator struct {
	cfg SimConfig
	log *EventLog
}

// NewSimulator builds a simulator; log may be nil.
func NewSimulator(cfg SimConfig, log *EventLog) *Simulator { return &Simulator{cfg: cfg, log: log} }

// Simulate runs the simulator without an event log.
func Simulate(bars []SignaledBar, size float64) []Trade {
	return NewSimulator(SimConfig{Size: size}, nil).Run(bars)
}

// Run walks bars 1..N-2 and returns the closed trades in exit order. A
// position still open on the last bar is dropped.
func (s *Simulator) Run(bars []SignaledBar) []Trade {
	trades := make([]Trade, 0)
	pos := PositionState{Side: SideFlat}
	for i := 1; i < len(bars)-1; i++ {
		if t, closed := s.Step(bars, i, &pos); closed {
			trades = append(trades, t)
		}
	}
	return trades
}

// Step evaluates bar i against the current position. It performs at most
// one transition and reports the trade when a position was closed.
func (s *Simulator) Step(bars []SignaledBar, i int, pos *PositionState) (Trade, bool) {
	row := bars[i]
	fill := bars[i+1]

	switch pos.Side {
	case SideLong:
		if row.ExitLong {
			return s.close(bars, i, pos, TradeSideLong), true
		}
		return Trade{}, false
	case SideShort:
		if row.ExitShort {
			return s.close(bars, i, pos, TradeSideShort), true
		}
		return Trade{}, false
	}

	switch {
	case row.EntryLong:
		*pos = PositionState{Side: SideLong, EntryIndex: i + 1, EntryPrice: fill.Open, RiskPrice: entryRisk(row.RiskLong, row.ATR)}
		s.log.Append(Event{Ts: fill.Timestamp, Type: EventEntryFill, Side: TradeSideLong, SignalIndex: i, FillIndex: i + 1, Price: fill.Open})
	case row.EntryShort:
		*pos = PositionState{Side: SideShort, EntryIndex: i + 1, EntryPrice: fill.Open, RiskPrice: entryRisk(row.RiskShort, row.ATR)}
		s.log.Append(Event{Ts: fill.Timestamp, Type: EventEntryFill, Side: TradeSideShort, SignalIndex: i, FillIndex: i + 1, Price: fill.Open})
	}
	return Trade{}, false
}

func (s *Simulator) close(bars []SignaledBar, i int, pos *PositionState, side TradeSide) Trade {
	fill := bars[i+1]
	t := NewTrade(side, bars[pos.EntryIndex].Timestamp, fill.Timestamp, pos.EntryPrice, fill.Open, s.cfg.Size, pos.RiskPrice)
	s.log.Append(Event{Ts: fill.Timestamp, Type: EventExitFill, Side: side, SignalIndex: i, FillIndex: i + 1, Price: fill.Open})
	*pos = PositionState{Side: SideFlat}
	return t
}

// entryRisk prefers the band distance and falls back to the ATR. The result
// is NaN when neither is defined.
func entryRisk(band, atr float64) float64 {
	if !math.IsNaN(band) && !math.IsInf(band, 0) && band > 0 {
		return band
	}
	if math.IsNaN(atr) {
		return math.NaN()
	}
	return math.Max(atr, 0)
}
