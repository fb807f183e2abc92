package strategies

import (
	"fmt"
	"math"
	"strings"

	"channel-backtest/services/engine"
)

// TriggerMode selects how a close is compared against the channel bounds.
type TriggerMode string

const (
	TriggerCross       TriggerMode = "cross"
	TriggerCloseBeyond TriggerMode = "close_beyond"
)

// ParseTriggerMode accepts the mode names case-insensitively.
func ParseTriggerMode(s string) (TriggerMode, error) {
	switch TriggerMode(strings.ToLower(strings.TrimSpace(s))) {
	case TriggerCross:
		return TriggerCross, nil
	case TriggerCloseBeyond:
		return TriggerCloseBeyond, nil
	}
	return "", engine.Invalid("trigger_mode", "unknown trigger mode %q (want cross or close_beyond)", s)
}

// DonchianParams configures the channel breakout.
type DonchianParams struct {
	ChannelLength    int         `json:"channel_length" yaml:"channel_length"`
	VolatilityLength int         `json:"volatility_length" yaml:"volatility_length"`
	MinVolatilityPct float64     `json:"min_volatility_pct" yaml:"min_volatility_pct"`
	Trigger          TriggerMode `json:"trigger_mode" yaml:"trigger_mode"`
}

func DefaultDonchianParams() DonchianParams {
	return DonchianParams{
		ChannelLength:    20,
		VolatilityLength: 14,
		MinVolatilityPct: 0,
		Trigger:          TriggerCross,
	}
}

func (p DonchianParams) Validate() error {
	if p.ChannelLength < 1 {
		return engine.Invalid("channel_length", "must be positive, got %d", p.ChannelLength)
	}
	if p.VolatilityLength < 1 {
		return engine.Invalid("volatility_length", "must be positive, got %d", p.VolatilityLength)
	}
	if math.IsNaN(p.MinVolatilityPct) || math.IsInf(p.MinVolatilityPct, 0) || p.MinVolatilityPct < 0 {
		return engine.Invalid("min_volatility_pct", "must be a finite number >= 0, got %v", p.MinVolatilityPct)
	}
	if _, err := ParseTriggerMode(string(p.Trigger)); err != nil {
		return err
	}
	return nil
}

// Donchian is the channel breakout: enter on a break of the prior N-bar
// high/low, exit when price falls back through the band it broke or when
// the opposite entry fires.
type Donchian struct {
	params DonchianParams
}

// NewDonchian validates params up front so Generate never sees a bad config.
func NewDonchian(p DonchianParams) (*Donchian, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.Trigger, _ = ParseTriggerMode(string(p.Trigger))
	return &Donchian{params: p}, nil
}

func (d *Donchian) Name() string { return string(KindDonchian) }

func (d *Donchian) Params() DonchianParams { return d.params }

// Generate derives one SignaledBar per input bar. The input must already be
// sorted; the bars themselves are copied, never modified.
func (d *Donchian) Generate(bars []engine.Bar) ([]engine.SignaledBar, error) {
	n := len(bars)
	out := make([]engine.SignaledBar, n)
	if n == 0 {
		return out, nil
	}

	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i, b := range bars {
		highs[i], lows[i], closes[i] = b.High, b.Low, b.Close
	}

	upper := engine.ShiftForward(engine.RollingMax(highs, d.params.ChannelLength))
	lower := engine.ShiftForward(engine.RollingMin(lows, d.params.ChannelLength))
	atr := engine.RollingMean(engine.TrueRange(bars), d.params.VolatilityLength)

	for i, b := range bars {
		sb := engine.SignaledBar{
			Bar:   b,
			Upper: upper[i],
			Lower: lower[i],
			Basis: (upper[i] + lower[i]) / 2,
			ATR:   atr[i],
		}
		sb.ATRPct = atr[i] / b.Close * 100
		// NaN compares false, which is the intended "filter fails"
		sb.VolOK = sb.ATRPct >= d.params.MinVolatilityPct

		var longTrig, shortTrig bool
		switch d.params.Trigger {
		case TriggerCloseBeyond:
			longTrig = b.Close > upper[i]
			shortTrig = b.Close < lower[i]
		default:
			longTrig = engine.CrossUp(closes, upper, i)
			shortTrig = engine.CrossDown(closes, lower, i)
		}

		sb.EntryLong = sb.VolOK && longTrig
		sb.EntryShort = sb.VolOK && shortTrig
		sb.ExitLong = engine.CrossDown(closes, upper, i) || sb.EntryShort
		sb.ExitShort = engine.CrossUp(closes, lower, i) || sb.EntryLong

		sb.RiskLong = math.Abs(b.Close - lower[i])
		sb.RiskShort = math.Abs(upper[i] - b.Close)
		out[i] = sb
	}
	return out, nil
}

func (p DonchianParams) String() string {
	return fmt.Sprintf("donchian(len=%d atr=%d min_atr_pct=%g trigger=%s)",
		p.ChannelLength, p.VolatilityLength, p.MinVolatilityPct, p.Trigger)
}
