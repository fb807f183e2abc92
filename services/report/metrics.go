package report

import (
	"encoding/json"
	"math"
)

// Metrics is the serialized form of a Summary. Undefined values are null.
type Metrics struct {
	Trades       int      `json:"trades"`
	WinRate      float64  `json:"win_rate"`
	ProfitFactor float64  `json:"profit_factor"`
	ExpectancyR  *float64 `json:"expectancy_R"`
	MaxDrawdownR float64  `json:"max_drawdown_R"`
	Sharpe       *float64 `json:"sharpe"`
}

func (s Summary) Metrics() Metrics {
	return Metrics{
		Trades:       s.Trades,
		WinRate:      s.WinRate,
		ProfitFactor: s.ProfitFactor,
		ExpectancyR:  Nullable(s.ExpectancyR),
		MaxDrawdownR: s.MaxDrawdownR,
		Sharpe:       Nullable(s.Sharpe),
	}
}

// Nullable maps NaN and infinities to nil.
func Nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// WithMeta flattens the metrics into a map and merges meta over it. Keys in
// meta win on conflict.
func (m Metrics) WithMeta(meta map[string]any) (map[string]any, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	for k, v := range meta {
		out[k] = v
	}
	return out, nil
}
