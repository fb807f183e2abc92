package api

import (
	"bytes"
	"encoding/json"
	"time"

	"channel-backtest/services/backtest"
	"channel-backtest/services/engine"
	"channel-backtest/services/ledger"
	"channel-backtest/services/marketdata"
	"channel-backtest/services/report"
	"channel-backtest/strategies"
)

// Timestamp accepts epoch numbers or any layout marketdata understands.
type Timestamp time.Time

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(bytes.TrimSpace(b), `"`))
	v, err := marketdata.ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = Timestamp(v)
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC())
}

type Bar struct {
	Timestamp Timestamp `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// BacktestRequest carries the bars inline or names a file under the
// server's data directory. Omitted parameters keep the server defaults.
type BacktestRequest struct {
	Symbol       string                    `json:"symbol"`
	Bars         []Bar                     `json:"bars,omitempty"`
	Path         string                    `json:"path,omitempty"`
	Strategy     strategies.Kind           `json:"strategy"`
	Params       strategies.DonchianParams `json:"params"`
	PositionSize float64                   `json:"position_size"`
}

func (r BacktestRequest) StrategyConfig() strategies.Config {
	return strategies.Config{Kind: r.Strategy, Donchian: r.Params}
}

// EngineBars applies the row policy of file input to the inline bars.
func (r BacktestRequest) EngineBars() []engine.Bar {
	bars := make([]engine.Bar, 0, len(r.Bars))
	for _, b := range r.Bars {
		bars = append(bars, engine.Bar{
			Timestamp: time.Time(b.Timestamp).UTC(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}
	bars, _ = marketdata.Clean(bars)
	return bars
}

type EquityPoint struct {
	Time  time.Time `json:"time"`
	Value *float64  `json:"value"`
}

func equityPoints(points []report.Point) []EquityPoint {
	out := make([]EquityPoint, len(points))
	for i, p := range points {
		out[i] = EquityPoint{Time: p.Time.UTC(), Value: report.Nullable(p.Value)}
	}
	return out
}

type BacktestResponse struct {
	JobID    string               `json:"job_id"`
	Status   string               `json:"status"`
	Symbol   string               `json:"symbol"`
	Cached   bool                 `json:"cached"`
	Manifest *engine.RunManifest  `json:"manifest"`
	Metrics  report.Metrics       `json:"metrics"`
	Trades   []ledger.TradeRecord `json:"trades"`
	Equity   []EquityPoint        `json:"equity"`
	Drawdown []EquityPoint        `json:"drawdown"`
}

const StatusCompleted = "completed"

func newResponse(jobID string, res *backtest.Result) *BacktestResponse {
	return &BacktestResponse{
		JobID:    jobID,
		Status:   StatusCompleted,
		Symbol:   res.Symbol,
		Cached:   res.Cached,
		Manifest: res.Manifest,
		Metrics:  res.Summary.Metrics(),
		Trades:   ledger.ToRecords(res.Trades),
		Equity:   equityPoints(res.Summary.Equity),
		Drawdown: equityPoints(res.Summary.Drawdown),
	}
}
