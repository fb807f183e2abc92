// Package monitoring builds the service logger and Prometheus metrics.
package monitoring

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a zap logger. format is "json" or "console".
func NewLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		cfg = zap.NewProductionConfig()
	case "console", "":
		cfg = zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// Metrics holds all Prometheus collectors of the backtester
type Metrics struct {
	Runs        *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec
	Bars        prometheus.Counter
	Trades      *prometheus.CounterVec
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	InFlight    prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtest_runs_total",
				Help: "Backtest runs by outcome",
			},
			[]string{"result"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backtest_run_duration_seconds",
				Help:    "Wall time of a single-series run by stage",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"stage"},
		),
		Bars: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_bars_processed_total",
			Help: "Bars fed through the signal generator",
		}),
		Trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtest_trades_total",
				Help: "Closed trades by side",
			},
			[]string{"side"},
		),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_cache_hits_total",
			Help: "Result cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_cache_misses_total",
			Help: "Result cache misses",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_runs_in_flight",
			Help: "Runs currently executing",
		}),
		gatherer: reg,
	}
	reg.MustRegister(m.Runs, m.RunDuration, m.Bars, m.Trades, m.CacheHits, m.CacheMisses, m.InFlight)
	reg.MustRegister(collectors.NewGoCollector())
	return m
}

// ObserveStage records the time since start under stage. Safe on nil.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.RunDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RunFinished counts a run outcome. Safe on nil.
func (m *Metrics) RunFinished(err error, bars int, longs, shorts int) {
	if m == nil {
		return
	}
	if err != nil {
		m.Runs.WithLabelValues("error").Inc()
		return
	}
	m.Runs.WithLabelValues("ok").Inc()
	m.Bars.Add(float64(bars))
	m.Trades.WithLabelValues("long").Add(float64(longs))
	m.Trades.WithLabelValues("short").Add(float64(shorts))
}

func (m *Metrics) InFlightAdd(delta float64) {
	if m == nil {
		return
	}
	m.InFlight.Add(delta)
}

// CacheResult counts a cache lookup. Safe on nil.
func (m *Metrics) CacheResult(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
