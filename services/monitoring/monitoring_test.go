package monitoring

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := NewLogger("debug", format)
		require.NoError(t, err, format)
		assert.NotNil(t, logger)
	}
	_, err := NewLogger("loud", "json")
	assert.Error(t, err)
	_, err = NewLogger("info", "xml")
	assert.Error(t, err)
}

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics()
	m.RunFinished(nil, 500, 2, 1)
	m.RunFinished(errors.New("boom"), 0, 0, 0)
	m.CacheResult(true)
	m.ObserveStage("simulate", time.Now())
	m.InFlightAdd(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `backtest_runs_total{result="ok"} 1`)
	assert.Contains(t, body, `backtest_runs_total{result="error"} 1`)
	assert.Contains(t, body, `backtest_trades_total{side="long"} 2`)
	assert.Contains(t, body, "backtest_bars_processed_total 500")
	assert.Contains(t, body, "backtest_cache_hits_total 1")
	assert.Contains(t, body, "backtest_runs_in_flight 1")
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RunFinished(nil, 1, 1, 1)
	m.CacheResult(false)
	m.ObserveStage("x", time.Now())
	m.InFlightAdd(1)
}
