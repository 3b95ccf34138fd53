package observ

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	l, err := NewLogger("development", "not-a-level")
	assert.Equal(t, nil, err)
	assert.Equal(t, true, l.Core().Enabled(0))
	assert.Equal(t, false, l.Core().Enabled(-1))
}

func TestOrNop(t *testing.T) {
	assert.NotEqual(t, nil, OrNop(nil))
}

func TestMetricsCount(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveEvent("comment", "duplicate")
	m.ObserveEvent("comment", "duplicate")
	m.ObserveStoreCall("message", "create", nil)
	m.ObserveStoreCall("message", "create", errors.New("boom"))
	m.ObserveRollback("comment", "update")
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.events.WithLabelValues("comment", "duplicate")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.calls.WithLabelValues("message", "create", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.calls.WithLabelValues("message", "create", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.rollbacks.WithLabelValues("comment", "update")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.sessions))
}
