package observ

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what the reconciliation core does with store calls and
// feed events. It satisfies reconcile.Recorder and feed.Recorder.
type Metrics struct {
	events    *prometheus.CounterVec
	calls     *prometheus.CounterVec
	rollbacks *prometheus.CounterVec
	sessions  prometheus.Gauge
}

// NewMetrics registers the collectors on reg. Pass prometheus.DefaultRegisterer
// in the server and prometheus.NewRegistry() in tests so repeated
// construction doesn't panic on duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "viewify_feed_events_total",
			Help: "Change feed events by entity kind and merge outcome.",
		}, []string{"kind", "outcome"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "viewify_store_calls_total",
			Help: "Entity store calls by kind, operation and result.",
		}, []string{"kind", "op", "result"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "viewify_rollbacks_total",
			Help: "Optimistic changes undone after a failed store call.",
		}, []string{"kind", "op"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "viewify_sessions_active",
			Help: "Open user sessions.",
		}),
	}
	reg.MustRegister(m.events, m.calls, m.rollbacks, m.sessions)
	return m
}

func (m *Metrics) ObserveEvent(kind, outcome string) {
	m.events.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveStoreCall(kind, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.calls.WithLabelValues(kind, op, result).Inc()
}

func (m *Metrics) ObserveRollback(kind, op string) {
	m.rollbacks.WithLabelValues(kind, op).Inc()
}

func (m *Metrics) SessionOpened() { m.sessions.Inc() }
func (m *Metrics) SessionClosed() { m.sessions.Dec() }
