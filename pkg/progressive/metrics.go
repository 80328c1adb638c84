package progressive

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the session counters. A nil *Metrics records nothing.
type Metrics struct {
	SessionsStarted prometheus.Counter
	ActiveSessions  prometheus.Gauge
	ChunksAppended  prometheus.Counter
	BytesAppended   prometheus.Counter
	Fallbacks       *prometheus.CounterVec
	Teardowns       *prometheus.CounterVec
	Failures        prometheus.Counter
}

// NewMetrics creates the session metrics and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of playback sessions started.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of playback sessions currently bound to the sink.",
		}),
		ChunksAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_appended_total",
			Help:      "Total number of chunks appended to playback buffers.",
		}),
		BytesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_appended_total",
			Help:      "Total number of bytes appended to playback buffers.",
		}),
		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Total number of switches to direct playback, by reason.",
		}, []string{"reason"}),
		Teardowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "teardowns_total",
			Help:      "Total number of sessions torn down, by the state they were in.",
		}, []string{"state"}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "total_failures_total",
			Help:      "Total number of sessions with no usable playback path.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.SessionsStarted,
			m.ActiveSessions,
			m.ChunksAppended,
			m.BytesAppended,
			m.Fallbacks,
			m.Teardowns,
			m.Failures,
		)
	}

	return m
}

func (m *Metrics) appended(n int) {
	if m == nil {
		return
	}
	m.ChunksAppended.Inc()
	m.BytesAppended.Add(float64(n))
}

func (m *Metrics) started() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

func (m *Metrics) tornDown(state string) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.Teardowns.WithLabelValues(state).Inc()
}

func (m *Metrics) fellBack(reason string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) failed() {
	if m == nil {
		return
	}
	m.Failures.Inc()
}
