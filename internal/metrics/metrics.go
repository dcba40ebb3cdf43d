// Package metrics exposes daemon counters on a dedicated registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the daemon's instrumentation. A nil *Metrics is a
// no-op so collaborators can be constructed without one in tests.
type Metrics struct {
	registry *prometheus.Registry

	sessionsStarted   prometheus.Counter
	sessionsCompleted prometheus.Counter
	sessionsFailed    prometheus.Counter
	sequencesParsed   prometheus.Counter
	classifyAttempts  prometheus.Counter
	eventsSent        *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		sessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "seqscope_sessions_started_total",
			Help: "Analysis sessions opened over the streaming channel.",
		}),
		sessionsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "seqscope_sessions_completed_total",
			Help: "Analysis sessions that reached the complete event.",
		}),
		sessionsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "seqscope_sessions_failed_total",
			Help: "Analysis sessions terminated by an error event.",
		}),
		sequencesParsed: factory.NewCounter(prometheus.CounterOpts{
			Name: "seqscope_sequences_parsed_total",
			Help: "Sequence records parsed out of uploaded artifacts.",
		}),
		classifyAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "seqscope_classify_attempts_total",
			Help: "Attempts made against the classification service, retries included.",
		}),
		eventsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "seqscope_channel_events_sent_total",
			Help: "Channel events delivered to clients, by event type.",
		}, []string{"type"}),
	}
}

// Handler serves the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionStarted() {
	if m != nil {
		m.sessionsStarted.Inc()
	}
}

func (m *Metrics) SessionCompleted() {
	if m != nil {
		m.sessionsCompleted.Inc()
	}
}

func (m *Metrics) SessionFailed() {
	if m != nil {
		m.sessionsFailed.Inc()
	}
}

func (m *Metrics) SequencesParsed(n int) {
	if m != nil && n > 0 {
		m.sequencesParsed.Add(float64(n))
	}
}

func (m *Metrics) ClassifyAttempt() {
	if m != nil {
		m.classifyAttempts.Inc()
	}
}

func (m *Metrics) EventSent(eventType string) {
	if m != nil {
		m.eventsSent.WithLabelValues(eventType).Inc()
	}
}
