// Package metrics exposes Prometheus collectors for the simulators.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "investmate"

// Metrics groups every collector the app reports.
type Metrics struct {
	alertsFired      *prometheus.CounterVec
	sideEffectErrors *prometheus.CounterVec
	sweepDuration    prometheus.Histogram
	chatMessages     *prometheus.CounterVec
	audioEmissions   *prometheus.CounterVec
	aiCalls          *prometheus.CounterVec
	paymentUnlocks   prometheus.Counter
}

// New registers the collectors with reg. Tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		alertsFired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "fired_total",
			Help:      "Scheduled alert occurrences fired, by alert type.",
		}, []string{"type"}),
		sideEffectErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "side_effect_errors_total",
			Help:      "Post or notification failures while firing alerts.",
		}, []string{"sink"}),
		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of one alert sweep.",
			Buckets:   prometheus.DefBuckets,
		}),
		chatMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "messages_total",
			Help:      "Chat messages delivered to listeners, by origin.",
		}, []string{"origin"}),
		audioEmissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audio",
			Name:      "emissions_total",
			Help:      "Audio level and transcript events emitted.",
		}, []string{"stream"}),
		aiCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "calls_total",
			Help:      "Generative-text calls by operation and outcome (ok|fallback|cached).",
		}, []string{"op", "outcome"}),
		paymentUnlocks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "unlocks_total",
			Help:      "Checkouts that reached the unlocked state.",
		}),
	}
}

func (m *Metrics) AlertFired(alertType string) {
	if m == nil {
		return
	}
	m.alertsFired.WithLabelValues(alertType).Inc()
}

func (m *Metrics) AlertSideEffectFailed(sink string) {
	if m == nil {
		return
	}
	m.sideEffectErrors.WithLabelValues(sink).Inc()
}

func (m *Metrics) ObserveSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
}

func (m *Metrics) ChatMessage(origin string) {
	if m == nil {
		return
	}
	m.chatMessages.WithLabelValues(origin).Inc()
}

func (m *Metrics) AudioEmission(stream string) {
	if m == nil {
		return
	}
	m.audioEmissions.WithLabelValues(stream).Inc()
}

func (m *Metrics) AICall(op, outcome string) {
	if m == nil {
		return
	}
	m.aiCalls.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) PaymentUnlocked() {
	if m == nil {
		return
	}
	m.paymentUnlocks.Inc()
}
