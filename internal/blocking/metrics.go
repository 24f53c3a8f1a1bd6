package blocking

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the blocking engine.
type Metrics struct {
	Blocked       *prometheus.CounterVec
	Replayed      *prometheus.CounterVec
	ReplayErrors  *prometheus.CounterVec
	BrokenRules   prometheus.Counter
	QueuedEntries prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		Blocked: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "privacyhub_blocking_blocked_total",
			Help: "Total number of activities suppressed pending consent, labeled by category",
		}, []string{"category"}),
		Replayed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "privacyhub_blocking_replayed_total",
			Help: "Total number of queued activities released after consent, labeled by category",
		}, []string{"category"}),
		ReplayErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "privacyhub_blocking_replay_errors_total",
			Help: "Total number of replays the executor failed, labeled by category",
		}, []string{"category"}),
		BrokenRules: promauto.NewCounter(prometheus.CounterOpts{
			Name: "privacyhub_blocking_broken_rules_total",
			Help: "Total number of rule patterns that failed to compile as regex",
		}),
		QueuedEntries: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "privacyhub_blocking_queued_entries",
			Help: "Activities currently waiting in replay queues",
		}),
	}
}

func (m *Metrics) IncBlocked(category string) {
	m.Blocked.WithLabelValues(category).Inc()
}

func (m *Metrics) IncReplayed(category string) {
	m.Replayed.WithLabelValues(category).Inc()
}

func (m *Metrics) IncReplayError(category string) {
	m.ReplayErrors.WithLabelValues(category).Inc()
}

func (m *Metrics) IncBrokenRule() {
	m.BrokenRules.Inc()
}

func (m *Metrics) AddQueued(delta int) {
	m.QueuedEntries.Add(float64(delta))
}
