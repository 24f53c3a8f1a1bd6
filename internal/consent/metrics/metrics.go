package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for consent operations.
type Metrics struct {
	Decisions           *prometheus.CounterVec
	LogEntries          *prometheus.CounterVec
	PersistenceFailures prometheus.Counter
	DecisionLatency     prometheus.Histogram
	Checks              *prometheus.CounterVec
	Emissions           *prometheus.CounterVec
	EmissionPanics      *prometheus.CounterVec
	CookieReports       prometheus.Counter
}

// New registers and returns consent metrics collectors.
func New() *Metrics {
	return &Metrics{
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "privacyhub_consent_decisions_total",
			Help: "Total number of consent decisions recorded, labeled by method",
		}, []string{"method"}),
		LogEntries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "privacyhub_consent_log_entries_total",
			Help: "Total number of consent log entries appended, labeled by action",
		}, []string{"action"}),
		PersistenceFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "privacyhub_consent_persistence_failures_total",
			Help: "Total number of consent decisions that failed to persist",
		}),
		DecisionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "privacyhub_consent_decision_latency_seconds",
			Help:    "Latency of consent decisions from validation to emission",
			Buckets: prometheus.DefBuckets,
		}),
		Checks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "privacyhub_consent_checks_total",
			Help: "Total number of consent checks, labeled by whether a record existed",
		}, []string{"found"}),
		Emissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "privacyhub_consent_signal_emissions_total",
			Help: "Total number of consent signal stage calls, labeled by stage",
		}, []string{"stage"}),
		EmissionPanics: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "privacyhub_consent_signal_failures_total",
			Help: "Total number of consent signal consumers that failed or panicked, labeled by stage",
		}, []string{"stage"}),
		CookieReports: promauto.NewCounter(prometheus.CounterOpts{
			Name: "privacyhub_cookie_reports_total",
			Help: "Total number of cookie inventory reports accepted",
		}),
	}
}

func (m *Metrics) IncDecision(method string) {
	m.Decisions.WithLabelValues(method).Inc()
}

func (m *Metrics) IncLogEntry(action string) {
	m.LogEntries.WithLabelValues(action).Inc()
}

func (m *Metrics) IncPersistenceFailure() {
	m.PersistenceFailures.Inc()
}

func (m *Metrics) ObserveDecisionLatency(seconds float64) {
	m.DecisionLatency.Observe(seconds)
}

func (m *Metrics) IncCheck(found bool) {
	if found {
		m.Checks.WithLabelValues("true").Inc()
		return
	}
	m.Checks.WithLabelValues("false").Inc()
}

func (m *Metrics) IncEmission(stage string) {
	m.Emissions.WithLabelValues(stage).Inc()
}

func (m *Metrics) IncEmissionFailure(stage string) {
	m.EmissionPanics.WithLabelValues(stage).Inc()
}

func (m *Metrics) IncCookieReport() {
	m.CookieReports.Inc()
}
