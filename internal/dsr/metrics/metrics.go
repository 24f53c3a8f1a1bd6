package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the data subject request lifecycle.
type Metrics struct {
	Submissions         *prometheus.CounterVec
	Transitions         *prometheus.CounterVec
	Verifications       *prometheus.CounterVec
	StatusLookups       *prometheus.CounterVec
	MailFailures        prometheus.Counter
	PersistenceFailures prometheus.Counter
	Overdue             prometheus.Gauge
	SubmitLatency       prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Submissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "privacyhub_dsr_submissions_total",
			Help: "Total number of accepted data subject requests, labeled by type and regulation",
		}, []string{"request_type", "regulation"}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "privacyhub_dsr_transitions_total",
			Help: "Total number of lifecycle transitions, labeled by target status",
		}, []string{"to"}),
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "privacyhub_dsr_verifications_total",
			Help: "Total number of verification attempts, labeled by outcome",
		}, []string{"outcome"}),
		StatusLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "privacyhub_dsr_status_lookups_total",
			Help: "Total number of status lookups, labeled by whether the token resolved",
		}, []string{"found"}),
		MailFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "privacyhub_dsr_mail_failures_total",
			Help: "Total number of verification emails that could not be handed off",
		}),
		PersistenceFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "privacyhub_dsr_persistence_failures_total",
			Help: "Total number of request writes that failed to persist",
		}),
		Overdue: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "privacyhub_dsr_overdue_requests",
			Help: "Open requests past their due date at the last sweep",
		}),
		SubmitLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "privacyhub_dsr_submit_latency_seconds",
			Help:    "Latency of request submission including token issuance and mail hand-off",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) IncSubmission(requestType, regulation string) {
	m.Submissions.WithLabelValues(requestType, regulation).Inc()
}

func (m *Metrics) IncTransition(to string) {
	m.Transitions.WithLabelValues(to).Inc()
}

// IncVerification records a verification attempt; outcome is "verified" or "invalid".
func (m *Metrics) IncVerification(outcome string) {
	m.Verifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncStatusLookup(found bool) {
	if found {
		m.StatusLookups.WithLabelValues("true").Inc()
		return
	}
	m.StatusLookups.WithLabelValues("false").Inc()
}

func (m *Metrics) IncMailFailure() {
	m.MailFailures.Inc()
}

func (m *Metrics) IncPersistenceFailure() {
	m.PersistenceFailures.Inc()
}

func (m *Metrics) SetOverdue(n int) {
	m.Overdue.Set(float64(n))
}

func (m *Metrics) ObserveSubmitLatency(seconds float64) {
	m.SubmitLatency.Observe(seconds)
}
