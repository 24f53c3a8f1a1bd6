package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Checks      *prometheus.CounterVec
	Rejections  *prometheus.CounterVec
	StoreErrors prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Checks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "privacyhub_ratelimit_checks_total",
			Help: "Total number of throttle checks by key scope",
		}, []string{"scope"}),
		Rejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "privacyhub_ratelimit_rejections_total",
			Help: "Total number of submissions rejected by the throttle, by key scope",
		}, []string{"scope"}),
		StoreErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "privacyhub_ratelimit_store_errors_total",
			Help: "Total number of throttle checks that failed open because the bucket store errored",
		}),
	}
}

func (m *Metrics) IncCheck(scope string) {
	m.Checks.WithLabelValues(scope).Inc()
}

func (m *Metrics) IncRejection(scope string) {
	m.Rejections.WithLabelValues(scope).Inc()
}

func (m *Metrics) IncStoreError() {
	m.StoreErrors.Inc()
}
