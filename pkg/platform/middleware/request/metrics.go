package request

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Duration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "privacyhub_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

func (m *Metrics) Observe(route, status string, seconds float64) {
	m.Duration.WithLabelValues(route, status).Observe(seconds)
}
