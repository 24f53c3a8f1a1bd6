package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// Metrics holds Prometheus collectors for the outbox worker.
type Metrics struct {
	PendingDepth    prometheus.Gauge
	Published       *prometheus.CounterVec
	PublishFailures prometheus.Counter
	Pruned          prometheus.Counter
	PublishDuration prometheus.Histogram
	BatchSize       prometheus.Histogram
	PollDuration    prometheus.Histogram
}

// New registers the collectors with the default registry. Call it once per process.
func New() *Metrics {
	return &Metrics{
		PendingDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "privacyhub_outbox_pending_total",
			Help: "Current number of unpublished outbox entries",
		}),
		Published: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "privacyhub_outbox_published_total",
			Help: "Outbox entries published to Kafka, labeled by event type",
		}, []string{"event_type"}),
		PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "privacyhub_outbox_publish_failures_total",
			Help: "Outbox fetch or publish failures",
		}),
		Pruned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "privacyhub_outbox_pruned_total",
			Help: "Published outbox entries removed by retention",
		}),
		PublishDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "privacyhub_outbox_publish_duration_seconds",
			Help:    "Time taken to publish one outbox entry",
			Buckets: latencyBuckets,
		}),
		BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "privacyhub_outbox_batch_size",
			Help:    "Entries processed per poll",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		PollDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "privacyhub_outbox_poll_duration_seconds",
			Help:    "Time taken for each poll cycle",
			Buckets: latencyBuckets,
		}),
	}
}

func (m *Metrics) SetPendingDepth(count int64) {
	m.PendingDepth.Set(float64(count))
}

func (m *Metrics) IncPublished(eventType string) {
	m.Published.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncPublishFailures() {
	m.PublishFailures.Inc()
}

func (m *Metrics) AddPruned(n int64) {
	m.Pruned.Add(float64(n))
}

func (m *Metrics) ObservePublishDuration(seconds float64) {
	m.PublishDuration.Observe(seconds)
}

func (m *Metrics) ObserveBatchSize(size int) {
	m.BatchSize.Observe(float64(size))
}

func (m *Metrics) ObservePollDuration(seconds float64) {
	m.PollDuration.Observe(seconds)
}
