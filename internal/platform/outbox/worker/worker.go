package worker

import (
	"context"
	"log/slog"
	"time"

	"privacyhub/internal/platform/kafka/producer"
	"privacyhub/internal/platform/outbox"
	"privacyhub/internal/platform/outbox/metrics"
)

// Worker polls the outbox and publishes entries to Kafka. Delivery is at-least-once:
// an entry published but not marked is published again on the next poll, and consumers
// dedupe on the message key (the entry ID).
type Worker struct {
	store         outbox.Store
	publisher     producer.Publisher
	topic         string
	batchSize     int
	pollInterval  time.Duration
	retention     time.Duration
	pruneInterval time.Duration
	metrics       *metrics.Metrics
	logger        *slog.Logger
	now           func() time.Time
}

// Option configures the Worker.
type Option func(*Worker)

func WithTopic(topic string) Option {
	return func(w *Worker) {
		w.topic = topic
	}
}

// WithBatchSize sets the maximum number of entries fetched per poll.
func WithBatchSize(size int) Option {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// WithRetention deletes published entries older than d. Zero keeps them forever.
func WithRetention(d time.Duration) Option {
	return func(w *Worker) {
		w.retention = d
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func New(store outbox.Store, publisher producer.Publisher, opts ...Option) *Worker {
	w := &Worker{
		store:         store,
		publisher:     publisher,
		topic:         "privacyhub.events",
		batchSize:     100,
		pollInterval:  500 * time.Millisecond,
		pruneInterval: time.Hour,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until ctx is cancelled, then drains what is left with a bounded deadline.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	prune := time.NewTicker(w.pruneInterval)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return nil
		case <-ticker.C:
			w.PollOnce(ctx)
		case <-prune.C:
			w.Prune(ctx)
		}
	}
}

// PollOnce publishes one batch and returns how many entries were published.
func (w *Worker) PollOnce(ctx context.Context) int {
	start := time.Now()

	entries, err := w.store.FetchUnprocessed(ctx, w.batchSize)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to fetch outbox entries", "error", err)
		if w.metrics != nil {
			w.metrics.IncPublishFailures()
		}
		return 0
	}

	published := w.publishBatch(ctx, entries)

	if w.metrics != nil {
		if len(entries) > 0 {
			w.metrics.ObserveBatchSize(len(entries))
		}
		w.metrics.ObservePollDuration(time.Since(start).Seconds())
		if pending, err := w.store.CountPending(ctx); err == nil {
			w.metrics.SetPendingDepth(pending)
		}
	}
	return published
}

func (w *Worker) publishBatch(ctx context.Context, entries []*outbox.Entry) int {
	published := 0
	for _, entry := range entries {
		if err := w.publish(ctx, entry); err != nil {
			w.logger.ErrorContext(ctx, "failed to publish outbox entry",
				"id", entry.ID,
				"event_type", entry.EventType,
				"error", err,
			)
			if w.metrics != nil {
				w.metrics.IncPublishFailures()
			}
			continue
		}
		if err := w.store.MarkProcessed(ctx, entry.ID, w.now()); err != nil {
			w.logger.ErrorContext(ctx, "failed to mark outbox entry processed",
				"id", entry.ID,
				"error", err,
			)
			continue
		}
		published++
		if w.metrics != nil {
			w.metrics.IncPublished(entry.EventType)
		}
	}
	return published
}

func (w *Worker) publish(ctx context.Context, entry *outbox.Entry) error {
	start := time.Now()
	err := w.publisher.Produce(ctx, &producer.Message{
		Topic: w.topic,
		Key:   []byte(entry.ID.String()),
		Value: entry.Payload,
		Headers: map[string]string{
			"aggregate_type": entry.AggregateType,
			"aggregate_id":   entry.AggregateID,
			"event_type":     entry.EventType,
		},
	})
	if err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.ObservePublishDuration(time.Since(start).Seconds())
	}
	return nil
}

// drain publishes remaining entries during shutdown. It stops at the first batch that
// makes no progress so a broker outage cannot hold shutdown open.
func (w *Worker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	w.logger.Info("draining outbox worker")
	for ctx.Err() == nil {
		entries, err := w.store.FetchUnprocessed(ctx, w.batchSize)
		if err != nil {
			w.logger.Error("failed to fetch entries during drain", "error", err)
			return
		}
		if len(entries) == 0 || w.publishBatch(ctx, entries) == 0 {
			return
		}
	}
}

// Prune applies the retention window.
func (w *Worker) Prune(ctx context.Context) {
	if w.retention <= 0 {
		return
	}
	n, err := w.store.DeleteProcessedBefore(ctx, w.now().Add(-w.retention))
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to prune outbox", "error", err)
		return
	}
	if n > 0 {
		w.logger.InfoContext(ctx, "pruned published outbox entries", "count", n)
		if w.metrics != nil {
			w.metrics.AddPruned(n)
		}
	}
}
