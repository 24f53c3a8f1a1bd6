package kafka

import (
	"log/slog"

	"privacyhub/internal/platform/config"
	"privacyhub/internal/platform/kafka/producer"
)

// NewPublisher returns a real producer when brokers are configured and a
// NoopProducer otherwise.
func NewPublisher(cfg config.Kafka, logger *slog.Logger) (producer.Publisher, error) {
	if cfg.Brokers == "" {
		if logger != nil {
			logger.Warn("kafka brokers not configured; events will be discarded")
		}
		return producer.NewNoopProducer(), nil
	}
	return producer.New(cfg, logger)
}
