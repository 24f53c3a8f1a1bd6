package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"privacyhub/internal/platform/config"
	"privacyhub/internal/platform/kafka/producer"
)

func TestNewPublisherWithoutBrokers(t *testing.T) {
	pub, err := NewPublisher(config.Kafka{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &producer.NoopProducer{}, pub)
}
