//go:build integration

package producer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"privacyhub/internal/platform/config"
	"privacyhub/internal/platform/kafka/producer"
	"privacyhub/pkg/testutil/containers"
)

type ProducerIntegrationSuite struct {
	suite.Suite
	kafka    *containers.KafkaContainer
	producer *producer.Producer
}

func TestProducerIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(ProducerIntegrationSuite))
}

func (s *ProducerIntegrationSuite) SetupSuite() {
	s.kafka = containers.Kafka(s.T())
	prod, err := producer.New(s.config("all"), nil)
	s.Require().NoError(err)
	s.producer = prod
}

func (s *ProducerIntegrationSuite) TearDownSuite() {
	if s.producer != nil {
		_ = s.producer.Close()
	}
}

func (s *ProducerIntegrationSuite) config(acks string) config.Kafka {
	return config.Kafka{
		Brokers:         s.kafka.Brokers,
		Acks:            acks,
		Retries:         3,
		DeliveryTimeout: 10 * time.Second,
	}
}

// Produce returns only after the broker has the record.
func (s *ProducerIntegrationSuite) TestProduceIsReadableAfterReturn() {
	ctx := context.Background()
	topic := "privacyhub.it.consent"
	s.Require().NoError(s.kafka.EnsureTopics(ctx, topic))

	s.Require().NoError(s.producer.Produce(ctx, &producer.Message{
		Topic: topic,
		Key:   []byte("session:abc"),
		Value: []byte(`{"event":"consent_update"}`),
		Headers: map[string]string{
			"event_type": "consent.updated",
		},
	}))

	record, err := s.kafka.Await(ctx, topic, "session:abc", 5*time.Second)
	s.Require().NoError(err)
	s.JSONEq(`{"event":"consent_update"}`, string(record.Value))
	s.Equal("consent.updated", containers.Headers(record)["event_type"])
}

func (s *ProducerIntegrationSuite) TestProduceAsyncEventuallyDelivers() {
	ctx := context.Background()
	topic := "privacyhub.it.mail"
	s.Require().NoError(s.kafka.EnsureTopics(ctx, topic))

	s.Require().NoError(s.producer.ProduceAsync(&producer.Message{
		Topic: topic,
		Key:   []byte("req-1"),
		Value: []byte("queued"),
	}))

	record, err := s.kafka.Await(ctx, topic, "req-1", 10*time.Second)
	s.Require().NoError(err)
	s.Equal("queued", string(record.Value))
}

func (s *ProducerIntegrationSuite) TestEnsureTopicsIsIdempotent() {
	ctx := context.Background()
	s.Require().NoError(s.kafka.EnsureTopics(ctx, "privacyhub.it.twice"))
	s.NoError(s.kafka.EnsureTopics(ctx, "privacyhub.it.twice"))
}

func (s *ProducerIntegrationSuite) TestClosedProducerRefusesWork() {
	prod, err := producer.New(s.config("1"), nil)
	s.Require().NoError(err)
	s.Require().NoError(prod.Close())

	err = prod.Produce(context.Background(), &producer.Message{Topic: "privacyhub.it.closed", Value: []byte("x")})
	s.ErrorIs(err, producer.ErrClosed)
	s.False(prod.Healthy(context.Background()))
}

func (s *ProducerIntegrationSuite) TestHealthyAgainstLiveBroker() {
	s.True(s.producer.Healthy(context.Background()))
}
