package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"privacyhub/internal/consent/models"
	"privacyhub/internal/platform/kafka/producer"
)

// ErrSinkOpen is returned while the breaker is rejecting publishes.
var ErrSinkOpen = errors.New("consent sink circuit open")

const consentUpdateEvent = "consent_update"

// KafkaSink publishes dataLayer-style consent_update messages keyed by subject.
// A gobreaker circuit stops it from waiting on a broker that keeps failing.
type KafkaSink struct {
	publisher producer.Publisher
	topic     string
	timeout   time.Duration
	cb        *gobreaker.CircuitBreaker[struct{}]
	logger    *slog.Logger
	now       func() time.Time
}

// SinkOption configures a KafkaSink.
type SinkOption func(*sinkConfig)

type sinkConfig struct {
	maxFailures uint32
	openTimeout time.Duration
	timeout     time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// WithMaxFailures sets how many consecutive failures open the circuit.
func WithMaxFailures(n uint32) SinkOption {
	return func(c *sinkConfig) {
		if n > 0 {
			c.maxFailures = n
		}
	}
}

// WithOpenTimeout sets how long the circuit stays open before a trial publish.
func WithOpenTimeout(d time.Duration) SinkOption {
	return func(c *sinkConfig) {
		if d > 0 {
			c.openTimeout = d
		}
	}
}

func WithPublishTimeout(d time.Duration) SinkOption {
	return func(c *sinkConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithSinkLogger(logger *slog.Logger) SinkOption {
	return func(c *sinkConfig) {
		c.logger = logger
	}
}

func WithSinkClock(now func() time.Time) SinkOption {
	return func(c *sinkConfig) {
		c.now = now
	}
}

func NewKafkaSink(publisher producer.Publisher, topic string, opts ...SinkOption) *KafkaSink {
	cfg := sinkConfig{
		maxFailures: 5,
		openTimeout: 30 * time.Second,
		timeout:     2 * time.Second,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := cfg.logger
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "consent-kafka-sink",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &KafkaSink{
		publisher: publisher,
		topic:     topic,
		timeout:   cfg.timeout,
		cb:        cb,
		logger:    logger,
		now:       cfg.now,
	}
}

// ConsentUpdateMessage is the wire payload.
type ConsentUpdateMessage struct {
	Event         string            `json:"event"`
	SubjectKind   string            `json:"subject_kind"`
	SubjectKey    string            `json:"subject_key"`
	ConsentMode   map[string]string `json:"consent_mode"`
	Categories    map[string]bool   `json:"categories"`
	Region        string            `json:"region,omitempty"`
	BannerVersion string            `json:"banner_version,omitempty"`
	Method        string            `json:"method"`
	UpdatedAt     time.Time         `json:"updated_at"`
	EmittedAt     time.Time         `json:"emitted_at"`
}

// UpdateConsentMode implements ConsentModeSink.
func (s *KafkaSink) UpdateConsentMode(ctx context.Context, rec *models.Record, update ConsentModeUpdate) error {
	cats := make(map[string]bool, len(rec.Categories))
	for c, v := range rec.Categories {
		cats[string(c)] = v
	}
	payload, err := json.Marshal(ConsentUpdateMessage{
		Event:         consentUpdateEvent,
		SubjectKind:   rec.SubjectKey.Kind(),
		SubjectKey:    rec.SubjectKey.String(),
		ConsentMode:   update,
		Categories:    cats,
		Region:        rec.Region,
		BannerVersion: rec.BannerVersion,
		Method:        string(rec.Method),
		UpdatedAt:     rec.UpdatedAt,
		EmittedAt:     s.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal consent update: %w", err)
	}

	_, err = s.cb.Execute(func() (struct{}, error) {
		pctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return struct{}{}, s.publisher.Produce(pctx, &producer.Message{
			Topic: s.topic,
			Key:   []byte(rec.SubjectKey.String()),
			Value: payload,
			Headers: map[string]string{
				"event_type": consentUpdateEvent,
			},
		})
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrSinkOpen, err)
	}
	return err
}

// State reports the breaker state.
func (s *KafkaSink) State() gobreaker.State {
	return s.cb.State()
}

// Health fails while the breaker is open, i.e. while consent updates are being
// dropped instead of published. A half-open breaker counts as healthy.
func (s *KafkaSink) Health(context.Context) error {
	if s.State() == gobreaker.StateOpen {
		return ErrSinkOpen
	}
	return nil
}
