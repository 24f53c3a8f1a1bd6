// Package mailer hands data subject request emails to a delivery channel. Actual
// delivery is owned by a downstream mail service.
package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"privacyhub/internal/dsr/models"
	"privacyhub/internal/platform/kafka/producer"
)

// Template names understood by the mail service.
const (
	TemplateVerification = "dsr_verification"
	TemplateStatusUpdate = "dsr_status_update"
)

// Envelope is the message published for the mail service.
type Envelope struct {
	Template  string            `json:"template"`
	RequestID string            `json:"request_id"`
	To        string            `json:"to"`
	Name      string            `json:"name"`
	Data      map[string]string `json:"data"`
	QueuedAt  time.Time         `json:"queued_at"`
}

// KafkaMailer publishes envelopes to the mail topic keyed by request ID.
type KafkaMailer struct {
	publisher producer.Publisher
	topic     string
	now       func() time.Time
}

func NewKafka(publisher producer.Publisher, topic string) *KafkaMailer {
	return &KafkaMailer{publisher: publisher, topic: topic, now: time.Now}
}

func (m *KafkaMailer) SendVerification(ctx context.Context, mail *models.VerificationMail) error {
	return m.publish(ctx, verificationEnvelope(mail, m.now()))
}

func (m *KafkaMailer) SendStatusUpdate(ctx context.Context, mail *models.StatusMail) error {
	return m.publish(ctx, statusEnvelope(mail, m.now()))
}

func (m *KafkaMailer) publish(ctx context.Context, env *Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode mail envelope: %w", err)
	}
	err = m.publisher.Produce(ctx, &producer.Message{
		Topic: m.topic,
		Key:   []byte(env.RequestID),
		Value: body,
		Headers: map[string]string{
			"template": env.Template,
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s mail: %w", env.Template, err)
	}
	return nil
}

func verificationEnvelope(mail *models.VerificationMail, now time.Time) *Envelope {
	return &Envelope{
		Template:  TemplateVerification,
		RequestID: mail.RequestID.String(),
		To:        mail.To,
		Name:      mail.Name,
		Data: map[string]string{
			"request_type":   string(mail.RequestType),
			"verify_url":     mail.VerifyURL,
			"tracking_token": mail.TrackingToken,
			"expires_at":     mail.ExpiresAt.UTC().Format(time.RFC3339),
		},
		QueuedAt: now,
	}
}

func statusEnvelope(mail *models.StatusMail, now time.Time) *Envelope {
	data := map[string]string{
		"request_type": string(mail.RequestType),
		"status":       string(mail.Status),
		"next_steps":   mail.NextSteps,
	}
	if mail.Reason != "" {
		data["reason"] = mail.Reason
	}
	return &Envelope{
		Template:  TemplateStatusUpdate,
		RequestID: mail.RequestID.String(),
		To:        mail.To,
		Name:      mail.Name,
		Data:      data,
		QueuedAt:  now,
	}
}

// LogMailer logs instead of sending. The server uses it when Kafka is not
// configured. Addresses are masked and the verification link is never logged.
type LogMailer struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendVerification(ctx context.Context, mail *models.VerificationMail) error {
	m.logger.InfoContext(ctx, "verification email queued",
		"request_id", mail.RequestID,
		"to", MaskEmail(mail.To),
		"expires_at", mail.ExpiresAt,
	)
	return nil
}

func (m *LogMailer) SendStatusUpdate(ctx context.Context, mail *models.StatusMail) error {
	m.logger.InfoContext(ctx, "status email queued",
		"request_id", mail.RequestID,
		"to", MaskEmail(mail.To),
		"status", mail.Status,
	)
	return nil
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return "***"
	}
	return local[:1] + "***@" + domain
}
