// Package relay is a server-side Executor: replayed tag hits are forwarded to Kafka
// for the downstream collector instead of being re-run in a browser.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"privacyhub/internal/blocking"
	"privacyhub/internal/platform/kafka/producer"
)

// Message is the payload of a released activity.
type Message struct {
	Kind        string    `json:"kind"`
	URL         string    `json:"url"`
	Category    string    `json:"category,omitempty"`
	ElementID   string    `json:"element_id,omitempty"`
	Replayed    bool      `json:"replayed"`
	Placeholder bool      `json:"placeholder,omitempty"`
	RuleID      string    `json:"rule_id,omitempty"`
	At          time.Time `json:"at"`
}

// Executor publishes replays to a topic. Placeholders are published too so the
// collector can count content that was shown as a stand-in.
type Executor struct {
	publisher producer.Publisher
	topic     string
	now       func() time.Time
}

func New(publisher producer.Publisher, topic string) *Executor {
	return &Executor{publisher: publisher, topic: topic, now: time.Now}
}

func (e *Executor) Reinject(ctx context.Context, act blocking.Activity) error {
	return e.publish(ctx, Message{
		Kind:      string(act.Kind),
		URL:       act.URL,
		Category:  string(act.CategoryHint),
		ElementID: act.ElementID,
		Replayed:  act.Replayed,
	})
}

func (e *Executor) RestoreSource(ctx context.Context, act blocking.Activity) error {
	return e.Reinject(ctx, act)
}

func (e *Executor) Placeholder(ctx context.Context, act blocking.Activity, rule blocking.Rule) error {
	return e.publish(ctx, Message{
		Kind:        string(act.Kind),
		URL:         act.URL,
		Category:    string(rule.Category),
		ElementID:   act.ElementID,
		Placeholder: true,
		RuleID:      rule.ID,
	})
}

func (e *Executor) publish(ctx context.Context, msg Message) error {
	msg.At = e.now()
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal relay message: %w", err)
	}
	return e.publisher.Produce(ctx, &producer.Message{
		Topic: e.topic,
		Key:   []byte(msg.URL),
		Value: payload,
		Headers: map[string]string{
			"event_type": "tag." + msg.Kind,
		},
	})
}
