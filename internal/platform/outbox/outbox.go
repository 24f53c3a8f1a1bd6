// Package outbox implements the transactional outbox: domain events are written in the
// same transaction as the state change and published to Kafka afterwards by the worker.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry is a pending event in the outbox table.
type Entry struct {
	ID            uuid.UUID
	AggregateType string // "dsr_request", "consent"
	AggregateID   string
	EventType     string // "dsr.verified", "consent.updated"
	Payload       []byte // JSON
	CreatedAt     time.Time
	ProcessedAt   *time.Time // nil until published
}

func (e *Entry) IsPending() bool {
	return e.ProcessedAt == nil
}

// NewEntry marshals payload to JSON and wraps it in an entry.
func NewEntry(aggregateType, aggregateID, eventType string, payload any, now time.Time) (*Entry, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode outbox payload: %w", err)
	}
	return &Entry{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
		CreatedAt:     now,
	}, nil
}

// Store defines the outbox persistence operations. Implementations must be safe for
// concurrent use.
type Store interface {
	// Append adds an entry. Call it inside the business transaction.
	Append(ctx context.Context, entry *Entry) error

	// FetchUnprocessed returns up to limit pending entries, oldest first.
	FetchUnprocessed(ctx context.Context, limit int) ([]*Entry, error)

	MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error

	CountPending(ctx context.Context) (int64, error)

	// DeleteProcessedBefore removes published entries older than before.
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}
