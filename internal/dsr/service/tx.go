package service

import (
	"context"
	"sync"
	"time"

	"privacyhub/internal/platform/outbox"
	dErrors "privacyhub/pkg/domain-errors"
)

// StoreTx runs fn as one atomic unit. The request store and the outbox handed to fn
// commit together: a lifecycle change is never visible without its event.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, store Store, events outbox.Store) error) error
}

const defaultTxTimeout = 5 * time.Second

type lockedTx struct {
	mu      sync.Mutex
	store   Store
	events  outbox.Store
	timeout time.Duration
}

// NewLockedTx serializes every lifecycle write over stores without transactions.
// Request volume is low enough that one lock is sufficient.
func NewLockedTx(store Store, events outbox.Store) StoreTx {
	return &lockedTx{store: store, events: events}
}

func (t *lockedTx) RunInTx(ctx context.Context, fn func(ctx context.Context, store Store, events outbox.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(ctx, t.store, t.events)
}
