package main

import (
	"context"
	"database/sql"
	"time"

	dsrservice "privacyhub/internal/dsr/service"
	dsrstore "privacyhub/internal/dsr/store"
	"privacyhub/internal/platform/outbox"
)

// dsrPostgresTx binds the request store and the outbox to one transaction, so a
// transition and its event commit together.
type dsrPostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func newDSRPostgresTx(db *sql.DB) *dsrPostgresTx {
	return &dsrPostgresTx{db: db}
}

func (t *dsrPostgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context, store dsrservice.Store, events outbox.Store) error) error {
	return runInTx(ctx, t.db, t.timeout, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, dsrstore.NewPostgresTx(tx), outbox.NewPostgresTx(tx))
	})
}
