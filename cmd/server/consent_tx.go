package main

import (
	"context"
	"database/sql"
	"time"

	consentmodels "privacyhub/internal/consent/models"
	consentservice "privacyhub/internal/consent/service"
	consentstore "privacyhub/internal/consent/store"
	dErrors "privacyhub/pkg/domain-errors"
)

const defaultTxTimeout = 5 * time.Second

// consentPostgresTx runs one consent decision in a transaction. The store's
// FOR UPDATE read serializes decisions for the same subject.
type consentPostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func newConsentPostgresTx(db *sql.DB) *consentPostgresTx {
	return &consentPostgresTx{db: db}
}

func (t *consentPostgresTx) RunInTx(ctx context.Context, _ consentmodels.SubjectKey, fn func(ctx context.Context, store consentservice.Store) error) error {
	return runInTx(ctx, t.db, t.timeout, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, consentstore.NewPostgresTx(tx))
	})
}

// runInTx commits when fn succeeds and rolls back otherwise.
func runInTx(ctx context.Context, db *sql.DB, timeout time.Duration, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // rollback after commit is no-op; error already captured
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}
