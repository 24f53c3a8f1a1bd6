//go:build integration

package store_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"privacyhub/internal/dsr/models"
	"privacyhub/internal/dsr/store"
	"privacyhub/pkg/platform/sentinel"
	"privacyhub/pkg/testutil"
	"privacyhub/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.Postgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.Reset(context.Background()))
}

func (s *PostgresStoreSuite) newRequest(hash string, at time.Time) *models.Request {
	return testutil.NewRequestBuilder().
		WithType(models.TypeErasure).
		WithRegulation(models.RegulationLGPD).
		WithVerificationHash(hash).
		SubmittedAt(at).
		Build()
}

func (s *PostgresStoreSuite) TestCreateAndFind() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	req := s.newRequest("digest-1", now)

	s.Require().NoError(s.store.Create(ctx, req))
	s.ErrorIs(s.store.Create(ctx, s.newRequest("digest-1", now)), sentinel.ErrConflict)

	found, err := s.store.FindByVerificationHash(ctx, "digest-1")
	s.Require().NoError(err)
	s.Equal(req.ID, found.ID)
	s.Equal(models.StatusNew, found.Status)
	s.True(found.DueDate.Equal(now.Add(15 * 24 * time.Hour)))
	s.Nil(found.VerifiedAt)

	_, err = s.store.FindByID(ctx, uuid.New())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestUpdateAndEvents() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	req := s.newRequest("digest-2", now)
	s.Require().NoError(s.store.Create(ctx, req))

	ev, err := req.RedeemVerification(now.Add(time.Minute))
	s.Require().NoError(err)
	s.Require().NoError(s.store.Update(ctx, req))
	s.Require().NoError(s.store.AppendEvent(ctx, ev))

	found, err := s.store.FindByID(ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusVerified, found.Status)
	s.Require().NotNil(found.VerificationConsumedAt)

	events, err := s.store.ListEvents(ctx, req.ID)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(models.StatusNew, events[0].From)

	s.ErrorIs(s.store.Update(ctx, s.newRequest("digest-3", now)), sentinel.ErrNotFound)
}

// Invariant: events are append-only; UPDATE and DELETE are silently discarded.
func (s *PostgresStoreSuite) TestEventsAreImmutable() {
	ctx := context.Background()
	now := time.Now().UTC()
	req := s.newRequest("digest-4", now)
	s.Require().NoError(s.store.Create(ctx, req))
	ev, err := req.Reject("op", "duplicate", now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.AppendEvent(ctx, ev))

	_, err = s.postgres.DB.ExecContext(ctx, `UPDATE dsr_events SET reason = 'changed'`)
	s.Require().NoError(err)
	_, err = s.postgres.DB.ExecContext(ctx, `DELETE FROM dsr_events`)
	s.Require().NoError(err)

	events, err := s.store.ListEvents(ctx, req.ID)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal("duplicate", events[0].Reason)
}

// Invariant: under FOR UPDATE only one transaction redeems a verification digest.
func (s *PostgresStoreSuite) TestConcurrentRedeemUnderRowLock() {
	ctx := context.Background()
	now := time.Now().UTC()
	req := s.newRequest("digest-race", now)
	s.Require().NoError(s.store.Create(ctx, req))

	result := testutil.RunConcurrent(10, func(int) error {
		tx, err := s.postgres.DB.BeginTx(ctx, &sql.TxOptions{})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		txStore := store.NewPostgresTx(tx)
		found, err := txStore.FindByVerificationHash(ctx, "digest-race")
		if err != nil {
			return err
		}
		if _, err := found.RedeemVerification(time.Now().UTC()); err != nil {
			return err
		}
		if err := txStore.Update(ctx, found); err != nil {
			return err
		}
		return tx.Commit()
	})

	s.Equal(int32(1), result.Successes)
	s.Equal(int32(9), result.InvalidTokens)
}

func (s *PostgresStoreSuite) TestListOverdue() {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 3 {
		s.Require().NoError(s.store.Create(ctx, s.newRequest(uuid.NewString(), base.Add(time.Duration(i)*24*time.Hour))))
	}

	overdue, total, err := s.store.List(ctx, models.ListFilter{Overdue: true, Now: base.Add(16*24*time.Hour + time.Minute), Limit: 10})
	s.Require().NoError(err)
	s.Equal(2, total)
	s.Len(overdue, 2)
	s.True(overdue[0].DueDate.Before(overdue[1].DueDate))
}
