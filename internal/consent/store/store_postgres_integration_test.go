//go:build integration

package store_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"privacyhub/internal/consent/models"
	"privacyhub/internal/consent/store"
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

func (s *PostgresStoreSuite) record(key models.SubjectKey, cats models.Categories, at time.Time) *models.Record {
	return testutil.NewRecordBuilder().WithSubject(key).WithCategories(cats).At(at).Build()
}

func (s *PostgresStoreSuite) TestUpsertAndFind() {
	ctx := context.Background()
	created := time.Now().UTC().Truncate(time.Microsecond)
	key := models.SubjectKey("session:pg-1")

	s.Require().NoError(s.store.Upsert(ctx, s.record(key, models.Categories{models.CategoryAnalytics: true}, created)))

	next := s.record(key, models.Categories{models.CategoryMarketing: true}, created.Add(time.Minute))
	s.Require().NoError(s.store.Upsert(ctx, next))
	s.True(next.CreatedAt.Equal(created), "created_at survives supersession")

	found, err := s.store.FindBySubject(ctx, key)
	s.Require().NoError(err)
	s.Equal(models.Categories{models.CategoryNecessary: true, models.CategoryMarketing: true}, found.Categories)
	s.True(found.CreatedAt.Equal(created))
	s.True(found.UpdatedAt.Equal(created.Add(time.Minute)))

	_, err = s.store.FindBySubject(ctx, "session:missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestAppendLogsRejectsDuplicateID() {
	ctx := context.Background()
	now := time.Now().UTC()
	entries := models.DiffLog(nil, s.record("user:dup", models.Categories{}, now), models.Meta{})
	s.Require().Len(entries, 1)

	s.Require().NoError(s.store.AppendLogs(ctx, entries))
	s.ErrorIs(s.store.AppendLogs(ctx, entries), sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestListLogsFiltersAndPages() {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i := range 5 {
		key := models.SubjectKey(fmt.Sprintf("user:%d", i%2))
		prev, err := s.store.FindBySubject(ctx, key)
		if err != nil {
			prev = nil
		}
		next := s.record(key, models.Categories{models.CategoryAnalytics: i%4 == 0}, base.Add(time.Duration(i)*time.Minute))
		if prev != nil {
			next.CreatedAt = prev.CreatedAt
		}
		s.Require().NoError(s.store.AppendLogs(ctx, models.DiffLog(prev, next, models.Meta{})))
		s.Require().NoError(s.store.Upsert(ctx, next))
	}

	entries, total, err := s.store.ListLogs(ctx, models.LogFilter{SubjectKey: "user:0", Limit: 2})
	s.Require().NoError(err)
	s.Equal(4, total)
	s.Len(entries, 2)
	s.True(!entries[0].CreatedAt.Before(entries[1].CreatedAt), "newest first")

	entries, total, err = s.store.ListLogs(ctx, models.LogFilter{Action: models.ActionWithdraw, Limit: 50})
	s.Require().NoError(err)
	s.Equal(len(entries), total)
	for _, e := range entries {
		s.Equal(models.ActionWithdraw, e.Action)
	}

	from := base.Add(3 * time.Minute)
	entries, _, err = s.store.ListLogs(ctx, models.LogFilter{From: &from, Limit: 50})
	s.Require().NoError(err)
	for _, e := range entries {
		s.False(e.CreatedAt.Before(from))
	}

	entries, total, err = s.store.ListLogs(ctx, models.LogFilter{SubjectKey: "user:0", Limit: 2, Offset: 10})
	s.Require().NoError(err)
	s.Empty(entries)
	s.Equal(4, total, "total is reported past the last page")
}

// TestLockSubjectSerializesFirstDecision verifies that two transactions creating the
// first record for one subject cannot interleave.
// Invariant: concurrent first decisions for a subject each see the other's write.
func (s *PostgresStoreSuite) TestLockSubjectSerializesFirstDecision() {
	ctx := context.Background()
	key := models.SubjectKey("session:race")
	now := time.Now().UTC()

	result := testutil.RunConcurrent(8, func(idx int) error {
		tx, err := s.postgres.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		txStore := store.NewPostgresTx(tx)
		if err := txStore.LockSubject(ctx, key); err != nil {
			return err
		}
		prev, err := txStore.FindBySubject(ctx, key)
		if err != nil && err != sentinel.ErrNotFound {
			return err
		}
		cats := models.Categories{}
		if prev != nil {
			cats = prev.Categories.Clone()
		}
		cats[models.Category(fmt.Sprintf("c%d", idx))] = true
		next := s.record(key, cats, now.Add(time.Duration(idx)*time.Millisecond))
		if err := txStore.Upsert(ctx, next); err != nil {
			return err
		}
		return tx.Commit()
	})
	s.Equal(int32(8), result.Successes)

	found, err := s.store.FindBySubject(ctx, key)
	s.Require().NoError(err)
	s.Len(found.Categories, 9, "no toggle was lost")
}

func (s *PostgresStoreSuite) TestLogsAreAppendOnly() {
	ctx := context.Background()
	entries := models.DiffLog(nil, s.record("user:immutable", models.Categories{}, time.Now().UTC()), models.Meta{})
	s.Require().NoError(s.store.AppendLogs(ctx, entries))

	res, err := s.postgres.DB.ExecContext(ctx, `UPDATE consent_logs SET new_state = 'denied' WHERE id = $1`, entries[0].ID)
	s.Require().NoError(err)
	affected, err := res.RowsAffected()
	s.Require().NoError(err)
	s.Zero(affected)

	var state string
	err = s.postgres.DB.QueryRowContext(ctx, `SELECT new_state FROM consent_logs WHERE id = $1`, entries[0].ID).Scan(&state)
	s.Require().NoError(err)
	s.Equal("granted", state)

	_, err = s.postgres.DB.ExecContext(ctx, `DELETE FROM consent_logs WHERE id = $1`, entries[0].ID)
	s.Require().NoError(err)
	err = s.postgres.DB.QueryRowContext(ctx, `SELECT new_state FROM consent_logs WHERE id = $1`, entries[0].ID).Scan(&state)
	s.NotErrorIs(err, sql.ErrNoRows)
}
