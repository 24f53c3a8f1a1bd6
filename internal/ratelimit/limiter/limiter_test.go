package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"privacyhub/internal/ratelimit/models"
	"privacyhub/internal/ratelimit/store/bucket"
	dErrors "privacyhub/pkg/domain-errors"
)

type LimiterSuite struct {
	suite.Suite
	store   *bucket.InMemoryBucketStore
	limiter *Limiter
	ctx     context.Context
}

func TestLimiterSuite(t *testing.T) {
	suite.Run(t, new(LimiterSuite))
}

func (s *LimiterSuite) SetupTest() {
	s.store = bucket.NewInMemoryBucketStore()
	s.limiter = New(s.store, 1, 5*time.Minute)
	s.ctx = context.Background()
}

// Invariant: a second submission inside the window fails with a rate limit error.
func (s *LimiterSuite) TestSecondSubmissionThrottled() {
	s.Require().NoError(s.limiter.CheckSubmission(s.ctx, "a@b.com", "iphash"))

	err := s.limiter.CheckSubmission(s.ctx, "a@b.com", "otherip")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeRateLimited))

	var rl *dErrors.RateLimitError
	s.Require().ErrorAs(err, &rl)
	s.Equal(300, rl.RetryAfter)
}

func (s *LimiterSuite) TestEmailIsCaseInsensitive() {
	s.Require().NoError(s.limiter.CheckSubmission(s.ctx, "A@B.com", ""))
	err := s.limiter.CheckSubmission(s.ctx, " a@b.COM ", "")
	s.True(dErrors.HasCode(err, dErrors.CodeRateLimited))
}

func (s *LimiterSuite) TestSameIPDifferentEmailThrottled() {
	s.Require().NoError(s.limiter.CheckSubmission(s.ctx, "a@b.com", "iphash"))
	err := s.limiter.CheckSubmission(s.ctx, "c@d.com", "iphash")
	s.True(dErrors.HasCode(err, dErrors.CodeRateLimited))
}

func (s *LimiterSuite) TestDistinctIdentitiesIndependent() {
	s.Require().NoError(s.limiter.CheckSubmission(s.ctx, "a@b.com", "ip1"))
	s.NoError(s.limiter.CheckSubmission(s.ctx, "c@d.com", "ip2"))
}

func (s *LimiterSuite) TestResetEmail() {
	s.Require().NoError(s.limiter.CheckSubmission(s.ctx, "a@b.com", ""))
	s.Require().NoError(s.limiter.ResetEmail(s.ctx, "A@b.com"))
	s.NoError(s.limiter.CheckSubmission(s.ctx, "a@b.com", ""))
}

type failingStore struct{}

func (failingStore) Allow(context.Context, string, int, time.Duration) (*models.Result, error) {
	return nil, errors.New("redis down")
}

func (failingStore) Reset(context.Context, string) error { return nil }

func TestLimiterFailsOpen(t *testing.T) {
	l := New(failingStore{}, 1, time.Minute)

	require.NoError(t, l.CheckSubmission(context.Background(), "a@b.com", "ip"))
	assert.NoError(t, l.CheckSubmission(context.Background(), "a@b.com", "ip"))
}
