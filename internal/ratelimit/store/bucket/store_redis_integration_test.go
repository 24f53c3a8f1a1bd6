//go:build integration

package bucket_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"privacyhub/internal/ratelimit/store/bucket"
	"privacyhub/pkg/testutil/containers"
)

type RedisBucketStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *bucket.RedisBucketStore
}

func TestRedisBucketStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisBucketStoreSuite))
}

func (s *RedisBucketStoreSuite) SetupSuite() {
	s.redis = containers.Redis(s.T())
	s.store = bucket.NewRedis(s.redis.Client)
}

func (s *RedisBucketStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.Flush(context.Background()))
}

func (s *RedisBucketStoreSuite) TestAllowUpToLimit() {
	ctx := context.Background()

	for i := range 2 {
		result, err := s.store.Allow(ctx, "dsr_email:a@b.com", 2, time.Minute)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(1-i, result.Remaining)
	}

	result, err := s.store.Allow(ctx, "dsr_email:a@b.com", 2, time.Minute)
	s.Require().NoError(err)
	s.False(result.Allowed)
	s.Positive(result.RetryAfter)
	s.LessOrEqual(result.RetryAfter, 60)

	count, err := s.store.CurrentCount(ctx, "dsr_email:a@b.com")
	s.Require().NoError(err)
	s.Equal(2, count)
}

func (s *RedisBucketStoreSuite) TestKeyExpires() {
	ctx := context.Background()

	_, err := s.store.Allow(ctx, "dsr_ip:h", 1, time.Second)
	s.Require().NoError(err)

	ttl, err := s.redis.Client.PTTL(ctx, "dsr_ip:h").Result()
	s.Require().NoError(err)
	s.Positive(ttl)
	s.LessOrEqual(ttl, time.Second)

	s.Eventually(func() bool {
		result, err := s.store.Allow(ctx, "dsr_ip:h", 1, time.Second)
		return err == nil && result.Allowed
	}, 3*time.Second, 100*time.Millisecond)
}

func (s *RedisBucketStoreSuite) TestReset() {
	ctx := context.Background()

	_, err := s.store.Allow(ctx, "k", 1, time.Minute)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Reset(ctx, "k"))

	result, err := s.store.Allow(ctx, "k", 1, time.Minute)
	s.Require().NoError(err)
	s.True(result.Allowed)
}
