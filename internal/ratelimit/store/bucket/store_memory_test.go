package bucket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore() (*InMemoryBucketStore, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewInMemoryBucketStore(WithClock(clock.Now)), clock
}

func TestInMemoryBucketStore_Allow(t *testing.T) {
	ctx := context.Background()

	t.Run("allows up to the limit then denies", func(t *testing.T) {
		store, _ := newTestStore()

		for i := range 3 {
			result, err := store.Allow(ctx, "k", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, result.Allowed)
			assert.Equal(t, 2-i, result.Remaining)
		}

		result, err := store.Allow(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Equal(t, 0, result.Remaining)
		assert.Equal(t, 60, result.RetryAfter)
	})

	t.Run("window slides", func(t *testing.T) {
		store, clock := newTestStore()

		_, err := store.Allow(ctx, "k", 1, 5*time.Minute)
		require.NoError(t, err)

		clock.Advance(4 * time.Minute)
		result, err := store.Allow(ctx, "k", 1, 5*time.Minute)
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Equal(t, 60, result.RetryAfter)

		clock.Advance(time.Minute)
		result, err = store.Allow(ctx, "k", 1, 5*time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	})

	t.Run("keys are independent", func(t *testing.T) {
		store, _ := newTestStore()

		_, err := store.Allow(ctx, "a", 1, time.Minute)
		require.NoError(t, err)
		result, err := store.Allow(ctx, "b", 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	})

	t.Run("rejects bad arguments", func(t *testing.T) {
		store, _ := newTestStore()

		_, err := store.Allow(ctx, "", 1, time.Minute)
		assert.Error(t, err)
		_, err = store.Allow(ctx, "k", 0, time.Minute)
		assert.Error(t, err)
		_, err = store.Allow(ctx, "k", 1, 0)
		assert.Error(t, err)
	})
}

func TestInMemoryBucketStore_AllowN(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	result, err := store.AllowN(ctx, "k", 4, 5, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 1, result.Remaining)

	result, err = store.AllowN(ctx, "k", 2, 5, time.Minute)
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	count, err := store.CurrentCount(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 4, count, "a denied request consumes nothing")
}

func TestInMemoryBucketStore_Reset(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	_, err := store.Allow(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.Reset(ctx, "k"))
	require.NoError(t, store.Reset(ctx, "missing"))

	result, err := store.Allow(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestInMemoryBucketStore_SweepDropsIdleBuckets(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore()

	_, err := store.Allow(ctx, "idle", 1, time.Second)
	require.NoError(t, err)
	clock.Advance(time.Minute)

	for range sweepEvery {
		_, err := store.Allow(ctx, "busy", 1_000_000, time.Hour)
		require.NoError(t, err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.NotContains(t, store.buckets, "idle")
	assert.Contains(t, store.buckets, "busy")
}

// Invariant: concurrent callers never exceed the limit.
func TestInMemoryBucketStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := store.Allow(ctx, "k", 10, time.Minute)
			if err != nil || !result.Allowed {
				return
			}
			mu.Lock()
			allowed++
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
}
