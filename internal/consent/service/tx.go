package service

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"privacyhub/internal/consent/models"
	dErrors "privacyhub/pkg/domain-errors"
	platformsync "privacyhub/pkg/platform/sync"
)

var (
	shardLockWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "privacyhub_consent_shard_lock_wait_seconds",
		Help:    "Time spent waiting to acquire a consent subject shard lock",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
	shardLockAcquisitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "privacyhub_consent_shard_lock_acquisitions_total",
		Help: "Total number of consent subject shard lock acquisitions",
	})
)

// StoreTx runs fn as one atomic unit for a single subject. Implementations wrap a
// database transaction or, in memory, a per-subject lock.
type StoreTx interface {
	RunInTx(ctx context.Context, key models.SubjectKey, fn func(ctx context.Context, store Store) error) error
}

const defaultTxTimeout = 5 * time.Second

type shardedTx struct {
	mu      *platformsync.ShardedMutex
	store   Store
	timeout time.Duration
}

// NewShardedTx serializes decisions per subject over a store without transactions.
func NewShardedTx(store Store) StoreTx {
	return &shardedTx{mu: platformsync.NewShardedMutex(), store: store}
}

func (t *shardedTx) RunInTx(ctx context.Context, key models.SubjectKey, fn func(ctx context.Context, store Store) error) error {
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

	lockStart := time.Now()
	t.mu.Lock(string(key))
	shardLockWaitDuration.Observe(time.Since(lockStart).Seconds())
	shardLockAcquisitions.Inc()
	defer t.mu.Unlock(string(key))

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(ctx, t.store)
}
