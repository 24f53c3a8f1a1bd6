// Package limiter throttles privacy request submissions per identity.
package limiter

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"privacyhub/internal/ratelimit/metrics"
	"privacyhub/internal/ratelimit/models"
	dErrors "privacyhub/pkg/domain-errors"
)

// BucketStore is satisfied by the in-memory and Redis bucket stores.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
	Reset(ctx context.Context, key string) error
}

// Limiter enforces at most limit submissions per window for each submitting
// email address and, separately, for each hashed client IP.
type Limiter struct {
	store   BucketStore
	limit   int
	window  time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type Option func(*Limiter)

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

func New(store BucketStore, limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		limit:  limit,
		window: window,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckSubmission returns a rate limit error when either identity has used up its window.
// An empty ipHash skips the IP bucket. A failing store lets the submission through.
func (l *Limiter) CheckSubmission(ctx context.Context, email, ipHash string) error {
	keys := []models.Key{models.NewKey(models.KeyPrefixEmail, strings.ToLower(strings.TrimSpace(email)))}
	if ipHash != "" {
		keys = append(keys, models.NewKey(models.KeyPrefixIP, ipHash))
	}

	for _, key := range keys {
		scope := string(key.Prefix())
		if l.metrics != nil {
			l.metrics.IncCheck(scope)
		}

		result, err := l.store.Allow(ctx, key.String(), l.limit, l.window)
		if err != nil {
			l.logger.WarnContext(ctx, "submission throttle unavailable, allowing request",
				"scope", scope,
				"error", err,
			)
			if l.metrics != nil {
				l.metrics.IncStoreError()
			}
			continue
		}
		if !result.Allowed {
			if l.metrics != nil {
				l.metrics.IncRejection(scope)
			}
			return dErrors.NewRateLimited("too many requests, please wait before submitting again", result.RetryAfter)
		}
	}
	return nil
}

// ResetEmail clears the email bucket, used by operators after a legitimate resubmission request.
func (l *Limiter) ResetEmail(ctx context.Context, email string) error {
	key := models.NewKey(models.KeyPrefixEmail, strings.ToLower(strings.TrimSpace(email)))
	return l.store.Reset(ctx, key.String())
}
