// Package overdue periodically reports open requests that have passed their due date.
package overdue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Sweeper counts and logs overdue requests.
type Sweeper interface {
	SweepOverdue(ctx context.Context) (int, error)
}

// Worker runs the sweep on a cron schedule. A sweep still running when the next
// tick fires is skipped rather than stacked.
type Worker struct {
	sweeper  Sweeper
	schedule cron.Schedule
	logger   *slog.Logger
	running  sync.Mutex
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// New parses spec as a standard five-field cron expression or a descriptor such
// as "@every 15m" or "@hourly".
func New(sweeper Sweeper, spec string, opts ...Option) (*Worker, error) {
	schedule, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	w := &Worker{
		sweeper:  sweeper,
		schedule: schedule,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func ParseSchedule(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse overdue schedule %q: %w", spec, err)
	}
	return schedule, nil
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
// It waits for an in-flight sweep before returning.
func (w *Worker) Run(ctx context.Context) error {
	w.RunOnce(ctx)

	c := cron.New()
	c.Schedule(w.schedule, cron.FuncJob(func() { w.RunOnce(ctx) }))
	c.Start()
	w.logger.InfoContext(ctx, "overdue sweeper started")

	<-ctx.Done()
	<-c.Stop().Done()
	w.logger.InfoContext(ctx, "overdue sweeper stopped")
	return nil
}

// RunOnce performs a single sweep. It reports whether the sweep ran.
func (w *Worker) RunOnce(ctx context.Context) bool {
	if !w.running.TryLock() {
		w.logger.WarnContext(ctx, "overdue sweep skipped, previous sweep still running")
		return false
	}
	defer w.running.Unlock()

	if ctx.Err() != nil {
		return false
	}
	count, err := w.sweeper.SweepOverdue(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "overdue sweep failed", "error", err)
		return true
	}
	w.logger.InfoContext(ctx, "overdue sweep finished", "overdue", count)
	return true
}
